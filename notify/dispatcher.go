package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bridgedist/bucketd/report"
	"github.com/bridgedist/bucketd/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default initial retry delay for failed sends
	DefaultRetryInitial = 200 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 5 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
)

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	Router   *Router
	Sinks    []NamedSink
	Journal  *Journal // Optional
	Template MessageTemplate

	SkipUnchanged   bool // Needs Journal
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	MaxRetries      int // Retries after the first attempt

	Now func() time.Time
}

// Dispatcher reads bucket snapshots and delivers their NEW and RUNNING
// groups to every routed recipient set through every sink
type Dispatcher struct {
	config DispatcherConfig
}

// DispatchSummary counts the outcome of one dispatch
type DispatchSummary struct {
	Buckets  int
	Empty    int // Nothing NEW or RUNNING
	Unrouted int // No route matched
	Sent     int
	Skipped  int // Unchanged since the last delivery
	Failed   int
	Errors   []error
}

// Err joins every recorded failure, nil when there was none
func (s *DispatchSummary) Err() error {
	return errors.Join(s.Errors...)
}

// NewDispatcher validates the configuration and applies defaults
func NewDispatcher(config DispatcherConfig) (*Dispatcher, error) {
	if config.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if len(config.Sinks) == 0 {
		return nil, fmt.Errorf("at least one sink is required")
	}
	if config.SkipUnchanged && config.Journal == nil {
		return nil, fmt.Errorf("skip unchanged requires a journal")
	}
	if config.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0")
	}

	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Dispatcher{config: config}, nil
}

// Dispatch reads each named bucket in dir and delivers its message. A failed
// delivery is logged and counted; the remaining recipient sets and sinks
// still run.
func (d *Dispatcher) Dispatch(ctx context.Context, dir string, bucketNames []string) *DispatchSummary {
	sum := &DispatchSummary{}

	for _, name := range bucketNames {
		if err := ctx.Err(); err != nil {
			sum.Errors = append(sum.Errors, err)
			break
		}
		sum.Buckets++

		routes := d.config.Router.Match(name)
		if len(routes) == 0 {
			log.Debug().Str("bucket", name).Msg("No recipients configured for bucket")
			sum.Unrouted++
			continue
		}

		groups, err := report.ReadBucket(dir, name)
		if err != nil {
			log.Error().Err(err).Str("bucket", name).Msg("Failed to read bucket snapshot")
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Errorf("bucket %s: %w", name, err))
			continue
		}

		if groups.Empty() {
			log.Info().Str("bucket", name).Msg("RUNNING and NEW lists are empty, not sending anything")
			sum.Empty++
			continue
		}

		for _, to := range routes {
			msg := d.config.Template.NewMessage(name, to, groups)
			for _, s := range d.config.Sinks {
				d.deliver(ctx, s, msg, sum)
			}
		}
	}

	log.Info().
		Int("buckets", sum.Buckets).
		Int("sent", sum.Sent).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Int("empty", sum.Empty).
		Msg("Dispatch complete")

	return sum
}

func (d *Dispatcher) deliver(ctx context.Context, s NamedSink, msg *Message, sum *DispatchSummary) {
	if d.config.SkipUnchanged {
		last, found, err := d.config.Journal.Last(msg.Bucket, s.Name, msg.To)
		if err != nil {
			log.Warn().Err(err).Str("bucket", msg.Bucket).Str("sink", s.Name).Msg("Failed to read dispatch journal")
		} else if found && last.Digest == msg.Digest {
			log.Info().
				Str("bucket", msg.Bucket).
				Str("sink", s.Name).
				Strs("to", msg.To).
				Msg("Bucket unchanged since last delivery, skipping")
			sum.Skipped++
			telemetry.DispatchTotal.With(s.Name, "skipped").Inc()
			return
		}
	}

	if err := d.sendWithRetry(ctx, s, msg); err != nil {
		log.Error().
			Err(err).
			Str("bucket", msg.Bucket).
			Str("sink", s.Name).
			Strs("to", msg.To).
			Msg("Failed to deliver message")
		sum.Failed++
		sum.Errors = append(sum.Errors, fmt.Errorf("bucket %s sink %s: %w", msg.Bucket, s.Name, err))
		telemetry.DispatchTotal.With(s.Name, "failed").Inc()
		return
	}

	sum.Sent++
	telemetry.DispatchTotal.With(s.Name, "sent").Inc()
	log.Info().
		Str("bucket", msg.Bucket).
		Str("sink", s.Name).
		Strs("to", msg.To).
		Int("new", len(msg.New)).
		Int("running", len(msg.Running)).
		Msg("Delivered message")

	if d.config.Journal == nil {
		return
	}
	rec := Record{
		Bucket:     msg.Bucket,
		Sink:       s.Name,
		Recipients: msg.To,
		Digest:     msg.Digest,
		SentAt:     d.config.Now().UnixNano(),
	}
	if err := d.config.Journal.Append(rec); err != nil {
		// Delivered already; a lost record only means a possible resend
		log.Warn().Err(err).Str("bucket", msg.Bucket).Str("sink", s.Name).Msg("Failed to record delivery")
	}
}

// sendWithRetry sends with exponential backoff. Returns the last error once
// retries are exhausted or ctx is done.
func (d *Dispatcher) sendWithRetry(ctx context.Context, s NamedSink, msg *Message) error {
	delay := d.config.RetryInitial
	attempts := 0

	for {
		err := s.Sink.Send(ctx, msg)
		if err == nil {
			return nil
		}

		attempts++
		if attempts > d.config.MaxRetries {
			return fmt.Errorf("exhausted %d attempts: %w", attempts, err)
		}

		log.Warn().
			Err(err).
			Str("sink", s.Name).
			Str("bucket", msg.Bucket).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to send message, retrying")
		telemetry.DispatchRetriesTotal.With(s.Name).Inc()

		if !sleep(ctx, delay) {
			return fmt.Errorf("dispatch cancelled during retry: %w", err)
		}

		delay = time.Duration(float64(delay) * d.config.RetryMultiplier)
		if delay > d.config.RetryMax {
			delay = d.config.RetryMax
		}
	}
}

// sleep waits for d or until ctx is done. Returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
