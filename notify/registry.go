package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bridgedist/bucketd/cfg"
	"github.com/rs/zerolog/log"
)

// ErrUnknownSink is returned for a sink type with no registered factory
var ErrUnknownSink = errors.New("unknown sink type")

// Sink delivers messages to one destination
type Sink interface {
	// Send delivers a message. It must honour ctx cancellation.
	Send(ctx context.Context, msg *Message) error
	// Close releases any resources held by the sink
	Close() error
}

// NamedSink pairs a sink with its configured name
type NamedSink struct {
	Name string
	Sink Sink
}

// SinkFactory creates a Sink from its configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// CreateSink creates a sink based on the configuration
func CreateSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSink, config.Type)
	}

	return factory(config)
}

// NewSinks creates every configured sink. On error the sinks created so far
// are closed.
func NewSinks(configs []cfg.SinkConfiguration) ([]NamedSink, error) {
	sinks := make([]NamedSink, 0, len(configs))
	for _, sc := range configs {
		s, err := CreateSink(sc)
		if err != nil {
			CloseSinks(sinks)
			return nil, fmt.Errorf("failed to create sink %q: %w", sc.Name, err)
		}
		sinks = append(sinks, NamedSink{Name: sc.Name, Sink: s})

		log.Info().
			Str("sink", sc.Name).
			Str("type", sc.Type).
			Msg("Added notification sink")
	}
	return sinks, nil
}

// CloseSinks closes every sink, logging failures
func CloseSinks(sinks []NamedSink) {
	for _, s := range sinks {
		if err := s.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", s.Name).Msg("Failed to close sink")
		}
	}
}
