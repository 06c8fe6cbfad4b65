package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bridgedist/bucketd/admin"
	"github.com/bridgedist/bucketd/allocator"
	"github.com/bridgedist/bucketd/bucket"
	"github.com/bridgedist/bucketd/candidate"
	"github.com/bridgedist/bucketd/cfg"
	"github.com/bridgedist/bucketd/notify"
	_ "github.com/bridgedist/bucketd/notify/sink"
	"github.com/bridgedist/bucketd/report"
	"github.com/bridgedist/bucketd/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: bucketd [flags] <command>

commands:
  allocate   run one allocation pass and save every bucket
  mail       send the NEW and RUNNING groups of every bucket
             (through localhost:25 unless [[sinks]] are configured)
  serve      serve the read-only admin API and metrics

flags:
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "allocate"
	}

	// Load configuration
	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance_id", cfg.Config.InstanceID).
		Str("command", command).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch command {
	case "allocate":
		code = runAllocate(ctx)
	case "mail":
		code = runMail(ctx)
	case "serve":
		code = runServe(ctx)
	default:
		log.Error().Str("command", command).Msg("Unknown command")
		flag.Usage()
		code = 2
	}

	stop()
	os.Exit(code)
}

// bucketRefs resolves the configured bucket table. Capacities were checked
// by Validate.
func bucketRefs() []report.BucketRef {
	refs := make([]report.BucketRef, 0, len(cfg.Config.Buckets))
	for _, b := range cfg.Config.Buckets {
		capacity, _ := cfg.ParseCapacity(b.Capacity)
		refs = append(refs, report.BucketRef{Name: b.Name, Capacity: capacity})
	}
	return refs
}

func bucketNames() []string {
	names := make([]string, 0, len(cfg.Config.Buckets))
	for _, b := range cfg.Config.Buckets {
		names = append(names, b.Name)
	}
	return names
}

func flushTelemetry() {
	if err := telemetry.Flush(); err != nil {
		log.Warn().Err(err).Msg("Failed to export metrics")
	}
}

func acquireLock() (*allocator.RunLock, bool) {
	lock, err := allocator.AcquireRunLock(cfg.Config.SnapshotDir())
	if err != nil {
		if errors.Is(err, allocator.ErrLocked) {
			log.Error().Err(err).Msg("Another pass is running")
		} else {
			log.Error().Err(err).Msg("Failed to acquire run lock")
		}
		return nil, false
	}
	return lock, true
}

func runAllocate(ctx context.Context) int {
	lock, ok := acquireLock()
	if !ok {
		return 1
	}
	defer lock.Release()

	src, err := candidate.OpenSQL(candidate.SQLConfig{
		Driver:  cfg.Config.Source.Driver,
		DSN:     cfg.Config.Source.DSN,
		Table:   cfg.Config.Source.Table,
		OrderBy: cfg.Config.Source.OrderBy,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to open candidate source")
		return 1
	}
	defer src.Close()

	refs := bucketRefs()
	specs := make([]allocator.BucketSpec, 0, len(refs))
	for _, ref := range refs {
		specs = append(specs, allocator.BucketSpec{Name: ref.Name, Capacity: ref.Capacity})
	}

	engine, err := allocator.New(allocator.Config{
		Buckets:            specs,
		Store:              bucket.NewStore(cfg.Config.SnapshotDir(), cfg.Config.Snapshot.HistoryKeep),
		Window:             candidate.Window(cfg.Config.Source.FreshnessDays),
		AbortOnSourceError: cfg.Config.Source.AbortOnError,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create allocation engine")
		return 1
	}

	res, err := engine.Run(ctx, src)
	flushTelemetry()
	if err != nil {
		log.Error().Err(err).Msg("Allocation pass aborted")
		return 1
	}
	if err := res.SaveErr(); err != nil {
		log.Error().Err(err).Msg("Allocation pass finished with unsaved buckets")
		return 1
	}
	return 0
}

func runMail(ctx context.Context) int {
	lock, ok := acquireLock()
	if !ok {
		return 1
	}
	defer lock.Release()

	router, err := notify.NewRouter(cfg.Config.Mail.Routes)
	if err != nil {
		log.Error().Err(err).Msg("Invalid mail routes")
		return 1
	}

	sinks, err := notify.NewSinks(cfg.Config.Sinks)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create sinks")
		return 1
	}
	defer notify.CloseSinks(sinks)

	journal, err := notify.OpenJournal(cfg.Config.JournalPath())
	if err != nil {
		log.Error().Err(err).Msg("Failed to open dispatch journal")
		return 1
	}
	defer journal.Close()

	d, err := notify.NewDispatcher(notify.DispatcherConfig{
		Router:  router,
		Sinks:   sinks,
		Journal: journal,
		Template: notify.MessageTemplate{
			From:    cfg.Config.Mail.From,
			Subject: cfg.Config.Mail.Subject,
			Cc:      cfg.Config.Mail.Cc,
		},
		SkipUnchanged: cfg.Config.Mail.SkipUnchanged,
		RetryInitial:  time.Duration(cfg.Config.Notify.RetryInitialMS) * time.Millisecond,
		RetryMax:      time.Duration(cfg.Config.Notify.RetryMaxMS) * time.Millisecond,
		MaxRetries:    cfg.Config.Notify.MaxRetries,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create dispatcher")
		return 1
	}

	sum := d.Dispatch(ctx, cfg.Config.SnapshotDir(), bucketNames())
	flushTelemetry()
	if sum.Failed > 0 || ctx.Err() != nil {
		return 1
	}
	return 0
}

func runServe(ctx context.Context) int {
	if !cfg.Config.Admin.Enabled {
		log.Error().Msg("Admin API is disabled in configuration")
		return 1
	}

	refs := bucketRefs()
	collector := telemetry.NewMetricsCollector(&report.Lister{Dir: cfg.Config.SnapshotDir(), Buckets: refs}, 30*time.Second)
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	handlers := admin.NewAdminHandlers(cfg.Config.SnapshotDir(), refs, cfg.Config.JournalPath())
	admin.RegisterRoutes(mux, handlers, cfg.Config.Admin.Secret)

	addr := net.JoinHostPort(cfg.Config.Admin.BindAddress, strconv.Itoa(cfg.Config.Admin.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Admin server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin server failed")
			return 1
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down admin server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Admin server shutdown incomplete")
		}
	}
	return 0
}
