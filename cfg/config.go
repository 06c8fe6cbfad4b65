package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// UnboundedCapacity is the finite stand-in for a "*" bucket capacity. It
// equals bucket.Unbounded; cfg sits below bucket in the import graph.
const UnboundedCapacity = 1000000

// SourceConfiguration describes the candidate store
type SourceConfiguration struct {
	Driver        string   `toml:"driver"` // "sqlite3" or "mysql"
	DSN           string   `toml:"dsn"`
	Table         string   `toml:"table"`
	FreshnessDays int      `toml:"freshness_days"`
	OrderBy       []string `toml:"order_by"`       // Optional ORDER BY columns
	AbortOnError  bool     `toml:"abort_on_error"` // Abort the pass instead of using an empty list
}

// BucketConfiguration is one entry of the ordered bucket table
type BucketConfiguration struct {
	Name     string `toml:"name"`
	Capacity string `toml:"capacity"` // Positive integer or "*"
}

// SnapshotConfiguration controls bucket file persistence
type SnapshotConfiguration struct {
	HistoryKeep int `toml:"history_keep"` // Compressed archives kept per bucket, 0 disables
}

// RouteConfiguration maps bucket name patterns to recipients
type RouteConfiguration struct {
	Buckets []string `toml:"buckets"` // Glob patterns
	To      []string `toml:"to"`
}

// MailConfiguration controls message composition and routing
type MailConfiguration struct {
	From          string               `toml:"from"`
	Subject       string               `toml:"subject"`
	Cc            []string             `toml:"cc"`
	SkipUnchanged bool                 `toml:"skip_unchanged"`
	Routes        []RouteConfiguration `toml:"routes"`
}

// SinkConfiguration describes one notification sink
type SinkConfiguration struct {
	Name string `toml:"name"`
	Type string `toml:"type"` // "smtp", "nats", "kafka"

	// SMTP
	SMTPHost     string `toml:"smtp_host"`
	SMTPPort     int    `toml:"smtp_port"`
	SMTPUsername string `toml:"smtp_username"`
	SMTPPassword string `toml:"smtp_password"`
	SMTPTLS      string `toml:"smtp_tls"` // "none", "opportunistic", "mandatory"

	// NATS
	NatsURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`

	// Kafka
	Brokers     []string `toml:"brokers"`
	TopicPrefix string   `toml:"topic_prefix"`

	Format string `toml:"format"` // Broker payload: "msgpack" or "json"
}

// NotifyConfiguration controls dispatch retries
type NotifyConfiguration struct {
	RetryInitialMS int `toml:"retry_initial_ms"`
	RetryMaxMS     int `toml:"retry_max_ms"`
	MaxRetries     int `toml:"max_retries"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled        bool   `toml:"enabled"`
	Textfile       string `toml:"textfile"`        // node_exporter textfile collector path
	PushGatewayURL string `toml:"pushgateway_url"` // Optional pushgateway
	Job            string `toml:"job"`
}

// AdminConfiguration for the read-only HTTP API
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"`
}

// Configuration is the main configuration structure
type Configuration struct {
	DataDir    string `toml:"data_dir"`
	InstanceID string `toml:"instance_id"`

	Source     SourceConfiguration     `toml:"source"`
	Buckets    []BucketConfiguration   `toml:"buckets"`
	Snapshot   SnapshotConfiguration   `toml:"snapshot"`
	Mail       MailConfiguration       `toml:"mail"`
	Sinks      []SinkConfiguration     `toml:"sinks"`
	Notify     NotifyConfiguration     `toml:"notify"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Bucket snapshot directory (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging (overrides config)")
)

// Default returns a fresh copy of the default configuration
func Default() *Configuration {
	return &Configuration{
		DataDir: "./run",

		Source: SourceConfiguration{
			Driver:        "sqlite3",
			DSN:           "bridgedist.db.sqlite",
			Table:         "Bridges",
			FreshnessDays: 10,
		},

		Buckets: []BucketConfiguration{},

		Mail: MailConfiguration{
			From:    "tor-internal@torproject.org",
			Subject: "Your daily Tor Bridges",
		},

		Sinks: DefaultSinks(),

		Notify: NotifyConfiguration{
			RetryInitialMS: 200,
			RetryMaxMS:     5000,
			MaxRetries:     3,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: false,
			Job:     "bucketd",
		},

		Admin: AdminConfiguration{
			Enabled:     true,
			BindAddress: "127.0.0.1",
			Port:        8089,
		},
	}
}

// DefaultSinks is the local MTA used when no [[sinks]] are configured
func DefaultSinks() []SinkConfiguration {
	return []SinkConfiguration{{
		Name:     "mail",
		Type:     "smtp",
		SMTPHost: "localhost",
		SMTPPort: 25,
		SMTPTLS:  "opportunistic",
	}}
}

// Config is the process-wide configuration, read by main only
var Config = Default()

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			// Configured sinks replace the defaults rather than merging into them
			Config.Sinks = nil
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
			if len(Config.Sinks) == 0 {
				Config.Sinks = DefaultSinks()
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	if Config.InstanceID == "" {
		var err error
		Config.InstanceID, err = generateInstanceID()
		if err != nil {
			// Metrics label only, fall back to the hostname
			log.Warn().Err(err).Msg("Failed to derive machine ID, using hostname")
			Config.InstanceID, _ = os.Hostname()
		}
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateInstanceID derives a stable instance ID from the machine ID
func generateInstanceID() (string, error) {
	id, err := machineid.ProtectedID("bucketd")
	if err != nil {
		return "", err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return strconv.FormatUint(h.Sum64(), 16), nil
}

// ParseCapacity converts a capacity token to a bound. "*" maps to UnboundedCapacity.
func ParseCapacity(token string) (int, error) {
	token = strings.TrimSpace(token)
	if token == "*" {
		return UnboundedCapacity, nil
	}

	n, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("invalid capacity %q: %w", token, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("capacity must be >= 1, got %d", n)
	}
	return n, nil
}

// Validate checks configuration for errors
func Validate() error {
	return Config.Validate()
}

// Validate checks this configuration for errors
func (c *Configuration) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Source.Driver {
	case "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported source driver: %q", c.Source.Driver)
	}

	if c.Source.Table == "" {
		return fmt.Errorf("source table is required")
	}

	if c.Source.FreshnessDays < 0 {
		return fmt.Errorf("freshness days must be >= 0")
	}

	if len(c.Buckets) == 0 {
		return fmt.Errorf("at least one bucket is required")
	}

	seen := make(map[string]bool, len(c.Buckets))
	for _, b := range c.Buckets {
		if b.Name == "" {
			return fmt.Errorf("bucket name is required")
		}
		// The name doubles as the snapshot file name
		if strings.ContainsAny(b.Name, `/\`) || b.Name == "." || b.Name == ".." {
			return fmt.Errorf("bucket name %q is not a valid file name", b.Name)
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate bucket name: %s", b.Name)
		}
		seen[b.Name] = true

		if _, err := ParseCapacity(b.Capacity); err != nil {
			return fmt.Errorf("bucket %s: %w", b.Name, err)
		}
	}

	if c.Snapshot.HistoryKeep < 0 {
		return fmt.Errorf("snapshot history_keep must be >= 0")
	}

	for i, r := range c.Mail.Routes {
		if len(r.Buckets) == 0 {
			return fmt.Errorf("mail route %d has no bucket patterns", i)
		}
		if len(r.To) == 0 {
			return fmt.Errorf("mail route %d has no recipients", i)
		}
	}

	sinkNames := make(map[string]bool, len(c.Sinks))
	for _, s := range c.Sinks {
		if s.Name == "" {
			return fmt.Errorf("sink name is required")
		}
		if sinkNames[s.Name] {
			return fmt.Errorf("duplicate sink name: %s", s.Name)
		}
		sinkNames[s.Name] = true

		switch s.Type {
		case "smtp":
			if s.SMTPHost == "" {
				return fmt.Errorf("sink %s: smtp_host is required", s.Name)
			}
			if s.SMTPPort < 1 || s.SMTPPort > 65535 {
				return fmt.Errorf("sink %s: invalid smtp port: %d", s.Name, s.SMTPPort)
			}
			if c.Mail.From == "" {
				return fmt.Errorf("sink %s: mail.from is required for smtp", s.Name)
			}
		case "nats":
			if s.NatsURL == "" {
				return fmt.Errorf("sink %s: nats_url is required", s.Name)
			}
		case "kafka":
			if len(s.Brokers) == 0 {
				return fmt.Errorf("sink %s: at least one broker is required", s.Name)
			}
		case "mock":
		default:
			return fmt.Errorf("sink %s: unknown type %q", s.Name, s.Type)
		}

		switch s.Format {
		case "", "msgpack", "json":
		default:
			return fmt.Errorf("sink %s: unknown format %q", s.Name, s.Format)
		}
	}

	if c.Notify.RetryInitialMS < 0 || c.Notify.RetryMaxMS < 0 {
		return fmt.Errorf("notify retry delays must be >= 0")
	}
	if c.Notify.MaxRetries < 0 {
		return fmt.Errorf("notify max retries must be >= 0")
	}

	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
	}

	return nil
}

// SnapshotDir returns the directory holding bucket files
func (c *Configuration) SnapshotDir() string {
	return c.DataDir
}

// JournalPath returns the dispatch journal directory
func (c *Configuration) JournalPath() string {
	return filepath.Join(c.DataDir, "journal")
}
