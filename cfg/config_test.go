package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Configuration {
	c := Default()
	c.DataDir = "./test-data"
	c.Buckets = []BucketConfiguration{
		{Name: "PersonA", Capacity: "10"},
		{Name: "PersonB", Capacity: "*"},
	}
	return c
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	require.NoError(t, Validate())
}

func TestDefault_MailsThroughLocalMTA(t *testing.T) {
	c := Default()
	require.Len(t, c.Sinks, 1)
	assert.Equal(t, "smtp", c.Sinks[0].Type)
	assert.Equal(t, "localhost", c.Sinks[0].SMTPHost)
	assert.Equal(t, 25, c.Sinks[0].SMTPPort)
	assert.NotEmpty(t, c.Mail.From)

	original := Config
	defer func() { Config = original }()
	Config = c
	Config.Buckets = []BucketConfiguration{{Name: "PersonA", Capacity: "10"}}
	require.NoError(t, Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"no buckets", func(c *Configuration) { c.Buckets = nil }},
		{"empty bucket name", func(c *Configuration) { c.Buckets[0].Name = "" }},
		{"path in bucket name", func(c *Configuration) { c.Buckets[0].Name = "../etc" }},
		{"duplicate bucket", func(c *Configuration) { c.Buckets[1].Name = c.Buckets[0].Name }},
		{"zero capacity", func(c *Configuration) { c.Buckets[0].Capacity = "0" }},
		{"garbage capacity", func(c *Configuration) { c.Buckets[0].Capacity = "ten" }},
		{"bad driver", func(c *Configuration) { c.Source.Driver = "postgres" }},
		{"no table", func(c *Configuration) { c.Source.Table = "" }},
		{"negative freshness", func(c *Configuration) { c.Source.FreshnessDays = -1 }},
		{"negative history", func(c *Configuration) { c.Snapshot.HistoryKeep = -1 }},
		{"route without recipients", func(c *Configuration) {
			c.Mail.Routes = []RouteConfiguration{{Buckets: []string{"*"}}}
		}},
		{"route without buckets", func(c *Configuration) {
			c.Mail.Routes = []RouteConfiguration{{To: []string{"a@b.org"}}}
		}},
		{"smtp without from", func(c *Configuration) {
			c.Mail.From = ""
			c.Sinks = []SinkConfiguration{{Name: "mail", Type: "smtp", SMTPHost: "localhost", SMTPPort: 25}}
		}},
		{"smtp bad port", func(c *Configuration) {
			c.Mail.From = "bot@example.org"
			c.Sinks = []SinkConfiguration{{Name: "mail", Type: "smtp", SMTPHost: "localhost", SMTPPort: 70000}}
		}},
		{"nats without url", func(c *Configuration) {
			c.Sinks = []SinkConfiguration{{Name: "bus", Type: "nats"}}
		}},
		{"kafka without brokers", func(c *Configuration) {
			c.Sinks = []SinkConfiguration{{Name: "log", Type: "kafka"}}
		}},
		{"unknown sink", func(c *Configuration) {
			c.Sinks = []SinkConfiguration{{Name: "x", Type: "carrier-pigeon"}}
		}},
		{"duplicate sink", func(c *Configuration) {
			c.Sinks = []SinkConfiguration{{Name: "m", Type: "mock"}, {Name: "m", Type: "mock"}}
		}},
		{"unknown format", func(c *Configuration) {
			c.Sinks = []SinkConfiguration{{Name: "m", Type: "mock", Format: "xml"}}
		}},
		{"admin port", func(c *Configuration) { c.Admin.Port = 0 }},
		{"negative retries", func(c *Configuration) { c.Notify.MaxRetries = -1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestParseCapacity(t *testing.T) {
	n, err := ParseCapacity("*")
	require.NoError(t, err)
	assert.Equal(t, UnboundedCapacity, n)

	n, err = ParseCapacity(" 15 ")
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	_, err = ParseCapacity("-3")
	assert.Error(t, err)
	_, err = ParseCapacity("")
	assert.Error(t, err)
}

func TestLoad_FromFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()
	Config = Default()

	dir := t.TempDir()
	path := filepath.Join(dir, "bucketd.toml")
	content := `
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "run")) + `"
instance_id = "test-instance"

[source]
driver = "sqlite3"
dsn = "bridges.sqlite"
table = "Bridges"
freshness_days = 3

[[buckets]]
name = "Zeta"
capacity = "2"

[[buckets]]
name = "Alpha"
capacity = "*"

[mail]
from = "bot@example.org"
cc = ["ops@example.org"]

[[mail.routes]]
buckets = ["Zeta", "Al*"]
to = ["someone@example.org"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, Load(path))
	require.NoError(t, Validate())

	assert.Equal(t, 3, Config.Source.FreshnessDays)
	assert.Equal(t, "test-instance", Config.InstanceID)
	// Table order is fill priority and must survive decoding
	require.Len(t, Config.Buckets, 2)
	assert.Equal(t, "Zeta", Config.Buckets[0].Name)
	assert.Equal(t, "Alpha", Config.Buckets[1].Name)
	require.Len(t, Config.Mail.Routes, 1)
	assert.Equal(t, []string{"Zeta", "Al*"}, Config.Mail.Routes[0].Buckets)
	assert.Equal(t, "Your daily Tor Bridges", Config.Mail.Subject)
	assert.Equal(t, DefaultSinks(), Config.Sinks)

	info, err := os.Stat(Config.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(Config.DataDir, "journal"), Config.JournalPath())
}

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	original := Config
	defer func() { Config = original }()
	Config = Default()
	Config.DataDir = filepath.Join(t.TempDir(), "run")
	Config.InstanceID = "fixed"

	require.NoError(t, Load(filepath.Join(t.TempDir(), "missing.toml")))
	assert.Equal(t, "Bridges", Config.Source.Table)
	assert.Equal(t, 10, Config.Source.FreshnessDays)
}

func TestLoad_SinksReplaceDefaults(t *testing.T) {
	original := Config
	defer func() { Config = original }()
	Config = Default()

	dir := t.TempDir()
	path := filepath.Join(dir, "bucketd.toml")
	content := `
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "run")) + `"
instance_id = "test-instance"

[[sinks]]
name = "bus"
type = "nats"
nats_url = "nats://127.0.0.1:4222"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, Load(path))

	require.Len(t, Config.Sinks, 1)
	assert.Equal(t, SinkConfiguration{Name: "bus", Type: "nats", NatsURL: "nats://127.0.0.1:4222"}, Config.Sinks[0])
}
