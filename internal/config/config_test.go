package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultServerURI, cfg.Server.URI)
	assert.Equal(t, 1, cfg.Run.ClientsPerDocument)
	assert.False(t, cfg.Run.Benchmark)
	assert.False(t, cfg.Run.NoDelay)
	assert.Equal(t, "/lool/ws/", cfg.Server.PathPrefix)
}

func TestValidate_ClampsClients(t *testing.T) {
	cfg := Default()
	cfg.Run.ClientsPerDocument = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Run.ClientsPerDocument)

	cfg.Run.ClientsPerDocument = -5
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Run.ClientsPerDocument)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad scheme", func(c *Config) { c.Server.URI = "ftp://host:1" }},
		{"no host", func(c *Config) { c.Server.URI = "http://" }},
		{"unparsable", func(c *Config) { c.Server.URI = "http://[::1" }},
		{"zero receive timeout", func(c *Config) { c.Run.ReceiveTimeout = 0 }},
		{"zero connect timeout", func(c *Config) { c.Server.ConnectTimeout = 0 }},
		{"negative rate", func(c *Config) { c.Run.RecordRate = -1 }},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docstress.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  uri: https://wsd.example.com:9980
run:
  clients_per_doc: 4
  nodelay: true
  receive_timeout: 3s
s3:
  region: eu-west-1
`), 0600))

	cfg := Default()
	require.NoError(t, LoadFile(path, cfg))

	assert.Equal(t, "https://wsd.example.com:9980", cfg.Server.URI)
	assert.Equal(t, 4, cfg.Run.ClientsPerDocument)
	assert.True(t, cfg.Run.NoDelay)
	assert.Equal(t, 3*time.Second, cfg.Run.ReceiveTimeout)
	assert.Equal(t, "eu-west-1", cfg.S3.Region)
	assert.Equal(t, "/lool/ws/", cfg.Server.PathPrefix, "unset keys keep defaults")
}

func TestLoadFile_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run:\n  clients: 3\n"), 0600))

	err := LoadFile(path, Default())
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DOCSTRESS_SERVER", "http://10.0.0.1:9980")
	t.Setenv("DOCSTRESS_CLIENTS_PER_DOC", "8")
	t.Setenv("DOCSTRESS_BENCH", "true")
	t.Setenv("DOCSTRESS_TIMEOUT", "2s")
	t.Setenv("DOCSTRESS_LOG_LEVEL", "debug")

	cfg := Default()
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, "http://10.0.0.1:9980", cfg.Server.URI)
	assert.Equal(t, 8, cfg.Run.ClientsPerDocument)
	assert.True(t, cfg.Run.Benchmark)
	assert.Equal(t, 2*time.Second, cfg.Run.ReceiveTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromEnv_BadValue(t *testing.T) {
	t.Setenv("DOCSTRESS_CLIENTS_PER_DOC", "many")
	assert.ErrorIs(t, LoadFromEnv(Default()), ErrInvalid)
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("DOCSTRESS_TEST_KEY", "set")
	assert.Equal(t, "set", GetEnvOrDefault("DOCSTRESS_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", GetEnvOrDefault("DOCSTRESS_TEST_MISSING", "fallback"))
}
