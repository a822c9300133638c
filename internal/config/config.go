package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/FairForge/docstress/internal/logging"
	"github.com/FairForge/docstress/internal/trace"
	"gopkg.in/yaml.v3"
)

// DefaultServerURI points at a local server on its default client port.
const DefaultServerURI = "http://127.0.0.1:9980"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is fixed once the run starts; workers receive it by value.
type Config struct {
	Server  ServerConfig         `yaml:"server"`
	Run     RunConfig            `yaml:"run"`
	Metrics MetricsConfig        `yaml:"metrics"`
	Log     logging.LoggerConfig `yaml:"log"`
	S3      trace.S3Options      `yaml:"s3"`
}

type ServerConfig struct {
	URI            string        `yaml:"uri"`
	PathPrefix     string        `yaml:"path_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type RunConfig struct {
	ClientsPerDocument int           `yaml:"clients_per_doc"`
	Benchmark          bool          `yaml:"bench"`
	NoDelay            bool          `yaml:"nodelay"`
	ReceiveTimeout     time.Duration `yaml:"receive_timeout"`
	RecordRate         float64       `yaml:"record_rate"` // records/sec cap for replay, 0 = none
	ControlPipe        string        `yaml:"control_pipe"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URI:            DefaultServerURI,
			PathPrefix:     "/lool/ws/",
			ConnectTimeout: 10 * time.Second,
		},
		Run: RunConfig{
			ClientsPerDocument: 1,
			ReceiveTimeout:     10 * time.Second,
		},
		Log: logging.LoggerConfig{
			Level:  logging.LevelInfo,
			Format: logging.FormatConsole,
		},
	}
}

// LoadFile overlays the YAML file at path onto cfg. Unknown keys are
// rejected.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	return nil
}

// Validate normalizes cfg and reports the first problem found. A client
// count below one is raised to one rather than rejected.
func (c *Config) Validate() error {
	if c.Run.ClientsPerDocument < 1 {
		c.Run.ClientsPerDocument = 1
	}

	u, err := url.Parse(c.Server.URI)
	if err != nil {
		return fmt.Errorf("%w: server uri %q: %v", ErrInvalid, c.Server.URI, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("%w: server uri %q: scheme must be http, https, ws or wss", ErrInvalid, c.Server.URI)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: server uri %q: missing host", ErrInvalid, c.Server.URI)
	}

	if c.Server.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", ErrInvalid)
	}
	if c.Run.ReceiveTimeout <= 0 {
		return fmt.Errorf("%w: receive timeout must be positive", ErrInvalid)
	}
	if c.Run.RecordRate < 0 {
		return fmt.Errorf("%w: record rate must not be negative", ErrInvalid)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
