// Package config resolves process configuration once at startup: defaults,
// then an optional YAML file, then environment variables. Command-line flags
// are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/mergesub/internal/model"
)

const DefaultAPIURL = "https://sublink.eooce.com"

type Config struct {
	Listen string `yaml:"listen"`
	// DBPath is the SQLite file; empty keeps data in memory only.
	DBPath string `yaml:"db_path"`

	// Basic auth for the admin routes is enforced only when both are set.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// SubToken is the path segment of the merged subscription URL.
	SubToken string `yaml:"sub_token"`
	// APIURL is the external subscription converter advertised to clients.
	APIURL string `yaml:"api_url"`

	RelayAddress string `yaml:"relay_address"`
	RelayPort    string `yaml:"relay_port"`

	RequestTimeoutMs  int           `yaml:"request_timeout_ms"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

func Default() Config {
	return Config{
		Listen:            "127.0.0.1:8787",
		APIURL:            DefaultAPIURL,
		RequestTimeoutMs:  10000,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// envKeys maps environment variables onto fields. Empty values are ignored.
var envKeys = []struct {
	name string
	set  func(*Config, string) error
}{
	{"USERNAME", func(c *Config, v string) error { c.Username = v; return nil }},
	{"PASSWORD", func(c *Config, v string) error { c.Password = v; return nil }},
	{"SUB_TOKEN", func(c *Config, v string) error { c.SubToken = v; return nil }},
	{"API_URL", func(c *Config, v string) error { c.APIURL = v; return nil }},
	{"CFIP", func(c *Config, v string) error { c.RelayAddress = v; return nil }},
	{"CFPORT", func(c *Config, v string) error { c.RelayPort = v; return nil }},
	{"DB_PATH", func(c *Config, v string) error { c.DBPath = v; return nil }},
	{"REQUEST_TIMEOUT_MS", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REQUEST_TIMEOUT_MS: %w", err)
		}
		c.RequestTimeoutMs = n
		return nil
	}},
}

// Load builds a validated Config. path may be empty; getenv may be nil to
// skip the environment.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if getenv != nil {
		if err := cfg.applyEnv(getenv); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	for _, k := range envKeys {
		v := strings.TrimSpace(getenv(k.name))
		if v == "" {
			continue
		}
		if err := k.set(c, v); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return errors.New("listen address must not be empty")
	}
	if c.RelayPort != "" {
		if err := validatePort(c.RelayPort); err != nil {
			return fmt.Errorf("relay_port: %w", err)
		}
	}
	if c.RequestTimeoutMs <= 0 {
		return fmt.Errorf("request_timeout_ms must be > 0, got %d", c.RequestTimeoutMs)
	}
	return nil
}

// AuthEnabled reports whether admin routes require credentials.
func (c Config) AuthEnabled() bool {
	return c.Username != "" && c.Password != ""
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// Relay resolves the relay target of one request: CFIP/CFPORT query
// parameters win over the configured values, each half independently.
func (c Config) Relay(q url.Values) model.RelayTarget {
	r := model.RelayTarget{Address: c.RelayAddress, Port: c.RelayPort}
	if v := strings.TrimSpace(q.Get("CFIP")); v != "" {
		r.Address = v
	}
	if v := strings.TrimSpace(q.Get("CFPORT")); v != "" {
		r.Port = v
	}
	return r
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("out of range: %d", n)
	}
	return nil
}
