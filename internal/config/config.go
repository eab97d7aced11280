package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/OjDrez/tander-app-sub004/internal/domain"
	"github.com/joho/godotenv"
)

// DefaultSTUN is used when neither the file nor the environment names a
// STUN server.
const DefaultSTUN = "stun:stun.l.google.com:19302"

// Config holds the application configuration.
type Config struct {
	UserID      string
	DisplayName string
	Token       string
	SignalURL   string
	ICEURL      string

	STUNURLs   []string
	ICEServers []domain.ICEServer

	RingTimeout  time.Duration
	DialTimeout  time.Duration
	StaleGrace   time.Duration
	AutoReset    time.Duration
	PingInterval time.Duration
	NetworkPoll  time.Duration

	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

// Duration decodes TOML strings such as "45s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// fileConfig is the layout of the optional TOML file.
type fileConfig struct {
	UserID      string             `toml:"user_id"`
	DisplayName string             `toml:"display_name"`
	SignalURL   string             `toml:"signal_url"`
	ICEURL      string             `toml:"ice_url"`
	MetricsAddr string             `toml:"metrics_addr"`
	STUNURLs    []string           `toml:"stun_urls"`
	ICEServers  []domain.ICEServer `toml:"ice_servers"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`

	Timeouts struct {
		Ring      *Duration `toml:"ring"`
		Dial      *Duration `toml:"dial"`
		Grace     *Duration `toml:"stale_grace"`
		AutoReset *Duration `toml:"auto_reset"`
		Ping      *Duration `toml:"ping"`
		Network   *Duration `toml:"network_poll"`
	} `toml:"timeouts"`
}

func defaults() *Config {
	return &Config{
		STUNURLs:     []string{DefaultSTUN},
		RingTimeout:  45 * time.Second,
		DialTimeout:  60 * time.Second,
		StaleGrace:   1500 * time.Millisecond,
		AutoReset:    3 * time.Second,
		PingInterval: 20 * time.Second,
		NetworkPoll:  5 * time.Second,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load reads configuration from a .env file (if present), the TOML file
// named by CALL_CONFIG (if set) and environment variables, in increasing
// precedence.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CALL_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if cfg.UserID == "" {
		return nil, fmt.Errorf("CALL_USER_ID environment variable is required")
	}
	if cfg.SignalURL == "" {
		return nil, fmt.Errorf("CALL_SIGNAL_URL environment variable is required")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("CALL_LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	var f fileConfig
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	setString(&c.UserID, f.UserID)
	setString(&c.DisplayName, f.DisplayName)
	setString(&c.SignalURL, f.SignalURL)
	setString(&c.ICEURL, f.ICEURL)
	setString(&c.MetricsAddr, f.MetricsAddr)
	setString(&c.LogLevel, f.Log.Level)
	setString(&c.LogFormat, f.Log.Format)
	if len(f.STUNURLs) > 0 {
		c.STUNURLs = f.STUNURLs
	}
	c.ICEServers = f.ICEServers

	for _, d := range []struct {
		key string
		dst *time.Duration
		src *Duration
	}{
		{"ring", &c.RingTimeout, f.Timeouts.Ring},
		{"dial", &c.DialTimeout, f.Timeouts.Dial},
		{"stale_grace", &c.StaleGrace, f.Timeouts.Grace},
		{"auto_reset", &c.AutoReset, f.Timeouts.AutoReset},
		{"ping", &c.PingInterval, f.Timeouts.Ping},
		{"network_poll", &c.NetworkPoll, f.Timeouts.Network},
	} {
		if d.src == nil {
			continue
		}
		if d.src.Duration < 0 {
			return fmt.Errorf("%s: timeouts.%s must not be negative", path, d.key)
		}
		*d.dst = d.src.Duration
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.UserID, os.Getenv("CALL_USER_ID"))
	setString(&c.DisplayName, os.Getenv("CALL_DISPLAY_NAME"))
	setString(&c.Token, os.Getenv("CALL_TOKEN"))
	setString(&c.SignalURL, os.Getenv("CALL_SIGNAL_URL"))
	setString(&c.ICEURL, os.Getenv("CALL_ICE_URL"))
	setString(&c.MetricsAddr, os.Getenv("CALL_METRICS_ADDR"))
	setString(&c.LogLevel, os.Getenv("CALL_LOG_LEVEL"))
	setString(&c.LogFormat, os.Getenv("CALL_LOG_FORMAT"))

	if v := os.Getenv("CALL_STUN_URLS"); v != "" {
		c.STUNURLs = splitList(v)
	}

	for key, dst := range map[string]*time.Duration{
		"CALL_RING_TIMEOUT":  &c.RingTimeout,
		"CALL_DIAL_TIMEOUT":  &c.DialTimeout,
		"CALL_STALE_GRACE":   &c.StaleGrace,
		"CALL_AUTO_RESET":    &c.AutoReset,
		"CALL_PING_INTERVAL": &c.PingInterval,
		"CALL_NETWORK_POLL":  &c.NetworkPoll,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
		*dst = d
	}
	return nil
}

// Servers returns the configured ICE servers followed by the STUN URLs.
func (c *Config) Servers() []domain.ICEServer {
	out := append([]domain.ICEServer{}, c.ICEServers...)
	for _, u := range c.STUNURLs {
		out = append(out, domain.ICEServer{URL: u})
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
