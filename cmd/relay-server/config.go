package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasrelay/ws"
)

// Config holds the relay-server settings. A JSON file supplies defaults that
// command line flags override.
type Config struct {
	// InsecureAddr is the plain ws:// listener. Empty disables it.
	InsecureAddr string `json:"insecureAddr"`
	// SecureAddr is the wss:// listener. It is only started when CertFile and KeyFile exist.
	SecureAddr string `json:"secureAddr"`
	CertFile   string `json:"certFile"`
	KeyFile    string `json:"keyFile"`
	// LogDir receives one log_<unix-millis>.txt per run.
	LogDir string `json:"logDir"`
	// AllowedOrigins is a comma separated origin list; "*" allows any origin.
	AllowedOrigins    string  `json:"allowedOrigins"`
	MaxMessageSize    int64   `json:"maxMessageSize"`
	MessagesPerSecond float64 `json:"messagesPerSecond"`
	Burst             int     `json:"burst"`
	// Quiet stops echoing protocol events to stderr.
	Quiet bool `json:"quiet"`
}

func defaultConfig() Config {
	return Config{
		InsecureAddr:      ":8080",
		SecureAddr:        ":8443",
		CertFile:          "./certs/cert.pem",
		KeyFile:           "./certs/key.pem",
		LogDir:            "./log",
		AllowedOrigins:    "*",
		MaxMessageSize:    64 * 1024,
		MessagesPerSecond: 100,
		Burst:             200,
	}
}

// parseConfig reads args (without the program name). The -config file, if
// any, is loaded first and every flag set explicitly overrides it.
func parseConfig(args []string, stderr io.Writer) (Config, error) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet("relay-server", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var confFile string
	fs.StringVar(&confFile, "config", "", "JSON file with the configuration options. May be overridden by other flags")
	fs.StringVar(&cfg.InsecureAddr, "addr", cfg.InsecureAddr, "address of the plain WebSocket listener (empty disables it)")
	fs.StringVar(&cfg.SecureAddr, "tls-addr", cfg.SecureAddr, "address of the TLS WebSocket listener")
	fs.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "TLS certificate file")
	fs.StringVar(&cfg.KeyFile, "key", cfg.KeyFile, "TLS private key file")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory for event log files")
	fs.StringVar(&cfg.AllowedOrigins, "origins", cfg.AllowedOrigins, "comma separated allowed origins, * for any")
	fs.Int64Var(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "largest inbound frame in bytes")
	fs.Float64Var(&cfg.MessagesPerSecond, "rate", cfg.MessagesPerSecond, "inbound frames per second per client, 0 disables rate limiting")
	fs.IntVar(&cfg.Burst, "burst", cfg.Burst, "rate limiter burst size")
	fs.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "do not echo protocol events to stderr")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if confFile == "" {
		return cfg, cfg.validate()
	}

	fileCfg := defaultConfig()
	f, err := os.Open(confFile)
	if err != nil {
		return Config{}, fmt.Errorf("couldn't open the configuration file %q: %w", confFile, err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&fileCfg); err != nil {
		return Config{}, fmt.Errorf("couldn't decode the configuration file %q: %w", confFile, err)
	}

	// Walk over every set flag to override the JSON file
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			fileCfg.InsecureAddr = cfg.InsecureAddr
		case "tls-addr":
			fileCfg.SecureAddr = cfg.SecureAddr
		case "cert":
			fileCfg.CertFile = cfg.CertFile
		case "key":
			fileCfg.KeyFile = cfg.KeyFile
		case "log-dir":
			fileCfg.LogDir = cfg.LogDir
		case "origins":
			fileCfg.AllowedOrigins = cfg.AllowedOrigins
		case "max-message-size":
			fileCfg.MaxMessageSize = cfg.MaxMessageSize
		case "rate":
			fileCfg.MessagesPerSecond = cfg.MessagesPerSecond
		case "burst":
			fileCfg.Burst = cfg.Burst
		case "quiet":
			fileCfg.Quiet = cfg.Quiet
		}
	})

	return fileCfg, fileCfg.validate()
}

func (c Config) validate() error {
	if c.InsecureAddr == "" && c.SecureAddr == "" {
		return fmt.Errorf("at least one of -addr and -tls-addr is required")
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max-message-size must be positive, got %d", c.MaxMessageSize)
	}
	if c.MessagesPerSecond < 0 || c.Burst < 0 {
		return fmt.Errorf("rate and burst must not be negative")
	}
	return nil
}

// RateLimit converts the rate settings for the transport.
func (c Config) RateLimit() *ws.RateLimitConfig {
	if c.MessagesPerSecond == 0 {
		return ws.NoRateLimit()
	}
	burst := c.Burst
	if burst == 0 {
		burst = 1
	}
	return &ws.RateLimitConfig{
		MessagesPerSecond: rate.Limit(c.MessagesPerSecond),
		Burst:             burst,
		Enabled:           true,
	}
}

// CheckOrigin builds the origin policy.
func (c Config) CheckOrigin() ws.CheckOriginFn {
	origins := strings.Split(c.AllowedOrigins, ",")
	return ws.AllowedOrigins(origins...)
}

// TLSAvailable reports whether the secure listener can be started.
func (c Config) TLSAvailable() bool {
	if c.SecureAddr == "" || c.CertFile == "" || c.KeyFile == "" {
		return false
	}
	for _, name := range []string{c.CertFile, c.KeyFile} {
		if _, err := os.Stat(name); err != nil {
			return false
		}
	}
	return true
}
