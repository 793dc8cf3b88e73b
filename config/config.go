// Package config loads the override's configuration: which component to hook,
// the one trusted CA certificate, and the settings of the trace tool.
//
// Example:
//
//	component  = "libboringssl.dylib"
//	trusted_ca = "/var/mobile/proxy-ca.pem"
//	debug      = false
//
//	[trace]
//	library      = "/usr/lib/libssl.so"
//	metrics_path = "metrics.json"
//	listen       = ":9464"
//	interval     = "5s"
package config

import (
	"bytes"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"carnotengine/tls-override/foreign"
	"github.com/BurntSushi/toml"
	"github.com/function61/gokit/log/logex"
)

// Config is the whole configuration file.
type Config struct {
	// Component is the native TLS library to hook.
	Component string `toml:"component"`
	// TrustedCA is a path to the trusted CA certificate, PEM or DER.
	TrustedCA string `toml:"trusted_ca"`
	// Debug enables debug diagnostics.
	Debug bool `toml:"debug"`

	Trace TraceConfig `toml:"trace"`
}

// TraceConfig configures the eBPF hook-site tracer.
type TraceConfig struct {
	Library     string   `toml:"library"`
	MetricsPath string   `toml:"metrics_path"`
	Listen      string   `toml:"listen"`
	Interval    Duration `toml:"interval"`
}

// Duration decodes TOML strings like "5s".
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

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration. TrustedCA has no default.
func Default() *Config {
	return &Config{
		Component: foreign.DefaultComponent,
		Trace: TraceConfig{
			Library:     "/lib/x86_64-linux-gnu/libssl.so",
			MetricsPath: "metrics.json",
			Interval:    Duration{5 * time.Second},
		},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: %s: unknown keys %v", path, undecoded)
	}
	return cfg, nil
}

// Validate checks the settings the agent needs.
func (c *Config) Validate() error {
	if c.Component == "" {
		return errors.New("config: component is empty")
	}
	if c.TrustedCA == "" {
		return errors.New("config: trusted_ca is not set")
	}
	return c.ValidateTrace()
}

// ValidateTrace checks the settings the trace command needs. It does not
// require trusted_ca.
func (c *Config) ValidateTrace() error {
	if c.Trace.Library == "" {
		return errors.New("config: trace.library is empty")
	}
	if c.Trace.Interval.Duration <= 0 {
		return fmt.Errorf("config: trace.interval must be positive, got %s", c.Trace.Interval.Duration)
	}
	return nil
}

// ReadTrustedCA reads the configured CA certificate as DER.
func (c *Config) ReadTrustedCA() ([]byte, error) {
	raw, err := os.ReadFile(c.TrustedCA)
	if err != nil {
		return nil, fmt.Errorf("config: read trusted CA: %w", err)
	}
	return ParseCertificate(raw)
}

// ParseCertificate returns the DER bytes of the first CERTIFICATE block in
// raw, or raw itself when it is not PEM.
func ParseCertificate(raw []byte) ([]byte, error) {
	certs, err := ParseCertificates(raw)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

// ParseCertificates returns every CERTIFICATE block of a PEM bundle in order,
// or raw as a single DER certificate.
func ParseCertificates(raw []byte) ([][]byte, error) {
	if !bytes.Contains(raw, []byte("-----BEGIN")) {
		if len(raw) == 0 {
			return nil, errors.New("config: empty certificate")
		}
		return [][]byte{raw}, nil
	}
	var certs [][]byte
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		certs = append(certs, block.Bytes)
	}
	if len(certs) == 0 {
		return nil, errors.New("config: no CERTIFICATE block in PEM input")
	}
	return certs, nil
}

// Logger returns the diagnostic loggers writing to w. Debug output is
// discarded unless Debug is set.
func (c *Config) Logger(w io.Writer) *logex.Leveled {
	logl := logex.Levels(log.New(w, "tlsoverride ", log.LstdFlags))
	if !c.Debug {
		logl.Debug = log.New(io.Discard, "", 0)
	}
	return logl
}
