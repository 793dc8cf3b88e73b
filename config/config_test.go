package config

import (
	"bytes"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "tlsoverride.toml", []byte(`
component = "libssl.so.3"
trusted_ca = "/tmp/ca.pem"
debug = true

[trace]
listen = ":9464"
interval = "2s"
`))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "libssl.so.3", cfg.Component)
	assert.Equal(t, "/tmp/ca.pem", cfg.TrustedCA)
	assert.True(t, cfg.Debug)
	assert.Equal(t, ":9464", cfg.Trace.Listen)
	assert.Equal(t, 2*time.Second, cfg.Trace.Interval.Duration)
	// untouched keys keep their defaults
	assert.Equal(t, "metrics.json", cfg.Trace.MetricsPath)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "bad.toml", []byte(`hostnames = ["example.com"]`))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hostnames")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "trusted_ca is required")

	cfg.TrustedCA = "ca.der"
	assert.NoError(t, cfg.Validate())

	cfg.Component = ""
	assert.Error(t, cfg.Validate())
}

func TestReadTrustedCA(t *testing.T) {
	der := []byte{0x30, 0x82, 0x01, 0x0A, 0xDE, 0xAD}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	for name, raw := range map[string][]byte{"ca.der": der, "ca.pem": pemBytes} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.TrustedCA = writeFile(t, name, raw)
			got, err := cfg.ReadTrustedCA()
			require.NoError(t, err)
			assert.Equal(t, der, got)
		})
	}

	cfg := Default()
	cfg.TrustedCA = filepath.Join(t.TempDir(), "missing.pem")
	_, err := cfg.ReadTrustedCA()
	assert.Error(t, err)
}

func TestParseCertificates(t *testing.T) {
	bundle := append(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{0x01}}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{0x02}})...)
	bundle = append(bundle, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{0xDE, 0xAD}})...)

	certs, err := ParseCertificates(bundle)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x01}, {0xDE, 0xAD}}, certs)

	_, err = ParseCertificates(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{0x02}}))
	assert.Error(t, err)
	_, err = ParseCertificates(nil)
	assert.Error(t, err)
}

func TestLoggerDebugToggle(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Logger(&buf).Debug.Printf("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	cfg.Debug = true
	cfg.Logger(&buf).Debug.Printf("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestValidateTrace(t *testing.T) {
	path := writeFile(t, "trace.toml", []byte(`
[trace]
interval = "0s"
`))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Error(t, cfg.ValidateTrace(), "zero interval would panic the ticker")

	cfg.Trace.Interval.Duration = time.Second
	assert.NoError(t, cfg.ValidateTrace(), "trusted_ca is not needed for tracing")
	assert.Empty(t, cfg.TrustedCA)

	cfg.Trace.Library = ""
	assert.Error(t, cfg.ValidateTrace())
}
