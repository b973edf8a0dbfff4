package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, "recalld", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	assert.Equal(t, 15*time.Second, cfg.Metrics.ExportInterval.Duration())
	require.NoError(t, cfg.Validate())
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Run("no env keeps defaults", func(t *testing.T) {
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
		t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "")

		cfg := NewConfigFromEnv()
		assert.Equal(t, "localhost:4317", cfg.Endpoint)
		assert.Equal(t, "grpc", cfg.Protocol)
		assert.True(t, cfg.Insecure)
	})

	t.Run("https endpoint enables tls", func(t *testing.T) {
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "https://collector.example.com:4317")

		cfg := NewConfigFromEnv()
		assert.Equal(t, "collector.example.com:4317", cfg.Endpoint)
		assert.False(t, cfg.Insecure)
	})

	t.Run("http endpoint stays plaintext", func(t *testing.T) {
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:4318")
		t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "http/protobuf")

		cfg := NewConfigFromEnv()
		assert.Equal(t, "127.0.0.1:4318", cfg.Endpoint)
		assert.Equal(t, "http/protobuf", cfg.Protocol)
		assert.True(t, cfg.Insecure)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		return cfg
	}

	t.Run("disabled skips validation", func(t *testing.T) {
		cfg := &Config{Enabled: false}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("enabled defaults valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing endpoint", func(t *testing.T) {
		cfg := valid()
		cfg.Endpoint = ""
		assert.ErrorContains(t, cfg.Validate(), "endpoint is required")
	})

	t.Run("missing service name", func(t *testing.T) {
		cfg := valid()
		cfg.ServiceName = ""
		assert.ErrorContains(t, cfg.Validate(), "service_name is required")
	})

	t.Run("bad protocol", func(t *testing.T) {
		cfg := valid()
		cfg.Protocol = "udp"
		assert.ErrorContains(t, cfg.Validate(), "protocol")
	})

	t.Run("http protobuf accepted", func(t *testing.T) {
		cfg := valid()
		cfg.Protocol = "http/protobuf"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("sampling rate bounds", func(t *testing.T) {
		cfg := valid()
		cfg.Sampling.Rate = 1.5
		assert.ErrorContains(t, cfg.Validate(), "sampling.rate")

		cfg.Sampling.Rate = -0.1
		assert.ErrorContains(t, cfg.Validate(), "sampling.rate")
	})

	t.Run("metrics interval positive", func(t *testing.T) {
		cfg := valid()
		cfg.Metrics.ExportInterval = config.Duration(0)
		assert.ErrorContains(t, cfg.Validate(), "export_interval")
	})

	t.Run("shutdown timeout positive", func(t *testing.T) {
		cfg := valid()
		cfg.Shutdown.Timeout = config.Duration(0)
		assert.ErrorContains(t, cfg.Validate(), "shutdown.timeout")
	})
}

func TestConfigInsecureRemote(t *testing.T) {
	cases := []struct {
		name     string
		endpoint string
		wantErr  bool
	}{
		{"localhost with port", "localhost:4317", false},
		{"loopback v4", "127.0.0.1:4317", false},
		{"loopback v4 range", "127.0.0.53:4317", false},
		{"bracketed v6", "[::1]:4317", false},
		{"bare v6", "::1", false},
		{"remote host", "collector.example.com:4317", true},
		{"remote ip", "10.0.0.5:4317", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			cfg.Insecure = true
			cfg.Endpoint = tc.endpoint

			err := cfg.Validate()
			if tc.wantErr {
				assert.ErrorContains(t, err, "insecure connections to remote endpoints")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
