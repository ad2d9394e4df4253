package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		def   int
		want  int
	}{
		{"unset", "", 30, 30},
		{"valid", "15", 30, 15},
		{"unparsable", "half-hour", 30, 30},
		{"zero", "0", 30, 30},
		{"negative", "-5", 30, 30},
		{"zero allowed when default is zero", "0", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT_SETTING", tt.value)
			assert.Equal(t, tt.want, getEnvInt("TEST_INT_SETTING", tt.def))
		})
	}
}

func TestLoad_BadSweepIntervalFallsBack(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL_MINUTES", "0")
	t.Setenv("HOLD_MINUTES", "soon")

	cfg := Load()

	assert.Equal(t, 30*time.Minute, cfg.Business.SweepInterval)
	assert.Equal(t, 30*time.Minute, cfg.Business.HoldDuration)
}

func TestLogWarnings(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := &Config{}

	cfg.LogWarnings(zap.New(core))
	assert.Equal(t, 2, logs.Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("STRIPE_WEBHOOK_SECRET").Len())

	core, logs = observer.New(zap.WarnLevel)
	cfg.Payment.WebhookSecret = "whsec_test"
	cfg.Auth.JWTSecret = "secret"
	cfg.LogWarnings(zap.New(core))
	assert.Zero(t, logs.Len())
}
