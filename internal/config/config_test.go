package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LIVE_INTERVAL", "")
	t.Setenv("RECORD_STORE", "")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.LiveInterval)
	assert.Equal(t, 80, cfg.LiveJPEGQuality)
	assert.Equal(t, 95, cfg.CaptureJPEGQuality)
	assert.Equal(t, RecordStoreFirebase, cfg.RecordStore)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Equal(t, 100, cfg.DashboardWindow)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:3000"}, cfg.AllowedOrigins)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("INFERENCE_API_URL", "http://localhost:7860/")
	t.Setenv("RECORD_STORE", "SQLite")
	t.Setenv("ALLOWED_ORIGINS", " http://a.test , ,http://b.test")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "http://localhost:7860", cfg.InferenceURL)
	assert.Equal(t, RecordStoreSQLite, cfg.RecordStore)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Minute},
		{"1500", 1500 * time.Millisecond},
		{"3s", 3 * time.Second},
		{"soon", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			assert.Equal(t, tt.want, getEnvAsDuration("TEST_DURATION", time.Minute))
		})
	}
}

func TestGetEnvAsInt_InvalidFallsBack(t *testing.T) {
	t.Setenv("TEST_INT", "eighty")
	assert.Equal(t, 80, getEnvAsInt("TEST_INT", 80))
}

func validConfig() *Config {
	return &Config{
		InferenceURL:        "http://localhost:7860",
		FirebaseAPIKey:      "key",
		FirebaseDatabaseURL: "https://project.firebaseio.com",
		RecordStore:         RecordStoreFirebase,
		LiveInterval:        2 * time.Second,
		LiveJPEGQuality:     80,
		CaptureJPEGQuality:  95,
		HistoryLimit:        20,
		DashboardWindow:     100,
		SessionTTL:          24 * time.Hour,
		PreviewTTL:          10 * time.Minute,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing api key", func(c *Config) { c.FirebaseAPIKey = "" }, "FIREBASE_API_KEY is required"},
		{"missing database url", func(c *Config) { c.FirebaseDatabaseURL = "" }, "FIREBASE_DATABASE_URL is required when RECORD_STORE=firebase"},
		{"sqlite without path", func(c *Config) { c.RecordStore = RecordStoreSQLite }, "DB_PATH is required when RECORD_STORE=sqlite"},
		{"unknown store", func(c *Config) { c.RecordStore = "redis" }, `unknown RECORD_STORE "redis"`},
		{"zero interval", func(c *Config) { c.LiveInterval = 0 }, "LIVE_INTERVAL must be positive"},
		{"zero session ttl", func(c *Config) { c.SessionTTL = 0 }, "SESSION_TTL must be positive"},
		{"negative preview ttl", func(c *Config) { c.PreviewTTL = -time.Second }, "PREVIEW_TTL must be positive"},
		{"quality out of range", func(c *Config) { c.CaptureJPEGQuality = 101 }, "CAPTURE_JPEG_QUALITY must be between 1 and 100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.EqualError(t, cfg.Validate(), tt.want)
		})
	}
}
