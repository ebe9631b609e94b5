package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RecordStoreFirebase = "firebase"
	RecordStoreSQLite   = "sqlite"
)

type Config struct {
	Port int

	// Remote inference API
	InferenceURL     string
	InferenceTimeout time.Duration

	// Identity provider and realtime database project
	FirebaseAPIKey      string
	FirebaseAuthURL     string
	FirebaseTokenURL    string
	FirebaseDatabaseURL string

	RecordStore  string // firebase | sqlite
	DatabasePath string

	CameraDevice       int
	CameraWidth        int // ideal capture width
	CameraHeight       int // ideal capture height
	LiveInterval       time.Duration
	LiveJPEGQuality    int
	CaptureJPEGQuality int

	HistoryLimit    int // records shown in the history view
	DashboardWindow int // records aggregated by the dashboard

	SessionTTL     time.Duration
	PreviewTTL     time.Duration
	AllowedOrigins []string
	LogDirectory   string
}

// Load reads an optional .env file and then the environment.
func Load() *Config {
	loadEnvFile()

	return &Config{
		Port:                getEnvAsInt("PORT", 8080),
		InferenceURL:        strings.TrimRight(getEnv("INFERENCE_API_URL", "https://josna1234567-agrobackend.hf.space"), "/"),
		InferenceTimeout:    getEnvAsDuration("INFERENCE_TIMEOUT", 30*time.Second),
		FirebaseAPIKey:      getEnv("FIREBASE_API_KEY", ""),
		FirebaseAuthURL:     strings.TrimRight(getEnv("FIREBASE_AUTH_URL", "https://identitytoolkit.googleapis.com/v1"), "/"),
		FirebaseTokenURL:    strings.TrimRight(getEnv("FIREBASE_TOKEN_URL", "https://securetoken.googleapis.com/v1"), "/"),
		FirebaseDatabaseURL: strings.TrimRight(getEnv("FIREBASE_DATABASE_URL", ""), "/"),
		RecordStore:         strings.ToLower(getEnv("RECORD_STORE", RecordStoreFirebase)),
		DatabasePath:        getEnv("DB_PATH", filepath.Join(".", "data", "detections.db")),
		CameraDevice:        getEnvAsInt("CAMERA_DEVICE", 0),
		CameraWidth:         getEnvAsInt("CAMERA_WIDTH", 1280),
		CameraHeight:        getEnvAsInt("CAMERA_HEIGHT", 720),
		LiveInterval:        getEnvAsDuration("LIVE_INTERVAL", 2000*time.Millisecond),
		LiveJPEGQuality:     getEnvAsInt("LIVE_JPEG_QUALITY", 80),
		CaptureJPEGQuality:  getEnvAsInt("CAPTURE_JPEG_QUALITY", 95),
		HistoryLimit:        getEnvAsInt("HISTORY_LIMIT", 20),
		DashboardWindow:     getEnvAsInt("DASHBOARD_WINDOW", 100),
		SessionTTL:          getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		PreviewTTL:          getEnvAsDuration("PREVIEW_TTL", 10*time.Minute),
		AllowedOrigins:      getEnvAsList("ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		LogDirectory:        getEnv("LOG_DIR", filepath.Join(".", "logs")),
	}
}

// Validate checks that required configuration is present and in range.
func (c *Config) Validate() error {
	if c.InferenceURL == "" {
		return fmt.Errorf("INFERENCE_API_URL is required")
	}
	if c.FirebaseAPIKey == "" {
		return fmt.Errorf("FIREBASE_API_KEY is required")
	}

	switch c.RecordStore {
	case RecordStoreFirebase:
		if c.FirebaseDatabaseURL == "" {
			return fmt.Errorf("FIREBASE_DATABASE_URL is required when RECORD_STORE=firebase")
		}
	case RecordStoreSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("DB_PATH is required when RECORD_STORE=sqlite")
		}
	default:
		return fmt.Errorf("unknown RECORD_STORE %q", c.RecordStore)
	}

	if c.LiveInterval <= 0 {
		return fmt.Errorf("LIVE_INTERVAL must be positive")
	}
	if c.LiveJPEGQuality < 1 || c.LiveJPEGQuality > 100 {
		return fmt.Errorf("LIVE_JPEG_QUALITY must be between 1 and 100")
	}
	if c.CaptureJPEGQuality < 1 || c.CaptureJPEGQuality > 100 {
		return fmt.Errorf("CAPTURE_JPEG_QUALITY must be between 1 and 100")
	}
	if c.HistoryLimit <= 0 || c.DashboardWindow <= 0 {
		return fmt.Errorf("HISTORY_LIMIT and DASHBOARD_WINDOW must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.PreviewTTL <= 0 {
		return fmt.Errorf("PREVIEW_TTL must be positive")
	}
	return nil
}

func loadEnvFile() {
	for _, path := range []string{".env", "../.env", "/app/.env"} {
		if err := godotenv.Load(path); err == nil {
			log.Printf("Loaded config from: %s", path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("2s") or plain milliseconds ("2000").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
