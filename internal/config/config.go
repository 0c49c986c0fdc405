// Package config gathers every construction parameter for the daemon and
// watchdog binaries in one place. Environment lookups happen only here;
// the rest of the code takes explicit values.
package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	StoragePath string
	Persistence bool

	ScanInterval    time.Duration
	ErrorBackoff    time.Duration
	PurgeInterval   time.Duration
	PurgeGrace      time.Duration
	MonitorInterval time.Duration

	MetricsAddr    string
	AttemptCommand string

	EmailAPIKey string
	FromName    string
	FromAddress string
	NotifyEmail string
}

// New returns the defaults.
func New() Config {
	return Config{
		StoragePath:     defaultStoragePath(),
		Persistence:     true,
		ScanInterval:    30 * time.Second,
		ErrorBackoff:    60 * time.Second,
		PurgeInterval:   time.Hour,
		PurgeGrace:      time.Hour,
		MonitorInterval: 60 * time.Second,
		MetricsAddr:     ":9090",
	}
}

// FromEnv returns the defaults overridden by environment variables.
func FromEnv() Config {
	cfg := New()

	if v := os.Getenv("TICKETD_STORAGE"); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv("TICKETD_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	cfg.ScanInterval = durationEnv("TICKETD_SCAN_INTERVAL", cfg.ScanInterval)
	cfg.ErrorBackoff = durationEnv("TICKETD_ERROR_BACKOFF", cfg.ErrorBackoff)
	cfg.PurgeInterval = durationEnv("TICKETD_PURGE_INTERVAL", cfg.PurgeInterval)
	cfg.PurgeGrace = durationEnv("TICKETD_PURGE_GRACE", cfg.PurgeGrace)
	cfg.MonitorInterval = durationEnv("TICKETD_MONITOR_INTERVAL", cfg.MonitorInterval)

	cfg.AttemptCommand = os.Getenv("TICKETD_ATTEMPT_CMD")
	cfg.EmailAPIKey = os.Getenv("EMAIL_API_KEY")
	cfg.FromName = os.Getenv("FROM_NAME")
	cfg.FromAddress = os.Getenv("FROM_ADDRESS")
	cfg.NotifyEmail = os.Getenv("TICKETD_NOTIFY_EMAIL")

	return cfg
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// defaultStoragePath picks /app/data when it exists (container deployments
// mount it), otherwise a dot directory in the user's home.
func defaultStoragePath() string {
	if info, err := os.Stat("/app/data"); err == nil && info.IsDir() {
		return "/app/data/ticketd.json"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "ticketd.json"
	}
	return filepath.Join(home, ".ticketd", "scheduler.json")
}
