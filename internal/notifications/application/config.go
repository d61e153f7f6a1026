package application

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines the notification engine configuration.
type Config struct {
	HistoryCapacity  int           `yaml:"history_capacity"`
	ReminderInterval time.Duration `yaml:"reminder_interval"`
	ReminderTick     time.Duration `yaml:"reminder_tick"`
	LogCapacity      int           `yaml:"log_capacity"`
	WebhookURL       string        `yaml:"webhook_url"`
	SubjectTemplate  string        `yaml:"subject_template"`
	BodyTemplate     string        `yaml:"body_template"`
	SnapshotPath     string        `yaml:"snapshot_path"`
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
}

// LoadConfig loads configuration from yaml or env. TAGWATCH_CONFIG names a
// yaml file; individual env vars fill gaps the file leaves.
func LoadConfig() (Config, error) {
	cfg := Config{
		HistoryCapacity:  getenvIntDefault("TAGWATCH_HISTORY_CAPACITY", 10),
		ReminderInterval: getenvDurationDefault("TAGWATCH_REMINDER_INTERVAL", time.Hour),
		ReminderTick:     getenvDurationDefault("TAGWATCH_REMINDER_TICK", time.Minute),
		LogCapacity:      getenvIntDefault("TAGWATCH_LOG_CAPACITY", defaultLogCapacity),
		WebhookURL:       os.Getenv("TAGWATCH_WEBHOOK_URL"),
		SnapshotPath:     getenvDefault("TAGWATCH_SNAPSHOT_PATH", filepath.FromSlash("var/registry.backup")),
		AutosaveInterval: getenvDurationDefault("TAGWATCH_AUTOSAVE_INTERVAL", time.Minute),
	}

	if path := os.Getenv("TAGWATCH_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.HistoryCapacity <= 0 {
		return cfg, errors.New("notifications: history capacity must be positive")
	}
	if cfg.ReminderInterval <= 0 {
		return cfg, errors.New("notifications: reminder interval must be positive")
	}
	if cfg.ReminderTick <= 0 {
		cfg.ReminderTick = time.Minute
	}
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = defaultLogCapacity
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
