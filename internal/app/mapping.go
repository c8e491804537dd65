package app

import (
	"fmt"
	"strings"
	"time"

	"cadence/internal/config"
	"cadence/internal/jobs"
	"cadence/internal/storage"
	logx "cadence/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    l.Alerts.Enabled,
			MinLevel:   l.Alerts.MinLevel,
			RatePerSec: l.Alerts.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapRetention returns 0 (pruning disabled) when storage is off.
func mapRetention(cfg *config.Config) time.Duration {
	if cfg == nil || cfg.Storage == nil {
		return 0
	}
	d, err := config.ParseDurationOrDefault("storage.retention", cfg.Storage.Retention, config.DefaultRetention)
	if err != nil {
		return config.DefaultRetention
	}
	return d
}

func mapPeriod(cfg *config.Config) time.Duration {
	d, _ := config.ParseDurationField("scheduler.period", cfg.Scheduler.Period)
	// <= 0 falls back to scheduler.DefaultPeriod
	return d
}

// Validate is the load and reload gate: the generic checks plus builtin
// task names.
func Validate(cfg *config.Config) error { return validate(cfg) }

func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	for name := range cfg.Tasks {
		if _, ok := jobs.Lookup(name); !ok {
			return fmt.Errorf("tasks.%s: unknown task (builtins: %s)", name, strings.Join(jobs.Names(), ", "))
		}
	}
	return nil
}
