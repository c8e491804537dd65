package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig         `json:"logging"`
	Scheduler SchedulerConfig       `json:"scheduler"`
	Storage   *StorageConfig        `json:"storage,omitempty"`
	Ops       OpsConfig             `json:"ops,omitempty"`
	Tasks     map[string]TaskConfig `json:"tasks,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards high-severity log events to the store.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"` // default: "error"
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig controls the runner.
//
// Enabled is a pointer so we can distinguish "omitted" (default true) from an
// explicit false.
type SchedulerConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Period  string `json:"period,omitempty"` // default: "1s"
}

// IsEnabled reports whether the runner should be started.
func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// StorageConfig controls the optional persistence layer.
// Nil means disabled.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/cadence.db", "retention": "168h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Retention   string `json:"retention,omitempty"`    // default: "168h"
}

// OpsConfig controls the operational HTTP server (health, metrics, task
// admin, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:7070").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:7070"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /debug/pprof/profile works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// TaskConfig configures a builtin task by name.
//
// Active is a pointer so an omitted value defaults to true.
type TaskConfig struct {
	Enabled          bool   `json:"enabled"`
	Active           *bool  `json:"active,omitempty"`
	Single           bool   `json:"single,omitempty"`
	Interval         string `json:"interval"`
	StartImmediately bool   `json:"start_immediately,omitempty"`
}

func (t TaskConfig) IsActive() bool {
	return t.Active == nil || *t.Active
}
