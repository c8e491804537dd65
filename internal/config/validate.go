package config

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"cadence/internal/scheduler"
	logx "cadence/pkg/logx"
)

const (
	DefaultOpsAddr   = "127.0.0.1:7070"
	DefaultRetention = 7 * 24 * time.Hour
)

// Validate checks cfg for errors a reload must not commit. All problems are
// reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Logging.Level) != "" {
		if _, err := logx.ParseLevel(cfg.Logging.Level); err != nil {
			add(fmt.Errorf("logging.level: %w", err))
		}
	}
	if m := cfg.Logging.Alerts.MinLevel; strings.TrimSpace(m) != "" {
		if _, err := logx.ParseLevel(m); err != nil {
			add(fmt.Errorf("logging.alerts.min_level: %w", err))
		}
	}
	if cfg.Logging.Alerts.RatePerSec < 0 {
		add(errors.New("logging.alerts.rate_per_sec: must be >= 0"))
	}

	_, err := ParseDurationField("scheduler.period", cfg.Scheduler.Period)
	add(err)

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add(errors.New("storage.path: required"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		_, err = ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		add(err)
		_, err = ParseDurationField("storage.retention", st.Retention)
		add(err)
	}

	if cfg.Ops.Enabled {
		add(validateOps(cfg.Ops))
	}

	names := make([]string, 0, len(cfg.Tasks))
	for name := range cfg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := cfg.Tasks[name]
		if strings.TrimSpace(name) == "" {
			add(errors.New("tasks: empty task name"))
			continue
		}
		if !t.Enabled {
			continue
		}
		if _, err := scheduler.ParseInterval(t.Interval); err != nil {
			add(fmt.Errorf("tasks.%s.interval: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func validateOps(o OpsConfig) error {
	var errs []error
	for field, raw := range map[string]string{
		"ops.read_timeout":  o.ReadTimeout,
		"ops.write_timeout": o.WriteTimeout,
		"ops.idle_timeout":  o.IdleTimeout,
	} {
		if _, err := ParseDurationField(field, raw); err != nil {
			errs = append(errs, err)
		}
	}

	addr := strings.TrimSpace(o.Addr)
	if addr == "" {
		addr = DefaultOpsAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		errs = append(errs, fmt.Errorf("ops.addr: %w", err))
	} else if !IsLoopbackHost(host) && strings.TrimSpace(o.Token) == "" && !o.AllowInsecure {
		errs = append(errs, fmt.Errorf("ops.addr: %q is not loopback; set ops.token or ops.allow_insecure", addr))
	}
	return errors.Join(errs...)
}

// IsLoopbackHost reports whether host only accepts local connections. An
// empty host binds every interface and is not loopback.
func IsLoopbackHost(host string) bool {
	h := strings.TrimSpace(host)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(h, "[]"))
	return ip != nil && ip.IsLoopback()
}
