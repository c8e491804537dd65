package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "cadence/pkg/logx"
)

// Store is the persistence API used by the app, jobs and the ops server.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit records, newest first. An empty task
	// matches every task.
	RecentRuns(ctx context.Context, task string, limit int) ([]RunRecord, error)
	// PruneRuns deletes runs that finished before cutoff and returns how many
	// were removed.
	PruneRuns(ctx context.Context, cutoff time.Time) (int64, error)
	CountRuns(ctx context.Context) (int64, error)

	AppendAlert(ctx context.Context, a AlertRecord) error

	Ping(ctx context.Context) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

const DefaultRecentLimit = 20

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
