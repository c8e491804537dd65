package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	logx "cadence/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps its base FS, dialect and logger in package globals.
var gooseMu sync.Mutex

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	log.Info("storage opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(&gooseLogger{log: s.log})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, "migrations")
}

type gooseLogger struct {
	log logx.Logger
}

func (g *gooseLogger) Printf(format string, args ...any) {
	g.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Fatalf only logs; goose returns the error to the caller.
func (g *gooseLogger) Fatalf(format string, args ...any) {
	g.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	ensureRunDefaults(&r)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, task, single, started_at, finished_at, ok, panicked, result, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Task, boolInt(r.Single), r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(),
		boolInt(r.OK), boolInt(r.Panicked), nullStr(r.Result), nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, task string, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	limit = normalizeLimit(limit)

	const cols = `id, task, single, started_at, finished_at, ok, panicked, result, err`
	var (
		rows *sql.Rows
		err  error
	)
	if task = strings.TrimSpace(task); task != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+cols+` FROM runs WHERE task = ? ORDER BY finished_at DESC LIMIT ?`, task, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+cols+` FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RunRecord, 0, limit)
	for rows.Next() {
		var (
			r                  RunRecord
			single, ok, panick int
			started, finished  int64
			result, errText    sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Task, &single, &started, &finished, &ok, &panick, &result, &errText); err != nil {
			return nil, err
		}
		r.Single = single != 0
		r.OK = ok != 0
		r.Panicked = panick != 0
		r.StartedAt = time.Unix(0, started)
		r.FinishedAt = time.Unix(0, finished)
		r.Result = result.String
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE finished_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) CountRuns(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}

func (s *sqliteStore) AppendAlert(ctx context.Context, a AlertRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	ensureAlertDefaults(&a)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts(id, at, level, message, fields) VALUES(?,?,?,?,?)`,
		a.ID, a.At.UnixNano(), a.Level, a.Message, nullStr(a.Fields),
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
