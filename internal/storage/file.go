package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "cadence/pkg/logx"
)

// fileStore is a database-free persistence backend.
//
// Files:
//   - <prefix>.runs.jsonl   (append-only JSON Lines, rewritten on prune)
//   - <prefix>.alerts.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runsPath   string
	runsFile   *os.File
	alertsFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"
	rf, err := openAppend(runsPath)
	if err != nil {
		return nil, err
	}
	af, err := openAppend(prefix + ".alerts.jsonl")
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	log.Info("storage opened", logx.String("path", runsPath))
	return &fileStore{
		log:        log,
		runsPath:   runsPath,
		runsFile:   rf,
		alertsFile: af,
	}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.runsFile != nil {
		err1 = s.runsFile.Close()
		s.runsFile = nil
	}
	if s.alertsFile != nil {
		err2 = s.alertsFile.Close()
		s.alertsFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return ErrClosed
	}
	_, err := os.Stat(s.runsPath)
	return err
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	ensureRunDefaults(&r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.runsFile).Encode(r)
}

func (s *fileStore) AppendAlert(ctx context.Context, a AlertRecord) error {
	_ = ctx
	ensureAlertDefaults(&a)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alertsFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.alertsFile).Encode(a)
}

func (s *fileStore) RecentRuns(ctx context.Context, task string, limit int) ([]RunRecord, error) {
	limit = normalizeLimit(limit)
	task = strings.TrimSpace(task)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return nil, ErrClosed
	}

	var out []RunRecord
	err := s.scanRunsLocked(ctx, func(r RunRecord) {
		if task == "" || r.Task == task {
			out = append(out, r)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) CountRuns(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return 0, ErrClosed
	}
	var n int64
	err := s.scanRunsLocked(ctx, func(RunRecord) { n++ })
	return n, err
}

// PruneRuns rewrites the runs file without the expired records.
func (s *fileStore) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return 0, ErrClosed
	}

	var (
		keep    []RunRecord
		removed int64
	)
	err := s.scanRunsLocked(ctx, func(r RunRecord) {
		if r.FinishedAt.Before(cutoff) {
			removed++
			return
		}
		keep = append(keep, r)
	})
	if err != nil || removed == 0 {
		return 0, err
	}

	tmp := s.runsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range keep {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	_ = s.runsFile.Close()
	s.runsFile = nil
	if err := os.Rename(tmp, s.runsPath); err != nil {
		// Keep appending to the original file.
		if rf, oerr := openAppend(s.runsPath); oerr == nil {
			s.runsFile = rf
		}
		return 0, err
	}
	rf, err := openAppend(s.runsPath)
	if err != nil {
		return removed, err
	}
	s.runsFile = rf
	return removed, nil
}

func (s *fileStore) scanRunsLocked(ctx context.Context, fn func(RunRecord)) error {
	f, err := os.Open(s.runsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			s.log.Debug("skipping corrupt run record", logx.Err(err))
			continue
		}
		fn(r)
	}
	return sc.Err()
}
