package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "cadence/pkg/logx"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{}
	for _, driver := range []string{"file", "sqlite"} {
		dir := t.TempDir()
		st, err := Open(context.Background(), Config{Driver: driver, Path: filepath.Join(dir, "cadence.db")}, logx.Nop())
		require.NoError(t, err, driver)
		require.NotNil(t, st, driver)
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	st, err := Open(context.Background(), Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = Open(context.Background(), Config{}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(context.Background(), Config{Driver: "postgres", Path: "x"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(context.Background(), Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestRunHistoryRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for driver, st := range openTestStores(t) {
		t.Run(driver, func(t *testing.T) {
			require.NoError(t, st.Ping(ctx))

			for i := 0; i < 5; i++ {
				task, errText := "a", ""
				if i%2 == 1 {
					task = "b"
				}
				if i == 4 {
					errText = "boom"
				}
				require.NoError(t, st.AppendRun(ctx, RunRecord{
					Task:       task,
					StartedAt:  base.Add(time.Duration(i) * time.Minute),
					FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
					OK:         i != 4,
					Result:     "r",
					Error:      errText,
				}))
			}

			n, err := st.CountRuns(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(5), n)

			all, err := st.RecentRuns(ctx, "", 3)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.True(t, all[0].FinishedAt.Equal(base.Add(4*time.Minute+time.Second)))
			assert.False(t, all[0].OK)
			assert.Equal(t, "boom", all[0].Error)
			assert.NotEmpty(t, all[0].ID)
			assert.Equal(t, time.Second, all[0].Took())

			bs, err := st.RecentRuns(ctx, "b", 0)
			require.NoError(t, err)
			require.Len(t, bs, 2)
			for _, r := range bs {
				assert.Equal(t, "b", r.Task)
			}

			removed, err := st.PruneRuns(ctx, base.Add(2*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, int64(2), removed)

			n, err = st.CountRuns(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			// Appends keep working after a prune.
			require.NoError(t, st.AppendRun(ctx, RunRecord{Task: "c", StartedAt: base.Add(time.Hour), OK: true}))
			cs, err := st.RecentRuns(ctx, "c", 10)
			require.NoError(t, err)
			require.Len(t, cs, 1)

			require.NoError(t, st.AppendAlert(ctx, AlertRecord{Level: "critical", Message: "x failed", Fields: `{"task":"x"}`}))
		})
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	st, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h.jsonl")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	require.ErrorIs(t, st.AppendRun(context.Background(), RunRecord{Task: "x"}), ErrClosed)
	require.ErrorIs(t, st.Ping(context.Background()), ErrClosed)
}

func TestSQLiteReopenKeepsHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "cadence.db")

	st, err := Open(ctx, Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.AppendRun(ctx, RunRecord{Task: "x", OK: true}))
	require.NoError(t, st.Close())

	st, err = Open(ctx, Config{Driver: "sqlite3", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	n, err := st.CountRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
