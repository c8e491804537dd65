package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestCriticalDoesNotExit(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "info")

	log.Critical("job failed", Err(errors.New("boom")), Task("x"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "critical", lines[0]["level"])
	assert.Equal(t, "job failed", lines[0]["message"])
	assert.Equal(t, "boom", lines[0]["err"])
	assert.Equal(t, "x", lines[0]["task"])
}

func TestWithAddsFixedFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "info").With(Component("scheduler"))

	log.Debug("hidden")
	log.With(Task("nightly")).Info("tick")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "scheduler", lines[0]["comp"])
	assert.Equal(t, "nightly", lines[0]["task"])
	assert.Equal(t, "tick", lines[0]["message"])
	assert.Contains(t, lines[0]["caller"], "logger_test.go:")
}

func TestZeroAndNopLoggers(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Info("dropped")

	nop := Nop()
	assert.False(t, nop.IsZero())
	nop.Critical("dropped")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, lvl)

	lvl, err = ParseLevel(" CRITICAL ")
	require.NoError(t, err)
	assert.Equal(t, LevelCritical, lvl)

	_, err = ParseLevel("nonsense")
	require.ErrorContains(t, err, "nonsense")

	assert.Equal(t, LevelInfo, levelOr("", LevelInfo))
	assert.Equal(t, LevelError, levelOr("nonsense", LevelError))
}

type captureSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (c *captureSink) Alert(_ context.Context, a Alert) error {
	c.mu.Lock()
	c.alerts = append(c.alerts, a)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) snapshot() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

func TestServiceForwardsAlertsAboveMinLevel(t *testing.T) {
	sink := &captureSink{}
	svc, log := New(Config{
		Level:  "info",
		File:   FileConfig{Enabled: true, Path: t.TempDir() + "/cadence.log"},
		Alerts: AlertConfig{Enabled: true, MinLevel: "error", RatePerSec: 100},
	}, sink)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("routine")
	log.Critical("nightly failed", Task("nightly"))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := sink.snapshot()[0]
	assert.Equal(t, "critical", got.Level)
	assert.Equal(t, "nightly failed", got.Message)
	assert.Equal(t, "nightly", got.Fields["task"])
}

func TestDecodeAlertRejectsGarbage(t *testing.T) {
	_, ok := decodeAlert([]byte("not json"))
	assert.False(t, ok)
}
