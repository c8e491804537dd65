package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cadence/internal/scheduler"
	"cadence/internal/storage"
	logx "cadence/pkg/logx"
)

const storeWriteTimeout = 2 * time.Second

// historyRecorder persists every outcome. Storage failures are logged and
// never reach the scheduler.
type historyRecorder struct {
	store storage.Store
	log   logx.Logger
}

func (h historyRecorder) OnOutcome(o scheduler.Outcome) {
	rec := storage.RunRecord{
		Task:       o.Task,
		Single:     o.Single,
		StartedAt:  o.Started,
		FinishedAt: o.Finished,
		OK:         o.OK(),
		Panicked:   o.Panicked,
	}
	if o.Result != nil {
		rec.Result = fmt.Sprint(o.Result)
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := h.store.AppendRun(ctx, rec); err != nil {
		h.log.Warn("run history write failed", logx.Task(o.Task), logx.Err(err))
	}
}

// alertSink stores alerts forwarded by the logging service.
type alertSink struct {
	store storage.Store
}

func (s alertSink) Alert(ctx context.Context, a logx.Alert) error {
	var fields string
	if len(a.Fields) > 0 {
		b, err := json.Marshal(a.Fields)
		if err != nil {
			return err
		}
		fields = string(b)
	}
	return s.store.AppendAlert(ctx, storage.AlertRecord{
		At:      a.Time,
		Level:   a.Level,
		Message: a.Message,
		Fields:  fields,
	})
}
