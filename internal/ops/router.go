package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cadence/internal/scheduler"
	"cadence/internal/storage"
	logx "cadence/pkg/logx"
)

// TaskAdmin is the scheduler surface the ops server drives.
type TaskAdmin interface {
	Snapshot() scheduler.Snapshot
	Get(name string) (scheduler.TaskInfo, bool)
	Pause(name string) error
	Resume(name string, startImmediately bool) error
	Remove(name string)
	Running() bool
}

var _ TaskAdmin = (*scheduler.Scheduler)(nil)

// Deps are the handlers' collaborators. Store and Metrics may be nil.
type Deps struct {
	Tasks   TaskAdmin
	Store   storage.Store
	Metrics http.Handler
}

type handlers struct {
	deps Deps
	log  logx.Logger
}

// NewRouter builds the ops HTTP handler. A non-empty token protects every
// route except /healthz.
func NewRouter(deps Deps, token string, pprof bool, log logx.Logger) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handlers{deps: deps, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	r.Get("/healthz", h.healthz)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(token))

		r.Get("/readyz", h.readyz)
		if deps.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", deps.Metrics)
		}

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.listTasks)
			r.Get("/{name}", h.getTask)
			r.Delete("/{name}", h.removeTask)
			r.Get("/{name}/runs", h.taskRuns)
			r.Post("/{name}/pause", h.pauseTask)
			r.Post("/{name}/resume", h.resumeTask)
		})

		if pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

func (h *handlers) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug("ops request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

type readiness struct {
	Ready   bool   `json:"ready"`
	Runner  bool   `json:"runner"`
	Storage string `json:"storage"`
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	rd := readiness{Runner: h.deps.Tasks.Running(), Storage: "disabled"}
	if h.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.deps.Store.Ping(ctx)
		cancel()
		if err != nil {
			rd.Storage = err.Error()
		} else {
			rd.Storage = "ok"
		}
	}
	rd.Ready = rd.Runner && (rd.Storage == "ok" || rd.Storage == "disabled")

	status := http.StatusOK
	if !rd.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rd)
}

func (h *handlers) listTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Tasks.Snapshot())
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	info, ok := h.deps.Tasks.Get(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, scheduler.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handlers) removeTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.deps.Tasks.Remove(name)
	h.log.Info("task removed via ops", logx.Task(name))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) pauseTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.deps.Tasks.Pause(name); err != nil {
		writeAdminError(w, err)
		return
	}
	h.taskState(w, name)
}

func (h *handlers) resumeTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	now := false
	if raw := r.URL.Query().Get("now"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("now: expected a boolean"))
			return
		}
		now = v
	}
	if err := h.deps.Tasks.Resume(name, now); err != nil {
		writeAdminError(w, err)
		return
	}
	h.taskState(w, name)
}

func (h *handlers) taskState(w http.ResponseWriter, name string) {
	info, ok := h.deps.Tasks.Get(name)
	if !ok {
		// removed concurrently
		writeError(w, http.StatusNotFound, scheduler.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handlers) taskRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, storage.ErrDisabled)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit: expected a non-negative integer"))
			return
		}
		limit = v
	}
	runs, err := h.deps.Store.RecentRuns(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		h.log.Warn("recent runs query failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeAdminError(w http.ResponseWriter, err error) {
	if errors.Is(err, scheduler.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
