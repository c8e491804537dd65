// Package ops serves the operational HTTP surface: health, readiness,
// prometheus metrics, task admin and optionally pprof.
package ops

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"cadence/internal/config"
	logx "cadence/pkg/logx"
)

// Config controls the ops HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ErrInsecureBind is returned when a non-loopback address has neither a
// token nor allow_insecure.
var ErrInsecureBind = errors.New("ops: non-loopback addr requires token or allow_insecure")

// FromConfig converts the config section. Timeouts were checked by
// config.Validate; unparsable values fall back to defaults.
func FromConfig(c config.OpsConfig) Config {
	rt, _ := config.ParseDurationOrDefault("ops.read_timeout", c.ReadTimeout, 10*time.Second)
	wt, _ := config.ParseDurationField("ops.write_timeout", c.WriteTimeout)
	it, _ := config.ParseDurationOrDefault("ops.idle_timeout", c.IdleTimeout, 60*time.Second)
	return Config{
		Addr:          strings.TrimSpace(c.Addr),
		Token:         strings.TrimSpace(c.Token),
		AllowInsecure: c.AllowInsecure,
		Pprof:         c.Pprof,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}
}

type Server struct {
	cfg     Config
	log     logx.Logger
	handler http.Handler

	// ready receives the bound address once listening (tests).
	ready chan string
}

func NewServer(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.Component("ops"))
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultOpsAddr
	}
	return &Server{
		cfg:     cfg,
		log:     log,
		handler: NewRouter(deps, cfg.Token, cfg.Pprof, log),
		ready:   make(chan string, 1),
	}
}

func (s *Server) Handler() http.Handler { return s.handler }

// checkBind enforces the loopback rule.
func checkBind(cfg Config) (insecure bool, err error) {
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return false, fmt.Errorf("ops: invalid addr %q: %w", cfg.Addr, err)
	}
	if config.IsLoopbackHost(host) || cfg.Token != "" {
		return false, nil
	}
	if !cfg.AllowInsecure {
		return false, ErrInsecureBind
	}
	return true, nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	insecure, err := checkBind(s.cfg)
	if err != nil {
		s.log.Error("ops server refused to start", logx.String("addr", s.cfg.Addr), logx.Err(err))
		return err
	}
	if insecure {
		s.log.Warn("ops server running without token on non-loopback addr (insecure)", logx.String("addr", s.cfg.Addr))
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("ops: listen %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	addr := ln.Addr().String()
	select {
	case s.ready <- addr:
	default:
	}
	s.log.Info("ops server started",
		logx.String("addr", addr),
		logx.Bool("token_set", s.cfg.Token != ""),
		logx.Bool("pprof", s.cfg.Pprof),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return err
	}
	s.log.Info("ops server stopped")
	return nil
}

// bearerAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
// An empty token disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		if len(tok) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				const p = "Bearer "
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) {
					got = strings.TrimSpace(strings.TrimPrefix(ah, p))
				}
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), tok) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
