// Package pprof exposes Go's runtime profiles over an optional HTTP
// endpoint so a stuck render or a leaking goroutine can be inspected on a
// live daemon.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	rtsup "kpibot/internal/runtime/supervisor"
	logx "kpibot/pkg/logx"
)

// Config controls the profiling endpoint. Binding beyond loopback requires
// a token or an explicit AllowInsecure, otherwise the server refuses to
// start.
type Config struct {
	Enabled       bool
	Addr          string // default 127.0.0.1:6060
	Prefix        string // default /debug/pprof/
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Runtime sampling knobs; 0 keeps the Go defaults.
	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

// Service runs at most one listener at a time. Start, Stop and Reconfigure
// are called one at a time (startup, the reload loop, shutdown); the mutex
// covers the handles the serve loop shares with Addr.
type Service struct {
	log logx.Logger

	mu  sync.Mutex
	cfg Config
	sup *rtsup.Supervisor // non-nil while the serve loop is up
	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr reports the bound listen address, empty while the server is down.
// The configured addr may use port 0, so callers read the real one here.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start brings the serve loop up if the config wants it. Binding happens on
// the loop goroutine, so a busy port shows up as a logged retry rather than
// a startup error; Addr turns non-empty once the listener is ready.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Profiling is optional; its failures never take the daemon down.
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("pprof.serve", s.serve,
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

// Stop tears the server down and waits for the loop to exit, giving up when
// ctx runs out. Safe to call when nothing is running.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("pprof stopped")
}

// Reconfigure applies cfg, starting, stopping or rebinding the server as
// needed. Called from the config hot-reload path.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	// Sampling rates apply even with the server disabled.
	applySamplingRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	up := s.sup != nil
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if up {
			s.Stop(ctx)
		}
	case !up:
		s.Start(ctx)
	case rebindNeeded(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// rebindNeeded reports whether a change can only take effect through a new
// listener. Everything bind- or auth-related qualifies.
func rebindNeeded(a, b Config) bool {
	return a.Addr != b.Addr ||
		canonicalPrefix(a.Prefix) != canonicalPrefix(b.Prefix) ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

func applySamplingRates(cfg Config) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}

// serve binds and serves until the context ends. A nil or context.Canceled
// return ends the restart loop; any other error schedules another attempt.
func (s *Service) serve(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if !cfg.Enabled {
		return context.Canceled
	}

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if !loopbackHost(addr) && cfg.Token == "" {
		if !cfg.AllowInsecure {
			s.log.Error("pprof bind refused: non-loopback addr needs a token or allow_insecure",
				logx.String("addr", addr))
			// The refusal holds until a reload rewrites the section, so end
			// the loop rather than retry.
			return context.Canceled
		}
		s.log.Warn("pprof serving without auth outside loopback", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		// The restart log carries this error; no need to log it here too.
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:      handler(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()

	// Context cancellation is the only stop signal; serveDone keeps the
	// watcher from outliving a crashed Serve.
	serveDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(sctx)
			cancel()
			_ = srv.Close()
		case <-serveDone:
		}
	}()

	prefix := canonicalPrefix(cfg.Prefix)
	s.log.Info("pprof listening",
		logx.String("url", "http://"+ln.Addr().String()+prefix),
		logx.Bool("token_set", cfg.Token != ""))

	err = srv.Serve(ln)
	close(serveDone)

	s.mu.Lock()
	if s.srv == srv {
		s.ln, s.srv = nil, nil
	}
	s.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		return context.Canceled
	case errors.Is(err, http.ErrServerClosed):
		return errors.New("pprof server closed unexpectedly")
	default:
		return err
	}
}
