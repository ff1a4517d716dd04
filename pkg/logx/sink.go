package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Notifier delivers one formatted alert line to the operator chat. The
// Telegram gateway implements it; logx never sees chat identifiers.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Service owns the root zerolog logger and its sinks. Apply swaps levels
// and outputs in place; Loggers minted from the Service follow along.
type Service struct {
	root atomic.Value // zerolog.Logger

	mu       sync.Mutex
	file     *os.File
	notifier Notifier
	limiter  *rate.Limiter
	minLevel zerolog.Level

	alerts     chan string
	workerOnce sync.Once
	workerStop context.CancelFunc
	workerDone sync.WaitGroup
}

// New builds the service and applies cfg immediately. notifier may be nil;
// chat alerts are dropped until SetNotifier installs one.
func New(cfg Config, notifier Notifier) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{
		notifier: notifier,
		alerts:   make(chan string, 256),
	}
	s.root.Store(zerolog.Nop())
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl, ok := s.root.Load().(zerolog.Logger); ok {
		return zl
	}
	return zerolog.Nop()
}

// SetNotifier installs or replaces the chat alert target.
func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// Apply reconfigures level and sinks. Writes racing the swap land on the
// previous root; nothing is lost.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.minLevel = parseLevel(cfg.Chat.MinLevel, zerolog.WarnLevel)
	rps := cfg.Chat.RatePerSec
	if rps < 1 {
		rps = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleSink())
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./kpibot.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if cfg.Chat.Enabled {
		s.startWorkerLocked()
		sinks = append(sinks, alertSink{svc: s})
	}
	if len(sinks) == 0 {
		// A fully silent process helps nobody.
		sinks = append(sinks, consoleSink())
	}

	root := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(root)
}

// Close stops the alert worker and releases the log file. The Service must
// not be used afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	stop := s.workerStop
	s.workerStop = nil
	f := s.file
	s.file = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		s.workerDone.Wait()
	}
	if f != nil {
		_ = f.Close()
	}
	return nil
}

func consoleSink() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
}

func (s *Service) startWorkerLocked() {
	s.workerOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.workerStop = cancel
		s.workerDone.Add(1)
		go func() {
			defer s.workerDone.Done()
			s.deliverAlerts(ctx)
		}()
	})
}

// deliverAlerts drains the queue in its own goroutine so slow chat delivery
// can never stall a zerolog write.
func (s *Service) deliverAlerts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-s.alerts:
			s.mu.Lock()
			n := s.notifier
			s.mu.Unlock()
			if n != nil {
				_ = n.Notify(ctx, text)
			}
		}
	}
}

// alertSink is the zerolog writer feeding the chat queue. Filtering happens
// here, before formatting, so suppressed lines cost nothing.
type alertSink struct{ svc *Service }

func (w alertSink) Write(p []byte) (int, error) {
	// zerolog calls WriteLevel; this path only exists to satisfy io.Writer.
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w alertSink) WriteLevel(lvl zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	send := s.notifier != nil && s.limiter != nil && lvl >= s.minLevel && s.limiter.Allow()
	s.mu.Unlock()
	if !send {
		return len(p), nil
	}

	if text := alertText(p); text != "" {
		select {
		case s.alerts <- text:
		default:
			// Queue full: losing an alert beats blocking the logger.
		}
	}
	return len(p), nil
}

const alertMaxRunes = 3500

// alertText flattens one zerolog JSON line into a readable chat message:
// "[LEVEL] message" plus a "- key=value" line per remaining field.
func alertText(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return clip(strings.TrimSpace(string(p)), alertMaxRunes)
	}

	level, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if level != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(level))
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), 600))
	}
	return clip(b.String(), alertMaxRunes)
}

func clip(s string, max int) string {
	rs := []rune(s)
	if max <= 0 || len(rs) <= max {
		return s
	}
	return string(rs[:max]) + "…"
}
