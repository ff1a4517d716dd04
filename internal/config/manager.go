package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "kpibot/pkg/logx"
)

const (
	// debounceQuiet is how long the file must stay untouched before a change
	// is acted on; editors write in bursts and often through temp files.
	debounceQuiet = 250 * time.Millisecond

	watchRetryMin   = 250 * time.Millisecond
	watchRetryMax   = 5 * time.Second
	validateTimeout = 5 * time.Second
)

// Manager owns the config file: it parses and validates snapshots, hands out
// the current one, and pushes accepted changes to subscribers while Watch
// runs.
type Manager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64 // fingerprint of the committed snapshot

	// subsMu also orders publish against Unsubscribe's close.
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs the check a candidate snapshot must pass before
// Watch commits and publishes it.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and decodes the file without touching the committed snapshot.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return parseBytes(m.path, b)
}

// Load parses the file and makes the result the current snapshot.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

// Get returns the current snapshot; nil before the first successful Load.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

// Subscribe registers a buffered channel that receives each accepted
// snapshot. Pair with Unsubscribe. A full buffer loses its oldest entry,
// never the newest.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored, so
// calling it twice is harmless.
func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s != ch {
			continue
		}
		m.subs[i] = m.subs[len(m.subs)-1]
		m.subs[len(m.subs)-1] = nil
		m.subs = m.subs[:len(m.subs)-1]
		close(ch)
		return
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		select {
		case ch <- cfg:
			continue
		default:
		}
		// Full buffer: evict the oldest pending snapshot so the newest wins.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped, subscriber not draining",
				logx.Int("buffered", len(ch)))
		}
	}
}

// Watch blocks until ctx ends, re-parsing the file after each change and
// publishing snapshots that pass validation. Parse failures and rejected
// candidates leave the current snapshot in place. The watcher itself is
// recreated with backoff when fsnotify breaks underneath it.
func (m *Manager) Watch(ctx context.Context) error {
	retry := watchRetryMin
	for ctx.Err() == nil {
		started := time.Now()
		err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			break
		}
		// A watcher that held up for a while earns a fresh retry window.
		if time.Since(started) >= 30*time.Second {
			retry = watchRetryMin
		}
		wait := retry + time.Duration(rand.Int63n(int64(retry/2)+1))
		m.log.Warn("config watcher down, recreating",
			logx.Err(err), logx.Duration("in", wait))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
		if retry *= 2; retry > watchRetryMax {
			retry = watchRetryMax
		}
	}
	return nil
}

// watchOnce runs a single watcher lifetime, from fsnotify setup until the
// watcher breaks or ctx ends. Only a broken watcher returns an error.
func (m *Manager) watchOnce(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	name := filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	// Watch the directory, not the file: rename-over-save replaces the inode
	// and a file watch would silently go stale.
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started",
		logx.String("dir", dir), logx.String("file", name))

	quiet := time.NewTimer(time.Hour)
	quiet.Stop() // armed by the first relevant event
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-quiet.C:
			m.reload(ctx)

		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			// Match by basename; editors touch the file through temp paths
			// and the event name may be absolute or relative.
			if strings.EqualFold(filepath.Base(ev.Name), name) {
				quiet.Reset(debounceQuiet)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			switch {
			case strings.Contains(msg, "overflow"):
				// The change we care about may be among the dropped events.
				m.log.Warn("config watch overflow, forcing reload", logx.Err(err))
				quiet.Reset(debounceQuiet)
			case strings.Contains(msg, "closed"):
				return err
			default:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// reload re-parses the file and publishes the result if the content is new
// and the validator accepts it.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload parse failed",
			logx.String("path", m.path), logx.Err(err))
		return
	}

	sum := hashConfig(cfg)
	m.mu.RLock()
	seen := sum != 0 && sum == m.lastHash
	m.mu.RUnlock()
	if seen {
		m.log.Debug("config unchanged, not publishing", logx.String("path", m.path))
		return
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config change rejected, keeping current snapshot",
				logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	m.commit(cfg)
	m.publish(cfg)
	m.log.Debug("config change published", logx.String("path", m.path))
}
