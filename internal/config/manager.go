package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	logx "reminderd/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	settleDelay     = 250 * time.Millisecond
	rewatchMin      = 250 * time.Millisecond
	rewatchMax      = 5 * time.Second
	validateTimeout = 5 * time.Second
)

// Validator gets the last word on a reloaded config before it is committed.
type Validator func(ctx context.Context, cfg *Config) error

// Manager owns the current config and republishes the file when it changes
// on disk.
type Manager struct {
	path string
	log  logx.Logger

	mu        sync.RWMutex
	cfg       *Config
	sum       [sha256.Size]byte
	validator Validator

	subsMu sync.Mutex
	subs   []chan *Config
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop()}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log.With(logx.String("comp", "config"))
}

func (m *Manager) SetValidator(fn Validator) {
	m.mu.Lock()
	m.validator = fn
	m.mu.Unlock()
}

func (m *Manager) read() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Decode(m.path, b)
}

// Load reads the file, validates it and makes it current. Subscribers are
// not notified.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.read()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cfg, m.sum = cfg, fingerprint(cfg)
	m.mu.Unlock()
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel holding at most the newest unread config.
func (m *Manager) Subscribe() <-chan *Config {
	ch := make(chan *Config, 1)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe closes ch and stops delivering to it.
func (m *Manager) Unsubscribe(ch <-chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	i := slices.IndexFunc(m.subs, func(s chan *Config) bool { return s == ch })
	if i < 0 {
		return
	}
	close(m.subs[i])
	m.subs = slices.Delete(m.subs, i, i+1)
}

func (m *Manager) broadcast(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		// Drain an unread older version so the send below cannot block.
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
}

// Reload re-reads the file. It returns true when a changed, valid config was
// committed and broadcast; an unchanged file is not an error.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	cfg, err := m.read()
	if err != nil {
		return false, err
	}
	sum := fingerprint(cfg)

	m.mu.RLock()
	same := m.cfg != nil && sum == m.sum
	validator := m.validator
	m.mu.RUnlock()
	if same {
		return false, nil
	}

	if err := Validate(cfg); err != nil {
		return false, err
	}
	if validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		defer cancel()
		if err := validator(vctx, cfg); err != nil {
			return false, err
		}
	}

	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
	m.broadcast(cfg)
	return true, nil
}

// Watch reloads the file after it settles from a burst of writes, until ctx
// is done. The directory is watched so editors that replace the file are
// followed. A failed watcher is rebuilt after a jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	wait := rewatchMin
	for {
		err := m.watch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		d := wait + rand.N(wait/2+1)
		wait = min(2*wait, rewatchMax)
		m.log.Warn("config watcher failed", logx.String("path", m.path), logx.Duration("retry_in", d), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d):
		}
	}
}

func (m *Manager) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir, name := filepath.Split(m.path)
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("fsnotify events closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) && !ev.Has(fsnotify.Chmod) {
				settle.Reset(settleDelay)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("fsnotify errors closed")
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch error", logx.Err(err))
				continue
			}
			settle.Reset(settleDelay)

		case <-settle.C:
			switch ok, err := m.Reload(ctx); {
			case err != nil:
				m.log.Warn("config change rejected", logx.String("path", m.path), logx.Err(err))
			case ok:
				m.log.Info("config file changed", logx.String("path", m.path))
			}
		}
	}
}
