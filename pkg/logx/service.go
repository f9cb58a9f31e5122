package logx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultLogFile = "./reminderd.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alert   AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// AlertConfig forwards records at or above MinLevel (default warn) to an
// AlertSender, at most RatePerSec per second (default 1).
type AlertConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// Service owns the sinks behind every Logger it hands out and can swap them
// at runtime.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu    sync.Mutex
	cfg   Config
	file  *os.File
	alert *alertSink
}

// New applies cfg and returns the service with its root logger. sender may
// be nil and set later with SetAlertSender.
func New(cfg Config, sender AlertSender) (*Service, Logger) {
	s := &Service{alert: newAlertSink(sender)}
	fallback := newRoot(consoleWriter(os.Stdout), parseLevel(cfg.Level, LevelInfo))
	s.root.Store(&fallback)
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) SetAlertSender(sender AlertSender) { s.alert.setSender(sender) }

// Apply rebuilds the sinks. A log file that cannot be opened is reported on
// the new logger and skipped.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.alert.configure(cfg.Alert)

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	var fileErr error
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fileErr = fmt.Errorf("open log file %s: %w", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Alert.Enabled {
		writers = append(writers, s.alert)
	}
	if len(writers) == 0 || (len(writers) == 1 && cfg.Alert.Enabled) {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	zl := newRoot(zerolog.MultiLevelWriter(writers...), parseLevel(cfg.Level, LevelInfo))
	s.root.Store(&zl)
	s.mu.Unlock()

	if fileErr != nil {
		s.Logger().Error("file logging disabled", Err(fileErr))
	}
}

// Close stops the alert worker and closes the log file.
func (s *Service) Close() error {
	s.alert.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
