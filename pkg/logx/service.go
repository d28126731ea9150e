package logx

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"signbot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// Service owns the active sinks and rebuilds them on Apply.
type Service struct {
	mu   sync.Mutex
	root atomic.Value // zerolog.Logger
	file *lumberjack.Logger

	tg *telegramSink
}

// New applies cfg immediately. sender may be nil when Telegram logging is off.
func New(cfg Config, sender transport.Sender) (*Service, Logger) {
	setGlobals()
	s := &Service{tg: newTelegramSink(sender)}
	s.root.Store(zerolog.New(consoleWriter()).Level(ParseLevel(cfg.Level, LevelInfo)).With().Timestamp().Logger())
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	zl, ok := s.root.Load().(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

// Apply swaps outputs and level. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter())
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./signbot.log"
		}
		s.file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    positiveOr(cfg.File.MaxSizeMB, 20),
			MaxBackups: positiveOr(cfg.File.MaxBackups, 5),
			MaxAge:     positiveOr(cfg.File.MaxAgeDays, 14),
			Compress:   cfg.File.Compress,
		}
		writers = append(writers, zerolog.SyncWriter(s.file))
	}
	if cfg.Telegram.Enabled && s.tg.configure(cfg.Telegram) {
		writers = append(writers, s.tg)
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter())
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(zl)
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	s.tg.stop()
	if f != nil {
		return f.Close()
	}
	return nil
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
