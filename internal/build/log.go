package build

import (
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// LogConfig configures the log manager.
type LogConfig struct {
	// Level is the level of the file log and of every subsystem, e.g.
	// "debug". Empty selects info.
	Level string

	// Console receives console logging. Nil disables it.
	Console io.Writer

	// ConsoleLevel is the console's own level. Empty selects warn, so
	// command output is not buried under routine logging.
	ConsoleLevel string

	// Rotator configures the log file. Nil disables file logging.
	Rotator *LogRotatorConfig
}

// subLogger is one subsystem's logger with its console and file handlers.
type subLogger struct {
	logger  btclogv2.Logger
	set     *HandlerSet
	console btclogv2.Handler
}

// LogManager owns the log destinations and hands out subsystem loggers.
type LogManager struct {
	console btclogv2.Handler
	file    btclogv2.Handler
	writer  *RotatingLogWriter

	mu           sync.Mutex
	level        btclog.Level
	consoleLevel btclog.Level
	subs         map[string]*subLogger
}

// NewLogManager opens the configured destinations.
func NewLogManager(cfg LogConfig) (*LogManager, error) {
	m := &LogManager{
		subs: make(map[string]*subLogger),
	}

	level, err := parseLevel(cfg.Level, btclog.LevelInfo)
	if err != nil {
		return nil, err
	}
	consoleLevel, err := parseLevel(cfg.ConsoleLevel, btclog.LevelWarn)
	if err != nil {
		return nil, err
	}
	m.level, m.consoleLevel = level, consoleLevel

	if cfg.Console != nil {
		m.console = btclogv2.NewDefaultHandler(cfg.Console)
	}
	if cfg.Rotator != nil {
		m.writer, err = NewRotatingLogWriter(cfg.Rotator)
		if err != nil {
			return nil, err
		}
		m.file = btclogv2.NewDefaultHandler(m.writer)
	}

	return m, nil
}

// SubLogger returns the logger for a subsystem tag. Asking twice for the
// same tag returns the same logger.
func (m *LogManager) SubLogger(tag string) btclogv2.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subs[tag]; ok {
		return sub.logger
	}

	var (
		handlers []btclogv2.Handler
		console  btclogv2.Handler
	)
	if m.console != nil {
		console = m.console.SubSystem(tag)
		handlers = append(handlers, console)
	}
	if m.file != nil {
		handlers = append(handlers, m.file.SubSystem(tag))
	}
	if len(handlers) == 0 {
		return btclogv2.Disabled
	}

	sub := &subLogger{
		set:     NewHandlerSet(handlers...),
		console: console,
	}
	sub.logger = btclogv2.NewSLogger(sub.set)
	m.applyLevel(sub)
	m.subs[tag] = sub

	return sub.logger
}

// SetLevel changes the level of every subsystem.
func (m *LogManager) SetLevel(level string) error {
	lvl, err := parseLevel(level, btclog.LevelInfo)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.level = lvl
	for _, sub := range m.subs {
		m.applyLevel(sub)
	}

	return nil
}

// applyLevel sets the subsystem to the file level, then raises its console
// handler to the console level when that is stricter.
func (m *LogManager) applyLevel(sub *subLogger) {
	sub.set.SetLevel(m.level)

	if sub.console != nil && m.consoleLevel > m.level {
		sub.console.SetLevel(m.consoleLevel)
	}
}

// Close flushes the log file.
func (m *LogManager) Close() error {
	if m.writer == nil {
		return nil
	}

	return m.writer.Close()
}

func parseLevel(s string, def btclog.Level) (btclog.Level, error) {
	if s == "" {
		return def, nil
	}

	level, ok := btclog.LevelFromString(s)
	if !ok {
		return 0, fmt.Errorf("unknown log level %q", s)
	}

	return level, nil
}
