// Package logger provides structured logging with context propagation for
// the price data pipeline. It builds on the standard library's slog package
// with configurable output formats, rotating file output, and
// component-scoped child loggers.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mfontaine/go-price-quality/internal/config"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// OperationKey is the context key for operation name
	OperationKey ContextKey = "operation"
	// SymbolKey is the context key for ticker symbol
	SymbolKey ContextKey = "symbol"
	// UniverseKey is the context key for universe name
	UniverseKey ContextKey = "universe"
	// RunIDKey is the context key for load run ID
	RunIDKey ContextKey = "run_id"
)

// Manager owns the application's base logger and hands out
// component-scoped child loggers.
type Manager struct {
	baseLogger *slog.Logger
	config     config.LoggingConfig
	writer     io.WriteCloser

	mu             sync.Mutex
	componentCache map[string]*slog.Logger
}

// NewManager creates a logger manager with the specified configuration.
func NewManager(cfg config.LoggingConfig) (*Manager, error) {
	writer, err := createWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create log writer: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.Level == "debug",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				if level, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToUpper(level.String()))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	return &Manager{
		baseLogger:     slog.New(handler),
		config:         cfg,
		writer:         writer,
		componentCache: make(map[string]*slog.Logger),
	}, nil
}

// createWriter creates the appropriate writer based on configuration
func createWriter(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "stderr":
		return nopWriteCloser{os.Stderr}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file path is required when output is 'file'")
		}
		dir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}, nil
	default:
		return nopWriteCloser{os.Stdout}, nil
	}
}

// nopWriteCloser wraps an io.Writer to provide a Close method
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// parseLevel converts string log level to slog.Level
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger returns the base logger instance.
func (m *Manager) Logger() *slog.Logger {
	return m.baseLogger
}

// Component returns a logger scoped to the named component. Loggers are
// cached per component.
func (m *Manager) Component(name string) *slog.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, exists := m.componentCache[name]; exists {
		return cached
	}
	child := m.baseLogger.With(slog.String("component", name))
	m.componentCache[name] = child
	return child
}

// WithContext creates a logger that includes recognized context values.
func (m *Manager) WithContext(ctx context.Context) *slog.Logger {
	attrs := extractContextAttributes(ctx)
	if len(attrs) == 0 {
		return m.baseLogger
	}
	return m.baseLogger.With(attrs...)
}

// extractContextAttributes extracts logging attributes from context
func extractContextAttributes(ctx context.Context) []interface{} {
	var attrs []interface{}

	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if operation, ok := ctx.Value(OperationKey).(string); ok && operation != "" {
		attrs = append(attrs, slog.String("operation", operation))
	}
	if symbol, ok := ctx.Value(SymbolKey).(string); ok && symbol != "" {
		attrs = append(attrs, slog.String("symbol", symbol))
	}
	if universe, ok := ctx.Value(UniverseKey).(string); ok && universe != "" {
		attrs = append(attrs, slog.String("universe", universe))
	}
	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		attrs = append(attrs, slog.String("run_id", runID))
	}

	return attrs
}

// SetAsDefault installs the base logger as the process default.
func (m *Manager) SetAsDefault() {
	slog.SetDefault(m.baseLogger)
}

// Close flushes and closes the underlying log writer.
func (m *Manager) Close() error {
	if m.writer == nil {
		return nil
	}
	return m.writer.Close()
}
