// Package logger provides structured logging for elabmate
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	once         sync.Once
)

// contextKey is the type for context keys
type contextKey string

const (
	// ExperimentIDKey is the context key for the eLabFTW experiment id
	ExperimentIDKey contextKey = "experiment_id"
	// AcquisitionIDKey is the context key for the Labmate acquisition id
	AcquisitionIDKey contextKey = "acquisition_id"
	// CommandKey is the context key for the CLI command name
	CommandKey contextKey = "command"
)

// Config represents logger configuration
type Config struct {
	Level       string
	Development bool
	Encoding    string // json or console
	OutputPaths []string
}

// Init initializes the global logger
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		globalLogger, err = newLogger(cfg)
	})
	return err
}

// newLogger creates a new zap logger
func newLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if cfg.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}

	// stdout belongs to command output, logs go to stderr by default
	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stderr"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if cfg.Development {
		logger = logger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return logger, nil
}

// Get returns the global logger
func Get() *zap.Logger {
	if globalLogger == nil {
		// Create a default logger if not initialized
		cfg := Config{
			Level:       "warn",
			Development: false,
			Encoding:    "json",
		}
		if err := Init(cfg); err != nil || globalLogger == nil {
			// Fallback to basic logger
			logger, _ := zap.NewProduction()
			globalLogger = logger
		}
	}
	return globalLogger
}

// FromContext decorates base with the ids carried by ctx
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	logger := base

	if id, ok := ctx.Value(ExperimentIDKey).(int); ok {
		logger = logger.With(zap.Int("experiment_id", id))
	}

	if acq, ok := ctx.Value(AcquisitionIDKey).(string); ok {
		logger = logger.With(zap.String("acquisition_id", acq))
	}

	if cmd, ok := ctx.Value(CommandKey).(string); ok {
		logger = logger.With(zap.String("command", cmd))
	}

	return logger
}

// ContextWithAcquisition stores an acquisition id in ctx
func ContextWithAcquisition(ctx context.Context, acquisitionID string) context.Context {
	return context.WithValue(ctx, AcquisitionIDKey, acquisitionID)
}

// ContextWithExperiment stores an experiment id in ctx
func ContextWithExperiment(ctx context.Context, experimentID int) context.Context {
	return context.WithValue(ctx, ExperimentIDKey, experimentID)
}

// ContextWithCommand stores the CLI command name in ctx
func ContextWithCommand(ctx context.Context, command string) context.Context {
	return context.WithValue(ctx, CommandKey, command)
}

// Sync flushes any buffered log entries
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}
