// Package logs builds the process logger.
package logs

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EncodingConsole = "console"
	EncodingJSON    = "json"
)

// Options selects the encoding and minimum level of the logger.
type Options struct {
	Level            string
	Encoding         string
	OutputPaths      []string
	ErrorOutputPaths []string
	InitialFields    map[string]any
}

// New builds a logger from opts. Empty fields default to console output at
// info level on stdout.
func New(opts Options) (*zap.Logger, error) {
	if opts.Level == "" {
		opts.Level = "info"
	}

	if opts.Encoding == "" {
		opts.Encoding = EncodingConsole
	}

	if opts.Encoding != EncodingConsole && opts.Encoding != EncodingJSON {
		return nil, fmt.Errorf("unknown log format %q", opts.Encoding)
	}

	if len(opts.OutputPaths) == 0 {
		opts.OutputPaths = []string{"stdout"}
	}

	if len(opts.ErrorOutputPaths) == 0 {
		opts.ErrorOutputPaths = []string{"stderr"}
	}

	level, err := zap.ParseAtomicLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	encodeLevel := zapcore.LowercaseLevelEncoder
	if opts.Encoding == EncodingConsole {
		encodeLevel = zapcore.CapitalColorLevelEncoder
	}

	conf := zap.Config{
		Level:       level,
		Development: opts.Encoding == EncodingConsole,
		Encoding:    opts.Encoding,
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "msg",
			LevelKey:       "level",
			TimeKey:        "ts",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      opts.OutputPaths,
		ErrorOutputPaths: opts.ErrorOutputPaths,
		InitialFields:    opts.InitialFields,
	}

	logger, err := conf.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return logger, nil
}
