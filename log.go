package crashdump

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func (v Verbosity) level() zapcore.Level {
	switch v {
	case Verbose:
		return zap.InfoLevel
	case VeryVerbose:
		return zap.DebugLevel
	default:
		return zap.ErrorLevel
	}
}

// newLogger returns the logger for the library's own diagnostics. Crash reports never go through
// it.
func newLogger(cfg *Config) *zap.Logger {
	if cfg.Verbosity == Silent {
		return zap.NewNop()
	}

	level := cfg.Verbosity.level()
	if cfg.Logger != nil {
		return cfg.Logger.WithOptions(zap.IncreaseLevel(level)).Named("crashdump")
	}

	zcfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.Named("crashdump")
}
