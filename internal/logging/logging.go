// Package logging wires the two logging stacks this repository carries:
// the engine's own pingcap/log+zap logger (package search, package db),
// rotated through a lumberjack-backed file sink, and a separate
// sirupsen/logrus logger for the CLI edge (package cmd/morello). Engine
// code never imports this package directly; it calls the pingcap/log
// global logger, which Setup installs.
package logging

import (
	"os"

	"github.com/pingcap/log"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config is the logging section of the CLI's TOML configuration file
// (see cmd/morello's Config). File == "" disables the rotating file sink
// and logs to stderr only.
type Config struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max-size-mb"`
	MaxBackups int    `toml:"max-backups"`
	MaxAgeDays int    `toml:"max-age-days"`
	Compress   bool   `toml:"compress"`
}

// DefaultConfig: info level, 300MB rotation, keep roughly a month of
// backups.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSizeMB:  300,
		MaxBackups: 7,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// Setup installs the engine's global pingcap/log logger (rotated through
// lumberjack when cfg.File is set) and returns a logrus logger configured
// at the same level for the CLI edge to use directly. It must be called
// once, before any search.Synthesize/db.Database call, since those
// packages log through pingcap/log's process-global logger.
func Setup(cfg Config) (*logrus.Logger, error) {
	atom := zap.NewAtomicLevel()
	if err := atom.UnmarshalText([]byte(orDefaultStr(cfg.Level, "info"))); err != nil {
		return nil, err
	}

	var syncer zapcore.WriteSyncer
	var encoder zapcore.Encoder
	encCfg := encoderConfig()
	if cfg.File == "" {
		syncer = zapcore.Lock(zapcore.AddSync(os.Stderr))
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefaultInt(cfg.MaxSizeMB, 300),
			MaxBackups: orDefaultInt(cfg.MaxBackups, 7),
			MaxAge:     orDefaultInt(cfg.MaxAgeDays, 28),
			Compress:   cfg.Compress,
		}
		syncer = zapcore.AddSync(lj)
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, syncer, atom)
	logger := zap.New(core, zap.AddCaller())
	log.ReplaceGlobals(logger, &log.ZapProperties{Core: core, Syncer: syncer, Level: atom})

	cli := logrus.New()
	cli.SetLevel(logrusLevel(atom.Level()))
	return cli, nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func logrusLevel(l zapcore.Level) logrus.Level {
	switch l {
	case zapcore.DebugLevel:
		return logrus.DebugLevel
	case zapcore.InfoLevel:
		return logrus.InfoLevel
	case zapcore.WarnLevel:
		return logrus.WarnLevel
	case zapcore.ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
