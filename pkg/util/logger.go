package util

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var once sync.Once

var logger *zap.Logger
var loggerConfig *zap.Config

func initLogger() {
	once.Do(func() {
		loggerConfig = &zap.Config{Encoding: "console",
			Level:       zap.NewAtomicLevelAt(zapcore.InfoLevel),
			OutputPaths: []string{"stdout"},
			EncoderConfig: zapcore.EncoderConfig{
				MessageKey: "msg",

				LevelKey:    "level",
				EncodeLevel: zapcore.CapitalLevelEncoder,

				TimeKey:    "time",
				EncodeTime: zapcore.RFC3339TimeEncoder,

				NameKey: "logger",
			}}
		var err error
		logger, err = loggerConfig.Build()
		if err != nil {
			panic(err)
		}
	})
}

func Logger() *zap.Logger {
	initLogger()
	return logger
}

// SetLevel switches the level of every logger handed out so far.
// Accepts zap level names: "debug", "info", "warn", "error".
func SetLevel(name string) error {
	initLogger()
	lv, err := zapcore.ParseLevel(name)
	if err != nil {
		return err
	}
	loggerConfig.Level.SetLevel(lv)
	return nil
}

// LoggerOutputPaths set where the logs are written to.
// Paths receive values like "stdout" ,"stderr" or "path/to/file"
func LoggerOutputPaths(paths []string) error {
	initLogger()
	loggerConfig.OutputPaths = paths
	l, err := loggerConfig.Build()
	if err != nil {
		return err
	}
	logger = l
	return nil
}
