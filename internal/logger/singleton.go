package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once     sync.Once
	instance *zap.Logger
)

// Init builds the process logger. Only the first call has an effect.
func Init(cfg Config) {
	once.Do(func() {
		instance = build(cfg)
	})
}

// L returns the process logger, initializing a dev logger on first use.
func L() *zap.Logger {
	Init(Config{Level: "info"})
	return instance
}

// Sync flushes buffered entries. Call it with defer from main.
func Sync() error {
	if instance != nil {
		return instance.Sync()
	}
	return nil
}
