package scheduler

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/amirphl/sms-dispatcher/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewSchedulerLogger builds the dispatch engine logger. Depending on cfg.Output it writes to stdout,
// to a size-rotated file, or to both. The returned closer flushes and closes the rotating file.
func NewSchedulerLogger(cfg config.LoggingConfig) (*log.Logger, io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if cfg.Output == "stdout" || cfg.Output == "both" || cfg.Output == "" {
		writers = append(writers, os.Stdout)
	}
	if cfg.Output == "file" || cfg.Output == "both" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  false,
		}
		writers = append(writers, lj)
		closer = lj
	}

	// log.Logger is goroutine-safe; include timestamps with microseconds and UTC
	logger := log.New(io.MultiWriter(writers...), "scheduler ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
