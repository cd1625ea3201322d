package main

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"gaugeconv/internal/config"
	"gaugeconv/internal/web"
)

// setupLogging points the standard logger at stderr, the in-memory ring
// served by /api/logs, and a rotated file when log.path is set.
func setupLogging(cfg config.LogConfig, logs *web.LogBuffer) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC)

	writers := []io.Writer{os.Stderr}
	if logs != nil {
		writers = append(writers, logs)
	}

	var closer io.Closer = nopCloser{}
	if cfg.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, lj)
		closer = lj
	}

	log.SetOutput(io.MultiWriter(writers...))
	return closer
}
