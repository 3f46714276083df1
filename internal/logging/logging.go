// Package logging wires logrus up for the whole process: a plain text base
// configuration, optional rotating file output, and Gin middleware for
// request logging and panic recovery.
package logging

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupBaseLogger configures the shared logrus logger. Called once from main
// before anything else logs.
func SetupBaseLogger() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stderr)
	log.SetLevel(log.InfoLevel)
}

// SetDebug switches between debug and info level.
func SetDebug(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
		log.Debug("debug logging enabled")
		return
	}
	log.SetLevel(log.InfoLevel)
}

// ConfigureLogOutput redirects logs into rotating files under dir/logs when
// toFile is set; otherwise logging stays on stderr.
func ConfigureLogOutput(toFile bool, dir string) error {
	if !toFile {
		return nil
	}
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "vibemate.log"),
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(rotator))
	return nil
}
