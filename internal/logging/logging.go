package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/router-for-me/PromptLedger/internal/config"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// defaultLogFile is used when file logging is on and no path is configured.
const defaultLogFile = "logs/promptledger.log"

// Setup configures the global logrus logger from server config.
// The returned closer flushes and closes the rotating log file, if any.
func Setup(cfg config.ServerConfig) (io.Closer, error) {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	if !cfg.LoggingToFile {
		log.SetOutput(os.Stdout)
		return nopCloser{}, nil
	}

	logFile := strings.TrimSpace(cfg.LogFile)
	if logFile == "" {
		logFile = defaultLogFile
	}
	if errMkdir := os.MkdirAll(filepath.Dir(logFile), 0o755); errMkdir != nil {
		return nil, errMkdir
	}
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
