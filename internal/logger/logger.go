package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"replyflow/internal/config"
)

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarning
	levelError
)

var (
	std      = log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)
	minLevel = levelInfo
)

// createLogFilePath generates a log file path with the current date
func createLogFilePath(logDir, prefix string) string {
	currentDate := time.Now().Format("2006-01-02")
	return filepath.Join(logDir, fmt.Sprintf("%s-%s.log", prefix, currentDate))
}

// createRotatingLogger creates a lumberjack rotating logger
func createRotatingLogger(logFilePath string, cfg *config.Config) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.Logger.Rotation.MaxSize,
		MaxBackups: cfg.Logger.Rotation.MaxBackups,
		MaxAge:     cfg.Logger.Rotation.MaxAge,
		Compress:   cfg.Logger.Rotation.Compress,
	}
}

// createMultiWriter creates a writer that outputs to both stdout and log file
func createMultiWriter(rotatingLogger io.Writer) io.Writer {
	return io.MultiWriter(os.Stdout, rotatingLogger)
}

// Setup configures logging to output to both stdout and a rotating log file
func Setup(cfg *config.Config) error {
	logDir := cfg.Logger.Directory

	// Create log directory if it doesn't exist
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFilePath := createLogFilePath(logDir, "replyflow")
	rotatingLogger := createRotatingLogger(logFilePath, cfg)
	multiWriter := createMultiWriter(rotatingLogger)

	std = log.New(multiWriter, "", log.Ldate|log.Ltime|log.Lshortfile)
	minLevel = parseLevel(cfg.Logger.Level)

	// Redirect the standard logger as well so library output lands in the file
	log.SetOutput(multiWriter)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	std.Printf("[INFO] Logging initialized: writing to %s", logFilePath)
	return nil
}

func parseLevel(s string) level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return levelDebug
	case "WARNING", "WARN":
		return levelWarning
	case "ERROR":
		return levelError
	default:
		return levelInfo
	}
}

func output(lv level, tag, format string, args ...interface{}) {
	if lv < minLevel {
		return
	}
	std.Output(3, fmt.Sprintf("[%s] %s", tag, fmt.Sprintf(format, args...)))
}

func Debugf(format string, args ...interface{}) {
	output(levelDebug, "DEBUG", format, args...)
}

func Infof(format string, args ...interface{}) {
	output(levelInfo, "INFO", format, args...)
}

func Warningf(format string, args ...interface{}) {
	output(levelWarning, "WARNING", format, args...)
}

func Errorf(format string, args ...interface{}) {
	output(levelError, "ERROR", format, args...)
}
