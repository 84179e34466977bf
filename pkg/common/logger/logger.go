package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// LogLevel represents the logging level
type LogLevel int

const (
	// DebugLevel logs are typically verbose
	DebugLevel LogLevel = iota
	// InfoLevel is the default logging priority
	InfoLevel
	// WarnLevel logs are warnings
	WarnLevel
	// ErrorLevel logs are high-priority
	ErrorLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

var (
	std          = log.New(os.Stdout, "", log.LstdFlags)
	currentLevel = InfoLevel
)

// Initialize sets up the global logger level based on input string
// (e.g., "debug", "info", "warn", "error")
func Initialize(level string) {
	switch strings.ToLower(level) {
	case "debug":
		currentLevel = DebugLevel
		std.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	case "warn", "warning":
		currentLevel = WarnLevel
		std.SetFlags(log.Ldate | log.Ltime)
	case "error":
		currentLevel = ErrorLevel
		std.SetFlags(log.Ldate | log.Ltime)
	default:
		currentLevel = InfoLevel
		std.SetFlags(log.Ldate | log.Ltime)
	}
}

func output(level LogLevel, format string, v ...interface{}) {
	if level < currentLevel {
		return
	}
	std.SetPrefix(fmt.Sprintf("[%s] ", levelNames[level]))
	_ = std.Output(3, fmt.Sprintf(format, v...))
}

// Package-level helpers
func Debug(format string, v ...interface{}) { output(DebugLevel, format, v...) }
func Info(format string, v ...interface{})  { output(InfoLevel, format, v...) }
func Warn(format string, v ...interface{})  { output(WarnLevel, format, v...) }
func Error(format string, v ...interface{}) { output(ErrorLevel, format, v...) }
