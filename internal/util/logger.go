package util

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

// Logger is nil until InitLogger runs; the helpers below are no-ops before
// that, so library code can log unconditionally.
var Logger *log.Logger

var discard = log.New(io.Discard)

var prefixStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#FFFFFF")).
	Background(lipgloss.Color("#6366F1")).
	Bold(true).
	Padding(0, 1).
	MarginRight(1)

// InitLogger initializes the package logger. It is safe to call again after
// SetDebugMode to pick up the new level.
func InitLogger() {
	Logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    IsDebug,
		ReportTimestamp: IsDebug,
		TimeFormat:      "15:04:05",
		Prefix:          prefixStyle.Render("anidl"),
	})
	Logger.SetColorProfile(termenv.TrueColor)

	if IsDebug {
		Logger.SetLevel(log.DebugLevel)
		Logger.Debug("debug logging enabled")
	} else {
		Logger.SetLevel(log.InfoLevel)
	}
}

func current() *log.Logger {
	if Logger == nil {
		return discard
	}
	return Logger
}

// ForSite returns a logger whose lines carry the streaming site domain
func ForSite(domain string) *log.Logger {
	return current().With("site", domain)
}

// ForHost returns a logger whose lines carry the file host family
func ForHost(host fmt.Stringer) *log.Logger {
	return current().With("host", host.String())
}

// Debug logs a debug message (only when debug mode is enabled)
func Debug(msg interface{}, keyvals ...interface{}) {
	if IsDebug && Logger != nil {
		Logger.Debug(fmt.Sprintf("%v", msg), keyvals...)
	}
}

// Info logs an info message
func Info(msg interface{}, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Info(fmt.Sprintf("%v", msg), keyvals...)
	}
}

// Warn logs a warning message
func Warn(msg interface{}, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Warn(fmt.Sprintf("%v", msg), keyvals...)
	}
}

func Debugf(format string, args ...interface{}) {
	if IsDebug && Logger != nil {
		Logger.Debug(fmt.Sprintf(format, args...))
	}
}

func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Info(fmt.Sprintf(format, args...))
	}
}
