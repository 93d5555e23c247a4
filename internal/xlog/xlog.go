// Package xlog is a tiny leveled logger built around a
// log.Printf("[Tag] ...") convention: a small structured logger that
// still prints bracketed tags, so call sites read the same way a
// plain log.Printf call would.
package xlog

import (
	"fmt"
	"log"
	"os"
)

// Level orders log verbosity from most to least chatty.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "?"
	}
}

// Logger is a tagged, leveled wrapper around the standard log package.
type Logger struct {
	tag   string
	level Level
	out   *log.Logger
}

// New returns a Logger that prefixes every line with "[level] [tag]" and drops
// anything below minLevel.
func New(tag string, minLevel Level) *Logger {
	return &Logger{tag: tag, level: minLevel, out: log.New(os.Stderr, "", log.LstdFlags)}
}

// With returns a child logger for a sub-component, e.g.
// relayLog.With(url) for per-relay log lines.
func (l *Logger) With(sub string) *Logger {
	return &Logger{tag: l.tag + " " + sub, level: l.level, out: l.out}
}

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.out.Printf("[%s] [%s] %s", level, l.tag, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.logf(LevelError, format, args...) }

// Default is a process-wide logger at Info level, used by packages that
// don't take a Logger through their constructor explicitly.
var Default = New("relaypool", LevelInfo)
