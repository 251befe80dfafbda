// Package monitoring provides the levelled, tagged logger shared by the fall
// detection service. A Logger is built once in main and passed down through
// constructors; nothing in the module logs through a package-level global.
package monitoring

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string onto a Level. Unknown values yield LevelInfo
// and an error so the caller can report the typo.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

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
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Logger writes lines of the form "LEVEL [tag] message" through a stdlib
// log.Logger. The zero value is not usable; use New or Discard.
type Logger struct {
	out   *log.Logger
	tag   string
	level Level
}

// New returns a logger writing to w at the given minimum level.
func New(w io.Writer, level Level) *Logger {
	return &Logger{
		out:   log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		level: level,
	}
}

// Default logs to stderr at info level.
func Default() *Logger {
	return New(os.Stderr, LevelInfo)
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, LevelError+1)
}

// With derives a logger whose lines carry tag. Tags nest: a child of
// "domain 0" tagged "room 1" prints "[domain 0/room 1]".
func (l *Logger) With(tag string) *Logger {
	child := *l
	if l.tag == "" {
		child.tag = tag
	} else {
		child.tag = l.tag + "/" + tag
	}
	return &child
}

// Enabled reports whether lines at level are written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

func (l *Logger) logf(level Level, format string, v ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, v...)
	if l.tag != "" {
		l.out.Printf("%-5s [%s] %s", level, l.tag, msg)
		return
	}
	l.out.Printf("%-5s %s", level, msg)
}

func (l *Logger) Debugf(format string, v ...interface{}) { l.logf(LevelDebug, format, v...) }
func (l *Logger) Infof(format string, v ...interface{})  { l.logf(LevelInfo, format, v...) }
func (l *Logger) Warnf(format string, v ...interface{})  { l.logf(LevelWarn, format, v...) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.logf(LevelError, format, v...) }

// Printf satisfies the Printf-style logger interfaces used by third-party
// packages (golang-migrate, go-redis). Lines go out at info level.
func (l *Logger) Printf(format string, v ...interface{}) { l.logf(LevelInfo, format, v...) }
