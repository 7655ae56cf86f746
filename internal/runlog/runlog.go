// Package runlog writes the per-run release log: one
// "[timestamp] [LEVEL] message" line per event, appended to a file under
// logs/ and echoed to the console with a severity colour.
package runlog

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
)

type Level string

const (
	LevelHeader  Level = "HEADER"
	LevelInfo    Level = "INFO"
	LevelSuccess Level = "SUCCESS"
	LevelError   Level = "ERROR"
	LevelWarning Level = "WARNING"
	LevelDebug   Level = "DEBUG"
)

var colors = map[Level]text.Color{
	LevelHeader:  text.FgHiCyan,
	LevelInfo:    text.FgWhite,
	LevelSuccess: text.FgGreen,
	LevelError:   text.FgRed,
	LevelWarning: text.FgYellow,
	LevelDebug:   text.FgHiBlack,
}

// Logger appends to the run log file. Console echo goes to Console
// (os.Stdout by default); Now is injectable for tests.
type Logger struct {
	Path    string
	Debug   bool
	Console io.Writer
	Now     func() time.Time

	file *os.File
}

// Open creates or appends to the run log at path.
func Open(path string, debug bool) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &Logger{Path: path, Debug: debug, Console: os.Stdout, Now: time.Now, file: f}, nil
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) log(level Level, format string, args ...any) {
	if level == LevelDebug && !l.Debug {
		return
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] [%s] %s", now().UTC().Format(time.RFC3339), level, msg)
	if l.file != nil {
		fmt.Fprintln(l.file, line)
	}
	if l.Console != nil {
		fmt.Fprintln(l.Console, colors[level].Sprint(line))
	}
}

func (l *Logger) Header(format string, args ...any)  { l.log(LevelHeader, format, args...) }
func (l *Logger) Info(format string, args ...any)    { l.log(LevelInfo, format, args...) }
func (l *Logger) Success(format string, args ...any) { l.log(LevelSuccess, format, args...) }
func (l *Logger) Error(format string, args ...any)   { l.log(LevelError, format, args...) }
func (l *Logger) Warning(format string, args ...any) { l.log(LevelWarning, format, args...) }
func (l *Logger) Debugf(format string, args ...any)  { l.log(LevelDebug, format, args...) }
