package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   log.Level
		logFunc func(*log.Logger)
		wantLog bool
	}{
		{
			name:    "info at info level",
			level:   log.InfoLevel,
			logFunc: func(l *log.Logger) { l.Info("test") },
			wantLog: true,
		},
		{
			name:    "debug at info level",
			level:   log.InfoLevel,
			logFunc: func(l *log.Logger) { l.Debug("test") },
			wantLog: false,
		},
		{
			name:    "debug at debug level",
			level:   log.DebugLevel,
			logFunc: func(l *log.Logger) { l.Debug("test") },
			wantLog: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, tt.level)
			tt.logFunc(logger)

			gotLog := buf.Len() > 0
			if gotLog != tt.wantLog {
				t.Errorf("got log output = %v, want %v", gotLog, tt.wantLog)
			}
		})
	}
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	prog := newProgress(newLogger(&buf, log.InfoLevel))

	time.Sleep(10 * time.Millisecond)
	if prog.elapsed() < 10*time.Millisecond {
		t.Errorf("elapsed() = %v, want at least 10ms", prog.elapsed())
	}

	prog.done("Built dist")
	if !strings.Contains(buf.String(), "Built dist (") {
		t.Errorf("output %q lacks message and duration", buf.String())
	}
}

func TestSetLogLevelMarksVerbose(t *testing.T) {
	c := New(&bytes.Buffer{}, LogInfo)
	if c.verbose {
		t.Fatal("new CLI should not be verbose")
	}
	c.SetLogLevel(LogDebug)
	if !c.verbose || c.Logger.GetLevel() != log.DebugLevel {
		t.Errorf("verbose = %v, level = %v", c.verbose, c.Logger.GetLevel())
	}
}
