package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer

	log := New("test-service", Options{Output: &buf})
	log.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected log to contain 'test message', got: %s", output)
	}

	if !strings.Contains(output, `"service":"test-service"`) {
		t.Errorf("Expected log to contain service name, got: %s", output)
	}
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name    string
		log     func(l *Logger)
		wantMsg string
	}{
		{"info", func(l *Logger) { l.Infof("hello %s", "world") }, "hello world"},
		{"warn", func(l *Logger) { l.Warnf("retrying %d", 3) }, "retrying 3"},
		{"error", func(l *Logger) { l.Errorf("boom: %v", "oops") }, "boom: oops"},
		{"debug", func(l *Logger) { l.Debugf("n=%d", 42) }, "n=42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := New("svc", Options{Output: &buf, LevelSet: true, Level: zerolog.DebugLevel})
			tt.log(log)

			if !strings.Contains(buf.String(), tt.wantMsg) {
				t.Errorf("expected output to contain %q, got: %s", tt.wantMsg, buf.String())
			}
		})
	}
}

func TestLoggerWithCorrelation(t *testing.T) {
	var buf bytes.Buffer
	log := New("svc", Options{Output: &buf}).With("workflow_id", "wf-123")
	log.Info("started")

	if !strings.Contains(buf.String(), `"workflow_id":"wf-123"`) {
		t.Errorf("expected correlation field in output, got: %s", buf.String())
	}
}
