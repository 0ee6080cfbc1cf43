package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") {
		t.Errorf("Debug message should be filtered at warn level")
	}
	if strings.Contains(out, "info message") {
		t.Errorf("Info message should be filtered at warn level")
	}
	if !strings.Contains(out, "warn message") {
		t.Errorf("Warn message missing from output: %q", out)
	}
	if !strings.Contains(out, "error message") {
		t.Errorf("Error message missing from output: %q", out)
	}
}

func TestKeyValueFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("event", "region", 7, "location", 0)

	out := buf.String()
	if !strings.Contains(out, "region=7") {
		t.Errorf("Expected region=7 in output, got %q", out)
	}
	if !strings.Contains(out, "location=0") {
		t.Errorf("Expected location=0 in output, got %q", out)
	}
}

func TestFormattedLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Warnf("bucket %d out of range", 99)
	if !strings.Contains(buf.String(), "bucket 99 out of range") {
		t.Errorf("Formatted output missing, got %q", buf.String())
	}
}

func TestFatalInvokesAbortHook(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelError, Output: &buf})

	aborted := 0
	prev := SetAbort(func() { aborted++ })
	defer SetAbort(prev)

	logger.Fatalf("stack underflow on location %d", 3)

	if aborted != 1 {
		t.Fatalf("Expected abort hook to run once, ran %d times", aborted)
	}
	out := buf.String()
	if !strings.Contains(out, "[FATAL]") {
		t.Errorf("Fatal output missing level tag: %q", out)
	}
	if !strings.Contains(out, "stack underflow on location 3") {
		t.Errorf("Fatal output missing message: %q", out)
	}
	if !strings.Contains(out, "logger_test.go") {
		t.Errorf("Fatal output missing call site: %q", out)
	}
}

func TestBugOn(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelError, Output: &buf}))
	defer SetDefault(NewLogger(nil))

	aborted := 0
	prev := SetAbort(func() { aborted++ })
	defer SetAbort(prev)

	BugOn(false, "must not fire")
	if aborted != 0 {
		t.Fatalf("BugOn(false) must not abort")
	}

	BugOn(true, "invariant violated: %d != %d", 1, 2)
	if aborted != 1 {
		t.Fatalf("BugOn(true) must abort")
	}
	if !strings.Contains(buf.String(), "invariant violated: 1 != 2") {
		t.Errorf("BugOn output missing message: %q", buf.String())
	}
}

func TestDefaultLoggerIsSingleton(t *testing.T) {
	SetDefault(nil)
	a := Default()
	b := Default()
	if a != b {
		t.Errorf("Default() should return the same logger")
	}
}
