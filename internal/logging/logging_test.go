package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLevelsGatedByVerbosity(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false, false)

	l.Info("hidden info")
	l.Debug("hidden debug")
	l.Warn("shown warn")
	l.Error("shown error %d", 7)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected info/debug to be hidden, got %q", out)
	}
	if !strings.Contains(out, "[WARN] shown warn") {
		t.Errorf("expected warn line, got %q", out)
	}
	if !strings.Contains(out, "[ERROR] shown error 7") {
		t.Errorf("expected error line, got %q", out)
	}
}

func TestDebugImpliesVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false, true)
	l.Info("info")
	l.Debug("debug")

	if !strings.Contains(buf.String(), "[INFO] info") || !strings.Contains(buf.String(), "[DEBUG] debug") {
		t.Errorf("expected both lines, got %q", buf.String())
	}
}

func TestSilentStillWritesDebugLog(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false, false)
	l.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC) }

	path := filepath.Join(t.TempDir(), "run_debug.txt")
	if err := l.OpenDebugLog(path, "run-1"); err != nil {
		t.Fatalf("OpenDebugLog: %v", err)
	}
	l.SetSilent(true)
	l.Warn("quiet warning")
	l.Info("quiet info")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if buf.Len() != 0 {
		t.Errorf("expected no console output while silent, got %q", buf.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read debug log: %v", err)
	}
	content := string(data)
	for _, want := range []string{
		"2026-01-02 03:04:05.006 [DEBUG] debug log started (run run-1)",
		"[WARN] quiet warning",
		"[INFO] quiet info",
		"debug log closed",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("debug log missing %q:\n%s", want, content)
		}
	}
}

func TestConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, true, false)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l.Info("worker %d", n)
		}(i)
	}
	wg.Wait()

	lines := strings.Count(buf.String(), "\n")
	if lines != 50 {
		t.Errorf("expected 50 lines, got %d", lines)
	}
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.Error("nothing")
	if err := l.Close(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}
