package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/ppiankov/scaggregator/internal/logging"
)

func TestFieldsString(t *testing.T) {
	f := Fields{"scan": "s1", "branch": "main"}
	if got := f.String(); got != "branch=main scan=s1" {
		t.Errorf("expected sorted pairs, got %q", got)
	}
}

func TestConsoleReportsTenths(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(logging.New(&buf, true, false))

	c.Start("Generating reports", 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Update(1)
		}()
	}
	wg.Wait()
	c.Done()

	out := buf.String()
	if !strings.Contains(out, "Generating reports: 20 items") {
		t.Errorf("missing start line: %q", out)
	}
	if !strings.Contains(out, "20/20 (100%)") {
		t.Errorf("missing completion line: %q", out)
	}
	if !strings.Contains(out, "finished 20/20") {
		t.Errorf("missing done line: %q", out)
	}
	if n := strings.Count(out, "\n"); n != 12 {
		t.Errorf("expected 12 lines (start, 10 tenths, done), got %d:\n%s", n, out)
	}
}

func TestNopSatisfiesObserver(t *testing.T) {
	var o Observer = Nop{}
	o.Start("x", 1)
	o.Update(1)
	o.SetContext(Fields{"a": "b"})
	o.Done()
}
