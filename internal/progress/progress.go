// Package progress defines the observer each pipeline stage reports to.
package progress

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/scaggregator/internal/logging"
)

// Fields is free-form context shown next to a stage's progress.
type Fields map[string]string

// String renders fields as sorted key=value pairs.
func (f Fields) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+f[k])
	}
	return strings.Join(parts, " ")
}

// Observer receives progress from a stage. Update and SetContext are called
// concurrently from stage workers.
type Observer interface {
	Start(stage string, total int)
	Update(n int)
	SetContext(fields Fields)
	Done()
}

// Nop ignores all progress.
type Nop struct{}

func (Nop) Start(string, int) {}
func (Nop) Update(int)        {}
func (Nop) SetContext(Fields) {}
func (Nop) Done()             {}

// Console reports progress through the logger: one line per stage start and
// finish, and a line each time another tenth of the stage completes.
type Console struct {
	log *logging.Logger

	mu      sync.Mutex
	stage   string
	total   int
	done    int
	lastPct int
	fields  Fields
	started time.Time
}

// NewConsole creates a console observer.
func NewConsole(log *logging.Logger) *Console {
	return &Console{log: log}
}

func (c *Console) Start(stage string, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stage = stage
	c.total = total
	c.done = 0
	c.lastPct = 0
	c.fields = nil
	c.started = time.Now()
	c.log.Info("%s: %d items", stage, total)
}

func (c *Console) Update(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done += n
	if c.total <= 0 {
		return
	}
	pct := c.done * 100 / c.total
	if pct/10 > c.lastPct/10 {
		c.lastPct = pct
		if len(c.fields) > 0 {
			c.log.Info("%s: %d/%d (%d%%) %s", c.stage, c.done, c.total, pct, c.fields)
		} else {
			c.log.Info("%s: %d/%d (%d%%)", c.stage, c.done, c.total, pct)
		}
	}
}

func (c *Console) SetContext(fields Fields) {
	c.mu.Lock()
	c.fields = fields
	c.mu.Unlock()
}

func (c *Console) Done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Info("%s: finished %d/%d in %s", c.stage, c.done, c.total, time.Since(c.started).Round(time.Millisecond))
}
