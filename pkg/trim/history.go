package trim

import (
	"fmt"
	"sync"
	"time"

	"github.com/armon/circbuf"
)

// History is a bounded one-line-per-transition log, backed by
// armon/circbuf: old lines silently fall off the front once the buffer
// is full rather than growing without limit.
type History struct {
	mu  sync.Mutex
	buf *circbuf.Buffer
}

// NewHistory allocates a History sized for maxLines lines of text at a
// budget of 128 bytes per line (maxLines*128 bytes in all).
func NewHistory(maxLines int64) *History {
	b, _ := circbuf.NewBuffer(maxLines * 128) // 128 bytes/line budget
	return &History{buf: b}
}

// Append records one history line, timestamped.
func (h *History) Append(t time.Time, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Write([]byte(fmt.Sprintf("%s %s\n", t.Format(time.RFC3339), line)))
}

// Lines returns the buffered history split into lines, oldest first.
func (h *History) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	raw := string(h.buf.Bytes())
	if raw == "" {
		return nil
	}
	var lines []string
	start := 0
	for i, c := range raw {
		if c == '\n' {
			lines = append(lines, raw[start:i])
			start = i + 1
		}
	}
	return lines
}
