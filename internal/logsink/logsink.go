// Package logsink persists relay event lines.
//
// Each line is escaped so it stays printable on any terminal, then written as
// "<unix-millis> <escaped line>\n".
package logsink

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sink writes escaped, timestamped lines to an io.Writer.
type Sink struct {
	mu   sync.Mutex
	w    io.Writer
	now  func() time.Time
	echo bool
}

// New returns a Sink writing to w. When echo is set every raw line is also
// printed with the standard logger.
func New(w io.Writer, echo bool) *Sink {
	return &Sink{w: w, now: time.Now, echo: echo}
}

// OpenFile creates dir if needed and opens log_<unix-millis>.txt in append mode.
func OpenFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	name := filepath.Join(dir, "log_"+strconv.FormatInt(time.Now().UnixMilli(), 10)+".txt")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// Log records one line. Write errors are reported through the standard logger.
func (s *Sink) Log(line string) {
	if s.echo {
		log.Println(line)
	}

	entry := strconv.FormatInt(s.now().UnixMilli(), 10) + " " + Escape(line) + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, entry); err != nil {
		log.Printf("Failed to write log entry: %v", err)
	}
}

// Escape replaces every rune that is not an ASCII letter, an ASCII digit or one
// of space ! # - _ : [ ] with "[<code point>]".
func Escape(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	for _, r := range line {
		if safe(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(int(r)))
		b.WriteByte(']')
	}
	return b.String()
}

func safe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	switch r {
	case ' ', '!', '#', '-', '_', ':', '[', ']':
		return true
	}
	return false
}
