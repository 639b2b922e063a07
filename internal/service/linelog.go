package service

import (
	"strings"
	"sync"
)

// LineLog is an append-only sequence of lines written by a single drain
// goroutine and read by status queries.
type LineLog struct {
	mx    sync.RWMutex
	lines []string
}

func (l *LineLog) Append(line string) {
	l.mx.Lock()
	l.lines = append(l.lines, line)
	l.mx.Unlock()
}

// Lines returns a copy, so callers never alias the live buffer.
func (l *LineLog) Lines() []string {
	l.mx.RLock()
	defer l.mx.RUnlock()
	return append([]string(nil), l.lines...)
}

func (l *LineLog) Len() int {
	l.mx.RLock()
	defer l.mx.RUnlock()
	return len(l.lines)
}

// String joins the lines with a newline.
func (l *LineLog) String() string {
	l.mx.RLock()
	defer l.mx.RUnlock()
	return strings.Join(l.lines, "\n")
}
