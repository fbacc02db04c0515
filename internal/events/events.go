// Package events keeps a bounded in-memory log of discrete, timestamped
// connection and data events for display to external consumers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type categorizes a logged event.
type Type string

const (
	TypeState    Type = "state"    // venue connection state change
	TypeProtocol Type = "protocol" // unparseable/unrecognized message
	TypeVenue    Type = "venue"    // venue-reported application error
	TypeData     Type = "data"     // rejected book update (crossed/stale)
)

// Event is one log entry.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Venue     string    `json:"venue"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is a fixed-size ring buffer of events. Old entries are overwritten
// once the buffer is full.
type Log struct {
	mu    sync.RWMutex
	buf   []Event
	size  int
	start int
	count int
}

// NewLog creates a log retaining the last size events.
func NewLog(size int) *Log {
	if size <= 0 {
		size = 256
	}
	return &Log{buf: make([]Event, size), size: size}
}

// Record appends an event, overwriting the oldest entry when full.
func (l *Log) Record(eventType Type, venue, message string) Event {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Venue:     venue,
		Message:   message,
		Timestamp: time.Now(),
	}
	l.mu.Lock()
	idx := (l.start + l.count) % l.size
	if l.count == l.size {
		l.start = (l.start + 1) % l.size
	} else {
		l.count++
	}
	l.buf[idx] = event
	l.mu.Unlock()
	return event
}

// Recent returns up to limit events, newest first. limit <= 0 returns all.
func (l *Log) Recent(limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > l.count {
		limit = l.count
	}
	out := make([]Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (l.start + l.count - 1 - i + l.size) % l.size
		out = append(out, l.buf[idx])
	}
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
