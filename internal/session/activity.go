package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Levels shared by activity entries and the status indicator.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarn    = "warn"
	LevelError   = "error"
)

// DefaultActivityLimit bounds the in-memory activity log.
const DefaultActivityLimit = 500

// ActivityEntry is one line of the activity log.
type ActivityEntry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// ActivityLog is append-only. Once the limit is reached the oldest
// entries are dropped.
type ActivityLog struct {
	mu      sync.RWMutex
	limit   int
	entries []ActivityEntry
}

func NewActivityLog(limit int) *ActivityLog {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	return &ActivityLog{limit: limit}
}

func (a *ActivityLog) Add(level, msg string) ActivityEntry {
	e := ActivityEntry{
		ID:      uuid.NewString(),
		Time:    time.Now().UTC(),
		Level:   level,
		Message: msg,
	}
	a.mu.Lock()
	a.entries = append(a.entries, e)
	if over := len(a.entries) - a.limit; over > 0 {
		a.entries = append(a.entries[:0:0], a.entries[over:]...)
	}
	a.mu.Unlock()
	return e
}

// Entries returns a copy of the log, oldest first.
func (a *ActivityLog) Entries() []ActivityEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]ActivityEntry(nil), a.entries...)
}

// Status is the single-line indicator shown to the user.
type Status struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}
