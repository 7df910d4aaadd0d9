package domain

import (
	"time"

	"github.com/google/uuid"
)

// HistoryAction names the kind of mutation a history entry records.
type HistoryAction string

const (
	ActionCreated   HistoryAction = "created"
	ActionUpdated   HistoryAction = "updated"
	ActionCompleted HistoryAction = "completed"
	ActionDeleted   HistoryAction = "deleted"
	ActionMoved     HistoryAction = "moved"
)

func (a HistoryAction) Valid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionCompleted, ActionDeleted, ActionMoved:
		return true
	}
	return false
}

// HistoryEntry is one immutable fact about a mutation. Entries are only ever
// appended; nothing edits or removes them while the task exists.
type HistoryEntry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Action    HistoryAction `json:"action"`
	Details   string        `json:"details,omitempty"`
}

// NewHistoryEntry stamps an entry at the moment the mutation is issued.
// This is the one client-assigned timestamp in the model.
func NewHistoryEntry(now time.Time, action HistoryAction, details string) HistoryEntry {
	return HistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		Action:    action,
		Details:   details,
	}
}

// AppendHistory returns history plus one new entry without touching the
// original slice.
func AppendHistory(history []HistoryEntry, entry HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, entry)
	return out
}
