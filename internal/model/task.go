package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type TaskID string

// ParseTaskID accepts only canonical UUIDs so that malformed ids never reach
// a store that would reject them with a type error.
func ParseTaskID(s string) (TaskID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return TaskID(id.String()), true
}

func NewTaskID() TaskID {
	return TaskID(uuid.NewString())
}

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusTodo:
		return StatusTodo, true
	case StatusInProgress:
		return StatusInProgress, true
	case StatusDone:
		return StatusDone, true
	}
	return "", false
}

type Priority string

const (
	PriorityLow  Priority = "low"
	PriorityMed  Priority = "med"
	PriorityHigh Priority = "high"
)

func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, true
	case "med", "medium":
		return PriorityMed, true
	case "high":
		return PriorityHigh, true
	}
	return "", false
}

// InitialVersion is the version a task carries right after creation.
const InitialVersion int64 = 0

type Task struct {
	ID          TaskID     `json:"id"`
	OwnerID     UserID     `json:"ownerId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	Tags        []string   `json:"tags"`
	Category    string     `json:"category"`
	Metadata    string     `json:"metadata"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Clone returns a copy that shares no slices or pointers with t.
func (t Task) Clone() Task {
	out := t
	out.Tags = append([]string{}, t.Tags...)
	if t.DueDate != nil {
		d := *t.DueDate
		out.DueDate = &d
	}
	return out
}

// Completed reports the completed-equivalent view of Status.
func (t Task) Completed() bool {
	return t.Status == StatusDone
}
