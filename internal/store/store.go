// Package store holds the persistence boundary for tasks, shares and users.
//
// Every implementation must make UpdateTaskIfVersion atomic: the row is
// written only when its stored version still equals the expected one.
package store

import (
	"context"
	"errors"
	"strings"

	"taskshare/internal/model"
)

var (
	ErrEmailTaken = errors.New("email already registered")
	ErrUserExists = errors.New("user id already registered")
)

// WriteResult is the outcome of a conditional write.
type WriteResult int

const (
	Applied WriteResult = iota
	// Conflict means the row exists but its version moved on.
	Conflict
	// Missing means the row no longer exists.
	Missing
)

func (r WriteResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case Conflict:
		return "conflict"
	case Missing:
		return "missing"
	}
	return "unknown"
}

type ListFilter struct {
	// Text is matched case-insensitively as a substring of title,
	// description or category. Empty matches everything.
	Text     string
	Status   model.Status
	Priority model.Priority
}

func (f ListFilter) Matches(t model.Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Text == "" {
		return true
	}
	needle := strings.ToLower(f.Text)
	return strings.Contains(strings.ToLower(t.Title), needle) ||
		strings.Contains(strings.ToLower(t.Description), needle) ||
		strings.Contains(strings.ToLower(t.Category), needle)
}

type TaskStore interface {
	CreateTask(ctx context.Context, t model.Task) error
	GetTask(ctx context.Context, id model.TaskID) (model.Task, bool, error)
	// UpdateTaskIfVersion replaces the stored task with t only if the stored
	// version equals expected.
	UpdateTaskIfVersion(ctx context.Context, t model.Task, expected int64) (WriteResult, error)
	// DeleteTask removes the task and its share rows.
	DeleteTask(ctx context.Context, id model.TaskID) (bool, error)
	// ListAccessibleTasks returns tasks owned by or shared with userID,
	// newest update first.
	ListAccessibleTasks(ctx context.Context, userID model.UserID, f ListFilter) ([]model.Task, error)
}

type ShareStore interface {
	GetShare(ctx context.Context, taskID model.TaskID, userID model.UserID) (model.Share, bool, error)
	// ListShares returns the task's shares joined with their users, ordered
	// by email.
	ListShares(ctx context.Context, taskID model.TaskID) ([]model.SharedUser, error)
	// UpsertShare inserts the row or replaces the role of the existing one.
	UpsertShare(ctx context.Context, s model.Share) error
	DeleteShare(ctx context.Context, taskID model.TaskID, userID model.UserID) (bool, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id model.UserID) (model.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, bool, error)
	// CreateUser assigns an id when u.ID is empty and stores the email
	// normalized. Returns ErrEmailTaken on a duplicate email and
	// ErrUserExists on a duplicate id.
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
}

type Store interface {
	TaskStore
	ShareStore
	UserStore
	Ping(ctx context.Context) error
	Close() error
}
