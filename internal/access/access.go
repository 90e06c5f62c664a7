// Package access maps a requester's relation to a task onto a role and
// decides which capabilities that role carries.
package access

import (
	"context"
	"errors"

	"taskshare/internal/model"
)

var (
	// ErrHidden is returned when the requester has no relation to the task.
	// Callers surface it exactly like a missing task.
	ErrHidden = errors.New("task not visible to requester")
	// ErrInsufficient is returned when the requester can see the task but
	// the role does not carry the capability.
	ErrInsufficient = errors.New("role does not permit this action")
)

// Role is ordered: None < Viewer < Editor < Owner.
type Role int

const (
	None Role = iota
	Viewer
	Editor
	Owner
)

func (r Role) String() string {
	switch r {
	case Viewer:
		return "viewer"
	case Editor:
		return "editor"
	case Owner:
		return "owner"
	default:
		return "none"
	}
}

type Capability int

const (
	Read Capability = iota
	Write
	Delete
	ListShares
	ManageShares
)

// minRole is the single capability table.
var minRole = map[Capability]Role{
	Read:         Viewer,
	Write:        Editor,
	Delete:       Owner,
	ListShares:   Editor,
	ManageShares: Owner,
}

func (r Role) Can(c Capability) bool {
	need, ok := minRole[c]
	if !ok || r == None {
		return false
	}
	return r >= need
}

// Authorize returns ErrHidden for None, ErrInsufficient when the role is
// visible but too weak, and nil otherwise.
func Authorize(r Role, c Capability) error {
	if r == None {
		return ErrHidden
	}
	if !r.Can(c) {
		return ErrInsufficient
	}
	return nil
}

// FromShareRole converts a stored share role. Unknown roles grant nothing.
func FromShareRole(sr model.ShareRole) Role {
	switch sr {
	case model.ShareEditor:
		return Editor
	case model.ShareViewer:
		return Viewer
	default:
		return None
	}
}

// ShareLookup finds the share row for (task, user); ok is false when absent.
type ShareLookup interface {
	GetShare(ctx context.Context, taskID model.TaskID, userID model.UserID) (model.Share, bool, error)
}

// Evaluate computes the requester's role on a task. The owner short-circuits
// without consulting the share relation.
func Evaluate(ctx context.Context, t model.Task, requester model.UserID, shares ShareLookup) (Role, error) {
	if requester == "" {
		return None, nil
	}
	if t.OwnerID == requester {
		return Owner, nil
	}
	sh, ok, err := shares.GetShare(ctx, t.ID, requester)
	if err != nil {
		return None, err
	}
	if !ok {
		return None, nil
	}
	return FromShareRole(sh.Role), nil
}
