package task

import (
	"context"
	"fmt"
	"time"

	"taskshare/internal/model"
	"taskshare/internal/store"
)

// versionGuard enforces optimistic concurrency on a single task row.
type versionGuard struct {
	tasks store.TaskStore
	now   func() time.Time
}

// checkAndCommit requires a precondition equal to the version of current,
// builds the next state with mutate and writes it only if the stored version
// is still current.Version. A lost race is reported as ErrPreconditionFailed.
// There is no retry.
func (g versionGuard) checkAndCommit(
	ctx context.Context,
	current model.Task,
	precondition model.Optional[int64],
	mutate func(model.Task) (model.Task, error),
) (model.Task, error) {
	if !precondition.Set {
		return model.Task{}, ErrPreconditionRequired
	}
	if precondition.Value != current.Version {
		return model.Task{}, ErrPreconditionFailed
	}

	next, err := mutate(current.Clone())
	if err != nil {
		return model.Task{}, err
	}
	next.ID = current.ID
	next.OwnerID = current.OwnerID
	next.CreatedAt = current.CreatedAt
	next.Version = current.Version + 1
	next.UpdatedAt = g.now()

	res, err := g.tasks.UpdateTaskIfVersion(ctx, next, current.Version)
	if err != nil {
		return model.Task{}, fmt.Errorf("commit task %s: %w", current.ID, err)
	}
	switch res {
	case store.Applied:
		return next, nil
	case store.Missing:
		return model.Task{}, ErrNotFound
	default:
		return model.Task{}, ErrPreconditionFailed
	}
}
