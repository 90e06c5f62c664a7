package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"taskshare/internal/access"
	"taskshare/internal/logx"
	"taskshare/internal/model"
	"taskshare/internal/store"
)

// Service runs every task operation on behalf of an explicit requester. It
// holds no mutable state; concurrent mutations of one task are serialized by
// the store's conditional write.
type Service struct {
	tasks  store.TaskStore
	shares store.ShareStore
	users  store.UserStore

	logger *log.Logger
	now    func() time.Time
}

func NewService(st store.Store, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		tasks:  st,
		shares: st,
		users:  st,
		logger: logger,
		now:    defaultNow,
	}
}

// Timestamps are kept at microsecond precision so every store returns
// exactly what was written.
func defaultNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *Service) SetClock(fn func() time.Time) {
	if fn == nil {
		fn = defaultNow
	}
	s.now = fn
}

func (s *Service) guard() versionGuard {
	return versionGuard{tasks: s.tasks, now: s.now}
}

type ListQuery struct {
	Text     string
	Status   string
	Priority string
}

type CreateInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	Tags        []string   `json:"tags"`
	Category    string     `json:"category"`
	Metadata    string     `json:"metadata"`
	DueDate     *time.Time `json:"dueDate"`
}

// load fetches the task and checks that the requester's role carries c.
func (s *Service) load(ctx context.Context, id model.TaskID, requester model.UserID, c access.Capability) (model.Task, error) {
	t, ok, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return model.Task{}, fmt.Errorf("load task %s: %w", id, err)
	}
	if !ok {
		return model.Task{}, ErrNotFound
	}
	role, err := access.Evaluate(ctx, t, requester, s.shares)
	if err != nil {
		return model.Task{}, fmt.Errorf("evaluate access on %s: %w", id, err)
	}
	if err := access.Authorize(role, c); err != nil {
		return model.Task{}, fromAccess(err)
	}
	return t, nil
}

func (s *Service) ListTasks(ctx context.Context, requester model.UserID, q ListQuery) ([]model.Task, error) {
	var verr ValidationError
	f := store.ListFilter{Text: strings.TrimSpace(q.Text)}
	if strings.TrimSpace(q.Status) != "" {
		st, ok := model.ParseStatus(q.Status)
		if !ok {
			verr.add("status", "must be one of todo, in_progress, done")
		}
		f.Status = st
	}
	if strings.TrimSpace(q.Priority) != "" {
		p, ok := model.ParsePriority(q.Priority)
		if !ok {
			verr.add("priority", "must be one of low, med, high")
		}
		f.Priority = p
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	ts, err := s.tasks.ListAccessibleTasks(ctx, requester, f)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return ts, nil
}

func (s *Service) CreateTask(ctx context.Context, requester model.UserID, in CreateInput) (model.Task, error) {
	var verr ValidationError

	title := strings.TrimSpace(in.Title)
	if title == "" {
		verr.add("title", "must not be blank")
	}
	status := model.StatusTodo
	if strings.TrimSpace(in.Status) != "" {
		var ok bool
		if status, ok = model.ParseStatus(in.Status); !ok {
			verr.add("status", "must be one of todo, in_progress, done")
		}
	}
	priority := model.PriorityMed
	if strings.TrimSpace(in.Priority) != "" {
		var ok bool
		if priority, ok = model.ParsePriority(in.Priority); !ok {
			verr.add("priority", "must be one of low, med, high")
		}
	}
	if err := verr.errOrNil(); err != nil {
		return model.Task{}, err
	}

	now := s.now()
	t := model.Task{
		ID:          model.NewTaskID(),
		OwnerID:     requester,
		Title:       title,
		Description: in.Description,
		Status:      status,
		Priority:    priority,
		Tags:        append([]string{}, in.Tags...),
		Category:    in.Category,
		Metadata:    in.Metadata,
		Version:     model.InitialVersion,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.DueDate != nil {
		d := in.DueDate.UTC()
		t.DueDate = &d
	}
	if err := s.tasks.CreateTask(ctx, t); err != nil {
		return model.Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

func (s *Service) GetTask(ctx context.Context, id model.TaskID, requester model.UserID) (model.Task, error) {
	t, err := s.load(ctx, id, requester, access.Read)
	return t, err
}

// PatchTask applies p when precondition matches the stored version. Any
// failure leaves the stored task untouched.
func (s *Service) PatchTask(ctx context.Context, id model.TaskID, requester model.UserID, precondition model.Optional[int64], p Patch) (model.Task, error) {
	cur, err := s.load(ctx, id, requester, access.Write)
	if err != nil {
		return model.Task{}, err
	}
	next, err := s.guard().checkAndCommit(ctx, cur, precondition, func(t model.Task) (model.Task, error) {
		return ApplyPatch(t, p)
	})
	if errors.Is(err, ErrPreconditionFailed) {
		logx.Warn(s.logger, "task_precondition_failed", logx.Fields{
			"task_id":      id,
			"requester":    requester,
			"stored":       cur.Version,
			"precondition": precondition.Value,
		})
	}
	if err != nil {
		return model.Task{}, err
	}
	return next, nil
}

func (s *Service) DeleteTask(ctx context.Context, id model.TaskID, requester model.UserID) error {
	if _, err := s.load(ctx, id, requester, access.Delete); err != nil {
		return err
	}
	deleted, err := s.tasks.DeleteTask(ctx, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if !deleted {
		return ErrNotFound
	}
	logx.Info(s.logger, "task_deleted", logx.Fields{"task_id": id, "requester": requester})
	return nil
}

func (s *Service) ListShares(ctx context.Context, id model.TaskID, requester model.UserID) ([]model.SharedUser, error) {
	if _, err := s.load(ctx, id, requester, access.ListShares); err != nil {
		return nil, err
	}
	out, err := s.shares.ListShares(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list shares of %s: %w", id, err)
	}
	return out, nil
}

// ShareTask grants or changes the role of the user behind email. Repeating
// the call replaces the role rather than adding a second row.
func (s *Service) ShareTask(ctx context.Context, id model.TaskID, requester model.UserID, email, role string) error {
	var verr ValidationError
	email = model.NormalizeEmail(email)
	if email == "" {
		verr.add("userEmail", "must not be blank")
	}
	shareRole, ok := model.ParseShareRole(role)
	if !ok {
		verr.add("role", "must be viewer or editor")
	}
	if err := verr.errOrNil(); err != nil {
		return err
	}

	t, err := s.load(ctx, id, requester, access.ManageShares)
	if err != nil {
		return err
	}
	target, found, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	if !found {
		return ErrUserNotFound
	}
	if target.ID == t.OwnerID {
		return invalid("userEmail", "cannot share a task with its owner")
	}
	if err := s.shares.UpsertShare(ctx, model.Share{TaskID: t.ID, UserID: target.ID, Role: shareRole}); err != nil {
		return fmt.Errorf("share task %s: %w", id, err)
	}
	logx.Info(s.logger, "task_shared", logx.Fields{
		"task_id": id,
		"user_id": target.ID,
		"role":    shareRole,
	})
	return nil
}

// RevokeShare removes the share of the user behind email. Revoking a share
// that does not exist is a no-op.
func (s *Service) RevokeShare(ctx context.Context, id model.TaskID, requester model.UserID, email string) error {
	email = model.NormalizeEmail(email)
	if email == "" {
		return invalid("userEmail", "must not be blank")
	}

	t, err := s.load(ctx, id, requester, access.ManageShares)
	if err != nil {
		return err
	}
	target, found, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	if !found || target.ID == t.OwnerID {
		return nil
	}
	removed, err := s.shares.DeleteShare(ctx, t.ID, target.ID)
	if err != nil {
		return fmt.Errorf("revoke share on %s: %w", id, err)
	}
	if removed {
		logx.Info(s.logger, "task_share_revoked", logx.Fields{"task_id": id, "user_id": target.ID})
	}
	return nil
}
