package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"taskshare/internal/model"
)

type state struct {
	Users         map[model.UserID]model.User                          `json:"users"`
	UserIDByEmail map[string]model.UserID                              `json:"userIdByEmail"`
	Tasks         map[model.TaskID]model.Task                          `json:"tasks"`
	Shares        map[model.TaskID]map[model.UserID]model.ShareRole `json:"shares"`
}

func newState() state {
	return state{
		Users:         map[model.UserID]model.User{},
		UserIDByEmail: map[string]model.UserID{},
		Tasks:         map[model.TaskID]model.Task{},
		Shares:        map[model.TaskID]map[model.UserID]model.ShareRole{},
	}
}

func (s *state) normalize() {
	if s.Users == nil {
		s.Users = map[model.UserID]model.User{}
	}
	if s.UserIDByEmail == nil {
		s.UserIDByEmail = map[string]model.UserID{}
	}
	if s.Tasks == nil {
		s.Tasks = map[model.TaskID]model.Task{}
	}
	if s.Shares == nil {
		s.Shares = map[model.TaskID]map[model.UserID]model.ShareRole{}
	}
}

// MemoryStore keeps everything in maps behind one lock. When created with
// NewFileStore it also writes the whole state to a JSON file after each
// mutation and rolls the mutation back if that write fails.
type MemoryStore struct {
	mu   sync.RWMutex
	s    state
	path string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{s: newState()}
}

func NewFileStore(dataDir string) (*MemoryStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	st := &MemoryStore{
		s:    newState(),
		path: filepath.Join(dataDir, "taskshare.json"),
	}
	if err := st.load(); err != nil {
		return nil, err
	}
	return st, nil
}

func (m *MemoryStore) load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.s = newState()
			return nil
		}
		return err
	}
	var loaded state
	if err := json.Unmarshal(b, &loaded); err != nil {
		return err
	}
	loaded.normalize()
	m.s = loaded
	return nil
}

func (m *MemoryStore) saveLocked() error {
	b, err := json.MarshalIndent(m.s, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// commitLocked persists the state when file-backed. On failure undo restores
// the in-memory state so a failed write has no visible effect.
func (m *MemoryStore) commitLocked(undo func()) error {
	if m.path == "" {
		return nil
	}
	if err := m.saveLocked(); err != nil {
		undo()
		return err
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) CreateTask(ctx context.Context, t model.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.s.Tasks[t.ID] = t.Clone()
	return m.commitLocked(func() { delete(m.s.Tasks, t.ID) })
}

func (m *MemoryStore) GetTask(ctx context.Context, id model.TaskID) (model.Task, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Task{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.s.Tasks[id]
	if !ok {
		return model.Task{}, false, nil
	}
	return t.Clone(), true, nil
}

func (m *MemoryStore) UpdateTaskIfVersion(ctx context.Context, t model.Task, expected int64) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return Conflict, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.s.Tasks[t.ID]
	if !ok {
		return Missing, nil
	}
	if cur.Version != expected {
		return Conflict, nil
	}
	m.s.Tasks[t.ID] = t.Clone()
	if err := m.commitLocked(func() { m.s.Tasks[t.ID] = cur }); err != nil {
		return Conflict, err
	}
	return Applied, nil
}

func (m *MemoryStore) DeleteTask(ctx context.Context, id model.TaskID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.s.Tasks[id]
	if !ok {
		return false, nil
	}
	shares, hadShares := m.s.Shares[id]
	delete(m.s.Tasks, id)
	delete(m.s.Shares, id)
	err := m.commitLocked(func() {
		m.s.Tasks[id] = t
		if hadShares {
			m.s.Shares[id] = shares
		}
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *MemoryStore) ListAccessibleTasks(ctx context.Context, userID model.UserID, f ListFilter) ([]model.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Task, 0)
	for id, t := range m.s.Tasks {
		if t.OwnerID != userID {
			if _, shared := m.s.Shares[id][userID]; !shared {
				continue
			}
		}
		if !f.Matches(t) {
			continue
		}
		out = append(out, t.Clone())
	}
	sortTasks(out)
	return out, nil
}

func sortTasks(ts []model.Task) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].UpdatedAt.Equal(ts[j].UpdatedAt) {
			return ts[i].UpdatedAt.After(ts[j].UpdatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

func (m *MemoryStore) GetShare(ctx context.Context, taskID model.TaskID, userID model.UserID) (model.Share, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Share{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.s.Shares[taskID][userID]
	if !ok {
		return model.Share{}, false, nil
	}
	return model.Share{TaskID: taskID, UserID: userID, Role: role}, true, nil
}

func (m *MemoryStore) ListShares(ctx context.Context, taskID model.TaskID) ([]model.SharedUser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.SharedUser, 0, len(m.s.Shares[taskID]))
	for uid, role := range m.s.Shares[taskID] {
		u := m.s.Users[uid]
		out = append(out, model.SharedUser{
			UserID:      uid,
			Email:       u.Email,
			DisplayName: u.DisplayName,
			Role:        role,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Email != out[j].Email {
			return out[i].Email < out[j].Email
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (m *MemoryStore) UpsertShare(ctx context.Context, sh model.Share) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.s.Shares[sh.TaskID]
	if !ok {
		rows = map[model.UserID]model.ShareRole{}
		m.s.Shares[sh.TaskID] = rows
	}
	prev, existed := rows[sh.UserID]
	rows[sh.UserID] = sh.Role
	return m.commitLocked(func() {
		if existed {
			rows[sh.UserID] = prev
			return
		}
		delete(rows, sh.UserID)
		if len(rows) == 0 {
			delete(m.s.Shares, sh.TaskID)
		}
	})
}

func (m *MemoryStore) DeleteShare(ctx context.Context, taskID model.TaskID, userID model.UserID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.s.Shares[taskID]
	prev, ok := rows[userID]
	if !ok {
		return false, nil
	}
	delete(rows, userID)
	if len(rows) == 0 {
		delete(m.s.Shares, taskID)
	}
	err := m.commitLocked(func() {
		rows[userID] = prev
		m.s.Shares[taskID] = rows
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id model.UserID) (model.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.User{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.s.Users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (model.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.User{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.s.UserIDByEmail[model.NormalizeEmail(email)]
	if !ok {
		return model.User{}, false, nil
	}
	u, ok := m.s.Users[id]
	return u, ok, nil
}

func (m *MemoryStore) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if err := ctx.Err(); err != nil {
		return model.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u.Email = model.NormalizeEmail(u.Email)
	u.DisplayName = strings.TrimSpace(u.DisplayName)
	if _, taken := m.s.UserIDByEmail[u.Email]; taken {
		return model.User{}, ErrEmailTaken
	}
	if u.ID == "" {
		u.ID = model.NewUserID()
	}
	if _, exists := m.s.Users[u.ID]; exists {
		return model.User{}, ErrUserExists
	}
	m.s.Users[u.ID] = u
	m.s.UserIDByEmail[u.Email] = u.ID
	err := m.commitLocked(func() {
		delete(m.s.Users, u.ID)
		delete(m.s.UserIDByEmail, u.Email)
	})
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (m *MemoryStore) ListUsers(ctx context.Context) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.User, 0, len(m.s.Users))
	for _, u := range m.s.Users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}
