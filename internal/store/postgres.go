package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"taskshare/internal/model"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// PostgresStore persists through database/sql with the lib/pq driver. The
// conditional write is a single UPDATE guarded by the expected version.
type PostgresStore struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const taskColumns = `id, owner_id, title, description, status, priority, tags, category, metadata, due_date, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var (
		t    model.Task
		tags pq.StringArray
		due  sql.NullTime
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&tags, &t.Category, &t.Metadata, &due, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return model.Task{}, err
	}
	t.Tags = []string(tags)
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if due.Valid {
		d := due.Time.UTC()
		t.DueDate = &d
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *PostgresStore) CreateTask(ctx context.Context, t model.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.OwnerID, t.Title, t.Description, t.Status, t.Priority,
		pq.StringArray(t.Tags), t.Category, t.Metadata, nullTime(t.DueDate),
		t.Version, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id model.TaskID) (model.Task, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, false, nil
	}
	if err != nil {
		return model.Task{}, false, fmt.Errorf("get task: %w", err)
	}
	return t, true, nil
}

func (s *PostgresStore) UpdateTaskIfVersion(ctx context.Context, t model.Task, expected int64) (WriteResult, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		    SET title = $3, description = $4, status = $5, priority = $6, tags = $7,
		        category = $8, metadata = $9, due_date = $10, version = $11, updated_at = $12
		  WHERE id = $1 AND version = $2`,
		t.ID, expected, t.Title, t.Description, t.Status, t.Priority,
		pq.StringArray(t.Tags), t.Category, t.Metadata, nullTime(t.DueDate),
		t.Version, t.UpdatedAt)
	if err != nil {
		return Conflict, fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Conflict, fmt.Errorf("update task: %w", err)
	}
	if n == 1 {
		return Applied, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
		return Conflict, fmt.Errorf("check task: %w", err)
	}
	if !exists {
		return Missing, nil
	}
	return Conflict, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id model.TaskID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) ListAccessibleTasks(ctx context.Context, userID model.UserID, f ListFilter) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+`
		   FROM tasks t
		  WHERE (t.owner_id = $1
		         OR EXISTS (SELECT 1 FROM task_shares s WHERE s.task_id = t.id AND s.user_id = $1))
		    AND ($2 = ''
		         OR strpos(lower(t.title), lower($2)) > 0
		         OR strpos(lower(t.description), lower($2)) > 0
		         OR strpos(lower(t.category), lower($2)) > 0)
		    AND ($3 = '' OR t.status = $3)
		    AND ($4 = '' OR t.priority = $4)
		  ORDER BY t.updated_at DESC, t.id ASC`,
		userID, f.Text, string(f.Status), string(f.Priority))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetShare(ctx context.Context, taskID model.TaskID, userID model.UserID) (model.Share, bool, error) {
	sh := model.Share{TaskID: taskID, UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM task_shares WHERE task_id = $1 AND user_id = $2`,
		taskID, userID).Scan(&sh.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Share{}, false, nil
	}
	if err != nil {
		return model.Share{}, false, fmt.Errorf("get share: %w", err)
	}
	return sh, true, nil
}

func (s *PostgresStore) ListShares(ctx context.Context, taskID model.TaskID) ([]model.SharedUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.display_name, s.role
		   FROM task_shares s
		   JOIN app_users u ON u.id = s.user_id
		  WHERE s.task_id = $1
		  ORDER BY u.email, u.id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	out := make([]model.SharedUser, 0)
	for rows.Next() {
		var su model.SharedUser
		if err := rows.Scan(&su.UserID, &su.Email, &su.DisplayName, &su.Role); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		out = append(out, su)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertShare(ctx context.Context, sh model.Share) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_shares (task_id, user_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (task_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		sh.TaskID, sh.UserID, sh.Role)
	if err != nil {
		return fmt.Errorf("upsert share: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteShare(ctx context.Context, taskID model.TaskID, userID model.UserID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM task_shares WHERE task_id = $1 AND user_id = $2`, taskID, userID)
	if err != nil {
		return false, fmt.Errorf("delete share: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete share: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id model.UserID) (model.User, bool, error) {
	return s.getUser(ctx, `SELECT id, email, display_name FROM app_users WHERE id = $1`, id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (model.User, bool, error) {
	return s.getUser(ctx, `SELECT id, email, display_name FROM app_users WHERE email = $1`, model.NormalizeEmail(email))
}

func (s *PostgresStore) getUser(ctx context.Context, query string, arg any) (model.User, bool, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Email, &u.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("get user: %w", err)
	}
	return u, true, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	u.Email = model.NormalizeEmail(u.Email)
	if u.ID == "" {
		u.ID = model.NewUserID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_users (id, email, display_name) VALUES ($1, $2, $3)`,
		u.ID, u.Email, u.DisplayName)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			if pqErr.Constraint == "app_users_pkey" {
				return model.User{}, ErrUserExists
			}
			return model.User{}, ErrEmailTaken
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, display_name FROM app_users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]model.User, 0)
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
