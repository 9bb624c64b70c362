package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"tasklane/domain"
)

//go:embed migrations/01_create_tasks.up.sql
var createTasksUp string

//go:embed migrations/02_create_users.up.sql
var createUsersUp string

const taskColumns = `id, owner_id, title, description, priority, due_date, category,
	is_public, is_complete, is_reminder_sent, attachment_ref, created_at, updated_at`

// Postgres stores tasks and users in PostgreSQL through the pgx stdlib driver.
type Postgres struct {
	conn *sqlx.DB
	now  func() time.Time
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		log.WithError(err).Error("postgres connection problem")
		return nil, err
	}
	return &Postgres{conn: db, now: time.Now}, nil
}

func (p *Postgres) Close() error {
	return p.conn.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.conn.PingContext(ctx)
}

// Migrate applies the schema. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	log.Debug("running postgres migrations")
	if _, err := p.conn.ExecContext(ctx, createTasksUp); err != nil {
		return fmt.Errorf("apply tasks migration: %w", err)
	}
	if _, err := p.conn.ExecContext(ctx, createUsersUp); err != nil {
		return fmt.Errorf("apply users migration: %w", err)
	}
	return nil
}

type taskRow struct {
	ID             string     `db:"id"`
	OwnerID        string     `db:"owner_id"`
	Title          string     `db:"title"`
	Description    string     `db:"description"`
	Priority       string     `db:"priority"`
	DueDate        *time.Time `db:"due_date"`
	Category       string     `db:"category"`
	IsPublic       bool       `db:"is_public"`
	IsComplete     bool       `db:"is_complete"`
	IsReminderSent bool       `db:"is_reminder_sent"`
	AttachmentRef  string     `db:"attachment_ref"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r taskRow) task() domain.Task {
	t := domain.Task{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		Title:          r.Title,
		Description:    r.Description,
		Priority:       domain.Priority(r.Priority),
		Category:       r.Category,
		IsPublic:       r.IsPublic,
		IsComplete:     r.IsComplete,
		IsReminderSent: r.IsReminderSent,
		AttachmentRef:  r.AttachmentRef,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.DueDate != nil {
		d := r.DueDate.UTC()
		t.DueDate = &d
	}
	return t
}

func (p *Postgres) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.ID == "" {
		t.ID = domain.NewTaskID()
	}
	now := p.now().UTC().Truncate(time.Microsecond)
	const q = `
		INSERT INTO tasks(id, owner_id, title, description, priority, due_date, category,
			is_public, is_complete, is_reminder_sent, attachment_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, $11, $11)
		RETURNING ` + taskColumns

	var r taskRow
	err := p.conn.GetContext(ctx, &r, q, t.ID, t.OwnerID, t.Title, t.Description, string(t.Priority),
		t.DueDate, t.Category, t.IsPublic, t.IsComplete, t.AttachmentRef, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Task{}, domain.ErrConflict
		}
		if isCheckViolation(err) {
			return domain.Task{}, domain.NewValidationError("task", "violates a table constraint")
		}
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return r.task(), nil
}

func (p *Postgres) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var r taskRow
	if err := p.conn.GetContext(ctx, &r, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, domain.ErrNotFound
		}
		return domain.Task{}, fmt.Errorf("get task: %w", err)
	}
	return r.task(), nil
}

// UpdateTask merges the patch inside a transaction holding the row lock.
func (p *Postgres) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	tx, err := p.conn.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Task{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var r taskRow
	if err := tx.GetContext(ctx, &r, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, domain.ErrNotFound
		}
		return domain.Task{}, fmt.Errorf("lock task: %w", err)
	}
	t := r.task()
	if !patch.Apply(&t) {
		return t, tx.Commit()
	}
	t.UpdatedAt = p.now().UTC().Truncate(time.Microsecond)

	const q = `
		UPDATE tasks
		SET title = $2, description = $3, priority = $4, due_date = $5, category = $6,
		    is_public = $7, is_complete = $8, attachment_ref = $9, updated_at = $10
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, q, t.ID, t.Title, t.Description, string(t.Priority), t.DueDate,
		t.Category, t.IsPublic, t.IsComplete, t.AttachmentRef, t.UpdatedAt); err != nil {
		if isCheckViolation(err) {
			return domain.Task{}, domain.NewValidationError("task", "violates a table constraint")
		}
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, fmt.Errorf("commit update: %w", err)
	}
	return t, nil
}

func (p *Postgres) DeleteTask(ctx context.Context, id string) error {
	res, err := p.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *Postgres) ListByOwner(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return p.selectTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id = $1`, ownerID)
}

func (p *Postgres) ListPublicByOwner(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return p.selectTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id = $1 AND is_public`, ownerID)
}

func (p *Postgres) ListDueInWindow(ctx context.Context, start, end time.Time) ([]domain.Task, error) {
	const q = `SELECT ` + taskColumns + ` FROM tasks
		WHERE due_date BETWEEN $1 AND $2 AND NOT is_complete AND NOT is_reminder_sent`
	return p.selectTasks(ctx, q, start.UTC(), end.UTC())
}

// MarkReminderSent flips the flag only while it is still unset; the row
// count tells whether this caller won.
func (p *Postgres) MarkReminderSent(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE tasks SET is_reminder_sent = TRUE, updated_at = $2 WHERE id = $1 AND NOT is_reminder_sent`
	res, err := p.conn.ExecContext(ctx, q, id, p.now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark reminder: %w", err)
	}
	aff, _ := res.RowsAffected()
	if aff == 1 {
		return true, nil
	}
	var exists bool
	if err := p.conn.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("mark reminder: %w", err)
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func (p *Postgres) UpsertUser(ctx context.Context, u domain.Principal) error {
	if u.ID == "" {
		return domain.NewValidationError("id", "is required")
	}
	const q = `
		INSERT INTO users(id, email, display_name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
		    display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name)`
	if _, err := p.conn.ExecContext(ctx, q, u.ID, u.Email, u.DisplayName); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (p *Postgres) LookupContact(ctx context.Context, ownerID string) (domain.Principal, bool, error) {
	var row userRow
	err := p.conn.GetContext(ctx, &row, `SELECT id, email, display_name FROM users WHERE id = $1`, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Principal{}, false, nil
		}
		return domain.Principal{}, false, fmt.Errorf("lookup contact: %w", err)
	}
	if row.Email == "" {
		return domain.Principal{}, false, nil
	}
	return row.principal(), true, nil
}

type userRow struct {
	ID          string `db:"id"`
	Email       string `db:"email"`
	DisplayName string `db:"display_name"`
}

func (r userRow) principal() domain.Principal {
	return domain.Principal{ID: r.ID, Email: r.Email, DisplayName: r.DisplayName}
}

func (p *Postgres) ListUsers(ctx context.Context) ([]domain.Principal, error) {
	var rows []userRow
	if err := p.conn.SelectContext(ctx, &rows, `SELECT id, email, display_name FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]domain.Principal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.principal())
	}
	return out, nil
}

func (p *Postgres) selectTasks(ctx context.Context, q string, args ...any) ([]domain.Task, error) {
	var rows []taskRow
	if err := p.conn.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.task())
	}
	return out, nil
}

// pg helpers

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}
