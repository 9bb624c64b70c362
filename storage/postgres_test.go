package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"tasklane/domain"
)

func TestTaskRowConversion(t *testing.T) {
	due := time.Date(2025, 5, 1, 9, 0, 0, 0, time.FixedZone("X", 7200))
	r := taskRow{
		ID:        "1",
		OwnerID:   "alice",
		Title:     "x",
		Priority:  "high",
		DueDate:   &due,
		CreatedAt: due,
		UpdatedAt: due,
	}
	got := r.task()
	if got.Priority != domain.PriorityHigh || got.DueDate.Location() != time.UTC || !got.DueDate.Equal(due) {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.CreatedAt.Location() != time.UTC {
		t.Fatalf("timestamps should be UTC")
	}
}

func TestPgErrorHelpers(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	check := &pgconn.PgError{Code: "23514"}
	if !isUniqueViolation(unique) || isUniqueViolation(check) {
		t.Fatalf("unique violation misclassified")
	}
	if !isCheckViolation(check) || isCheckViolation(errors.New("x")) {
		t.Fatalf("check violation misclassified")
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	if !strings.Contains(createTasksUp, "is_reminder_sent") || !strings.Contains(createUsersUp, "users") {
		t.Fatalf("migrations not embedded")
	}
}

func integrationPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("TASKLANE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TASKLANE_TEST_DATABASE_URL not set")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	if err := p.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return p
}

func TestPostgresMarkReminderSentClaimsOnce(t *testing.T) {
	p := integrationPostgres(t)
	ctx := context.Background()
	task, err := p.CreateTask(ctx, domain.Task{OwnerID: "it-" + domain.NewTaskID(), Title: "claim", Priority: domain.PriorityLow})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { _ = p.DeleteTask(context.Background(), task.ID) })

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := p.MarkReminderSent(ctx, task.ID)
			if err != nil {
				t.Errorf("mark: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one claim, got %d", wins.Load())
	}

	again, err := p.MarkReminderSent(ctx, task.ID)
	if err != nil || again {
		t.Fatalf("second claim: %v %v", again, err)
	}
	if _, err := p.MarkReminderSent(ctx, domain.NewTaskID()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
