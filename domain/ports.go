package domain

import (
	"context"
	"io"
	"time"
)

// TaskStore is the durable keyed collection of tasks. Every mutation is atomic
// for the single record it touches.
type TaskStore interface {
	CreateTask(ctx context.Context, t Task) (Task, error)
	GetTask(ctx context.Context, id string) (Task, error)
	UpdateTask(ctx context.Context, id string, p TaskPatch) (Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]Task, error)
	ListPublicByOwner(ctx context.Context, ownerID string) ([]Task, error)
	// ListDueInWindow returns incomplete tasks without a sent reminder whose due
	// date lies in [start, end].
	ListDueInWindow(ctx context.Context, start, end time.Time) ([]Task, error)
	// MarkReminderSent flips the reminder flag from false to true. It returns
	// false without error when the flag was already set.
	MarkReminderSent(ctx context.Context, id string) (bool, error)
}

// Directory resolves owners to contact addresses and lists known users.
type Directory interface {
	UpsertUser(ctx context.Context, p Principal) error
	LookupContact(ctx context.Context, ownerID string) (Principal, bool, error)
	// ListUsers returns every recorded user ordered by id.
	ListUsers(ctx context.Context) ([]Principal, error)
}

// Notifier delivers a message to an address.
type Notifier interface {
	Send(ctx context.Context, address, subject, body string) error
}

// AttachmentStore keeps uploaded binaries and hands back opaque references.
type AttachmentStore interface {
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}
