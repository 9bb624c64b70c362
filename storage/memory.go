package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"tasklane/domain"
)

// Memory keeps tasks and users in process. A single mutex makes every record
// operation atomic.
type Memory struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
	users map[string]domain.Principal
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		tasks: make(map[string]domain.Task),
		users: make(map[string]domain.Principal),
		now:   time.Now,
	}
}

func (m *Memory) CreateTask(_ context.Context, t domain.Task) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = domain.NewTaskID()
	}
	if _, exists := m.tasks[t.ID]; exists {
		return domain.Task{}, domain.ErrConflict
	}
	now := m.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	t.IsReminderSent = false
	m.tasks[t.ID] = cloneTask(t)
	return cloneTask(t), nil
}

func (m *Memory) GetTask(_ context.Context, id string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return cloneTask(t), nil
}

func (m *Memory) UpdateTask(_ context.Context, id string, p domain.TaskPatch) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	if p.Apply(&t) {
		t.UpdatedAt = m.now().UTC()
		m.tasks[id] = t
	}
	return cloneTask(t), nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) ListByOwner(_ context.Context, ownerID string) ([]domain.Task, error) {
	return m.filter(func(t domain.Task) bool { return t.OwnerID == ownerID }), nil
}

func (m *Memory) ListPublicByOwner(_ context.Context, ownerID string) ([]domain.Task, error) {
	return m.filter(func(t domain.Task) bool { return t.OwnerID == ownerID && t.IsPublic }), nil
}

func (m *Memory) ListDueInWindow(_ context.Context, start, end time.Time) ([]domain.Task, error) {
	return m.filter(func(t domain.Task) bool { return dueInWindow(t, start, end) }), nil
}

func (m *Memory) MarkReminderSent(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if t.IsReminderSent {
		return false, nil
	}
	t.IsReminderSent = true
	t.UpdatedAt = m.now().UTC()
	m.tasks[id] = t
	return true, nil
}

func (m *Memory) UpsertUser(_ context.Context, p domain.Principal) error {
	if p.ID == "" {
		return domain.NewValidationError("id", "is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.users[p.ID]; ok {
		if p.Email == "" {
			p.Email = cur.Email
		}
		if p.DisplayName == "" {
			p.DisplayName = cur.DisplayName
		}
	}
	m.users[p.ID] = p
	return nil
}

func (m *Memory) LookupContact(_ context.Context, ownerID string) (domain.Principal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.users[ownerID]
	if !ok || p.Email == "" {
		return domain.Principal{}, false, nil
	}
	return p, true, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Principal, 0, len(m.users))
	for _, p := range m.users {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) filter(keep func(domain.Task) bool) []domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Task{}
	for _, t := range m.tasks {
		if keep(t) {
			out = append(out, cloneTask(t))
		}
	}
	return out
}

// dueInWindow is the reminder candidate predicate shared by the backends that
// evaluate it in Go.
func dueInWindow(t domain.Task, start, end time.Time) bool {
	if t.IsComplete || t.IsReminderSent || t.DueDate == nil {
		return false
	}
	return !t.DueDate.Before(start) && !t.DueDate.After(end)
}

func cloneTask(t domain.Task) domain.Task {
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	return t
}
