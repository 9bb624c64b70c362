package tasks

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"tasklane/domain"
	"tasklane/query"
)

// Service authorizes caller driven task operations and forwards them to the
// store or to the query engine.
type Service struct {
	st     domain.TaskStore
	engine *query.Engine
	log    *log.Logger
}

func NewService(st domain.TaskStore, engine *query.Engine, logger *log.Logger) *Service {
	if engine == nil {
		engine = query.NewEngine(nil)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{st: st, engine: engine, log: logger}
}

// Create stores a new task owned by caller.
func (s *Service) Create(ctx context.Context, caller string, n domain.NewTask) (domain.Task, error) {
	if caller == "" {
		return domain.Task{}, domain.ErrAccessDenied
	}
	if err := n.Validate(); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		OwnerID:       caller,
		Title:         n.Title,
		Description:   n.Description,
		Priority:      n.Priority,
		DueDate:       n.DueDate,
		Category:      n.Category,
		IsPublic:      n.IsPublic,
		AttachmentRef: n.AttachmentRef,
	}
	created, err := s.st.CreateTask(ctx, t)
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	s.log.WithFields(log.Fields{"task": created.ID, "owner": caller}).Debug("task created")
	return created, nil
}

// Get returns a task the caller may read. Tasks the caller cannot see are
// reported as missing.
func (s *Service) Get(ctx context.Context, caller, id string) (domain.Task, error) {
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !domain.CanRead(caller, t) {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

// List evaluates spec over the caller's own tasks.
func (s *Service) List(ctx context.Context, caller string, spec query.Spec) (query.Result, error) {
	owned, err := s.st.ListByOwner(ctx, caller)
	if err != nil {
		return query.Result{}, fmt.Errorf("list tasks: %w", err)
	}
	return s.engine.Run(caller, owned, spec), nil
}

// ListPublic returns the public tasks of owner, newest first. Items that are
// not public tasks of owner never leave, whatever the store returned.
func (s *Service) ListPublic(ctx context.Context, owner string) ([]domain.Task, error) {
	items, err := s.st.ListPublicByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list public tasks: %w", err)
	}
	public := items[:0]
	for _, t := range items {
		if t.OwnerID == owner && t.IsPublic {
			public = append(public, t)
			continue
		}
		s.log.WithFields(log.Fields{"task": t.ID, "owner": t.OwnerID, "requested": owner}).Warn("store returned a non-public task for a public listing")
	}
	query.Sort(public, query.SortDefault, query.Desc)
	return public, nil
}

// Update merges p into a task owned by caller.
func (s *Service) Update(ctx context.Context, caller, id string, p domain.TaskPatch) (domain.Task, error) {
	if err := p.Validate(); err != nil {
		return domain.Task{}, err
	}
	if _, err := s.authorizeWrite(ctx, caller, id); err != nil {
		return domain.Task{}, err
	}
	updated, err := s.st.UpdateTask(ctx, id, p)
	if err != nil {
		return domain.Task{}, err
	}
	return updated, nil
}

// Delete removes a task owned by caller.
func (s *Service) Delete(ctx context.Context, caller, id string) error {
	if _, err := s.authorizeWrite(ctx, caller, id); err != nil {
		return err
	}
	if err := s.st.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.log.WithFields(log.Fields{"task": id, "owner": caller}).Debug("task deleted")
	return nil
}

func (s *Service) authorizeWrite(ctx context.Context, caller, id string) (domain.Task, error) {
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Task{}, err
		}
		return domain.Task{}, fmt.Errorf("load task %s: %w", id, err)
	}
	if !domain.CanWrite(caller, t) {
		s.log.WithFields(log.Fields{"task": id, "caller": caller}).Warn("write denied")
		return domain.Task{}, domain.ErrAccessDenied
	}
	return t, nil
}
