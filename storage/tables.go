package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"tasklane/domain"
)

const (
	edmDateTime     = "Edm.DateTime"
	odataTimeLayout = "2006-01-02T15:04:05.0000000Z"
	maxCASAttempts  = 8
)

// Tables stores tasks in Azure Table Storage. Tasks are partitioned by owner;
// users live in their own table keyed by id.
type Tables struct {
	taskTable *aztables.Client
	userTable *aztables.Client
	now       func() time.Time
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, tasksTable, usersTable string) (*Tables, error) {
	return newTables(connStr, tasksTable, usersTable, nil)
}

func newTables(connStr, tasksTable, usersTable string, transport policy.Transporter) (*Tables, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	if transport != nil {
		tablesClientOptions.Transport = transport
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Tables{
		taskTable: svc.NewClient(tasksTable),
		userTable: svc.NewClient(usersTable),
		now:       time.Now,
	}, nil
}

type taskEntity struct {
	PartitionKey   string     `json:"PartitionKey"`
	RowKey         string     `json:"RowKey"`
	ETag           string     `json:"odata.etag,omitempty"`
	Title          string     `json:"Title"`
	Description    string     `json:"Description,omitempty"`
	Priority       string     `json:"Priority"`
	DueDate        *time.Time `json:"DueDate,omitempty"`
	DueDateType    string     `json:"DueDate@odata.type,omitempty"`
	Category       string     `json:"Category,omitempty"`
	IsPublic       bool       `json:"IsPublic"`
	IsComplete     bool       `json:"IsComplete"`
	IsReminderSent bool       `json:"IsReminderSent"`
	AttachmentRef  string     `json:"AttachmentRef,omitempty"`
	CreatedAt      time.Time  `json:"CreatedAt"`
	CreatedAtType  string     `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt      time.Time  `json:"UpdatedAt"`
	UpdatedAtType  string     `json:"UpdatedAt@odata.type,omitempty"`
}

type reminderUpdate struct {
	PartitionKey   string    `json:"PartitionKey"`
	RowKey         string    `json:"RowKey"`
	IsReminderSent bool      `json:"IsReminderSent"`
	UpdatedAt      time.Time `json:"UpdatedAt"`
	UpdatedAtType  string    `json:"UpdatedAt@odata.type"`
}

type userEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Name         string `json:"Name,omitempty"`
	Email        string `json:"Email,omitempty"`
}

func toEntity(t domain.Task) taskEntity {
	ent := taskEntity{
		PartitionKey:   t.OwnerID,
		RowKey:         t.ID,
		Title:          t.Title,
		Description:    t.Description,
		Priority:       string(t.Priority),
		Category:       t.Category,
		IsPublic:       t.IsPublic,
		IsComplete:     t.IsComplete,
		IsReminderSent: t.IsReminderSent,
		AttachmentRef:  t.AttachmentRef,
		CreatedAt:      t.CreatedAt.UTC().Truncate(time.Microsecond),
		CreatedAtType:  edmDateTime,
		UpdatedAt:      t.UpdatedAt.UTC().Truncate(time.Microsecond),
		UpdatedAtType:  edmDateTime,
	}
	if t.DueDate != nil {
		d := t.DueDate.UTC().Truncate(time.Microsecond)
		ent.DueDate = &d
		ent.DueDateType = edmDateTime
	}
	return ent
}

func (e taskEntity) task() domain.Task {
	t := domain.Task{
		ID:             e.RowKey,
		OwnerID:        e.PartitionKey,
		Title:          e.Title,
		Description:    e.Description,
		Priority:       domain.Priority(e.Priority),
		Category:       e.Category,
		IsPublic:       e.IsPublic,
		IsComplete:     e.IsComplete,
		IsReminderSent: e.IsReminderSent,
		AttachmentRef:  e.AttachmentRef,
		CreatedAt:      e.CreatedAt.UTC(),
		UpdatedAt:      e.UpdatedAt.UTC(),
	}
	if e.DueDate != nil {
		d := e.DueDate.UTC()
		t.DueDate = &d
	}
	return t
}

func (s *Tables) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.ID == "" {
		t.ID = domain.NewTaskID()
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	t.CreatedAt, t.UpdatedAt = now, now
	t.IsReminderSent = false
	payload, err := json.Marshal(toEntity(t))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		if statusCode(err) == http.StatusConflict {
			return domain.Task{}, domain.ErrConflict
		}
		return domain.Task{}, err
	}
	return t, nil
}

func (s *Tables) GetTask(ctx context.Context, id string) (domain.Task, error) {
	ent, err := s.findTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	return ent.task(), nil
}

// UpdateTask replaces the entity guarded by its ETag so concurrent merges
// never overwrite each other.
func (s *Tables) UpdateTask(ctx context.Context, id string, p domain.TaskPatch) (domain.Task, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		ent, err := s.findTask(ctx, id)
		if err != nil {
			return domain.Task{}, err
		}
		t := ent.task()
		if !p.Apply(&t) {
			return t, nil
		}
		t.UpdatedAt = s.now().UTC().Truncate(time.Microsecond)
		payload, err := json.Marshal(toEntity(t))
		if err != nil {
			return domain.Task{}, err
		}
		err = s.replace(ctx, payload, ent.ETag)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return domain.Task{}, err
		}
		log.WithField("task", id).Debug("task update raced, retrying")
	}
	return domain.Task{}, fmt.Errorf("update task %s: %w", id, domain.ErrConcurrencyConflict)
}

func (s *Tables) DeleteTask(ctx context.Context, id string) error {
	ent, err := s.findTask(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.taskTable.DeleteEntity(ctx, ent.PartitionKey, ent.RowKey, nil); err != nil {
		if statusCode(err) == http.StatusNotFound {
			return domain.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Tables) ListByOwner(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return s.list(ctx, "PartitionKey eq "+quote(ownerID))
}

func (s *Tables) ListPublicByOwner(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return s.list(ctx, "PartitionKey eq "+quote(ownerID)+" and IsPublic eq true")
}

func (s *Tables) ListDueInWindow(ctx context.Context, start, end time.Time) ([]domain.Task, error) {
	return s.list(ctx, windowFilter(start, end))
}

// MarkReminderSent is a compare-and-set on the reminder flag using the entity
// ETag; a lost race re-reads the entity and gives up when the flag is set.
func (s *Tables) MarkReminderSent(ctx context.Context, id string) (bool, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		ent, err := s.findTask(ctx, id)
		if err != nil {
			return false, err
		}
		if ent.IsReminderSent {
			return false, nil
		}
		upd := reminderUpdate{
			PartitionKey:   ent.PartitionKey,
			RowKey:         ent.RowKey,
			IsReminderSent: true,
			UpdatedAt:      s.now().UTC().Truncate(time.Microsecond),
			UpdatedAtType:  edmDateTime,
		}
		payload, err := json.Marshal(upd)
		if err != nil {
			return false, err
		}
		et := azcore.ETag(ent.ETag)
		_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
		if err == nil {
			return true, nil
		}
		switch statusCode(err) {
		case http.StatusPreconditionFailed:
			continue
		case http.StatusNotFound:
			return false, domain.ErrNotFound
		}
		return false, err
	}
	return false, fmt.Errorf("mark reminder %s: %w", id, domain.ErrConcurrencyConflict)
}

func (s *Tables) UpsertUser(ctx context.Context, p domain.Principal) error {
	if p.ID == "" {
		return domain.NewValidationError("id", "is required")
	}
	payload, err := json.Marshal(userEntity{PartitionKey: p.ID, RowKey: p.ID, Name: p.DisplayName, Email: p.Email})
	if err != nil {
		return err
	}
	_, err = s.userTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeMerge})
	return err
}

func (s *Tables) LookupContact(ctx context.Context, ownerID string) (domain.Principal, bool, error) {
	resp, err := s.userTable.GetEntity(ctx, ownerID, ownerID, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return domain.Principal{}, false, nil
		}
		return domain.Principal{}, false, err
	}
	var u userEntity
	if err := json.Unmarshal(resp.Value, &u); err != nil {
		return domain.Principal{}, false, err
	}
	if u.Email == "" {
		return domain.Principal{}, false, nil
	}
	return domain.Principal{ID: u.RowKey, Email: u.Email, DisplayName: u.Name}, true, nil
}

// ListUsers pages through the users table. Partition keys are user ids, so
// the service returns them in id order.
func (s *Tables) ListUsers(ctx context.Context) ([]domain.Principal, error) {
	pager := s.userTable.NewListEntitiesPager(nil)
	users := []domain.Principal{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var u userEntity
			if err := json.Unmarshal(raw, &u); err != nil {
				return nil, err
			}
			users = append(users, domain.Principal{ID: u.RowKey, Email: u.Email, DisplayName: u.Name})
		}
	}
	return users, nil
}

func (s *Tables) replace(ctx context.Context, payload []byte, etag string) error {
	et := azcore.ETag(etag)
	_, err := s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	if err == nil {
		return nil
	}
	switch statusCode(err) {
	case http.StatusPreconditionFailed:
		return domain.ErrConcurrencyConflict
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return err
}

// findTask locates a task by id alone; ids are unique across partitions.
func (s *Tables) findTask(ctx context.Context, id string) (taskEntity, error) {
	filter := "RowKey eq " + quote(id)
	top := int32(1)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return taskEntity{}, err
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return taskEntity{}, err
			}
			return ent, nil
		}
	}
	return taskEntity{}, domain.ErrNotFound
}

func (s *Tables) list(ctx context.Context, filter string) ([]domain.Task, error) {
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, ent.task())
		}
	}
	return tasks, nil
}

func windowFilter(start, end time.Time) string {
	return fmt.Sprintf("DueDate ge datetime'%s' and DueDate le datetime'%s' and IsComplete eq false and IsReminderSent eq false",
		start.UTC().Format(odataTimeLayout), end.UTC().Format(odataTimeLayout))
}

func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}
