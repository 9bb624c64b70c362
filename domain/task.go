package domain

import (
	"strings"
	"time"
)

// Priority is the urgency label of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority accepts the lowercase priority names. An empty string yields
// the default priority.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	default:
		return "", NewValidationError("priority", "must be one of low, medium, high")
	}
}

// Rank orders priorities for sorting: high=1, medium=2, low=3. Anything else
// ranks last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Task represents a single work item owned by one identity.
type Task struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"ownerId"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Priority       Priority   `json:"priority"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	Category       string     `json:"category,omitempty"`
	IsPublic       bool       `json:"isPublic"`
	IsComplete     bool       `json:"isComplete"`
	IsReminderSent bool       `json:"isReminderSent"`
	AttachmentRef  string     `json:"attachmentRef,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// NewTask carries the caller supplied fields of a task being created.
type NewTask struct {
	Title         string
	Description   string
	Priority      Priority
	DueDate       *time.Time
	Category      string
	IsPublic      bool
	AttachmentRef string
}

// Validate normalizes the fields and reports the first invalid one.
func (n *NewTask) Validate() error {
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		return NewValidationError("title", "is required")
	}
	p, err := ParsePriority(string(n.Priority))
	if err != nil {
		return err
	}
	n.Priority = p
	n.Category = strings.TrimSpace(n.Category)
	n.DueDate = toUTC(n.DueDate)
	return nil
}

// TaskPatch holds the fields an owner may change. Nil means untouched. Owner,
// identifier and reminder state are absent.
type TaskPatch struct {
	Title         *string
	Description   *string
	Priority      *Priority
	DueDate       *time.Time
	ClearDueDate  bool
	Category      *string
	IsPublic      *bool
	IsComplete    *bool
	AttachmentRef *string
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.DueDate == nil &&
		!p.ClearDueDate && p.Category == nil && p.IsPublic == nil && p.IsComplete == nil && p.AttachmentRef == nil
}

// Validate normalizes the patch in place.
func (p *TaskPatch) Validate() error {
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" {
			return NewValidationError("title", "must not be empty")
		}
		p.Title = &t
	}
	if p.Priority != nil {
		pr, err := ParsePriority(string(*p.Priority))
		if err != nil {
			return err
		}
		p.Priority = &pr
	}
	if p.Category != nil {
		c := strings.TrimSpace(*p.Category)
		p.Category = &c
	}
	if p.DueDate != nil && p.ClearDueDate {
		return NewValidationError("dueDate", "cannot be both set and cleared")
	}
	p.DueDate = toUTC(p.DueDate)
	return nil
}

// Apply merges the patch into t and reports whether anything changed.
func (p TaskPatch) Apply(t *Task) bool {
	changed := false
	if p.Title != nil && *p.Title != t.Title {
		t.Title = *p.Title
		changed = true
	}
	if p.Description != nil && *p.Description != t.Description {
		t.Description = *p.Description
		changed = true
	}
	if p.Priority != nil && *p.Priority != t.Priority {
		t.Priority = *p.Priority
		changed = true
	}
	if p.ClearDueDate && t.DueDate != nil {
		t.DueDate = nil
		changed = true
	}
	if p.DueDate != nil && (t.DueDate == nil || !t.DueDate.Equal(*p.DueDate)) {
		d := *p.DueDate
		t.DueDate = &d
		changed = true
	}
	if p.Category != nil && *p.Category != t.Category {
		t.Category = *p.Category
		changed = true
	}
	if p.IsPublic != nil && *p.IsPublic != t.IsPublic {
		t.IsPublic = *p.IsPublic
		changed = true
	}
	if p.IsComplete != nil && *p.IsComplete != t.IsComplete {
		t.IsComplete = *p.IsComplete
		changed = true
	}
	if p.AttachmentRef != nil && *p.AttachmentRef != t.AttachmentRef {
		t.AttachmentRef = *p.AttachmentRef
		changed = true
	}
	return changed
}

// Late reports whether the task is incomplete and past its due date.
func (t Task) Late(now time.Time) bool {
	return !t.IsComplete && t.DueDate != nil && t.DueDate.Before(now)
}

func toUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	tt := t.UTC()
	return &tt
}
