package query

import (
	"net/url"
	"strings"

	"tasklane/domain"
)

// Status selects tasks by completion and lateness.
type Status string

const (
	StatusAny     Status = ""
	StatusDone    Status = "done"
	StatusPending Status = "pending"
	StatusLate    Status = "late"
)

// SortKey names the field a listing is ordered by.
type SortKey string

const (
	SortDefault      SortKey = ""
	SortID           SortKey = "id"
	SortCreatedAt    SortKey = "createdAt"
	SortUpdatedAt    SortKey = "updatedAt"
	SortDueDate      SortKey = "dueDate"
	SortPriority     SortKey = "priority"
	SortAlphabetical SortKey = "alphabetical"
	SortCategory     SortKey = "category"
)

// Order is the sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Group partitions a listing into named buckets.
type Group string

const (
	GroupNone     Group = "none"
	GroupDueDate  Group = "dueDate"
	GroupPriority Group = "priority"
	GroupProject  Group = "project"
)

// Spec is the filter/sort/group request of a task listing. The zero value
// lists every task newest first.
type Spec struct {
	Search   string
	Priority domain.Priority
	Category string
	Status   Status
	SortBy   SortKey
	Order    Order
	Group    Group
}

var sortAliases = map[string]SortKey{
	"id":           SortID,
	"dateadded":    SortID,
	"createdat":    SortCreatedAt,
	"updatedat":    SortUpdatedAt,
	"duedate":      SortDueDate,
	"priority":     SortPriority,
	"alphabetical": SortAlphabetical,
	"title":        SortAlphabetical,
	"category":     SortCategory,
}

var groupAliases = map[string]Group{
	"none":     GroupNone,
	"duedate":  GroupDueDate,
	"priority": GroupPriority,
	"project":  GroupProject,
}

// ParseSortKey resolves a caller supplied sort field. Unknown names resolve to
// the default ordering.
func ParseSortKey(s string) SortKey {
	return sortAliases[strings.ToLower(strings.TrimSpace(s))]
}

// ParseOrder returns Desc only when asked for explicitly.
func ParseOrder(s string) Order {
	if strings.EqualFold(strings.TrimSpace(s), string(Desc)) {
		return Desc
	}
	return Asc
}

// ParseGroup resolves a caller supplied grouping. Unknown names mean no grouping.
func ParseGroup(s string) Group {
	if g, ok := groupAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return g
	}
	return GroupNone
}

// ParseStatus rejects anything but the three known statuses.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusAny, StatusDone, StatusPending, StatusLate:
		return st, nil
	default:
		return "", domain.NewValidationError("status", "must be one of done, pending, late")
	}
}

// ParseSpec reads the flat listing parameters.
func ParseSpec(v url.Values) (Spec, error) {
	spec := Spec{
		Search:   strings.TrimSpace(v.Get("search")),
		Category: strings.TrimSpace(v.Get("category")),
		SortBy:   ParseSortKey(v.Get("sortBy")),
		Order:    ParseOrder(v.Get("order")),
		Group:    ParseGroup(v.Get("group")),
	}
	if raw := strings.TrimSpace(v.Get("priority")); raw != "" {
		p, err := domain.ParsePriority(raw)
		if err != nil {
			return Spec{}, err
		}
		spec.Priority = p
	}
	st, err := ParseStatus(v.Get("status"))
	if err != nil {
		return Spec{}, err
	}
	spec.Status = st
	return spec, nil
}
