package query

import (
	"sort"
	"strings"
	"time"

	"tasklane/domain"
)

const (
	AllTasksBucket      = "All Tasks"
	NoDateBucket        = "No Date"
	UncategorizedBucket = "Uncategorized"
)

// Bucket is one named partition of a grouped listing.
type Bucket struct {
	Key   string        `json:"key"`
	Tasks []domain.Task `json:"tasks"`
}

// Result is the ordered listing and its grouping.
type Result struct {
	Tasks  []domain.Task `json:"tasks"`
	Groups []Bucket      `json:"groups"`
}

// Engine evaluates a Spec over a set of tasks. Calendar dates used for
// grouping are taken in loc.
type Engine struct {
	loc *time.Location
	now func() time.Time
}

func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{loc: loc, now: time.Now}
}

// Run scopes tasks to owner, filters, sorts and groups them, in that order.
func (e *Engine) Run(owner string, tasks []domain.Task, spec Spec) Result {
	now := e.now()
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.OwnerID != owner {
			continue
		}
		if !Match(t, spec, now) {
			continue
		}
		out = append(out, t)
	}
	Sort(out, spec.SortBy, spec.Order)
	return Result{Tasks: out, Groups: e.group(out, spec.Group)}
}

// Match applies the conjunctive filters of spec to t.
func Match(t domain.Task, spec Spec, now time.Time) bool {
	if spec.Search != "" && !strings.Contains(strings.ToLower(t.Title), strings.ToLower(spec.Search)) {
		return false
	}
	if spec.Priority != "" && t.Priority != spec.Priority {
		return false
	}
	if spec.Category != "" && t.Category != spec.Category {
		return false
	}
	switch spec.Status {
	case StatusDone:
		return t.IsComplete
	case StatusLate:
		return t.Late(now)
	case StatusPending:
		return !t.IsComplete && (t.DueDate == nil || !t.DueDate.Before(now))
	}
	return true
}

// Sort orders tasks in place. Ties and the default ordering fall back to
// newest first by id.
func Sort(tasks []domain.Task, key SortKey, order Order) {
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].ID > tasks[j].ID })
	cmp := comparator(key)
	if cmp == nil {
		return
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		c := cmp(tasks[i], tasks[j])
		if order == Desc {
			return c > 0
		}
		return c < 0
	})
}

func comparator(key SortKey) func(a, b domain.Task) int {
	switch key {
	case SortID:
		return func(a, b domain.Task) int { return strings.Compare(a.ID, b.ID) }
	case SortCreatedAt:
		return func(a, b domain.Task) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case SortUpdatedAt:
		return func(a, b domain.Task) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	case SortDueDate:
		return compareDueDate
	case SortPriority:
		return func(a, b domain.Task) int { return a.Priority.Rank() - b.Priority.Rank() }
	case SortAlphabetical:
		return func(a, b domain.Task) int { return strings.Compare(a.Title, b.Title) }
	case SortCategory:
		return func(a, b domain.Task) int { return strings.Compare(a.Category, b.Category) }
	}
	return nil
}

// compareDueDate places tasks without a due date after every dated task.
func compareDueDate(a, b domain.Task) int {
	switch {
	case a.DueDate == nil && b.DueDate == nil:
		return 0
	case a.DueDate == nil:
		return 1
	case b.DueDate == nil:
		return -1
	}
	return a.DueDate.Compare(*b.DueDate)
}

func (e *Engine) group(tasks []domain.Task, g Group) []Bucket {
	if g == "" || g == GroupNone {
		return []Bucket{{Key: AllTasksBucket, Tasks: tasks}}
	}
	var buckets []Bucket
	index := map[string]int{}
	for _, t := range tasks {
		key := e.bucketKey(t, g)
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, Bucket{Key: key})
		}
		buckets[i].Tasks = append(buckets[i].Tasks, t)
	}
	return buckets
}

func (e *Engine) bucketKey(t domain.Task, g Group) string {
	switch g {
	case GroupDueDate:
		if t.DueDate == nil {
			return NoDateBucket
		}
		return t.DueDate.In(e.loc).Format(time.DateOnly)
	case GroupPriority:
		p := string(t.Priority)
		if p == "" {
			p = string(domain.PriorityMedium)
		}
		return strings.ToUpper(p[:1]) + p[1:]
	default:
		if t.Category == "" {
			return UncategorizedBucket
		}
		return t.Category
	}
}
