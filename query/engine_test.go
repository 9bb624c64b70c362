package query

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"tasklane/domain"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func fixedEngine() *Engine {
	e := NewEngine(time.UTC)
	e.now = func() time.Time { return testNow }
	return e
}

func at(d time.Duration) *time.Time {
	t := testNow.Add(d)
	return &t
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func equalIDs(got []domain.Task, want ...string) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestRunScopesToOwner(t *testing.T) {
	tasks := []domain.Task{
		{ID: "1", OwnerID: "alice", Title: "mine"},
		{ID: "2", OwnerID: "bob", Title: "theirs", IsPublic: true},
	}
	res := fixedEngine().Run("alice", tasks, Spec{})
	if !equalIDs(res.Tasks, "1") {
		t.Fatalf("expected only alice's task, got %v", ids(res.Tasks))
	}
}

func TestStatusFilters(t *testing.T) {
	tasks := []domain.Task{
		{ID: "late", OwnerID: "u", Title: "a", Priority: domain.PriorityHigh, DueDate: at(-time.Hour)},
		{ID: "pending", OwnerID: "u", Title: "b", Priority: domain.PriorityMedium, DueDate: at(time.Hour)},
		{ID: "undated", OwnerID: "u", Title: "c", Priority: domain.PriorityLow},
		{ID: "done", OwnerID: "u", Title: "d", Priority: domain.PriorityLow, DueDate: at(-time.Hour), IsComplete: true},
	}
	e := fixedEngine()
	tests := []struct {
		status Status
		want   []string
	}{
		{status: StatusLate, want: []string{"late"}},
		{status: StatusPending, want: []string{"undated", "pending"}},
		{status: StatusDone, want: []string{"done"}},
		{status: StatusAny, want: []string{"undated", "pending", "late", "done"}},
	}
	for _, tt := range tests {
		res := e.Run("u", tasks, Spec{Status: tt.status})
		if !equalIDs(res.Tasks, tt.want...) {
			t.Fatalf("status %q: got %v, want %v", tt.status, ids(res.Tasks), tt.want)
		}
	}
}

func TestSearchPriorityCategoryFilters(t *testing.T) {
	tasks := []domain.Task{
		{ID: "1", OwnerID: "u", Title: "Buy MILK", Priority: domain.PriorityLow, Category: "Errands"},
		{ID: "2", OwnerID: "u", Title: "milkshake", Priority: domain.PriorityHigh, Category: "Fun"},
		{ID: "3", OwnerID: "u", Title: "Pay rent", Priority: domain.PriorityHigh, Category: "Finance"},
	}
	e := fixedEngine()
	if res := e.Run("u", tasks, Spec{Search: "milk"}); !equalIDs(res.Tasks, "2", "1") {
		t.Fatalf("search: got %v", ids(res.Tasks))
	}
	if res := e.Run("u", tasks, Spec{Search: "milk", Priority: domain.PriorityHigh}); !equalIDs(res.Tasks, "2") {
		t.Fatalf("search+priority: got %v", ids(res.Tasks))
	}
	if res := e.Run("u", tasks, Spec{Category: "Finance"}); !equalIDs(res.Tasks, "3") {
		t.Fatalf("category: got %v", ids(res.Tasks))
	}
}

func TestSortDefaultIsNewestFirst(t *testing.T) {
	tasks := []domain.Task{{ID: "a"}, {ID: "c"}, {ID: "b"}}
	Sort(tasks, SortDefault, Asc)
	if !equalIDs(tasks, "c", "b", "a") {
		t.Fatalf("got %v", ids(tasks))
	}
	Sort(tasks, SortKey("bogus"), Asc)
	if !equalIDs(tasks, "c", "b", "a") {
		t.Fatalf("unknown key should fall back to default, got %v", ids(tasks))
	}
}

func TestSortDueDateMissingLast(t *testing.T) {
	tasks := []domain.Task{
		{ID: "1", DueDate: nil},
		{ID: "2", DueDate: at(2 * time.Hour)},
		{ID: "3", DueDate: at(time.Hour)},
	}
	Sort(tasks, SortDueDate, Asc)
	if !equalIDs(tasks, "3", "2", "1") {
		t.Fatalf("asc: got %v", ids(tasks))
	}
	Sort(tasks, SortDueDate, Desc)
	if !equalIDs(tasks, "1", "2", "3") {
		t.Fatalf("desc: got %v", ids(tasks))
	}
}

func TestSortTiesBreakByIDDesc(t *testing.T) {
	tasks := []domain.Task{
		{ID: "1", Title: "same"},
		{ID: "3", Title: "same"},
		{ID: "2", Title: "other"},
	}
	Sort(tasks, SortAlphabetical, Asc)
	if !equalIDs(tasks, "2", "3", "1") {
		t.Fatalf("got %v", ids(tasks))
	}
}

func TestGroupNoneIsSingleBucket(t *testing.T) {
	tasks := []domain.Task{{ID: "1", OwnerID: "u", Title: "x"}}
	res := fixedEngine().Run("u", tasks, Spec{Group: GroupNone})
	if len(res.Groups) != 1 || res.Groups[0].Key != AllTasksBucket || len(res.Groups[0].Tasks) != 1 {
		t.Fatalf("unexpected groups: %+v", res.Groups)
	}
}

func TestGroupByDueDate(t *testing.T) {
	tasks := []domain.Task{
		{ID: "1", OwnerID: "u", Title: "a", DueDate: at(24 * time.Hour)},
		{ID: "2", OwnerID: "u", Title: "b"},
		{ID: "3", OwnerID: "u", Title: "c", DueDate: at(25 * time.Hour)},
	}
	res := fixedEngine().Run("u", tasks, Spec{SortBy: SortDueDate, Group: GroupDueDate})
	if len(res.Groups) != 2 {
		t.Fatalf("expected 2 buckets, got %+v", res.Groups)
	}
	if res.Groups[0].Key != "2025-06-16" || !equalIDs(res.Groups[0].Tasks, "1", "3") {
		t.Fatalf("unexpected first bucket: %+v", res.Groups[0])
	}
	if res.Groups[1].Key != NoDateBucket || !equalIDs(res.Groups[1].Tasks, "2") {
		t.Fatalf("unexpected second bucket: %+v", res.Groups[1])
	}
}

func TestGroupByDueDateUsesEngineLocation(t *testing.T) {
	loc := time.FixedZone("UTC-14", -14*60*60)
	e := NewEngine(loc)
	e.now = func() time.Time { return testNow }
	tasks := []domain.Task{{ID: "1", OwnerID: "u", Title: "a", DueDate: at(time.Hour)}}
	res := e.Run("u", tasks, Spec{Group: GroupDueDate})
	if res.Groups[0].Key != "2025-06-14" {
		t.Fatalf("expected local calendar date, got %q", res.Groups[0].Key)
	}
}

func TestPriorityAndProjectScenario(t *testing.T) {
	tasks := []domain.Task{
		{ID: "0001", OwnerID: "u", Title: "Buy milk", Priority: domain.PriorityLow, Category: "Errands"},
		{ID: "0002", OwnerID: "u", Title: "Pay rent", Priority: domain.PriorityHigh, Category: "Finance"},
	}
	e := fixedEngine()

	res := e.Run("u", tasks, Spec{SortBy: SortPriority})
	if res.Tasks[0].Title != "Pay rent" || res.Tasks[1].Title != "Buy milk" {
		t.Fatalf("priority sort: got %v", ids(res.Tasks))
	}

	res = e.Run("u", tasks, Spec{Group: GroupProject})
	keys := map[string]int{}
	for _, b := range res.Groups {
		keys[b.Key] = len(b.Tasks)
	}
	if len(keys) != 2 || keys["Errands"] != 1 || keys["Finance"] != 1 {
		t.Fatalf("project grouping: got %+v", res.Groups)
	}
}

func TestGroupProjectUncategorizedAndPriorityLabels(t *testing.T) {
	tasks := []domain.Task{
		{ID: "1", OwnerID: "u", Title: "a", Priority: domain.PriorityHigh},
		{ID: "2", OwnerID: "u", Title: "b", Priority: domain.PriorityLow, Category: "Home"},
	}
	e := fixedEngine()
	res := e.Run("u", tasks, Spec{Group: GroupProject})
	if res.Groups[0].Key != "Home" || res.Groups[1].Key != UncategorizedBucket {
		t.Fatalf("unexpected project buckets: %+v", res.Groups)
	}
	res = e.Run("u", tasks, Spec{Group: GroupPriority})
	if res.Groups[0].Key != "Low" || res.Groups[1].Key != "High" {
		t.Fatalf("unexpected priority buckets: %+v", res.Groups)
	}
}

func genTasks(t *rapid.T) []domain.Task {
	n := rapid.IntRange(0, 30).Draw(t, "n")
	prios := []domain.Priority{domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh}
	out := make([]domain.Task, n)
	for i := range out {
		task := domain.Task{
			ID:         domain.NewTaskID(),
			OwnerID:    "u",
			Title:      rapid.StringMatching(`[a-c]{1,3}`).Draw(t, "title"),
			Priority:   rapid.SampledFrom(prios).Draw(t, "priority"),
			Category:   rapid.SampledFrom([]string{"", "Home", "Work"}).Draw(t, "category"),
			IsComplete: rapid.Bool().Draw(t, "complete"),
		}
		if rapid.Bool().Draw(t, "dated") {
			task.DueDate = at(time.Duration(rapid.IntRange(-72, 72).Draw(t, "hours")) * time.Hour)
		}
		out[i] = task
	}
	return out
}

func TestPrioritySortPermutationInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := genTasks(t)
		shuffled := rapid.Permutation(tasks).Draw(t, "perm")

		Sort(tasks, SortPriority, Asc)
		Sort(shuffled, SortPriority, Asc)

		for i := range tasks {
			if tasks[i].ID != shuffled[i].ID {
				t.Fatalf("order depends on input permutation at %d", i)
			}
			if i > 0 && tasks[i-1].Priority.Rank() > tasks[i].Priority.Rank() {
				t.Fatalf("priority order violated at %d", i)
			}
		}
	})
}

func TestAlphabeticalSortIsLexicographic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := genTasks(t)
		Sort(tasks, SortAlphabetical, Asc)
		for i := 1; i < len(tasks); i++ {
			if tasks[i-1].Title > tasks[i].Title {
				t.Fatalf("titles out of order: %q before %q", tasks[i-1].Title, tasks[i].Title)
			}
		}
	})
}

func TestGroupingPreservesFilteredMembership(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := genTasks(t)
		e := fixedEngine()
		group := rapid.SampledFrom([]Group{GroupNone, GroupDueDate, GroupPriority, GroupProject}).Draw(t, "group")
		res := e.Run("u", tasks, Spec{Status: StatusPending, Group: group})

		total := 0
		for _, b := range res.Groups {
			for _, task := range b.Tasks {
				total++
				if task.IsComplete || task.Late(testNow) {
					t.Fatalf("bucket %q holds non-pending task %s", b.Key, task.ID)
				}
			}
		}
		if total != len(res.Tasks) {
			t.Fatalf("grouping changed membership: %d grouped vs %d listed", total, len(res.Tasks))
		}
	})
}
