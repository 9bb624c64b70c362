package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"tasklane/domain"
)

func TestTaskEntityRoundTrip(t *testing.T) {
	due := time.Date(2025, 2, 3, 4, 5, 6, 123456789, time.UTC)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	task := domain.Task{
		ID:            "00abc",
		OwnerID:       "alice",
		Title:         "Pay rent",
		Priority:      domain.PriorityHigh,
		DueDate:       &due,
		Category:      "Finance",
		IsPublic:      true,
		AttachmentRef: "ref.pdf",
		CreatedAt:     created,
		UpdatedAt:     created,
	}

	data, err := json.Marshal(toEntity(task))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	raw := string(data)
	for _, want := range []string{`"PartitionKey":"alice"`, `"RowKey":"00abc"`, `"DueDate@odata.type":"Edm.DateTime"`} {
		if !strings.Contains(raw, want) {
			t.Fatalf("entity %s missing %s", raw, want)
		}
	}

	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := ent.task()
	if got.ID != task.ID || got.OwnerID != task.OwnerID || got.Title != task.Title || !got.IsPublic {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due.Truncate(time.Microsecond)) {
		t.Fatalf("due date not preserved: %v", got.DueDate)
	}
}

func TestTaskEntityWithoutDueDateOmitsProperty(t *testing.T) {
	data, err := json.Marshal(toEntity(domain.Task{ID: "1", OwnerID: "u", Title: "x"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "DueDate") {
		t.Fatalf("expected no DueDate property, got %s", data)
	}
}

func TestTaskEntityReadsServiceTimestamps(t *testing.T) {
	raw := `{"PartitionKey":"u","RowKey":"1","odata.etag":"W/\"datetime'x'\"","Title":"x","Priority":"low",
		"DueDate@odata.type":"Edm.DateTime","DueDate":"2025-02-03T04:05:06.1234567Z",
		"CreatedAt":"2025-01-01T00:00:00Z","UpdatedAt":"2025-01-01T00:00:00Z"}`
	var ent taskEntity
	if err := json.Unmarshal([]byte(raw), &ent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ent.ETag == "" {
		t.Fatalf("etag not captured")
	}
	task := ent.task()
	if task.DueDate == nil || task.DueDate.Nanosecond() != 123456700 {
		t.Fatalf("unexpected due date: %v", task.DueDate)
	}
}

func TestWindowFilter(t *testing.T) {
	start := time.Date(2025, 1, 2, 12, 0, 0, 0, time.FixedZone("X", 3600))
	end := start.Add(30 * time.Minute)
	got := windowFilter(start, end)
	want := "DueDate ge datetime'2025-01-02T11:00:00.0000000Z' and DueDate le datetime'2025-01-02T11:30:00.0000000Z'" +
		" and IsComplete eq false and IsReminderSent eq false"
	if got != want {
		t.Fatalf("windowFilter =\n%s\nwant\n%s", got, want)
	}
}

func TestQuoteEscapesSingleQuotes(t *testing.T) {
	if got := quote("o'brien"); got != "'o''brien'" {
		t.Fatalf("quote = %s", got)
	}
}

func TestStatusCode(t *testing.T) {
	err := &azcore.ResponseError{StatusCode: http.StatusPreconditionFailed}
	if statusCode(err) != http.StatusPreconditionFailed {
		t.Fatalf("expected 412")
	}
	if statusCode(errors.New("plain")) != 0 {
		t.Fatalf("expected 0 for non-azure error")
	}
}

func TestAlreadyExists(t *testing.T) {
	err := &azcore.ResponseError{ErrorCode: "QueueAlreadyExists"}
	if !alreadyExists(err, "QueueAlreadyExists") {
		t.Fatalf("expected already exists")
	}
	if alreadyExists(err, "TableAlreadyExists") {
		t.Fatalf("unexpected match")
	}
}

const azuriteConnStr = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
	"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
	"TableEndpoint=http://127.0.0.1:10002/devstoreaccount1;"

type cannedResponse struct {
	status int
	body   string
}

// scriptedTransport answers table requests from a fixed script and records
// what it was asked.
type scriptedTransport struct {
	mu       sync.Mutex
	script   []cannedResponse
	requests []*http.Request
}

func (s *scriptedTransport) Do(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.script) == 0 {
		return nil, errors.New("unexpected request " + req.Method + " " + req.URL.String())
	}
	next := s.script[0]
	s.script = s.script[1:]
	header := http.Header{}
	header.Set("Content-Type", "application/json;odata=minimalmetadata")
	return &http.Response{
		StatusCode: next.status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(next.body)),
		Request:    req,
	}, nil
}

func (s *scriptedTransport) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r.Method)
	}
	return out
}

func listing(etag string, sent bool) cannedResponse {
	ent := map[string]any{
		"PartitionKey":   "alice",
		"RowKey":         "t1",
		"odata.etag":     etag,
		"Title":          "Pay rent",
		"Priority":       "high",
		"IsReminderSent": sent,
		"CreatedAt":      "2025-01-01T00:00:00Z",
		"UpdatedAt":      "2025-01-01T00:00:00Z",
	}
	body, _ := json.Marshal(map[string]any{"value": []any{ent}})
	return cannedResponse{status: http.StatusOK, body: string(body)}
}

func newScriptedTables(t *testing.T, script ...cannedResponse) (*Tables, *scriptedTransport) {
	t.Helper()
	tr := &scriptedTransport{script: script}
	store, err := newTables(azuriteConnStr, "tasks", "users", tr)
	if err != nil {
		t.Fatalf("new tables: %v", err)
	}
	return store, tr
}

func TestTablesMarkReminderSentRetriesLostRace(t *testing.T) {
	store, tr := newScriptedTables(t,
		listing(`W/"1"`, false),
		cannedResponse{status: http.StatusPreconditionFailed, body: `{"odata.error":{"code":"UpdateConditionNotSatisfied"}}`},
		listing(`W/"2"`, false),
		cannedResponse{status: http.StatusNoContent},
	)

	claimed, err := store.MarkReminderSent(context.Background(), "t1")
	if err != nil || !claimed {
		t.Fatalf("expected claim after retry, got %v %v", claimed, err)
	}
	methods := tr.methods()
	want := []string{http.MethodGet, http.MethodPatch, http.MethodGet, http.MethodPatch}
	if strings.Join(methods, ",") != strings.Join(want, ",") {
		t.Fatalf("requests = %v, want %v", methods, want)
	}
	if got := tr.requests[3].Header.Get("If-Match"); got != `W/"2"` {
		t.Fatalf("second merge used etag %q", got)
	}
}

func TestTablesMarkReminderSentLosesToConcurrentClaim(t *testing.T) {
	store, tr := newScriptedTables(t,
		listing(`W/"1"`, false),
		cannedResponse{status: http.StatusPreconditionFailed, body: `{}`},
		listing(`W/"2"`, true),
	)

	claimed, err := store.MarkReminderSent(context.Background(), "t1")
	if err != nil || claimed {
		t.Fatalf("expected lost claim without error, got %v %v", claimed, err)
	}
	if n := len(tr.methods()); n != 3 {
		t.Fatalf("expected 3 requests, got %d", n)
	}
}

func TestTablesMarkReminderSentAlreadySet(t *testing.T) {
	store, tr := newScriptedTables(t, listing(`W/"1"`, true))

	claimed, err := store.MarkReminderSent(context.Background(), "t1")
	if err != nil || claimed {
		t.Fatalf("expected false, got %v %v", claimed, err)
	}
	if n := len(tr.methods()); n != 1 {
		t.Fatalf("expected no merge, got %d requests", n)
	}
}

func TestTablesMarkReminderSentMissing(t *testing.T) {
	store, _ := newScriptedTables(t, cannedResponse{status: http.StatusOK, body: `{"value":[]}`})

	if _, err := store.MarkReminderSent(context.Background(), "t1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTablesMarkReminderSentDeletedMidClaim(t *testing.T) {
	store, _ := newScriptedTables(t,
		listing(`W/"1"`, false),
		cannedResponse{status: http.StatusNotFound, body: `{"odata.error":{"code":"ResourceNotFound"}}`},
	)

	if _, err := store.MarkReminderSent(context.Background(), "t1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTablesMarkReminderSentGivesUpAfterRepeatedRaces(t *testing.T) {
	var script []cannedResponse
	for i := 0; i < maxCASAttempts; i++ {
		script = append(script, listing(`W/"x"`, false), cannedResponse{status: http.StatusPreconditionFailed, body: `{}`})
	}
	store, _ := newScriptedTables(t, script...)

	if _, err := store.MarkReminderSent(context.Background(), "t1"); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
}
