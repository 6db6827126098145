package board

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"kanban-api/domain"
)

type countingClient struct {
	mu    sync.Mutex
	calls int
	reqs  []domain.SummaryRequest
	resp  domain.SummaryResponse
	err   error
}

func (c *countingClient) GenerateSummary(_ context.Context, req domain.SummaryRequest) (domain.SummaryResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.reqs = append(c.reqs, req)
	return c.resp, c.err
}

func (c *countingClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func strp(s string) *string { return &s }

func snapshot() []domain.ViewTask {
	return []domain.ViewTask{
		{ID: "1", Name: "Write", Column: "todo", Content: strp("draft")},
		{ID: "2", Name: "Read", Column: "todo"},
		{ID: "3", Name: "Ship", Column: "done"},
	}
}

func newTestRequester(client SummaryClient, now *time.Time) *SummaryRequester {
	logger, _ := test.NewNullLogger()
	r := NewSummaryRequester(client, 10*time.Millisecond, logger, nil)
	r.now = func() time.Time { return *now }
	return r
}

func TestSummaryRequesterCachesIdenticalSnapshots(t *testing.T) {
	client := &countingClient{resp: domain.SummaryResponse{Summary: "All good"}}
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.Local)
	r := newTestRequester(client, &now)
	defer r.Close()

	for i := 0; i < 2; i++ {
		resp, err := r.Request(context.Background(), snapshot())
		if err != nil || resp.Summary != "All good" {
			t.Fatalf("unexpected response %#v %v", resp, err)
		}
	}
	if client.Calls() != 1 {
		t.Fatalf("expected one call for identical snapshots, got %d", client.Calls())
	}

	changed := snapshot()
	changed[1].Column = "inprogress"
	if _, err := r.Request(context.Background(), changed); err != nil {
		t.Fatalf("request: %v", err)
	}
	if client.Calls() != 2 {
		t.Fatalf("expected a new call for a changed snapshot, got %d", client.Calls())
	}
	req := client.reqs[1]
	if req.TaskCounts.Counts() != (domain.TaskCounts{Todo: 1, InProgress: 1, Done: 1}) {
		t.Fatalf("unexpected counts %+v", req.TaskCounts.Counts())
	}
}

func TestSummaryRequesterCacheExpires(t *testing.T) {
	client := &countingClient{resp: domain.SummaryResponse{Summary: "All good"}}
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.Local)
	r := newTestRequester(client, &now)
	defer r.Close()

	_, _ = r.Request(context.Background(), snapshot())
	now = now.Add(summaryFreshness - time.Second)
	_, _ = r.Request(context.Background(), snapshot())
	if client.Calls() != 1 {
		t.Fatalf("expected cached answer inside the window, got %d calls", client.Calls())
	}
	now = now.Add(2 * time.Second)
	_, _ = r.Request(context.Background(), snapshot())
	if client.Calls() != 2 {
		t.Fatalf("expected a new call after the window, got %d calls", client.Calls())
	}
}

func TestSummaryRequesterFallbackIsCached(t *testing.T) {
	client := &countingClient{err: errors.New("status 500")}
	now := time.Date(2024, 5, 1, 14, 0, 0, 0, time.Local)
	r := newTestRequester(client, &now)
	defer r.Close()

	resp, err := r.Request(context.Background(), snapshot())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !resp.Fallback || resp.Summary != "Good afternoon! 1 tasks completed, 2 to go!" {
		t.Fatalf("unexpected fallback %#v", resp)
	}
	if _, err := r.Request(context.Background(), snapshot()); err != nil {
		t.Fatalf("request: %v", err)
	}
	if client.Calls() != 1 {
		t.Fatalf("fallback answers must be cached too, got %d calls", client.Calls())
	}
}

func TestSummaryRequesterEmptyAnswerFallsBack(t *testing.T) {
	client := &countingClient{resp: domain.SummaryResponse{Summary: "  "}}
	now := time.Date(2024, 5, 1, 23, 0, 0, 0, time.Local)
	r := newTestRequester(client, &now)
	defer r.Close()

	resp, _ := r.Request(context.Background(), snapshot())
	if !resp.Fallback || !strings.HasPrefix(resp.Summary, "Working late?") {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestSummaryRequesterDebounces(t *testing.T) {
	client := &countingClient{resp: domain.SummaryResponse{Summary: "ok"}}
	results := make(chan domain.SummaryResponse, 4)
	logger, _ := test.NewNullLogger()
	r := NewSummaryRequester(client, 20*time.Millisecond, logger, func(resp domain.SummaryResponse) { results <- resp })
	defer r.Close()

	tasks := snapshot()
	for i := 0; i < 5; i++ {
		tasks[0].Name = strings.Repeat("x", i+1)
		r.Schedule(tasks)
	}
	select {
	case <-results:
	case <-time.After(time.Second):
		t.Fatalf("debounced request never fired")
	}
	time.Sleep(50 * time.Millisecond)
	if client.Calls() != 1 {
		t.Fatalf("expected a single coalesced call, got %d", client.Calls())
	}
	if got := client.reqs[0].Tasks[0].Name; got != "xxxxx" {
		t.Fatalf("expected the latest snapshot, got %q", got)
	}
}

func TestSummaryRequesterCloseStopsPending(t *testing.T) {
	client := &countingClient{resp: domain.SummaryResponse{Summary: "ok"}}
	logger, _ := test.NewNullLogger()
	r := NewSummaryRequester(client, 20*time.Millisecond, logger, nil)

	r.Schedule(snapshot())
	r.Close()
	r.Schedule(snapshot())
	time.Sleep(60 * time.Millisecond)
	if client.Calls() != 0 {
		t.Fatalf("closed requester must not call out, got %d", client.Calls())
	}
}

func TestSignatureUsesContentPrefix(t *testing.T) {
	long := strings.Repeat("é", 50)
	a := []domain.ViewTask{{ID: "1", Column: "todo", Name: "n", Content: strp(long + "tail one")}}
	b := []domain.ViewTask{{ID: "1", Column: "todo", Name: "n", Content: strp(long + "tail two")}}
	if Signature(a) != Signature(b) {
		t.Fatalf("content past the prefix must not change the signature")
	}
	b[0].Name = "m"
	if Signature(a) == Signature(b) {
		t.Fatalf("name changes must change the signature")
	}
}

func TestSampleTasksLimitsPerColumn(t *testing.T) {
	var tasks []domain.ViewTask
	for i := 0; i < 8; i++ {
		tasks = append(tasks, domain.ViewTask{ID: string(rune('a' + i)), Name: "t", Column: "todo", Content: strp(strings.Repeat("c", 100))})
	}
	tasks = append(tasks, domain.ViewTask{ID: "z", Name: "d", Column: "done"})

	got := sampleTasks(tasks)
	if len(got) != samplePerColumn+1 {
		t.Fatalf("expected %d sampled tasks, got %d", samplePerColumn+1, len(got))
	}
	if n := len([]rune(*got[0].Content)); n != sampleContentRunes {
		t.Fatalf("expected content cut to %d runes, got %d", sampleContentRunes, n)
	}
}

func TestControllerFeedsRequester(t *testing.T) {
	client := &countingClient{resp: domain.SummaryResponse{Summary: "ok"}}
	results := make(chan domain.SummaryResponse, 4)
	logger, _ := test.NewNullLogger()
	r := NewSummaryRequester(client, 10*time.Millisecond, logger, func(resp domain.SummaryResponse) { results <- resp })
	defer r.Close()

	c := NewController(seededAccess(), "", logger)
	c.OnChange(func(b domain.ViewBoard) { r.Schedule(b.Tasks) })
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	select {
	case resp := <-results:
		if resp.Summary != "ok" {
			t.Fatalf("unexpected summary %#v", resp)
		}
	case <-time.After(time.Second):
		t.Fatalf("no summary after load")
	}
	if got := client.reqs[0].TaskCounts.Counts(); got != (domain.TaskCounts{Todo: 2, InProgress: 1, Done: 1}) {
		t.Fatalf("unexpected counts %+v", got)
	}
}
