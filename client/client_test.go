package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus/hooks/test"

	"kanban-api/board"
	"kanban-api/domain"
)

var (
	_ board.Access        = (*Client)(nil)
	_ board.SummaryClient = (*Client)(nil)
)

type recorded struct {
	method  string
	path    string
	query   string
	headers http.Header
	body    []byte
}

type apiStub struct {
	mu       sync.Mutex
	requests []recorded
	handler  func(w http.ResponseWriter, r *http.Request, body []byte)
}

func (s *apiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, headers: r.Header.Clone(), body: body})
	s.mu.Unlock()
	s.handler(w, r, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	buf, _ := sonic.Marshal(v)
	_, _ = w.Write(buf)
}

func newStubClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body []byte)) (*Client, *apiStub) {
	t.Helper()
	stub := &apiStub{handler: handler}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "a.b.c"), stub
}

func TestListTasks(t *testing.T) {
	c, stub := newStubClient(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		writeJSON(w, http.StatusOK, map[string]any{"tasks": []domain.TaskRecord{{ID: "1", Title: "a", Status: domain.StatusTodo}}})
	})

	recs, err := c.ListTasks(context.Background(), "b1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "1" {
		t.Fatalf("unexpected records %#v", recs)
	}
	req := stub.requests[0]
	if req.path != "/api/tasks" || req.query != "boardId=b1" {
		t.Fatalf("unexpected request %s?%s", req.path, req.query)
	}
	if req.headers.Get("Authorization") != "Bearer a.b.c" {
		t.Fatalf("missing bearer token")
	}
}

func TestErrorsWrapDomainKinds(t *testing.T) {
	c, _ := newStubClient(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to fetch tasks"})
		case http.MethodPatch:
			writeJSON(w, http.StatusPreconditionFailed, map[string]string{"error": "concurrency conflict"})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		}
	})

	_, err := c.ListTasks(context.Background(), "")
	if !errors.Is(err, domain.ErrFetch) || StatusOf(err) != http.StatusBadGateway {
		t.Fatalf("unexpected list error %v", err)
	}
	title := "x"
	_, err = c.UpdateTask(context.Background(), "1", domain.TaskPatch{Title: &title, IfMatch: "e1"})
	if !errors.Is(err, domain.ErrUpdate) || !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("unexpected update error %v", err)
	}
	err = c.DeleteTask(context.Background(), "1")
	if !errors.Is(err, domain.ErrDelete) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unexpected delete error %v", err)
	}
}

func TestCreateTaskSendsIdempotencyKey(t *testing.T) {
	c, stub := newStubClient(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		var data domain.CreateTaskData
		_ = sonic.Unmarshal(body, &data)
		writeJSON(w, http.StatusCreated, domain.TaskRecord{ID: "srv", Title: data.Title, Status: data.Status, Order: data.Order})
	})

	rec, err := c.CreateTask(context.Background(), domain.CreateTaskData{Title: "t", Status: domain.StatusDone, Order: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID != "srv" || rec.Order != 3 {
		t.Fatalf("unexpected record %#v", rec)
	}
	if stub.requests[0].headers.Get("Idempotency-Key") == "" {
		t.Fatalf("expected idempotency key")
	}

	if _, err := c.CreateTask(context.Background(), domain.CreateTaskData{Title: "", Status: domain.StatusDone}); !domain.IsValidation(err) {
		t.Fatalf("expected local validation error, got %v", err)
	}
	if len(stub.requests) != 1 {
		t.Fatalf("invalid data must not reach the server")
	}
}

func TestNextOrderDegradesToZero(t *testing.T) {
	fail := false
	c, stub := newStubClient(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"order": 4})
	})

	if got := c.NextOrder(context.Background(), domain.StatusTodo, ""); got != 4 {
		t.Fatalf("unexpected order %d", got)
	}
	if stub.requests[0].query != "status=todo" {
		t.Fatalf("unexpected query %q", stub.requests[0].query)
	}
	fail = true
	if got := c.NextOrder(context.Background(), domain.StatusTodo, ""); got != 0 {
		t.Fatalf("expected 0 on failure, got %d", got)
	}
}

func TestGenerateSummaryRejectsMalformedBody(t *testing.T) {
	c, _ := newStubClient(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"unexpected":true}`))
	})
	if _, err := c.GenerateSummary(context.Background(), domain.SummaryRequest{TaskCounts: domain.NewSummaryCounts(domain.TaskCounts{})}); err == nil {
		t.Fatalf("expected malformed response error")
	}
}

func TestSignInStoresToken(t *testing.T) {
	c, stub := newStubClient(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"session": map[string]string{"token": "x.y.z"}})
	})
	c.Bearer = ""

	if err := c.SignIn(context.Background(), "a@b.c", "password1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if c.Bearer != "x.y.z" {
		t.Fatalf("token not stored")
	}
	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if stub.requests[1].headers.Get("Authorization") != "Bearer x.y.z" || c.Bearer != "" {
		t.Fatalf("sign out must use and then drop the token")
	}
}

func TestBoardControllerOverHTTP(t *testing.T) {
	var (
		mu    sync.Mutex
		moves []string
	)
	c, _ := newStubClient(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/tasks":
			writeJSON(w, http.StatusOK, map[string]any{"tasks": []domain.TaskRecord{
				{ID: "1", Title: "a", Status: domain.StatusTodo},
				{ID: "2", Title: "b", Status: domain.StatusDone, Order: 5},
			}})
		case r.URL.Path == "/api/tasks/next-order":
			writeJSON(w, http.StatusOK, map[string]int{"order": 6})
		case r.URL.Path == "/api/tasks/1/move":
			var req struct {
				Status domain.Status `json:"status"`
				Order  int           `json:"order"`
			}
			_ = sonic.Unmarshal(body, &req)
			mu.Lock()
			moves = append(moves, string(req.Status))
			mu.Unlock()
			writeJSON(w, http.StatusOK, domain.TaskRecord{ID: "1", Title: "a", Status: req.Status, Order: req.Order})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	logger, _ := test.NewNullLogger()
	ctrl := board.NewController(c, "", logger)
	defer ctrl.Close()
	if err := ctrl.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	ctrl.DragStart("1")
	if err := ctrl.DragEnd(context.Background(), board.DragEndEvent{ActiveID: "1", OverID: "2"}); err != nil {
		t.Fatalf("drag end: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(moves) != 1 || moves[0] != "done" {
		t.Fatalf("unexpected moves %v", moves)
	}
	if got := ctrl.Counts(); got.Done != 2 || got.Todo != 0 {
		t.Fatalf("unexpected counts %+v", got)
	}
}

func TestSignUpUsesNewSession(t *testing.T) {
	c, stub := newStubClient(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		writeJSON(w, http.StatusCreated, map[string]any{"user": map[string]string{"id": "u1"}, "session": map[string]string{"token": "n.e.w"}})
	})
	if err := c.SignUp(context.Background(), "a@b.c", "password1", "A"); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if stub.requests[0].path != "/api/auth/signup" || c.Bearer != "n.e.w" {
		t.Fatalf("unexpected sign up: path %s bearer %q", stub.requests[0].path, c.Bearer)
	}
}
