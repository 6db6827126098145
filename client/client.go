// Package client talks to the kanban HTTP API. Client satisfies the board
// package's Access and SummaryClient interfaces.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"kanban-api/domain"
)

// APIError is a non-2xx answer of the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// Unwrap maps statuses onto the domain sentinels.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return domain.ErrConflict
	}
	return nil
}

// Client wraps http.Client with the API's routes.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a new Client.
func New(baseURL, bearer string) *Client {
	return &Client{BaseURL: strings.TrimSuffix(baseURL, "/"), Bearer: bearer, HTTP: &http.Client{}}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any, headers ...string) error {
	var rdr io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Error string `json:"error"`
		}
		if sonic.Unmarshal(data, &eb) == nil {
			apiErr.Message = eb.Error
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return sonic.Unmarshal(data, out)
}

func withQuery(path string, kv ...string) string {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			q.Set(kv[i], kv[i+1])
		}
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// ListTasks returns the caller's tasks, optionally limited to one board.
func (c *Client) ListTasks(ctx context.Context, boardID string) ([]domain.TaskRecord, error) {
	var resp struct {
		Tasks []domain.TaskRecord `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, withQuery("/api/tasks", "boardId", boardID), nil, &resp); err != nil {
		return nil, domain.NewStoreError(domain.ErrFetch, "", err)
	}
	if resp.Tasks == nil {
		resp.Tasks = []domain.TaskRecord{}
	}
	return resp.Tasks, nil
}

// CreateTask creates a task. Each call carries its own idempotency key.
func (c *Client) CreateTask(ctx context.Context, data domain.CreateTaskData) (domain.TaskRecord, error) {
	if err := domain.Validate(data); err != nil {
		return domain.TaskRecord{}, err
	}
	var rec domain.TaskRecord
	if err := c.do(ctx, http.MethodPost, "/api/tasks", data, &rec, "Idempotency-Key", uuid.NewString()); err != nil {
		return domain.TaskRecord{}, domain.NewStoreError(domain.ErrCreate, "", err)
	}
	return rec, nil
}

// UpdateTask applies a partial update. A non-empty patch.IfMatch is sent as
// If-Match.
func (c *Client) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.TaskRecord, error) {
	var headers []string
	if patch.IfMatch != "" {
		headers = append(headers, "If-Match", patch.IfMatch)
	}
	var rec domain.TaskRecord
	if err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), patch, &rec, headers...); err != nil {
		return domain.TaskRecord{}, domain.NewStoreError(domain.ErrUpdate, id, err)
	}
	return rec, nil
}

// DeleteTask deletes a task. Deleting a missing task is an error.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil); err != nil {
		return domain.NewStoreError(domain.ErrDelete, id, err)
	}
	return nil
}

// NextOrder returns the next order in a column, or 0 when the lookup fails.
func (c *Client) NextOrder(ctx context.Context, status domain.Status, boardID string) int {
	var resp struct {
		Order int `json:"order"`
	}
	path := withQuery("/api/tasks/next-order", "status", string(status), "boardId", boardID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0
	}
	return resp.Order
}

// ReorderTask moves a task to status at order.
func (c *Client) ReorderTask(ctx context.Context, id string, status domain.Status, order int) (domain.TaskRecord, error) {
	body := struct {
		Status domain.Status `json:"status"`
		Order  int           `json:"order"`
	}{Status: status, Order: order}
	var rec domain.TaskRecord
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/move", body, &rec); err != nil {
		return domain.TaskRecord{}, domain.NewStoreError(domain.ErrReorder, id, err)
	}
	return rec, nil
}

// GenerateSummary requests the status sentence for a snapshot.
func (c *Client) GenerateSummary(ctx context.Context, req domain.SummaryRequest) (domain.SummaryResponse, error) {
	var resp domain.SummaryResponse
	if err := c.do(ctx, http.MethodPost, "/api/generate-summary", req, &resp); err != nil {
		return domain.SummaryResponse{}, err
	}
	if strings.TrimSpace(resp.Summary) == "" {
		return domain.SummaryResponse{}, errors.New("malformed summary response")
	}
	return resp, nil
}

type sessionBody struct {
	Session struct {
		Token string `json:"token"`
	} `json:"session"`
}

func (c *Client) useSession(resp sessionBody) error {
	if resp.Session.Token == "" {
		return errors.New("session without token")
	}
	c.Bearer = resp.Session.Token
	return nil
}

// SignUp creates an account and uses the new session for later calls.
func (c *Client) SignUp(ctx context.Context, email, password, name string) error {
	var resp sessionBody
	body := map[string]string{"email": email, "password": password, "name": name}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", body, &resp); err != nil {
		return err
	}
	return c.useSession(resp)
}

// SignIn opens a session and uses its token for later calls.
func (c *Client) SignIn(ctx context.Context, email, password string) error {
	var resp sessionBody
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/session", body, &resp); err != nil {
		return err
	}
	return c.useSession(resp)
}

// SignOut ends the current session.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/api/auth/session", nil, nil); err != nil {
		return err
	}
	c.Bearer = ""
	return nil
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
