package api

import (
	"context"
	"io"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/identity"
)

// TaskService is the task access layer used by handlers.
type TaskService interface {
	ListTasks(ctx context.Context, ownerID, boardID string) ([]domain.TaskRecord, error)
	CreateTask(ctx context.Context, ownerID string, data domain.CreateTaskData) (domain.TaskRecord, error)
	UpdateTask(ctx context.Context, ownerID, id string, patch domain.TaskPatch) (domain.TaskRecord, error)
	DeleteTask(ctx context.Context, ownerID, id string) error
	NextOrder(ctx context.Context, ownerID string, status domain.Status, boardID string) int
	ReorderTask(ctx context.Context, ownerID, id string, status domain.Status, order int) (domain.TaskRecord, error)
}

// Summarizer answers summary requests.
type Summarizer interface {
	Summarize(ctx context.Context, req domain.SummaryRequest) (domain.SummaryResponse, error)
}

// Identity manages accounts and sessions.
type Identity interface {
	SignUp(ctx context.Context, email, password, name string) (domain.User, identity.Session, error)
	CreateSession(ctx context.Context, email, password string) (identity.Session, error)
	CurrentUser(ctx context.Context, token string) (domain.User, error)
	DeleteSession(ctx context.Context, token string) error
}

// Images stores task images.
type Images interface {
	Upload(ctx context.Context, ownerID, contentType string, r io.Reader) (string, error)
	Delete(ctx context.Context, ownerID, fileID string) error
	URL(ownerID, fileID string) string
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(ctx context.Context, header string) (string, error)
}

// Deduper remembers idempotency keys of task creations.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Complete stores the result of the request that claimed the key.
	Complete(ctx context.Context, userID, key, result string) error
	// Result returns the stored result of a claimed key, or "" while the
	// first request is still running.
	Result(ctx context.Context, userID, key string) (string, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// ChangeFeed wakes live board streams after the user's tasks change.
type ChangeFeed interface {
	Subscribe(userID string) (<-chan struct{}, func())
}

// Deps holds everything Register wires into routes. Identity, Images,
// Changes and Deduper are optional.
type Deps struct {
	Tasks    TaskService
	Summary  Summarizer
	Identity Identity
	Images   Images
	Changes  ChangeFeed
	Auth     Authenticator
	Deduper  Deduper
	Health   func(ctx context.Context) error
	Log      *log.Logger
}
