package tasks

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/storage"
)

// Store is the persisted-store boundary for task records.
type Store interface {
	ListTasks(ctx context.Context, ownerID string, f storage.TaskFilter) ([]domain.TaskRecord, error)
	MaxOrder(ctx context.Context, ownerID string, f storage.TaskFilter) (int, bool, error)
	GetTask(ctx context.Context, ownerID, id string) (domain.TaskRecord, error)
	InsertTask(ctx context.Context, ownerID string, rec domain.TaskRecord) (domain.TaskRecord, error)
	UpdateTask(ctx context.Context, ownerID, id string, patch domain.TaskPatch) (domain.TaskRecord, error)
	DeleteTask(ctx context.Context, ownerID, id string) error
}

// CleanupEnqueuer schedules removal of images left behind by deleted tasks.
type CleanupEnqueuer interface {
	EnqueueImageCleanup(ctx context.Context, req storage.ImageCleanup) error
}

// Change kinds reported to a ChangeNotifier.
const (
	ChangeCreated = "task-created"
	ChangeUpdated = "task-updated"
	ChangeMoved   = "task-moved"
	ChangeDeleted = "task-deleted"
)

// ChangeNotifier is told about every successful write.
type ChangeNotifier interface {
	TasksChanged(ctx context.Context, ownerID, change, taskID string) error
}

// Service is the task access layer. Every operation is scoped to an owner.
type Service struct {
	store   Store
	cleanup CleanupEnqueuer
	notify  ChangeNotifier
	log     *log.Logger
	newID   func() string
}

// NewService creates a Service. cleanup may be nil when images are not
// stored.
func NewService(store Store, cleanup CleanupEnqueuer, logger *log.Logger) *Service {
	if store == nil {
		panic("tasks.NewService: store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{store: store, cleanup: cleanup, log: logger, newID: uuid.NewString}
}

// SetNotifier registers n to hear about writes. It must be called before
// the Service is shared.
func (s *Service) SetNotifier(n ChangeNotifier) { s.notify = n }

func (s *Service) changed(ctx context.Context, ownerID, change, id string) {
	if s.notify == nil {
		return
	}
	if err := s.notify.TasksChanged(ctx, ownerID, change, id); err != nil {
		s.log.WithError(err).WithFields(log.Fields{"task": id, "change": change}).Warn("failed to publish task change")
	}
}

// ListTasks returns the owner's tasks, optionally limited to one board.
func (s *Service) ListTasks(ctx context.Context, ownerID, boardID string) ([]domain.TaskRecord, error) {
	recs, err := s.store.ListTasks(ctx, ownerID, storage.TaskFilter{BoardID: boardID})
	if err != nil {
		return nil, domain.NewStoreError(domain.ErrFetch, "", err)
	}
	if recs == nil {
		recs = []domain.TaskRecord{}
	}
	return recs, nil
}

// CreateTask validates data and persists a new task. Identifier and
// timestamps are assigned here and by the store.
func (s *Service) CreateTask(ctx context.Context, ownerID string, data domain.CreateTaskData) (domain.TaskRecord, error) {
	if err := domain.Validate(data); err != nil {
		return domain.TaskRecord{}, err
	}
	rec := domain.TaskRecord{
		ID:          s.newID(),
		Title:       strings.TrimSpace(data.Title),
		Description: data.Description,
		Status:      data.Status,
		Order:       data.Order,
		ImageFileID: data.ImageFileID,
		BoardID:     data.BoardID,
	}
	out, err := s.store.InsertTask(ctx, ownerID, rec)
	if err != nil {
		return domain.TaskRecord{}, domain.NewStoreError(domain.ErrCreate, "", err)
	}
	s.changed(ctx, ownerID, ChangeCreated, out.ID)
	return out, nil
}

// UpdateTask applies a partial update. A patch carrying IfMatch fails with
// domain.ErrConflict when the record changed since it was read.
func (s *Service) UpdateTask(ctx context.Context, ownerID, id string, patch domain.TaskPatch) (domain.TaskRecord, error) {
	if err := validatePatch(patch); err != nil {
		return domain.TaskRecord{}, err
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		patch.Title = &title
	}
	out, err := s.store.UpdateTask(ctx, ownerID, id, patch)
	if err != nil {
		return domain.TaskRecord{}, domain.NewStoreError(domain.ErrUpdate, id, err)
	}
	s.changed(ctx, ownerID, ChangeUpdated, id)
	return out, nil
}

// DeleteTask removes a task. Deleting a task that does not exist is an
// error. An attached image is handed to the cleanup queue.
func (s *Service) DeleteTask(ctx context.Context, ownerID, id string) error {
	rec, err := s.store.GetTask(ctx, ownerID, id)
	if err != nil {
		return domain.NewStoreError(domain.ErrDelete, id, err)
	}
	if err := s.store.DeleteTask(ctx, ownerID, id); err != nil {
		return domain.NewStoreError(domain.ErrDelete, id, err)
	}
	s.changed(ctx, ownerID, ChangeDeleted, id)
	if rec.ImageFileID != nil && *rec.ImageFileID != "" && s.cleanup != nil {
		req := storage.ImageCleanup{UserID: ownerID, FileID: *rec.ImageFileID}
		if err := s.cleanup.EnqueueImageCleanup(ctx, req); err != nil {
			s.log.WithError(err).WithFields(log.Fields{"task": id, "file": req.FileID}).Warn("failed to enqueue image cleanup")
		}
	}
	return nil
}

// NextOrder returns the order value that places a task last in its column.
// Storage failures degrade to 0.
func (s *Service) NextOrder(ctx context.Context, ownerID string, status domain.Status, boardID string) int {
	top, ok, err := s.store.MaxOrder(ctx, ownerID, storage.TaskFilter{Status: status, BoardID: boardID})
	if err != nil {
		s.log.WithError(err).WithFields(log.Fields{"status": status, "board": boardID}).Warn("failed to compute next order")
		return 0
	}
	if !ok {
		return 0
	}
	return top + 1
}

// ReorderTask moves a task to status at the given order in a single write.
func (s *Service) ReorderTask(ctx context.Context, ownerID, id string, status domain.Status, order int) (domain.TaskRecord, error) {
	if !status.Valid() {
		return domain.TaskRecord{}, &domain.ValidationError{Field: "status", Message: "must be one of todo, inprogress, done"}
	}
	if order < 0 {
		return domain.TaskRecord{}, &domain.ValidationError{Field: "order", Message: "must be at least 0"}
	}
	out, err := s.store.UpdateTask(ctx, ownerID, id, domain.TaskPatch{Status: &status, Order: &order})
	if err != nil {
		return domain.TaskRecord{}, domain.NewStoreError(domain.ErrReorder, id, err)
	}
	s.changed(ctx, ownerID, ChangeMoved, id)
	return out, nil
}

func validatePatch(patch domain.TaskPatch) error {
	if patch.Empty() {
		return &domain.ValidationError{Message: "no fields to update"}
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return &domain.ValidationError{Field: "title", Message: "is required"}
	}
	return domain.Validate(patch)
}

// IsNotFound reports whether err means the addressed task does not exist.
func IsNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
