package tasks

import (
	"context"

	"kanban-api/domain"
)

// Scoped binds a Service to one owner. It is the in-process implementation
// of the board's task access.
type Scoped struct {
	svc     *Service
	ownerID string
}

// Scoped returns an owner-bound view of s.
func (s *Service) Scoped(ownerID string) Scoped {
	return Scoped{svc: s, ownerID: ownerID}
}

func (s Scoped) ListTasks(ctx context.Context, boardID string) ([]domain.TaskRecord, error) {
	return s.svc.ListTasks(ctx, s.ownerID, boardID)
}

func (s Scoped) CreateTask(ctx context.Context, data domain.CreateTaskData) (domain.TaskRecord, error) {
	return s.svc.CreateTask(ctx, s.ownerID, data)
}

func (s Scoped) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.TaskRecord, error) {
	return s.svc.UpdateTask(ctx, s.ownerID, id, patch)
}

func (s Scoped) DeleteTask(ctx context.Context, id string) error {
	return s.svc.DeleteTask(ctx, s.ownerID, id)
}

func (s Scoped) NextOrder(ctx context.Context, status domain.Status, boardID string) int {
	return s.svc.NextOrder(ctx, s.ownerID, status, boardID)
}

func (s Scoped) ReorderTask(ctx context.Context, id string, status domain.Status, order int) (domain.TaskRecord, error) {
	return s.svc.ReorderTask(ctx, s.ownerID, id, status, order)
}
