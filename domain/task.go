package domain

import "time"

// Status is the column a task lives in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inprogress"
	StatusDone       Status = "done"
)

// Statuses lists the fixed board columns in display order.
var Statuses = [...]Status{StatusTodo, StatusInProgress, StatusDone}

// Valid reports whether s is one of the fixed board columns.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// TaskRecord is the persisted shape of a task.
type TaskRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Status      Status    `json:"status"`
	Order       int       `json:"order"`
	ImageFileID *string   `json:"imageFileId,omitempty"`
	BoardID     *string   `json:"boardId"`
	UserID      *string   `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	// ETag is the storage concurrency token of the record as read.
	ETag string `json:"etag,omitempty"`
}

// CreateTaskData holds the caller-supplied fields of a new task.
type CreateTaskData struct {
	Title       string  `json:"title" validate:"required,notblank,max=500"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=5000"`
	Status      Status  `json:"status" validate:"required,status"`
	Order       int     `json:"order" validate:"gte=0"`
	ImageFileID *string `json:"imageFileId,omitempty"`
	BoardID     *string `json:"boardId,omitempty"`
	UserID      *string `json:"userId,omitempty"`
}

// TaskPatch is a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string `json:"title,omitempty" validate:"omitempty,notblank,max=500"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=5000"`
	Status      *Status `json:"status,omitempty" validate:"omitempty,status"`
	Order       *int    `json:"order,omitempty" validate:"omitempty,gte=0"`
	ImageFileID *string `json:"imageFileId,omitempty"`
	BoardID     *string `json:"boardId,omitempty"`

	// IfMatch makes the update conditional on the stored ETag. Empty means
	// last write wins.
	IfMatch string `json:"-"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Order == nil && p.ImageFileID == nil && p.BoardID == nil
}

// Apply returns a copy of rec with the patch fields applied.
func (p TaskPatch) Apply(rec TaskRecord) TaskRecord {
	if p.Title != nil {
		rec.Title = *p.Title
	}
	if p.Description != nil {
		rec.Description = p.Description
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.Order != nil {
		rec.Order = *p.Order
	}
	if p.ImageFileID != nil {
		rec.ImageFileID = p.ImageFileID
	}
	if p.BoardID != nil {
		rec.BoardID = p.BoardID
	}
	return rec
}
