// Package board holds the client-side state of one board session. Every
// mutation is applied to the local view first and then reconciled with the
// task access layer.
package board

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// User-visible messages. None of them is fatal.
const (
	msgLoadFailed   = "Failed to load tasks"
	msgCreateFailed = "Failed to create task"
	msgUpdateFailed = "Failed to update task"
	msgDeleteFailed = "Failed to delete task"
	msgMoveFailed   = "Failed to move task"
)

const tempIDPrefix = "temp-"

// ErrClosed is returned by operations that finish after Close.
var ErrClosed = errors.New("board session closed")

// Access is the owner-bound task access layer the controller talks to.
type Access interface {
	ListTasks(ctx context.Context, boardID string) ([]domain.TaskRecord, error)
	CreateTask(ctx context.Context, data domain.CreateTaskData) (domain.TaskRecord, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.TaskRecord, error)
	DeleteTask(ctx context.Context, id string) error
	NextOrder(ctx context.Context, status domain.Status, boardID string) int
	ReorderTask(ctx context.Context, id string, status domain.Status, order int) (domain.TaskRecord, error)
}

// NewTask describes a card created from the board.
type NewTask struct {
	Name        string
	Column      domain.Status
	Content     *string
	ImageFileID *string
}

// TaskEdit changes the text of a card. Nil fields are left untouched.
type TaskEdit struct {
	Name    *string
	Content *string
}

// Controller owns the view state of one board session.
type Controller struct {
	access  Access
	boardID string
	log     *log.Logger
	newID   func() string

	mountCtx context.Context
	unmount  context.CancelFunc

	mu       sync.Mutex
	state    domain.ViewBoard
	errMsg   string
	closed   bool
	drag     dragState
	onChange func(domain.ViewBoard)

	// temporary ids deleted before their create finished
	dropped map[string]struct{}
}

// NewController creates a controller for boardID. An empty boardID selects
// all of the owner's tasks.
func NewController(access Access, boardID string, logger *log.Logger) *Controller {
	if access == nil {
		panic("board.NewController: access is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		access:   access,
		boardID:  boardID,
		log:      logger,
		newID:    func() string { return tempIDPrefix + uuid.NewString() },
		mountCtx: ctx,
		unmount:  cancel,
		state:    domain.RecordsToViewFormat(nil),
		dropped:  make(map[string]struct{}),
	}
}

// OnChange registers fn to receive a copy of the state after every change.
func (c *Controller) OnChange(fn func(domain.ViewBoard)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Close ends the session. In-flight operations are cancelled and their
// results are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.unmount()
}

// State returns a copy of the current view.
func (c *Controller) State() domain.ViewBoard {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Counts tallies the current view per column.
func (c *Controller) Counts() domain.TaskCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CountTasks(c.state.Tasks)
}

// Err returns the message of the last failure, or "".
func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// DismissError clears the failure message.
func (c *Controller) DismissError() {
	c.mu.Lock()
	c.errMsg = ""
	c.mu.Unlock()
}

// opContext ties ctx to the session so Close cancels it.
func (c *Controller) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.mountCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// commit runs fn under the lock unless the session is closed, then notifies
// the change listener.
func (c *Controller) commit(fn func()) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	fn()
	listener := c.onChange
	snapshot := c.state.Clone()
	c.mu.Unlock()
	if listener != nil {
		listener(snapshot)
	}
	return nil
}

func (c *Controller) fail(msg string, err error, fields log.Fields) {
	c.log.WithFields(fields).WithError(err).Warn(strings.ToLower(msg))
	c.errMsg = msg
}

// Load replaces the view with the owner's persisted tasks. On failure the
// previous view is kept.
func (c *Controller) Load(ctx context.Context) error {
	ctx, done := c.opContext(ctx)
	defer done()

	recs, err := c.access.ListTasks(ctx, c.boardID)
	if err != nil {
		_ = c.commit(func() { c.fail(msgLoadFailed, err, log.Fields{"boardId": c.boardID}) })
		return err
	}
	view := domain.RecordsToViewFormat(recs)
	sortTasks(view)
	return c.commit(func() { c.state = view })
}

// sortTasks orders tasks by column position and then by order. Ties keep
// their incoming sequence.
func sortTasks(view domain.ViewBoard) {
	colIndex := make(map[string]int, len(view.Columns))
	for i, col := range view.Columns {
		colIndex[col.ID] = i
	}
	slices.SortStableFunc(view.Tasks, func(a, b domain.ViewTask) int {
		if n := cmp.Compare(colIndex[a.Column], colIndex[b.Column]); n != 0 {
			return n
		}
		return cmp.Compare(orderOf(a), orderOf(b))
	})
}

func orderOf(t domain.ViewTask) int {
	if t.Order == nil {
		return 0
	}
	return *t.Order
}

// CreateTask appends a card with a temporary id before anything remote runs,
// then persists it and swaps in the server record. A failed create leaves no
// trace in the view.
func (c *Controller) CreateTask(ctx context.Context, nt NewTask) (domain.ViewTask, error) {
	data := domain.CreateTaskData{
		Title:       strings.TrimSpace(nt.Name),
		Description: nt.Content,
		Status:      nt.Column,
		ImageFileID: nt.ImageFileID,
	}
	if c.boardID != "" {
		boardID := c.boardID
		data.BoardID = &boardID
	}
	if err := domain.Validate(data); err != nil {
		_ = c.commit(func() { c.errMsg = err.Error() })
		return domain.ViewTask{}, err
	}

	ctx, done := c.opContext(ctx)
	defer done()

	temp := domain.ViewTask{
		ID:          c.newID(),
		Name:        data.Title,
		Column:      string(data.Status),
		Type:        domain.TaskTypeText,
		Content:     nonEmpty(data.Description),
		ImageFileID: data.ImageFileID,
		BoardID:     data.BoardID,
	}
	if temp.ImageFileID != nil {
		temp.Type = domain.TaskTypeImage
	}
	if err := c.commit(func() { c.state.Tasks = append(c.state.Tasks, temp) }); err != nil {
		return domain.ViewTask{}, err
	}

	data.Order = c.access.NextOrder(ctx, data.Status, c.boardID)
	order := data.Order
	_ = c.commit(func() {
		if i := c.state.TaskIndex(temp.ID); i >= 0 {
			c.state.Tasks[i].Order = &order
		}
	})

	rec, err := c.access.CreateTask(ctx, data)
	if err != nil {
		_ = c.commit(func() {
			c.removeTask(temp.ID)
			delete(c.dropped, temp.ID)
			c.fail(msgCreateFailed, err, log.Fields{"column": temp.Column})
		})
		return domain.ViewTask{}, err
	}
	confirmed := domain.RecordToViewTask(rec)
	dropped := false
	err = c.commit(func() {
		if _, dropped = c.dropped[temp.ID]; dropped {
			delete(c.dropped, temp.ID)
			return
		}
		if i := c.state.TaskIndex(temp.ID); i >= 0 {
			c.state.Tasks[i] = confirmed
			return
		}
		c.state.Tasks = append(c.state.Tasks, confirmed)
	})
	if err != nil || !dropped {
		return confirmed, err
	}

	// Deleted while the create was in flight.
	if err := c.access.DeleteTask(ctx, rec.ID); err != nil {
		_ = c.commit(func() {
			c.state.Tasks = append(c.state.Tasks, confirmed)
			c.fail(msgDeleteFailed, err, log.Fields{"taskId": rec.ID})
		})
		return confirmed, err
	}
	return confirmed, nil
}

// EditTask applies the edit locally, persists it and reconciles with the
// server record, or restores the previous values on failure.
func (c *Controller) EditTask(ctx context.Context, id string, edit TaskEdit) (domain.ViewTask, error) {
	patch := domain.TaskPatch{Description: edit.Content}
	if edit.Name != nil {
		name := strings.TrimSpace(*edit.Name)
		if name == "" {
			err := &domain.ValidationError{Field: "title", Message: "is required"}
			_ = c.commit(func() { c.errMsg = err.Error() })
			return domain.ViewTask{}, err
		}
		patch.Title = &name
	}
	if patch.Empty() {
		return c.taskByID(id)
	}

	ctx, done := c.opContext(ctx)
	defer done()

	var prior domain.ViewTask
	found := false
	err := c.commit(func() {
		i := c.state.TaskIndex(id)
		if i < 0 {
			return
		}
		found = true
		prior = c.state.Tasks[i]
		if patch.Title != nil {
			c.state.Tasks[i].Name = *patch.Title
		}
		if patch.Description != nil {
			c.state.Tasks[i].Content = nonEmpty(patch.Description)
		}
	})
	if err != nil {
		return domain.ViewTask{}, err
	}
	if !found {
		return domain.ViewTask{}, domain.NewStoreError(domain.ErrUpdate, id, domain.ErrNotFound)
	}

	rec, err := c.access.UpdateTask(ctx, id, patch)
	if err != nil {
		_ = c.commit(func() {
			if i := c.state.TaskIndex(id); i >= 0 {
				c.state.Tasks[i] = prior
			}
			c.fail(msgUpdateFailed, err, log.Fields{"taskId": id})
		})
		return domain.ViewTask{}, err
	}
	confirmed := domain.RecordToViewTask(rec)
	err = c.commit(func() {
		if i := c.state.TaskIndex(id); i >= 0 {
			c.state.Tasks[i] = confirmed
		}
	})
	return confirmed, err
}

// DeleteTask removes the card locally and persists the deletion. On failure
// the card is put back where it was. A card whose create is still in flight
// is only removed locally; its create deletes the server record once it
// lands.
func (c *Controller) DeleteTask(ctx context.Context, id string) error {
	if strings.HasPrefix(id, tempIDPrefix) {
		found := false
		if err := c.commit(func() {
			if c.state.TaskIndex(id) >= 0 {
				found = true
				c.removeTask(id)
				c.dropped[id] = struct{}{}
			}
		}); err != nil {
			return err
		}
		if !found {
			return domain.NewStoreError(domain.ErrDelete, id, domain.ErrNotFound)
		}
		return nil
	}

	ctx, done := c.opContext(ctx)
	defer done()

	var (
		removed domain.ViewTask
		at      = -1
	)
	if err := c.commit(func() {
		at = c.state.TaskIndex(id)
		if at >= 0 {
			removed = c.state.Tasks[at]
			c.removeTask(id)
		}
	}); err != nil {
		return err
	}
	if at < 0 {
		return domain.NewStoreError(domain.ErrDelete, id, domain.ErrNotFound)
	}

	if err := c.access.DeleteTask(ctx, id); err != nil {
		_ = c.commit(func() {
			pos := min(at, len(c.state.Tasks))
			c.state.Tasks = slices.Insert(c.state.Tasks, pos, removed)
			c.fail(msgDeleteFailed, err, log.Fields{"taskId": id})
		})
		return err
	}
	return nil
}

func (c *Controller) removeTask(id string) {
	if i := c.state.TaskIndex(id); i >= 0 {
		c.state.Tasks = slices.Delete(c.state.Tasks, i, i+1)
	}
}

func (c *Controller) taskByID(id string) (domain.ViewTask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.state.TaskIndex(id); i >= 0 {
		return c.state.Tasks[i], nil
	}
	return domain.ViewTask{}, domain.NewStoreError(domain.ErrUpdate, id, domain.ErrNotFound)
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
