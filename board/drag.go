package board

import (
	"context"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

type dragState struct {
	activeID    string
	startColumn string
	startOrder  *int
}

// DragEndEvent is a finished drag. OverID is a column id or the id of the
// card the dragged card was dropped on; it is empty when dropped outside.
type DragEndEvent struct {
	ActiveID string
	OverID   string
}

// DragStart records the column the card is dragged from.
func (c *Controller) DragStart(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.state.TaskIndex(id)
	if i < 0 {
		c.drag = dragState{}
		return
	}
	c.drag = dragState{
		activeID:    id,
		startColumn: c.state.Tasks[i].Column,
		startOrder:  c.state.Tasks[i].Order,
	}
}

// DragOver moves the card into the hovered column locally, as the drag
// library does while the pointer moves. Nothing is persisted.
func (c *Controller) DragOver(activeID, overID string) {
	_ = c.commit(func() {
		i := c.state.TaskIndex(activeID)
		if i < 0 {
			return
		}
		if target := c.targetColumn(overID, c.state.Tasks[i].Column); target != c.state.Tasks[i].Column {
			c.state.Tasks[i].Column = target
		}
	})
}

// targetColumn resolves a drop target: a column id is used directly, a card
// id yields that card's column, anything else falls back to own.
func (c *Controller) targetColumn(overID, own string) string {
	if overID == "" {
		return own
	}
	if c.state.HasColumn(overID) {
		return overID
	}
	if j := c.state.TaskIndex(overID); j >= 0 {
		return c.state.Tasks[j].Column
	}
	return own
}

// DragEnd persists a move when the card changed column. Reordering inside a
// column stays local. A failed move puts the card back in its start column.
func (c *Controller) DragEnd(ctx context.Context, ev DragEndEvent) error {
	var (
		start  dragState
		target string
		found  bool
	)
	c.mu.Lock()
	if i := c.state.TaskIndex(ev.ActiveID); i >= 0 {
		found = true
		start = c.drag
		if start.activeID != ev.ActiveID {
			start = dragState{activeID: ev.ActiveID, startColumn: c.state.Tasks[i].Column, startOrder: c.state.Tasks[i].Order}
		}
		target = c.targetColumn(ev.OverID, start.startColumn)
	}
	c.drag = dragState{}
	c.mu.Unlock()
	if !found {
		return nil
	}

	if target == start.startColumn {
		// The drag library may have shown the card elsewhere while hovering.
		return c.commit(func() { c.setColumn(ev.ActiveID, start.startColumn, start.startOrder) })
	}

	ctx, done := c.opContext(ctx)
	defer done()

	status := domain.Status(target)
	if err := c.commit(func() { c.setColumn(ev.ActiveID, target, nil) }); err != nil {
		return err
	}
	order := c.access.NextOrder(ctx, status, c.boardID)
	rec, err := c.access.ReorderTask(ctx, ev.ActiveID, status, order)
	if err != nil {
		_ = c.commit(func() {
			c.setColumn(ev.ActiveID, start.startColumn, start.startOrder)
			c.fail(msgMoveFailed, err, log.Fields{"taskId": ev.ActiveID, "from": start.startColumn, "to": target})
		})
		return err
	}
	return c.commit(func() {
		i := c.state.TaskIndex(ev.ActiveID)
		if i < 0 {
			return
		}
		confirmedOrder := rec.Order
		c.state.Tasks[i].Column = string(rec.Status)
		c.state.Tasks[i].Order = &confirmedOrder
		if !rec.UpdatedAt.IsZero() {
			updated := rec.UpdatedAt
			c.state.Tasks[i].UpdatedAt = &updated
		}
	})
}

func (c *Controller) setColumn(id, column string, order *int) {
	i := c.state.TaskIndex(id)
	if i < 0 {
		return
	}
	c.state.Tasks[i].Column = column
	if order != nil {
		o := *order
		c.state.Tasks[i].Order = &o
	}
}
