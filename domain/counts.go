package domain

import "time"

// TaskCounts is the number of tasks in each column.
type TaskCounts struct {
	Todo       int `json:"todo"`
	InProgress int `json:"inProgress"`
	Done       int `json:"done"`
}

// Total returns the number of tasks on the board.
func (c TaskCounts) Total() int { return c.Todo + c.InProgress + c.Done }

// Remaining returns the number of tasks not yet done.
func (c TaskCounts) Remaining() int { return c.Todo + c.InProgress }

// CountTasks tallies view tasks per fixed column. Tasks in unknown columns
// are ignored.
func CountTasks(tasks []ViewTask) TaskCounts {
	var c TaskCounts
	for _, t := range tasks {
		switch Status(t.Column) {
		case StatusTodo:
			c.Todo++
		case StatusInProgress:
			c.InProgress++
		case StatusDone:
			c.Done++
		}
	}
	return c
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
