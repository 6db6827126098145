package domain

import "time"

// TaskType tells the UI how to render a card.
type TaskType string

const (
	TaskTypeText  TaskType = "text"
	TaskTypeImage TaskType = "image"
)

// BoardData is the legacy nested board shape.
type BoardData struct {
	Columns []Column `json:"columns"`
}

// Column is a legacy board column owning its tasks.
type Column struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Tasks []Task `json:"tasks"`
}

// Task is a legacy board card.
type Task struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Type    TaskType `json:"type"`
	Content *string  `json:"content,omitempty"`
}

// ViewBoard is the flat shape consumed by the drag-and-drop board.
type ViewBoard struct {
	Columns []ViewColumn `json:"columns"`
	Tasks   []ViewTask   `json:"tasks"`
}

// ViewColumn describes one board column.
type ViewColumn struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ViewTask is a card in the flat board shape. Optional fields are omitted
// rather than serialised as null.
type ViewTask struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Column      string     `json:"column"`
	Type        TaskType   `json:"type,omitempty"`
	Content     *string    `json:"content,omitempty"`
	Order       *int       `json:"order,omitempty"`
	ImageFileID *string    `json:"imageFileId,omitempty"`
	BoardID     *string    `json:"boardId,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// Clone returns a copy of the board that shares no slices with b.
func (b ViewBoard) Clone() ViewBoard {
	out := ViewBoard{
		Columns: append([]ViewColumn(nil), b.Columns...),
		Tasks:   append([]ViewTask(nil), b.Tasks...),
	}
	return out
}

// TaskIndex returns the position of the task with the given id or -1.
func (b ViewBoard) TaskIndex(id string) int {
	for i := range b.Tasks {
		if b.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// HasColumn reports whether id names one of the board's columns.
func (b ViewBoard) HasColumn(id string) bool {
	for _, c := range b.Columns {
		if c.ID == id {
			return true
		}
	}
	return false
}
