package domain

// DefaultColumns are the three fixed columns every persisted board renders.
var DefaultColumns = []ViewColumn{
	{ID: string(StatusTodo), Name: "To Do"},
	{ID: string(StatusInProgress), Name: "In Progress"},
	{ID: string(StatusDone), Name: "Done"},
}

// ToViewFormat flattens a legacy board. Each task gains the id of the column
// that owned it; column order and per-column task order are preserved.
func ToViewFormat(board BoardData) ViewBoard {
	view := ViewBoard{
		Columns: make([]ViewColumn, 0, len(board.Columns)),
		Tasks:   []ViewTask{},
	}
	for _, col := range board.Columns {
		view.Columns = append(view.Columns, ViewColumn{ID: col.ID, Name: col.Title})
		for _, t := range col.Tasks {
			view.Tasks = append(view.Tasks, ViewTask{
				ID:      t.ID,
				Name:    t.Title,
				Column:  col.ID,
				Type:    t.Type,
				Content: t.Content,
			})
		}
	}
	return view
}

// FromViewFormat regroups flat tasks under their columns. Columns without
// tasks keep an empty, non-nil task list.
func FromViewFormat(view ViewBoard) BoardData {
	board := BoardData{Columns: make([]Column, 0, len(view.Columns))}
	for _, col := range view.Columns {
		c := Column{ID: col.ID, Title: col.Name, Tasks: []Task{}}
		for _, t := range view.Tasks {
			if t.Column != col.ID {
				continue
			}
			typ := t.Type
			if typ == "" {
				typ = TaskTypeText
			}
			c.Tasks = append(c.Tasks, Task{ID: t.ID, Title: t.Name, Type: typ, Content: t.Content})
		}
		board.Columns = append(board.Columns, c)
	}
	return board
}

// RecordsToViewFormat converts persisted records to the flat board shape. The
// three fixed columns are always present regardless of the input.
func RecordsToViewFormat(records []TaskRecord) ViewBoard {
	view := ViewBoard{
		Columns: append([]ViewColumn(nil), DefaultColumns...),
		Tasks:   make([]ViewTask, 0, len(records)),
	}
	for _, rec := range records {
		view.Tasks = append(view.Tasks, RecordToViewTask(rec))
	}
	return view
}

// RecordToViewTask converts a single persisted record. Null or empty optional
// values become absent.
func RecordToViewTask(rec TaskRecord) ViewTask {
	image := nonEmpty(rec.ImageFileID)
	typ := TaskTypeText
	if image != nil {
		typ = TaskTypeImage
	}
	order := rec.Order
	return ViewTask{
		ID:          rec.ID,
		Name:        rec.Title,
		Column:      string(rec.Status),
		Type:        typ,
		Content:     nonEmpty(rec.Description),
		Order:       &order,
		ImageFileID: image,
		BoardID:     nonEmpty(rec.BoardID),
		CreatedAt:   timePtr(rec.CreatedAt),
		UpdatedAt:   timePtr(rec.UpdatedAt),
	}
}

// ViewTaskToRecordPatch projects a view task onto the persisted fields used
// by update calls. A missing order becomes 0.
func ViewTaskToRecordPatch(task ViewTask) TaskPatch {
	title := task.Name
	status := Status(task.Column)
	order := 0
	if task.Order != nil {
		order = *task.Order
	}
	return TaskPatch{
		Title:       &title,
		Description: task.Content,
		Status:      &status,
		Order:       &order,
		ImageFileID: task.ImageFileID,
		BoardID:     task.BoardID,
	}
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
