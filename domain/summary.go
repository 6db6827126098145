package domain

// SummaryCounts is the task-count payload of a summary request. Every
// field must be present; any integer is accepted.
type SummaryCounts struct {
	Todo       *int `json:"todo" validate:"required"`
	InProgress *int `json:"inProgress" validate:"required"`
	Done       *int `json:"done" validate:"required"`
}

// NewSummaryCounts converts tallied counts into the request payload.
func NewSummaryCounts(c TaskCounts) *SummaryCounts {
	todo, inProgress, done := c.Todo, c.InProgress, c.Done
	return &SummaryCounts{Todo: &todo, InProgress: &inProgress, Done: &done}
}

// Counts returns the payload as plain counts. Missing fields count as 0.
func (c SummaryCounts) Counts() TaskCounts {
	var out TaskCounts
	if c.Todo != nil {
		out.Todo = *c.Todo
	}
	if c.InProgress != nil {
		out.InProgress = *c.InProgress
	}
	if c.Done != nil {
		out.Done = *c.Done
	}
	return out
}

// SummaryTask is the abbreviated form of a task used to ground a summary.
type SummaryTask struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Column  string  `json:"column"`
	Content *string `json:"content,omitempty"`
}

// SummaryRequest asks for a short status message about the board.
type SummaryRequest struct {
	TaskCounts *SummaryCounts `json:"taskCounts" validate:"required"`
	Tasks      []SummaryTask  `json:"tasks,omitempty"`
}

// SummaryResponse always carries a usable summary. Fallback marks text
// that was not produced by the language model.
type SummaryResponse struct {
	Summary  string `json:"summary"`
	Fallback bool   `json:"fallback,omitempty"`
	Error    string `json:"error,omitempty"`
}
