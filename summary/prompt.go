package summary

import (
	"fmt"
	"strings"

	"kanban-api/domain"
)

const (
	maxTasksPerColumn = 5
	maxTaskTextRunes  = 60
)

const systemPrompt = "You are a helpful productivity assistant that generates brief, encouraging summary messages for task management."

// BuildPrompt frames the user message for the language model. Only counts
// and a few abbreviated tasks per column are included.
func BuildPrompt(c domain.TaskCounts, tod TimeOfDay, tasks []domain.SummaryTask) string {
	var b strings.Builder
	b.WriteString("You are a productivity assistant for a Kanban board application. Generate a brief, encouraging, and insightful summary message for the user based on their current task status.\n\n")
	b.WriteString("Current Status:\n")
	fmt.Fprintf(&b, "- To Do: %d tasks\n", c.Todo)
	fmt.Fprintf(&b, "- In Progress: %d tasks\n", c.InProgress)
	fmt.Fprintf(&b, "- Done: %d tasks\n", c.Done)
	fmt.Fprintf(&b, "- Total Tasks: %d\n", c.Total())
	fmt.Fprintf(&b, "- Time of Day: %s\n", tod)

	if sample := sampleTasks(tasks); len(sample) > 0 {
		b.WriteString("\nSample Tasks:\n")
		for _, col := range domain.DefaultColumns {
			rows := sample[col.ID]
			if len(rows) == 0 {
				continue
			}
			fmt.Fprintf(&b, "%s:\n", col.Name)
			for _, t := range rows {
				b.WriteString("- ")
				b.WriteString(truncate(t.Name, maxTaskTextRunes))
				if t.Content != nil && strings.TrimSpace(*t.Content) != "" {
					b.WriteString(": ")
					b.WriteString(truncate(*t.Content, maxTaskTextRunes))
				}
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\nGuidelines:\n")
	b.WriteString("- Keep the message concise (1-2 sentences, max 100 characters)\n")
	b.WriteString("- Be encouraging and motivational\n")
	b.WriteString("- Provide contextual insights based on task distribution\n")
	b.WriteString("- Consider the time of day in your tone\n")
	b.WriteString("- Use a friendly, professional tone\n")
	b.WriteString("- Focus on productivity and progress\n\n")
	b.WriteString("Generate only the summary message, no additional text or formatting.")
	return b.String()
}

func sampleTasks(tasks []domain.SummaryTask) map[string][]domain.SummaryTask {
	out := make(map[string][]domain.SummaryTask)
	for _, t := range tasks {
		if len(out[t.Column]) >= maxTasksPerColumn {
			continue
		}
		out[t.Column] = append(out[t.Column], t)
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
