package summary

import (
	"fmt"
	"time"

	"kanban-api/domain"
)

// TimeOfDay is the clock bucket that sets the tone of a summary.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
	Night     TimeOfDay = "night"
)

// Bucket maps an hour of the day to its bucket. Boundaries are 5, 12, 17
// and 21 o'clock.
func Bucket(hour int) TimeOfDay {
	switch {
	case hour >= 5 && hour < 12:
		return Morning
	case hour >= 12 && hour < 17:
		return Afternoon
	case hour >= 17 && hour < 21:
		return Evening
	default:
		return Night
	}
}

// BucketAt returns the bucket of t in its own location.
func BucketAt(t time.Time) TimeOfDay { return Bucket(t.Hour()) }

// Fallback renders the deterministic summary used when generation is
// unavailable.
func Fallback(c domain.TaskCounts, tod TimeOfDay) string {
	switch tod {
	case Morning:
		return fmt.Sprintf("Good morning! You have %d tasks today. Let's make it productive!", c.Total())
	case Afternoon:
		return fmt.Sprintf("Good afternoon! %d tasks completed, %d to go!", c.Done, c.Remaining())
	case Evening:
		return fmt.Sprintf("Good evening! You've made progress with %d tasks done today.", c.Done)
	case Night:
		return fmt.Sprintf("Working late? %d tasks completed. Great dedication!", c.Done)
	}
	return fmt.Sprintf("You have %d tasks to do, %d in progress, and %d completed.", c.Todo, c.InProgress, c.Done)
}
