// Package task implements the personal-assistant's task list: create, list,
// complete, and delete to-dos, each with an urgency/importance/impact
// priority score, persisted the same crash-safe way as the session index.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Type is the kind of task, mirroring how it will be executed.
type Type string

const (
	TypeImmediate Type = "immediate" // a direct instruction, run right away
	TypeTodo      Type = "todo"      // an open-ended to-do with no fixed time
	TypeScheduled Type = "scheduled" // runs once at ScheduledAt
	TypeRecurring Type = "recurring" // runs on a repeating schedule
)

// Status is where a task sits in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Priority scores a task along three axes, each in [0, 1]. score() blends
// them with urgency and importance weighted 0.4 each and impact 0.2, so the
// first two matter twice as much as impact.
type Priority struct {
	Urgency    float64 `json:"urgency"`
	Importance float64 `json:"importance"`
	Impact     float64 `json:"impact"`
}

// DefaultPriority is the mid-point priority a task gets when none is given.
var DefaultPriority = Priority{Urgency: 0.5, Importance: 0.5, Impact: 0.5}

// priorityLevels maps the coarse "high"/"medium"/"low" levels a tool caller
// passes in to concrete axis weights.
var priorityLevels = map[string]Priority{
	"high":   {Urgency: 0.8, Importance: 0.8, Impact: 0.6},
	"medium": {Urgency: 0.5, Importance: 0.5, Impact: 0.5},
	"low":    {Urgency: 0.2, Importance: 0.3, Impact: 0.2},
}

// PriorityFromLevel resolves a coarse level string to a Priority, defaulting
// to DefaultPriority for an unrecognized level (including "").
func PriorityFromLevel(level string) Priority {
	if p, ok := priorityLevels[level]; ok {
		return p
	}
	return DefaultPriority
}

func (p Priority) score() float64 {
	return p.Urgency*0.4 + p.Importance*0.4 + p.Impact*0.2
}

// Task is one item on the assistant's task list.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Type        Type      `json:"type"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
	DueAt       time.Time `json:"due_at,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Result      string    `json:"result,omitempty"`
	SourceKey   string    `json:"source_key,omitempty"` // session key the task was created from
}

// PriorityScore returns the task's priority on a 0-100 scale, boosted up to
// 30 points for being overdue (2 points per hour past DueAt, capped).
func (t Task) PriorityScore() float64 {
	score := t.Priority.score() * 100
	if !t.DueAt.IsZero() && t.Status != StatusCompleted && t.Status != StatusCancelled {
		if hoursOverdue := time.Since(t.DueAt).Hours(); hoursOverdue > 0 {
			boost := hoursOverdue * 2
			if boost > 30 {
				boost = 30
			}
			score += boost
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

// IsOverdue reports whether the task is past its due date and still open.
func (t Task) IsOverdue() bool {
	if t.DueAt.IsZero() || t.Status == StatusCompleted || t.Status == StatusCancelled {
		return false
	}
	return time.Now().After(t.DueAt)
}

// newID mirrors the assistant's original 8-character task IDs (a truncated
// UUID) rather than a full UUID, since task IDs are meant to be typed back
// by a user confirming a deletion.
func newID() string {
	return uuid.NewString()[:8]
}
