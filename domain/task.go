package domain

import (
	"strings"
	"time"
)

// FallbackCategoryName labels tasks whose category is not present in the
// current category snapshot.
const FallbackCategoryName = "Uncategorized"

// Task is a single to-do item owned by one user.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	DueDate     time.Time `json:"dueDate"`
	CreatedAt   time.Time `json:"createdAt"`
	CategoryID  string    `json:"categoryId"`
	UserID      string    `json:"userId"`
}

// Overdue reports whether an open task is past its due date.
func (t Task) Overdue(now time.Time) bool {
	return !t.Completed && t.DueDate.Before(now)
}

// NewTask carries the fields a caller supplies when creating a task. The
// store assigns the identifier and creation time; completion always starts
// as false.
type NewTask struct {
	Title       string    `json:"title" validate:"required,min=2,max=100"`
	Description string    `json:"description,omitempty" validate:"max=500"`
	DueDate     time.Time `json:"dueDate" validate:"required"`
	CategoryID  string    `json:"categoryId" validate:"required"`
	UserID      string    `json:"userId" validate:"required"`
}

// Normalize trims surrounding whitespace from the text fields.
func (n NewTask) Normalize() NewTask {
	n.Title = strings.TrimSpace(n.Title)
	n.Description = strings.TrimSpace(n.Description)
	n.CategoryID = strings.TrimSpace(n.CategoryID)
	return n
}
