package dashboard

import (
	"context"
	"errors"
	"strings"
	"time"

	"verdantdo/domain"
	"verdantdo/gateway"
)

// NewCategoryID is the category choice that asks for a category to be
// created together with the task.
const NewCategoryID = "new-category"

var ErrNotSignedIn = errors.New("not signed in")

type AddTaskInput struct {
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	DueDate         time.Time `json:"dueDate"`
	CategoryID      string    `json:"categoryId"`
	NewCategoryName string    `json:"newCategoryName,omitempty"`
}

type DeleteInput struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// Actions runs the user actions of the dashboard through one principal's
// gateway and turns each outcome into a Notice.
type Actions struct {
	gw *gateway.Gateway
}

func NewActions(gw *gateway.Gateway) *Actions {
	return &Actions{gw: gw}
}

// AddTask creates the task. When CategoryID is NewCategoryID and a name is
// given, the category is created first and the task is filed under it; no
// task is written if that fails.
func (a *Actions) AddTask(ctx context.Context, in AddTaskInput) (gateway.Result[domain.Task], Notice) {
	if a.gw.Principal() == "" {
		return unauthenticated[domain.Task]("create_task"), notSignedIn
	}
	categoryID := in.CategoryID
	if name := strings.TrimSpace(in.NewCategoryName); categoryID == NewCategoryID && name != "" {
		cat := a.gw.CreateCategory(ctx, domain.NewCategory{Name: name, UserID: a.gw.Principal()})
		if !cat.OK() {
			return gateway.Result[domain.Task]{Err: cat.Err}, errorNotice("Failed to create new category.")
		}
		categoryID = cat.Value.ID
	}
	res := a.gw.CreateTask(ctx, domain.NewTask{
		Title:       in.Title,
		Description: in.Description,
		DueDate:     in.DueDate,
		CategoryID:  categoryID,
		UserID:      a.gw.Principal(),
	})
	if !res.OK() {
		return res, errorNotice("Failed to add task.")
	}
	return res, Notice{Title: "Success", Description: "New task has been added.", Variant: VariantDefault}
}

// AddCategory creates a category on its own. Success has no notice.
func (a *Actions) AddCategory(ctx context.Context, name string) (gateway.Result[domain.Category], Notice) {
	if a.gw.Principal() == "" {
		return unauthenticated[domain.Category]("create_category"), notSignedIn
	}
	res := a.gw.CreateCategory(ctx, domain.NewCategory{Name: name, UserID: a.gw.Principal()})
	if !res.OK() {
		return res, errorNotice("Failed to create new category.")
	}
	return res, Notice{}
}

// SetCompletion toggles a task. Success has no notice; the next snapshot
// shows the change.
func (a *Actions) SetCompletion(ctx context.Context, taskID string, completed bool) (gateway.Result[struct{}], Notice) {
	if a.gw.Principal() == "" {
		return unauthenticated[struct{}]("set_task_completion"), notSignedIn
	}
	res := a.gw.SetTaskCompletion(ctx, taskID, completed)
	if !res.OK() {
		return res, errorNotice("Failed to update task. Please try again.")
	}
	return res, Notice{}
}

func (a *Actions) Delete(ctx context.Context, in DeleteInput) (gateway.Result[struct{}], Notice) {
	if a.gw.Principal() == "" {
		return unauthenticated[struct{}]("delete_task"), notSignedIn
	}
	res := a.gw.DeleteTask(ctx, in.ID)
	if !res.OK() {
		return res, errorNotice("Failed to delete task. Please try again.")
	}
	return res, Notice{Title: "Task Deleted", Description: `"` + in.Title + `" has been removed.`, Variant: VariantDefault}
}

func unauthenticated[T any](op string) gateway.Result[T] {
	return gateway.Result[T]{Err: &gateway.Error{Op: op, Kind: gateway.KindPermissionDenied, Err: ErrNotSignedIn}}
}
