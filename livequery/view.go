package livequery

import (
	"fmt"
	"time"

	"verdantdo/domain"
)

// State is the lifecycle state of an Aggregator.
type State int

const (
	Idle State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "loading":
		*s = Loading
	case "ready":
		*s = Ready
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// TaskView is a task as presented, with its resolved category label.
// Overdue is evaluated when the view is derived; Aggregator.Refresh
// re-evaluates it against the current time.
type TaskView struct {
	domain.Task
	CategoryName string `json:"categoryName"`
	Overdue      bool   `json:"overdue"`
}

// View is a point-in-time copy of the aggregator's derived state. Values
// returned by Aggregator.View are never modified afterwards.
type View struct {
	UserID          string            `json:"userId,omitempty"`
	State           State             `json:"state"`
	Loading         bool              `json:"loading"`
	Categories      []domain.Category `json:"categories"`
	ActiveTasks     []TaskView        `json:"activeTasks"`
	CompletedTasks  []TaskView        `json:"completedTasks"`
	TasksError      string            `json:"tasksError,omitempty"`
	CategoriesError string            `json:"categoriesError,omitempty"`
	Notice          string            `json:"notice,omitempty"`

	names map[string]string
}

// CategoryName resolves a category id against the categories in this view.
// Unknown ids, including ones whose category has not arrived yet, resolve to
// domain.FallbackCategoryName.
func (v View) CategoryName(id string) string {
	if name, ok := v.names[id]; ok {
		return name
	}
	return domain.FallbackCategoryName
}

// Tasks returns active and completed tasks in store order.
func (v View) Tasks() []TaskView {
	out := make([]TaskView, 0, len(v.ActiveTasks)+len(v.CompletedTasks))
	out = append(out, v.ActiveTasks...)
	return append(out, v.CompletedTasks...)
}

type snapshot struct {
	userID     string
	state      State
	tasks      []domain.Task
	categories []domain.Category
	tasksErr   error
	catsErr    error
	notice     string
}

// derive computes the view from the latest pair of snapshots. It does not
// reorder tasks; the partitions keep the store's order.
func derive(s snapshot, now time.Time) View {
	v := View{
		UserID:         s.userID,
		State:          s.state,
		Loading:        s.state == Loading,
		Categories:     append([]domain.Category{}, s.categories...),
		ActiveTasks:    []TaskView{},
		CompletedTasks: []TaskView{},
		Notice:         s.notice,
		names:          make(map[string]string, len(s.categories)),
	}
	for _, c := range s.categories {
		if _, dup := v.names[c.ID]; !dup {
			v.names[c.ID] = c.Name
		}
	}
	for _, t := range s.tasks {
		tv := TaskView{Task: t, CategoryName: v.CategoryName(t.CategoryID), Overdue: t.Overdue(now)}
		if t.Completed {
			v.CompletedTasks = append(v.CompletedTasks, tv)
		} else {
			v.ActiveTasks = append(v.ActiveTasks, tv)
		}
	}
	if s.tasksErr != nil {
		v.TasksError = s.tasksErr.Error()
	}
	if s.catsErr != nil {
		v.CategoriesError = s.catsErr.Error()
	}
	return v
}

// clone copies the slices so callers cannot reach the aggregator's copy. The
// names map is only read and is shared.
func (v View) clone() View {
	v.Categories = append([]domain.Category(nil), v.Categories...)
	v.ActiveTasks = append([]TaskView(nil), v.ActiveTasks...)
	v.CompletedTasks = append([]TaskView(nil), v.CompletedTasks...)
	if v.Categories == nil {
		v.Categories = []domain.Category{}
	}
	if v.ActiveTasks == nil {
		v.ActiveTasks = []TaskView{}
	}
	if v.CompletedTasks == nil {
		v.CompletedTasks = []TaskView{}
	}
	return v
}
