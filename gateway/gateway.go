// Package gateway performs single writes against the document store on
// behalf of one principal and reports every outcome as a Result.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"verdantdo/domain"
)

// Writer is the write surface of the document store. Access rules are
// enforced by the store against principal.
type Writer interface {
	InsertTask(ctx context.Context, principal string, t domain.NewTask) (domain.Task, error)
	InsertCategory(ctx context.Context, principal string, c domain.NewCategory) (domain.Category, error)
	SetTaskCompleted(ctx context.Context, principal, taskID string, completed bool) error
	DeleteTask(ctx context.Context, principal, taskID string) error
}

// Gateway issues each call as exactly one store write. It never retries.
type Gateway struct {
	store     Writer
	principal string
	logger    *log.Logger
}

func New(store Writer, principal string, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Gateway{store: store, principal: principal, logger: logger}
}

func (g *Gateway) Principal() string { return g.principal }

// CreateTask validates t and inserts it. The new task always starts open.
func (g *Gateway) CreateTask(ctx context.Context, t domain.NewTask) Result[domain.Task] {
	return run(ctx, g, "create_task", func(ctx context.Context) (domain.Task, error) {
		t = t.Normalize()
		if err := domain.Validate(t); err != nil {
			return domain.Task{}, err
		}
		return g.store.InsertTask(ctx, g.principal, t)
	})
}

// CreateCategory inserts a category. Duplicate names are allowed.
func (g *Gateway) CreateCategory(ctx context.Context, c domain.NewCategory) Result[domain.Category] {
	return run(ctx, g, "create_category", func(ctx context.Context) (domain.Category, error) {
		c = c.Normalize()
		if err := domain.Validate(c); err != nil {
			return domain.Category{}, err
		}
		return g.store.InsertCategory(ctx, g.principal, c)
	})
}

// SetTaskCompletion updates only the completed flag. Ownership of taskID is
// checked by the store, not here.
func (g *Gateway) SetTaskCompletion(ctx context.Context, taskID string, completed bool) Result[struct{}] {
	return run(ctx, g, "set_task_completion", func(ctx context.Context) (struct{}, error) {
		if strings.TrimSpace(taskID) == "" {
			return struct{}{}, fmt.Errorf("%w: task id is required", domain.ErrInvalid)
		}
		return struct{}{}, g.store.SetTaskCompleted(ctx, g.principal, taskID, completed)
	})
}

// DeleteTask removes a task unconditionally.
func (g *Gateway) DeleteTask(ctx context.Context, taskID string) Result[struct{}] {
	return run(ctx, g, "delete_task", func(ctx context.Context) (struct{}, error) {
		if strings.TrimSpace(taskID) == "" {
			return struct{}{}, fmt.Errorf("%w: task id is required", domain.ErrInvalid)
		}
		return struct{}{}, g.store.DeleteTask(ctx, g.principal, taskID)
	})
}

func run[T any](ctx context.Context, g *Gateway, op string, fn func(ctx context.Context) (T, error)) (res Result[T]) {
	m, ctx := newMutationMetrics(ctx, g.logger, op, g.principal)
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{Err: &Error{Op: op, Kind: KindUnknown, Err: fmt.Errorf("panic: %v", r)}}
		}
		m.Log(res.Err)
	}()
	if g.principal == "" {
		return Result[T]{Err: &Error{Op: op, Kind: KindPermissionDenied, Err: errors.New("no signed-in user")}}
	}
	v, err := fn(ctx)
	if err != nil {
		return Result[T]{Err: &Error{Op: op, Kind: classify(err), Err: err}}
	}
	return Result[T]{Value: v}
}
