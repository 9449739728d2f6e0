// Package memstore is an in-process realtime document store. It has the same
// watch and write surface as the Azure backed store and is used for local
// development and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"verdantdo/domain"
	"verdantdo/storage"
)

const (
	Tasks      = "tasks"
	Categories = "categories"
)

type watchKey struct {
	collection string
	userID     string
}

type watcher struct {
	key     watchKey
	signal  chan struct{}
	done    chan struct{}
	once    sync.Once
	deliver func(s *Store) func()
}

// Store keeps documents in memory and pushes a full snapshot to every watcher
// of a collection after each write that touches it.
type Store struct {
	mu         sync.Mutex
	tasks      map[string]domain.Task
	categories map[string]domain.Category
	order      []string // category ids in insertion order
	watchers   map[*watcher]struct{}
	watchErrs  map[watchKey]error
	writeErr   error
	now        func() time.Time
	last       time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		tasks:      make(map[string]domain.Task),
		categories: make(map[string]domain.Category),
		watchers:   make(map[*watcher]struct{}),
		watchErrs:  make(map[watchKey]error),
		now:        time.Now,
	}
}

// SetClock replaces the time source used for createdAt.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetWatchError makes every delivery for the collection and user report err
// instead of a snapshot. Passing nil clears it and pushes a fresh snapshot.
func (s *Store) SetWatchError(collection, userID string, err error) {
	key := watchKey{collection: collection, userID: userID}
	s.mu.Lock()
	if err == nil {
		delete(s.watchErrs, key)
	} else {
		s.watchErrs[key] = err
	}
	s.notifyLocked(key)
	s.mu.Unlock()
}

// SetWriteError makes every write fail with err until cleared with nil.
func (s *Store) SetWriteError(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

func (s *Store) WatchTasks(userID string, onSnapshot func([]domain.Task), onError func(error)) func() {
	key := watchKey{collection: Tasks, userID: userID}
	return s.watch(key, func(s *Store) func() {
		if err := s.watchErrs[key]; err != nil {
			return func() { report(onError, err) }
		}
		tasks := s.tasksLocked(userID)
		return func() { onSnapshot(tasks) }
	})
}

func (s *Store) WatchCategories(userID string, onSnapshot func([]domain.Category), onError func(error)) func() {
	key := watchKey{collection: Categories, userID: userID}
	return s.watch(key, func(s *Store) func() {
		if err := s.watchErrs[key]; err != nil {
			return func() { report(onError, err) }
		}
		cats := s.categoriesLocked(userID)
		return func() { onSnapshot(cats) }
	})
}

func report(onError func(error), err error) {
	if onError != nil {
		onError(err)
	}
}

func (s *Store) watch(key watchKey, deliver func(s *Store) func()) func() {
	w := &watcher{
		key:     key,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		deliver: deliver,
	}
	w.signal <- struct{}{}
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()
	go s.run(w)
	return func() {
		w.once.Do(func() {
			close(w.done)
			s.mu.Lock()
			delete(s.watchers, w)
			s.mu.Unlock()
		})
	}
}

func (s *Store) run(w *watcher) {
	for {
		select {
		case <-w.done:
			return
		case <-w.signal:
		}
		s.mu.Lock()
		fn := w.deliver(s)
		s.mu.Unlock()
		select {
		case <-w.done:
			return
		default:
		}
		fn()
	}
}

func (s *Store) notifyLocked(key watchKey) {
	for w := range s.watchers {
		if w.key != key {
			continue
		}
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
}

func (s *Store) tasksLocked(userID string) []domain.Task {
	tasks := []domain.Task{}
	for _, t := range s.tasks {
		if t.UserID == userID {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks
}

func (s *Store) categoriesLocked(userID string) []domain.Category {
	cats := []domain.Category{}
	for _, id := range s.order {
		if c := s.categories[id]; c.UserID == userID {
			cats = append(cats, c)
		}
	}
	return cats
}

// nextCreatedLocked returns a creation time strictly greater than any
// previously assigned one.
func (s *Store) nextCreatedLocked() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func (s *Store) InsertTask(ctx context.Context, principal string, t domain.NewTask) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	if t.UserID != principal {
		return domain.Task{}, fmt.Errorf("%w: task owner %q differs from caller", storage.ErrPermissionDenied, t.UserID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return domain.Task{}, s.writeErr
	}
	task := domain.Task{
		ID:          uuid.NewString(),
		Title:       t.Title,
		Description: t.Description,
		DueDate:     t.DueDate.UTC(),
		CreatedAt:   s.nextCreatedLocked(),
		CategoryID:  t.CategoryID,
		UserID:      principal,
	}
	s.tasks[task.ID] = task
	s.notifyLocked(watchKey{collection: Tasks, userID: principal})
	return task, nil
}

func (s *Store) InsertCategory(ctx context.Context, principal string, c domain.NewCategory) (domain.Category, error) {
	if err := ctx.Err(); err != nil {
		return domain.Category{}, err
	}
	if c.UserID != principal {
		return domain.Category{}, fmt.Errorf("%w: category owner %q differs from caller", storage.ErrPermissionDenied, c.UserID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return domain.Category{}, s.writeErr
	}
	cat := domain.Category{ID: uuid.NewString(), Name: c.Name, UserID: principal}
	s.categories[cat.ID] = cat
	s.order = append(s.order, cat.ID)
	s.notifyLocked(watchKey{collection: Categories, userID: principal})
	return cat, nil
}

func (s *Store) SetTaskCompleted(ctx context.Context, principal, taskID string, completed bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: task %s", storage.ErrNotFound, taskID)
	}
	if t.UserID != principal {
		return fmt.Errorf("%w: task %s", storage.ErrPermissionDenied, taskID)
	}
	t.Completed = completed
	s.tasks[taskID] = t
	s.notifyLocked(watchKey{collection: Tasks, userID: principal})
	return nil
}

// DeleteTask removes a task. Deleting a task that does not exist succeeds.
func (s *Store) DeleteTask(ctx context.Context, principal, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	t, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	if t.UserID != principal {
		return fmt.Errorf("%w: task %s", storage.ErrPermissionDenied, taskID)
	}
	delete(s.tasks, taskID)
	s.notifyLocked(watchKey{collection: Tasks, userID: principal})
	return nil
}
