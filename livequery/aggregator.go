// Package livequery merges the tasks and categories live queries of one user
// into a derived view that is recomputed on every snapshot.
package livequery

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"verdantdo/domain"
)

// LoadNotice is shown when the tasks stream fails before the first snapshot.
const LoadNotice = "Unable to load your tasks. Changes will appear once the connection recovers."

// Source is a realtime store that pushes full snapshots. The returned func
// stops the subscription.
type Source interface {
	WatchTasks(userID string, onSnapshot func([]domain.Task), onError func(error)) func()
	WatchCategories(userID string, onSnapshot func([]domain.Category), onError func(error)) func()
}

// Aggregator keeps the live collections of at most one user at a time.
type Aggregator struct {
	src    Source
	logger *log.Logger
	now    func() time.Time

	mu        sync.Mutex
	gen       uint64
	cur       snapshot
	view      View
	stops     []func()
	listeners map[uint64]func(View)
	nextID    uint64

	// notifyMu keeps listener calls in order; each call hands out the view
	// current at that moment, never an older one.
	notifyMu sync.Mutex
}

// Handle closes the subscriptions created by one Open call.
type Handle struct {
	a   *Aggregator
	gen uint64
}

// New creates an idle aggregator over src.
func New(src Source, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.StandardLogger()
	}
	a := &Aggregator{
		src:       src,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[uint64]func(View)),
	}
	a.view = derive(a.cur, a.now())
	return a
}

// Open subscribes to userID's tasks and categories, closing any subscriptions
// from an earlier Open first. An empty userID leaves the aggregator idle.
func (a *Aggregator) Open(userID string) *Handle {
	a.mu.Lock()
	stale := a.detachLocked()
	if userID != "" {
		a.cur = snapshot{userID: userID, state: Loading}
	}
	a.recomputeLocked()
	gen := a.gen
	a.mu.Unlock()

	for _, stop := range stale {
		stop()
	}
	if userID == "" {
		a.notify()
		return &Handle{a: a, gen: gen}
	}

	stopTasks := a.src.WatchTasks(userID,
		func(tasks []domain.Task) { a.onTasks(gen, tasks) },
		func(err error) { a.onError(gen, "tasks", err) })
	stopCategories := a.src.WatchCategories(userID,
		func(cats []domain.Category) { a.onCategories(gen, cats) },
		func(err error) { a.onError(gen, "categories", err) })

	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		stopTasks()
		stopCategories()
		return &Handle{a: a, gen: gen}
	}
	a.stops = []func(){stopTasks, stopCategories}
	a.mu.Unlock()

	a.logger.WithField("user", userID).Debug("live queries opened")
	a.notify()
	return &Handle{a: a, gen: gen}
}

// Close stops the current subscriptions and returns to Idle. It is safe to
// call repeatedly and before any snapshot arrived. No snapshot changes the
// state after Close returns.
func (a *Aggregator) Close() {
	a.close(func() bool { return true })
}

// Close stops the subscriptions of this handle. It does nothing when a later
// Open or Close already replaced them.
func (h *Handle) Close() {
	h.a.close(func() bool { return h.a.gen == h.gen })
}

func (a *Aggregator) close(current func() bool) {
	a.mu.Lock()
	if !current() || (a.cur.state == Idle && a.stops == nil) {
		a.mu.Unlock()
		return
	}
	stale := a.detachLocked()
	a.recomputeLocked()
	a.mu.Unlock()

	for _, stop := range stale {
		stop()
	}
	a.notify()
}

// detachLocked invalidates every callback of the current session and returns
// the subscription stops for the caller to run outside the lock.
func (a *Aggregator) detachLocked() []func() {
	a.gen++
	stops := a.stops
	a.stops = nil
	a.cur = snapshot{}
	return stops
}

func (a *Aggregator) onTasks(gen uint64, tasks []domain.Task) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.cur.tasks = tasks
	a.cur.tasksErr = nil
	a.cur.notice = ""
	a.cur.state = Ready
	a.recomputeLocked()
	a.mu.Unlock()
	a.notify()
}

func (a *Aggregator) onCategories(gen uint64, cats []domain.Category) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.cur.categories = cats
	a.cur.catsErr = nil
	a.recomputeLocked()
	a.mu.Unlock()
	a.notify()
}

func (a *Aggregator) onError(gen uint64, stream string, err error) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	entry := a.logger.WithError(err).WithFields(log.Fields{"user": a.cur.userID, "stream": stream})
	switch stream {
	case "tasks":
		a.cur.tasksErr = err
		if a.cur.state != Ready {
			a.cur.notice = LoadNotice
		}
	default:
		a.cur.catsErr = err
	}
	a.recomputeLocked()
	a.mu.Unlock()
	entry.Warn("live query error")
	a.notify()
}

// Refresh recomputes the view against the current time so that overdue
// flags advance without a new snapshot. Listeners are notified only when a
// flag changed.
func (a *Aggregator) Refresh() {
	a.mu.Lock()
	if a.cur.state != Ready {
		a.mu.Unlock()
		return
	}
	before := a.view
	a.recomputeLocked()
	changed := overdueChanged(before, a.view)
	a.mu.Unlock()
	if changed {
		a.notify()
	}
}

func overdueChanged(a, b View) bool {
	if len(a.ActiveTasks) != len(b.ActiveTasks) {
		return true
	}
	for i := range a.ActiveTasks {
		if a.ActiveTasks[i].Overdue != b.ActiveTasks[i].Overdue {
			return true
		}
	}
	return false
}

func (a *Aggregator) recomputeLocked() {
	a.view = derive(a.cur, a.now())
}

// View returns a copy of the current derived state.
func (a *Aggregator) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view.clone()
}

// State returns the lifecycle state.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur.state
}

// Subscribe registers fn to receive the view after every change. fn must not
// call Open or Close.
func (a *Aggregator) Subscribe(fn func(View)) (cancel func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *Aggregator) notify() {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()
	a.mu.Lock()
	if len(a.listeners) == 0 {
		a.mu.Unlock()
		return
	}
	fns := make([]func(View), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	v := a.view
	a.mu.Unlock()
	for _, fn := range fns {
		fn(v.clone())
	}
}
