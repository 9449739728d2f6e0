// Package dashboard ties the signed-in user to the live view and the
// mutation gateway.
package dashboard

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"verdantdo/gateway"
	"verdantdo/identity"
	"verdantdo/livequery"
)

// Observer reports the current user, nil when signed out.
type Observer interface {
	OnUserChange(fn func(*identity.User)) (cancel func())
}

// Controller opens the aggregator for every signed-in user and closes it on
// sign-out. It is the only thing that drives the aggregator lifecycle.
type Controller struct {
	agg    *livequery.Aggregator
	store  gateway.Writer
	logger *log.Logger

	mu      sync.Mutex
	actions *Actions
	cancel  func()
}

func Bind(obs Observer, agg *livequery.Aggregator, store gateway.Writer, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	c := &Controller{
		agg:     agg,
		store:   store,
		logger:  logger,
		actions: NewActions(gateway.New(store, "", logger)),
	}
	cancel := obs.OnUserChange(c.userChanged)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	return c
}

func (c *Controller) userChanged(u *identity.User) {
	if u == nil {
		c.mu.Lock()
		c.actions = NewActions(gateway.New(c.store, "", c.logger))
		c.mu.Unlock()
		c.agg.Close()
		return
	}
	c.mu.Lock()
	c.actions = NewActions(gateway.New(c.store, u.ID, c.logger))
	c.mu.Unlock()
	c.agg.Open(u.ID)
}

// Actions returns the actions of the current user.
func (c *Controller) Actions() *Actions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actions
}

// Unbind stops following the observer and closes the aggregator.
func (c *Controller) Unbind() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.agg.Close()
}
