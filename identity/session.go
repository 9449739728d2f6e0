package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Verifier turns a credential into a User.
type Verifier interface {
	Verify(token string) (User, error)
}

// Reason classifies a failed sign-in.
type Reason string

const (
	// ReasonCancelled means the user abandoned the sign-in.
	ReasonCancelled Reason = "cancelled"
	ReasonFailed    Reason = "failed"
)

type SignInError struct {
	Reason Reason
	Err    error
}

func (e *SignInError) Error() string {
	return fmt.Sprintf("sign-in %s: %v", e.Reason, e.Err)
}

func (e *SignInError) Unwrap() error { return e.Err }

// Session holds the current user and notifies observers of every change.
type Session struct {
	verifier Verifier
	logger   *log.Logger

	mu        sync.Mutex
	user      *User
	listeners map[uint64]func(*User)
	nextID    uint64

	// fireMu serialises callbacks so observers see transitions in order.
	fireMu sync.Mutex
}

func NewSession(verifier Verifier, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Session{verifier: verifier, logger: logger, listeners: make(map[uint64]func(*User))}
}

// OnUserChange calls fn with the current user (nil when signed out) and again
// after every sign-in or sign-out.
func (s *Session) OnUserChange(fn func(*User)) (cancel func()) {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	u := copyUser(s.user)
	s.mu.Unlock()
	fn(u)
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Current returns the signed-in user or nil.
func (s *Session) Current() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUser(s.user)
}

// SignIn verifies token and makes its user current. A cancelled ctx or an
// empty token is reported with ReasonCancelled. Signing in again as the
// current user does not notify observers.
func (s *Session) SignIn(ctx context.Context, token string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, &SignInError{Reason: ReasonCancelled, Err: err}
	}
	if strings.TrimSpace(token) == "" {
		return User{}, &SignInError{Reason: ReasonCancelled, Err: ErrMissingCredential}
	}
	u, err := s.verifier.Verify(token)
	if err != nil {
		s.logger.WithError(err).Warn("sign-in rejected")
		return User{}, &SignInError{Reason: ReasonFailed, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return User{}, &SignInError{Reason: ReasonCancelled, Err: err}
	}
	s.set(&u)
	return u, nil
}

// SignOut clears the current user.
func (s *Session) SignOut() {
	s.set(nil)
}

func (s *Session) set(u *User) {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()
	s.mu.Lock()
	if sameUser(s.user, u) {
		s.user = copyUser(u)
		s.mu.Unlock()
		return
	}
	s.user = copyUser(u)
	fns := make([]func(*User), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	if u != nil {
		s.logger.WithField("user", u.ID).Debug("signed in")
	} else {
		s.logger.Debug("signed out")
	}
	for _, fn := range fns {
		fn(copyUser(u))
	}
}

// IsCancelled reports whether err is a sign-in the user abandoned.
func IsCancelled(err error) bool {
	var se *SignInError
	return errors.As(err, &se) && se.Reason == ReasonCancelled
}

func sameUser(a, b *User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
