package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

type stubVerifier map[string]User

func (s stubVerifier) Verify(token string) (User, error) {
	if u, ok := s[token]; ok {
		return u, nil
	}
	return User{}, errors.New("invalid token")
}

func newSession(t *testing.T) *Session {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewSession(stubVerifier{"tok-a": {ID: "a"}, "tok-b": {ID: "b"}}, logger)
}

func userIDs(users []*User) []string {
	out := []string{}
	for _, u := range users {
		if u == nil {
			out = append(out, "")
			continue
		}
		out = append(out, u.ID)
	}
	return out
}

func TestOnUserChangeFiresImmediatelyAndOnTransitions(t *testing.T) {
	s := newSession(t)
	var seen []*User
	cancel := s.OnUserChange(func(u *User) { seen = append(seen, u) })

	ctx := context.Background()
	if _, err := s.SignIn(ctx, "tok-a"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if _, err := s.SignIn(ctx, "tok-a"); err != nil {
		t.Fatalf("repeat sign in: %v", err)
	}
	if _, err := s.SignIn(ctx, "tok-b"); err != nil {
		t.Fatalf("switch user: %v", err)
	}
	s.SignOut()
	s.SignOut()
	cancel()
	if _, err := s.SignIn(ctx, "tok-a"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	got := userIDs(seen)
	want := []string{"", "a", "b", ""}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	if s.Current() == nil || s.Current().ID != "a" {
		t.Fatalf("unexpected current user %+v", s.Current())
	}
}

func TestLateObserverGetsCurrentUser(t *testing.T) {
	s := newSession(t)
	if _, err := s.SignIn(context.Background(), "tok-b"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	var first *User
	s.OnUserChange(func(u *User) {
		if first == nil {
			first = u
		}
	})
	if first == nil || first.ID != "b" {
		t.Fatalf("expected immediate callback with b, got %+v", first)
	}
}

func TestSignInFailureClassification(t *testing.T) {
	s := newSession(t)

	_, err := s.SignIn(context.Background(), "")
	if !IsCancelled(err) {
		t.Fatalf("empty credential must be a cancellation, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.SignIn(ctx, "tok-a")
	if !IsCancelled(err) || !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled context must be a cancellation, got %v", err)
	}

	_, err = s.SignIn(context.Background(), "forged")
	var se *SignInError
	if !errors.As(err, &se) || se.Reason != ReasonFailed {
		t.Fatalf("bad token must be a failure, got %v", err)
	}
	if s.Current() != nil {
		t.Fatalf("failed sign-in must not set a user")
	}
}
