// Package session tracks who a client is signed in as. A Session is the
// explicit per-client context every operation receives; it owns the
// client's bearer token, its auth-state listeners and any long-lived
// subscriptions that must end with it.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership-go/pkg/utilities"
)

var (
	ErrInvalidToken = apperr.New(apperr.Auth, "invalid session token")
	ErrSessionEnded = apperr.New(apperr.Auth, "session ended")
	ErrNotSignedIn  = apperr.New(apperr.Auth, "not signed in")
)

// Manager creates, resumes and ends sessions.
type Manager struct {
	issuer *Issuer
	store  Store
	ttl    time.Duration
	newID  func() string
}

func NewManager(issuer *Issuer, store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{issuer: issuer, store: store, ttl: ttl, newID: utilities.NewKSUID}
}

// New returns an anonymous session.
func (m *Manager) New() *Session {
	return &Session{m: m, listeners: make(map[int]func(string))}
}

// Resume rebuilds the session a bearer token belongs to. Revoked or expired
// sessions fail with an Auth error.
func (m *Manager) Resume(ctx context.Context, bearer string) (*Session, error) {
	uid, sid, err := m.issuer.Parse(bearer)
	if err != nil {
		return nil, err
	}
	owner, err := m.store.Lookup(ctx, sid)
	if err != nil {
		return nil, err
	}
	if owner != uid {
		return nil, ErrInvalidToken
	}
	s := m.New()
	s.uid, s.sid, s.token = uid, sid, bearer
	return s, nil
}

// Session is one client's view of authentication. All methods are safe for
// concurrent use.
type Session struct {
	m *Manager

	mu        sync.Mutex
	uid       string
	sid       string
	token     string
	suspended string
	nextID    int
	listeners map[int]func(uid string)
	cleanups  []func()
}

// SignIn binds the session to uid, issuing a new bearer token.
func (s *Session) SignIn(ctx context.Context, uid string) (string, error) {
	sid := s.m.newID()
	token, exp, err := s.m.issuer.Issue(uid, sid, s.m.ttl)
	if err != nil {
		return "", err
	}
	if err := s.m.store.Save(ctx, sid, uid, exp); err != nil {
		return "", err
	}

	s.mu.Lock()
	prev := s.sid
	s.uid, s.sid, s.token, s.suspended = uid, sid, token, ""
	s.mu.Unlock()
	if prev != "" && prev != sid {
		_ = s.m.store.Revoke(ctx, prev)
	}
	s.notify(uid)
	return token, nil
}

// SignOut revokes the session's token and tells auth-state listeners.
// Signing out an anonymous session is a no-op.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	sid, wasSuspended := s.sid, s.suspended != ""
	s.uid, s.sid, s.token, s.suspended = "", "", "", ""
	s.mu.Unlock()

	if sid == "" && !wasSuspended {
		return nil
	}
	var err error
	if sid != "" {
		err = s.m.store.Revoke(ctx, sid)
	}
	s.notify("")
	return err
}

// Valid checks the session's token against the store. A session signed out
// from another connection is cleared locally, its listeners are told, and
// ErrSessionEnded is returned. Anonymous sessions are always valid.
func (s *Session) Valid(ctx context.Context) error {
	s.mu.Lock()
	uid, sid := s.uid, s.sid
	s.mu.Unlock()
	if sid == "" {
		return nil
	}

	owner, err := s.m.store.Lookup(ctx, sid)
	switch {
	case err == nil && owner == uid:
		return nil
	case err != nil && !errors.Is(err, ErrSessionEnded):
		return err
	}

	s.mu.Lock()
	if s.sid != sid {
		// signed in again meanwhile
		s.mu.Unlock()
		return nil
	}
	s.uid, s.sid, s.token = "", "", ""
	s.mu.Unlock()
	s.notify("")
	return ErrSessionEnded
}

// Suspend records that uid proved its credentials but is banned. No token is
// issued; the next state computation sees a banned, authenticated identity
// and forces the sign-out.
func (s *Session) Suspend(uid string) {
	s.mu.Lock()
	s.suspended = uid
	s.mu.Unlock()
}

// Suspended returns the banned identity recorded by Suspend, if any.
func (s *Session) Suspended() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended, s.suspended != ""
}

// CurrentToken is the identity token of the signed-in account, or "".
func (s *Session) CurrentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid
}

// Bearer is the signed token clients present on later requests.
func (s *Session) Bearer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) Authenticated() bool {
	return s.CurrentToken() != ""
}

// OnAuthStateChange registers fn to run after every sign-in ("" on sign-out).
func (s *Session) OnAuthStateChange(fn func(uid string)) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Defer registers fn to run when the session is closed.
func (s *Session) Defer(fn func()) {
	s.mu.Lock()
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

// Close releases listeners and runs deferred cleanups in reverse order. It
// does not sign out; a closed connection is not a logout.
func (s *Session) Close() {
	s.mu.Lock()
	cleanups := s.cleanups
	s.cleanups = nil
	s.listeners = make(map[int]func(string))
	s.mu.Unlock()
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

func (s *Session) notify(uid string) {
	s.mu.Lock()
	fns := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(uid)
	}
}

// IsAuthError reports errors that should send the client back to login.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrSessionEnded) || errors.Is(err, ErrNotSignedIn)
}
