// Package credential is the email/password identity provider. It issues a
// stable identity token per account and never exposes password material.
package credential

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/docstore"
	"github.com/ovaphlow/pitchfork/service-membership-go/pkg/utilities"
)

const collection = "credentials"

var (
	ErrInvalidEmail      = apperr.New(apperr.Validation, "invalid email address")
	ErrWeakCredential    = apperr.New(apperr.Validation, "password too weak")
	ErrDuplicateEmail    = apperr.New(apperr.Conflict, "email already in use")
	ErrInvalidCredential = apperr.New(apperr.Auth, "invalid credentials")
)

// Provider is the contract the identity resolver depends on.
type Provider interface {
	CreateAccount(ctx context.Context, email, password string) (token string, err error)
	SignIn(ctx context.Context, email, password string) (token string, err error)
	DeleteAccount(ctx context.Context, email string) error
}

type record struct {
	UID          string    `json:"uid"`
	PasswordHash string    `json:"passwordHash"`
	PasswordAlgo string    `json:"passwordAlgo"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store keeps credentials in the document store keyed by normalized email.
type Store struct {
	docs      docstore.Store
	hasher    PasswordHasher
	clock     clockwork.Clock
	MinLength int
	newID     func() string
}

func NewStore(docs docstore.Store, hasher PasswordHasher, clock clockwork.Clock, minLength int) *Store {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if minLength <= 0 {
		minLength = 6
	}
	return &Store{docs: docs, hasher: hasher, clock: clock, MinLength: minLength, newID: utilities.NewSnowflakeID}
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (s *Store) CreateAccount(ctx context.Context, email, password string) (string, error) {
	email = NormalizeEmail(email)
	if !validEmail(email) {
		return "", ErrInvalidEmail
	}
	if len(password) < s.MinLength {
		return "", ErrWeakCredential
	}
	hash, algo, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	now := s.clock.Now().UTC()
	rec := record{UID: s.newID(), PasswordHash: hash, PasswordAlgo: algo, CreatedAt: now, UpdatedAt: now}
	if err := s.docs.Create(ctx, collection, email, rec); err != nil {
		if errors.Is(err, docstore.ErrExists) {
			return "", ErrDuplicateEmail
		}
		return "", err
	}
	return rec.UID, nil
}

// SignIn returns the identity token for valid credentials. Unknown emails and
// wrong passwords fail identically.
func (s *Store) SignIn(ctx context.Context, email, password string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return "", ErrInvalidCredential
	}
	var rec record
	if err := s.docs.Get(ctx, collection, email, &rec); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return "", ErrInvalidCredential
		}
		return "", err
	}
	if !s.hasher.Verify(rec.PasswordHash, password) {
		return "", ErrInvalidCredential
	}
	if s.hasher.NeedsRehash(rec.PasswordHash) {
		if hash, algo, err := s.hasher.Hash(password); err == nil {
			_ = s.docs.Update(ctx, collection, email, map[string]any{
				"passwordHash": hash,
				"passwordAlgo": algo,
				"updatedAt":    s.clock.Now().UTC(),
			})
		}
	}
	return rec.UID, nil
}

// DeleteAccount removes a credential; used to undo a registration that could
// not be completed.
func (s *Store) DeleteAccount(ctx context.Context, email string) error {
	return s.docs.Remove(ctx, collection, NormalizeEmail(email))
}
