package repo

import (
	"context"
	"sort"
	"strings"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/docstore"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/user/entity"
)

const (
	usersCollection     = "users"
	usernamesCollection = "usernames"
)

// UserRepo provides data access for accounts and the username index.
type UserRepo struct {
	docs docstore.Store
}

func NewUserRepo(docs docstore.Store) *UserRepo { return &UserRepo{docs: docs} }

// NormalizeUsername is the key of the uniqueness index.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Create writes a new account; an existing record under the same identity
// token yields docstore.ErrExists.
func (r *UserRepo) Create(ctx context.Context, a *entity.Account) error {
	return r.docs.Create(ctx, usersCollection, a.UID, a)
}

// GetByID returns the account or docstore.ErrNotFound.
func (r *UserRepo) GetByID(ctx context.Context, uid string) (*entity.Account, error) {
	var a entity.Account
	if err := r.docs.Get(ctx, usersCollection, uid, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Update merges fields into the account.
func (r *UserRepo) Update(ctx context.Context, uid string, fields map[string]any) error {
	return r.docs.Update(ctx, usersCollection, uid, fields)
}

func (r *UserRepo) Delete(ctx context.Context, uid string) error {
	return r.docs.Remove(ctx, usersCollection, uid)
}

// List returns every account ordered by join date.
func (r *UserRepo) List(ctx context.Context) ([]*entity.Account, error) {
	recs, err := r.docs.Query(ctx, usersCollection, docstore.Query{OrderBy: "joinDate"})
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Account, 0, len(recs))
	for _, rec := range recs {
		var a entity.Account
		if err := rec.Decode(&a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	// stored times drop trailing zero nanos, so text order is not time order
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinDate.Before(out[j].JoinDate) })
	return out, nil
}

// Count returns the number of accounts.
func (r *UserRepo) Count(ctx context.Context) (int, error) {
	recs, err := r.docs.Query(ctx, usersCollection, docstore.Query{})
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// LookupUsername resolves a username through the index.
func (r *UserRepo) LookupUsername(ctx context.Context, username string) (string, error) {
	var uid string
	if err := r.docs.Get(ctx, usernamesCollection, NormalizeUsername(username), &uid); err != nil {
		return "", err
	}
	return uid, nil
}

// ReserveUsername maps username to uid only if it is free; otherwise
// docstore.ErrExists.
func (r *UserRepo) ReserveUsername(ctx context.Context, username, uid string) error {
	return r.docs.Create(ctx, usernamesCollection, NormalizeUsername(username), uid)
}

// ReleaseUsername drops the index entry.
func (r *UserRepo) ReleaseUsername(ctx context.Context, username string) error {
	return r.docs.Remove(ctx, usernamesCollection, NormalizeUsername(username))
}

// WatchAccount calls fn on every change to the account with uid.
func (r *UserRepo) WatchAccount(uid string, fn func()) (cancel func()) {
	return r.docs.Subscribe(usersCollection, func(c docstore.Change) {
		if c.Key == uid {
			fn()
		}
	})
}
