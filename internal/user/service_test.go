package user

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/capability"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/credential"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/docstore"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-membership-go/internal/user/repo"
)

type fixture struct {
	svc   *Service
	docs  *docstore.Memory
	repo  *userrepo.UserRepo
	creds *credential.Store
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs := docstore.NewMemory()
	clock := clockwork.NewFakeClock()
	creds := credential.NewStore(docs, credential.BcryptHasher{Cost: bcrypt.MinCost}, clock, 6)
	repo := userrepo.NewUserRepo(docs)
	return &fixture{
		svc:   NewService(repo, creds, capability.Default(), clock, nil),
		docs:  docs,
		repo:  repo,
		creds: creds,
		clock: clock,
	}
}

func (f *fixture) register(t *testing.T, username string) *entity.Account {
	t.Helper()
	acct, err := f.svc.Register(context.Background(), RegisterRequest{
		Email:    username + "@x.com",
		Password: "password1",
		Username: username,
		Profile:  entity.ProfileFields{Name: username},
	})
	require.NoError(t, err)
	return acct
}

func TestRegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	acct := f.register(t, "alice")
	require.Equal(t, entity.RoleMember, acct.Role)
	require.False(t, acct.IsBanned)
	require.Equal(t, f.clock.Now().UTC(), acct.JoinDate)

	uid, err := f.svc.LookupByUsername(ctx, "ALICE")
	require.NoError(t, err)
	require.Equal(t, acct.UID, uid)

	_, err = f.svc.Register(ctx, RegisterRequest{Email: "other@x.com", Password: "password1", Username: "Alice"})
	require.ErrorIs(t, err, ErrUsernameTaken)
	require.Equal(t, apperr.Conflict, apperr.KindOf(err))

	// the check runs before any credential is created
	_, err = f.creds.SignIn(ctx, "other@x.com", "password1")
	require.ErrorIs(t, err, credential.ErrInvalidCredential)
}

func TestRegisterAdminRole(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "Lord")
	require.Equal(t, entity.RoleAdmin, acct.Role)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{"short username", RegisterRequest{Email: "a@x.com", Password: "password1", Username: "ab"}, ErrInvalidUsername},
		{"long username", RegisterRequest{Email: "a@x.com", Password: "password1", Username: "abcdefghijklmnopqrstu"}, ErrInvalidUsername},
		{"bad chars", RegisterRequest{Email: "a@x.com", Password: "password1", Username: "al ice"}, ErrInvalidUsername},
		{"weak password", RegisterRequest{Email: "a@x.com", Password: "123", Username: "alice"}, credential.ErrWeakCredential},
		{"bad email", RegisterRequest{Email: "not-an-email", Password: "password1", Username: "alice"}, credential.ErrInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, apperr.Validation, apperr.KindOf(err))
		})
	}

	_, err := f.svc.LookupByUsername(ctx, "alice")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestRegisterDuplicateEmailLeavesIndexFree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "alice")

	_, err := f.svc.Register(ctx, RegisterRequest{Email: "alice@x.com", Password: "password1", Username: "bob"})
	require.ErrorIs(t, err, credential.ErrDuplicateEmail)

	_, err = f.svc.LookupByUsername(ctx, "bob")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestRegisterLosesIndexRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// claim the name between the availability check and the index write
	f.docs.Subscribe("users", func(c docstore.Change) {
		if c.Kind == docstore.Added {
			_ = f.repo.ReserveUsername(ctx, "alice", "someone-else")
		}
	})

	_, err := f.svc.Register(ctx, RegisterRequest{Email: "alice@x.com", Password: "password1", Username: "alice"})
	require.ErrorIs(t, err, ErrUsernameTaken)

	accounts, err := f.repo.List(ctx)
	require.NoError(t, err)
	require.Empty(t, accounts)

	_, err = f.creds.SignIn(ctx, "alice@x.com", "password1")
	require.ErrorIs(t, err, credential.ErrInvalidCredential)
}

func TestConcurrentRegistrationOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Register(ctx, RegisterRequest{
				Email:    fmt.Sprintf("user%d@x.com", i),
				Password: "password1",
				Username: "Racer",
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, ErrUsernameTaken)
	}
	require.Equal(t, 1, wins)

	uid, err := f.svc.LookupByUsername(ctx, "racer")
	require.NoError(t, err)
	acct, err := f.svc.Get(ctx, uid)
	require.NoError(t, err)
	require.Equal(t, "Racer", acct.Username)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acct := f.register(t, "alice")

	got, err := f.svc.Authenticate(ctx, "alice@x.com", "password1")
	require.NoError(t, err)
	require.Equal(t, acct.UID, got.UID)

	_, err = f.svc.Authenticate(ctx, "alice@x.com", "nope-nope")
	require.ErrorIs(t, err, credential.ErrInvalidCredential)

	require.NoError(t, f.repo.Update(ctx, acct.UID, map[string]any{"isBanned": true}))
	_, err = f.svc.Authenticate(ctx, "alice@x.com", "password1")
	require.ErrorIs(t, err, ErrAccountBanned)
	require.Equal(t, apperr.Auth, apperr.KindOf(err))
	var banned *BannedError
	require.True(t, errors.As(err, &banned))
	require.Equal(t, acct.UID, banned.UID)
}

func TestAuthenticateWithoutProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.creds.CreateAccount(ctx, "orphan@x.com", "password1")
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, "orphan@x.com", "password1")
	require.ErrorIs(t, err, ErrProfileMissing)
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice")
	f.register(t, "bob")

	_, err := f.svc.Rename(ctx, alice.UID, "BOB")
	require.ErrorIs(t, err, ErrUsernameTaken)

	_, err = f.svc.Rename(ctx, alice.UID, "a!")
	require.ErrorIs(t, err, ErrInvalidUsername)

	got, err := f.svc.Rename(ctx, alice.UID, "alicia")
	require.NoError(t, err)
	require.Equal(t, "alicia", got.Username)

	uid, err := f.svc.LookupByUsername(ctx, "Alicia")
	require.NoError(t, err)
	require.Equal(t, alice.UID, uid)
	_, err = f.svc.LookupByUsername(ctx, "alice")
	require.ErrorIs(t, err, ErrUserNotFound)

	// the freed name can be claimed again
	f.register(t, "alice")
}

func TestRenameCaseOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice")

	got, err := f.svc.Rename(ctx, alice.UID, "Alice")
	require.NoError(t, err)
	require.Equal(t, "Alice", got.Username)

	uid, err := f.svc.LookupByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, alice.UID, uid)
}

func TestRenameNeverLosesBothNames(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice")

	var gaps int
	check := func(docstore.Change) {
		_, errOld := f.repo.LookupUsername(ctx, "alice")
		_, errNew := f.repo.LookupUsername(ctx, "alicia")
		if errOld != nil && errNew != nil {
			gaps++
		}
	}
	cancelUsers := f.docs.Subscribe("users", check)
	defer cancelUsers()
	cancelIndex := f.docs.Subscribe("usernames", check)
	defer cancelIndex()

	_, err := f.svc.Rename(ctx, alice.UID, "alicia")
	require.NoError(t, err)
	require.Zero(t, gaps)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice")

	bio := "hello there"
	name := "Alice A"
	f.clock.Advance(time.Minute)
	got, err := f.svc.UpdateProfile(ctx, alice.UID, entity.ProfileUpdate{Name: &name, Bio: &bio})
	require.NoError(t, err)
	require.Equal(t, "Alice A", got.Name)
	require.Equal(t, "hello there", got.Bio)
	require.NotNil(t, got.UpdatedAt)

	long := string(make([]rune, 201))
	_, err = f.svc.UpdateProfile(ctx, alice.UID, entity.ProfileUpdate{Bio: &long})
	require.ErrorIs(t, err, ErrInvalidProfile)

	blank := "  "
	_, err = f.svc.UpdateProfile(ctx, alice.UID, entity.ProfileUpdate{Name: &blank})
	require.ErrorIs(t, err, ErrInvalidProfile)

	newName := "alice2"
	got, err = f.svc.UpdateProfile(ctx, alice.UID, entity.ProfileUpdate{Username: &newName})
	require.NoError(t, err)
	require.Equal(t, "alice2", got.Username)
}

func TestUpdateProfileFailedWriteReleasesNewName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice")

	// the account disappears once the new name is reserved
	cancel := f.docs.Subscribe("usernames", func(c docstore.Change) {
		if c.Kind == docstore.Added && c.Key == "alicia" {
			_ = f.docs.Remove(ctx, "users", alice.UID)
		}
	})
	defer cancel()

	name := "Alicia"
	newName := "alicia"
	_, err := f.svc.UpdateProfile(ctx, alice.UID, entity.ProfileUpdate{Name: &name, Username: &newName})
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.svc.LookupByUsername(ctx, "alicia")
	require.ErrorIs(t, err, ErrUserNotFound)
	uid, err := f.svc.LookupByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, alice.UID, uid)
}

func TestUpdateProfileValidatesBeforeWriting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice")

	name := "Changed"
	bad := "no spaces allowed"
	_, err := f.svc.UpdateProfile(ctx, alice.UID, entity.ProfileUpdate{Name: &name, Username: &bad})
	require.ErrorIs(t, err, ErrInvalidUsername)

	got, err := f.svc.Get(ctx, alice.UID)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Name)
	require.Equal(t, "alice", got.Username)
}

func TestSetBanned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := f.register(t, "krsxh")
	poster := f.register(t, "teamaxorn")
	alice := f.register(t, "alice")

	err := f.svc.SetBanned(ctx, poster.UID, "alice", true)
	require.ErrorIs(t, err, ErrForbidden)

	err = f.svc.SetBanned(ctx, admin.UID, "nobody", true)
	require.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, f.svc.SetBanned(ctx, admin.UID, "ALICE", true))
	got, err := f.svc.Get(ctx, alice.UID)
	require.NoError(t, err)
	require.True(t, got.IsBanned)

	// banned accounts cannot act
	_, err = f.svc.Actor(ctx, alice.UID)
	require.ErrorIs(t, err, ErrAccountBanned)

	require.NoError(t, f.svc.SetBanned(ctx, admin.UID, "alice", false))
	got, err = f.svc.Get(ctx, alice.UID)
	require.NoError(t, err)
	require.False(t, got.IsBanned)
}

func TestListAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := f.register(t, "lord")
	f.clock.Advance(time.Second)
	alice := f.register(t, "alice")

	_, err := f.svc.ListAccounts(ctx, alice.UID)
	require.ErrorIs(t, err, ErrForbidden)

	accounts, err := f.svc.ListAccounts(ctx, admin.UID)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	require.Equal(t, "lord", accounts[0].Username)

	n, err := f.svc.CountAccounts(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
