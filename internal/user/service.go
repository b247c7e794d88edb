package user

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/capability"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/credential"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/docstore"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-membership-go/internal/user/repo"
)

const maxBioLength = 200

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

var (
	ErrInvalidUsername = apperr.New(apperr.Validation, "username must be 3-20 letters, digits or underscores")
	ErrInvalidProfile  = apperr.New(apperr.Validation, "invalid profile")
	ErrUsernameTaken   = apperr.New(apperr.Conflict, "username already taken")
	ErrAccountBanned   = apperr.New(apperr.Auth, "account banned")
	ErrProfileMissing  = apperr.New(apperr.Auth, "account has no profile")
	ErrForbidden       = apperr.New(apperr.Auth, "not allowed")
	ErrUserNotFound    = apperr.New(apperr.NotFound, "user not found")
)

// BannedError is returned by Authenticate for a banned account. It matches
// ErrAccountBanned and names the identity so the caller can suspend the
// session.
type BannedError struct{ UID string }

func (e *BannedError) Error() string        { return ErrAccountBanned.Error() }
func (e *BannedError) Unwrap() error        { return ErrAccountBanned }
func (e *BannedError) Is(target error) bool { return target == ErrAccountBanned }

// Service resolves identity tokens to accounts and owns the username index.
type Service struct {
	repo   *userrepo.UserRepo
	creds  credential.Provider
	caps   *capability.Table
	clock  clockwork.Clock
	logger *zap.SugaredLogger
}

func NewService(r *userrepo.UserRepo, creds credential.Provider, caps *capability.Table, clock clockwork.Clock, logger *zap.SugaredLogger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{repo: r, creds: creds, caps: caps, clock: clock, logger: logger}
}

// ValidateUsername checks the username format.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// RegisterRequest is the signup input.
type RegisterRequest struct {
	Email    string
	Password string
	Username string
	Profile  entity.ProfileFields
}

// Register creates the credential, the account and the username index entry,
// in that order, after checking the username is free. The index entry is a
// conditional write; if a concurrent signup claimed the name in between, the
// account and credential are removed again and ErrUsernameTaken returned.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*entity.Account, error) {
	username := strings.TrimSpace(req.Username)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := validateProfile(req.Profile.Bio); err != nil {
		return nil, err
	}
	if _, err := s.repo.LookupUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}

	uid, err := s.creds.CreateAccount(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Profile.Name)
	if name == "" {
		name = username
	}
	acct := &entity.Account{
		UID:        uid,
		Name:       name,
		Username:   username,
		Email:      credential.NormalizeEmail(req.Email),
		Role:       entity.RoleMember,
		JoinDate:   s.clock.Now().UTC(),
		ProfilePic: req.Profile.ProfilePic,
		Bio:        req.Profile.Bio,
		Phone:      req.Profile.Phone,
		Instagram:  req.Profile.Instagram,
		Telegram:   req.Profile.Telegram,
	}
	if s.caps.IsAdmin(username) {
		acct.Role = entity.RoleAdmin
	}
	if err := s.repo.Create(ctx, acct); err != nil {
		s.undoCredential(ctx, req.Email, uid)
		return nil, fmt.Errorf("create account: %w", err)
	}

	if err := s.repo.ReserveUsername(ctx, username, uid); err != nil {
		if delErr := s.repo.Delete(ctx, uid); delErr != nil {
			s.logger.Warnw("orphaned account after failed signup", "uid", uid, "err", delErr)
		}
		s.undoCredential(ctx, req.Email, uid)
		if errors.Is(err, docstore.ErrExists) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("reserve username: %w", err)
	}
	s.logger.Infow("account registered", "uid", uid, "username", username)
	return acct, nil
}

func (s *Service) undoCredential(ctx context.Context, email, uid string) {
	if err := s.creds.DeleteAccount(ctx, email); err != nil {
		s.logger.Warnw("orphaned credential after failed signup", "uid", uid, "err", err)
	}
}

// Authenticate validates credentials and resolves the account. Banned
// accounts fail with a *BannedError; the caller must not open a session.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*entity.Account, error) {
	uid, err := s.creds.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	acct, err := s.repo.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			s.logger.Warnw("credential without profile", "uid", uid)
			return nil, ErrProfileMissing
		}
		return nil, err
	}
	if acct.IsBanned {
		return nil, &BannedError{UID: uid}
	}
	return acct, nil
}

// Get returns the account for an identity token.
func (s *Service) Get(ctx context.Context, uid string) (*entity.Account, error) {
	acct, err := s.repo.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return acct, nil
}

// LookupByUsername resolves a username (any case) to its identity token.
func (s *Service) LookupByUsername(ctx context.Context, username string) (string, error) {
	uid, err := s.repo.LookupUsername(ctx, username)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return uid, nil
}

// Rename moves the account to newUsername. The new index entry is written
// before the old one is dropped, so a lookup of either name never finds
// neither; a failed cleanup leaves a harmless stale alias.
func (s *Service) Rename(ctx context.Context, uid, newUsername string) (*entity.Account, error) {
	return s.UpdateProfile(ctx, uid, entity.ProfileUpdate{Username: &newUsername})
}

// UpdateProfile applies a partial profile edit. Every field is validated
// before anything is written, and a username change lands in the same
// account write as the other fields.
func (s *Service) UpdateProfile(ctx context.Context, uid string, upd entity.ProfileUpdate) (*entity.Account, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, apperr.Wrap(apperr.Validation, "name is required", ErrInvalidProfile)
	}
	if upd.Bio != nil {
		if err := validateProfile(*upd.Bio); err != nil {
			return nil, err
		}
	}
	var newUsername string
	if upd.Username != nil {
		newUsername = strings.TrimSpace(*upd.Username)
		if err := ValidateUsername(newUsername); err != nil {
			return nil, err
		}
	}

	acct, err := s.Get(ctx, uid)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	set := func(key string, v *string) {
		if v != nil {
			fields[key] = strings.TrimSpace(*v)
		}
	}
	set("name", upd.Name)
	set("profilePic", upd.ProfilePic)
	set("bio", upd.Bio)
	set("phone", upd.Phone)
	set("instagram", upd.Instagram)
	set("telegram", upd.Telegram)

	renaming := newUsername != "" && newUsername != acct.Username
	oldKey := userrepo.NormalizeUsername(acct.Username)
	reserved := false
	if renaming {
		fields["username"] = newUsername
		if userrepo.NormalizeUsername(newUsername) != oldKey {
			if err := s.repo.ReserveUsername(ctx, newUsername, uid); err != nil {
				if !errors.Is(err, docstore.ErrExists) {
					return nil, err
				}
				owner, lookupErr := s.repo.LookupUsername(ctx, newUsername)
				if lookupErr != nil || owner != uid {
					return nil, ErrUsernameTaken
				}
			}
			reserved = true
		}
	}
	if len(fields) == 0 {
		return acct, nil
	}

	fields["updatedAt"] = s.clock.Now().UTC()
	if err := s.repo.Update(ctx, uid, fields); err != nil {
		if reserved {
			if relErr := s.repo.ReleaseUsername(ctx, newUsername); relErr != nil {
				s.logger.Warnw("release reserved username", "uid", uid, "username", newUsername, "err", relErr)
			}
		}
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if reserved {
		if owner, err := s.repo.LookupUsername(ctx, acct.Username); err == nil && owner == uid {
			if err := s.repo.ReleaseUsername(ctx, acct.Username); err != nil {
				s.logger.Warnw("stale username alias", "uid", uid, "username", oldKey, "err", err)
			}
		}
	}
	if renaming {
		s.logger.Infow("username changed", "uid", uid, "from", acct.Username, "to", newUsername)
	}
	return s.Get(ctx, uid)
}

// SetBanned kicks or reinstates the account behind username. The actor must
// hold the manage-users capability.
func (s *Service) SetBanned(ctx context.Context, actorUID, username string, banned bool) error {
	actor, err := s.Actor(ctx, actorUID)
	if err != nil {
		return err
	}
	if !s.caps.CanManageUsers(actor.Username) {
		return ErrForbidden
	}
	uid, err := s.LookupByUsername(ctx, username)
	if err != nil {
		return err
	}
	if uid == actor.UID {
		return apperr.Wrap(apperr.Validation, "cannot ban yourself", ErrForbidden)
	}
	if err := s.repo.Update(ctx, uid, map[string]any{"isBanned": banned, "updatedAt": s.clock.Now().UTC()}); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.logger.Infow("ban flag changed", "actor", actor.Username, "username", username, "banned", banned)
	return nil
}

// ListAccounts returns every account for the admin logs view.
func (s *Service) ListAccounts(ctx context.Context, actorUID string) ([]*entity.Account, error) {
	actor, err := s.Actor(ctx, actorUID)
	if err != nil {
		return nil, err
	}
	if !s.caps.CanViewLogs(actor.Username) {
		return nil, ErrForbidden
	}
	return s.repo.List(ctx)
}

// Actor loads the account performing an action. Banned accounts may not act.
func (s *Service) Actor(ctx context.Context, uid string) (*entity.Account, error) {
	if uid == "" {
		return nil, ErrForbidden
	}
	acct, err := s.Get(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrProfileMissing
		}
		return nil, err
	}
	if acct.IsBanned {
		return nil, &BannedError{UID: uid}
	}
	return acct, nil
}

// CountAccounts returns the number of registered accounts.
func (s *Service) CountAccounts(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// Watch calls fn whenever the account with uid changes.
func (s *Service) Watch(uid string, fn func()) (cancel func()) {
	return s.repo.WatchAccount(uid, fn)
}

func validateProfile(bio string) error {
	if utf8.RuneCountInString(bio) > maxBioLength {
		return apperr.Wrap(apperr.Validation, fmt.Sprintf("bio must be %d characters or less", maxBioLength), ErrInvalidProfile)
	}
	return nil
}
