package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/application/entity"
	apprepo "github.com/ovaphlow/pitchfork/service-membership-go/internal/application/repo"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/capability"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/docstore"
	userentity "github.com/ovaphlow/pitchfork/service-membership-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-membership-go/pkg/utilities"
)

const (
	// lockCollection holds one entry per account with an active application.
	lockCollection = "application_locks"
	staleLockAfter = time.Minute
	maxPhoneDigits = 10
	instagramHost  = "instagram.com"
)

var (
	ErrInvalidForm     = apperr.New(apperr.Validation, "invalid application")
	ErrInvalidStatus   = apperr.New(apperr.Validation, "status must be approved or rejected")
	ErrAlreadyApplied  = apperr.New(apperr.Conflict, "an application is already pending or approved")
	ErrAlreadyReviewed = apperr.New(apperr.Conflict, "application already reviewed")
	ErrNoApplication   = apperr.New(apperr.NotFound, "no application")
	ErrNotFound        = apperr.New(apperr.NotFound, "application not found")
	ErrForbidden       = apperr.New(apperr.Auth, "not allowed")
)

// Accounts resolves the account acting on an application. Banned or
// profile-less accounts fail.
type Accounts interface {
	Actor(ctx context.Context, uid string) (*userentity.Account, error)
}

type Service struct {
	repo     *apprepo.ApplicationRepo
	docs     docstore.Store
	accounts Accounts
	caps     *capability.Table
	clock    clockwork.Clock
	logger   *zap.SugaredLogger
	newCode  func() string
}

func NewService(docs docstore.Store, accounts Accounts, caps *capability.Table, clock clockwork.Clock, logger *zap.SugaredLogger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		repo:     apprepo.NewApplicationRepo(docs),
		docs:     docs,
		accounts: accounts,
		caps:     caps,
		clock:    clock,
		logger:   logger,
		newCode:  func() string { return utilities.NewShortCode("APP") },
	}
}

// NormalizeForm trims the form, strips phone formatting and fills the
// optional telegram fields.
func NormalizeForm(f entity.Form) entity.Form {
	f.Name = strings.TrimSpace(f.Name)
	f.BanningYear = strings.TrimSpace(f.BanningYear)
	f.IGUsername = strings.TrimSpace(f.IGUsername)
	f.IGLink = strings.TrimSpace(f.IGLink)
	f.TGUsername = strings.TrimSpace(f.TGUsername)
	f.TGID = strings.TrimSpace(f.TGID)
	if f.TGUsername == "" {
		f.TGUsername = entity.NotProvided
	}
	if f.TGID == "" {
		f.TGID = entity.NotProvided
	}
	f.Phone = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, f.Phone)
	return f
}

// ValidateForm checks a normalized form.
func ValidateForm(f entity.Form) error {
	required := []struct{ field, value string }{
		{"name", f.Name},
		{"banningYear", f.BanningYear},
		{"igUsername", f.IGUsername},
		{"igLink", f.IGLink},
		{"phone", f.Phone},
	}
	for _, r := range required {
		if r.value == "" {
			return apperr.Wrap(apperr.Validation, r.field+" is required", ErrInvalidForm)
		}
	}
	if !strings.Contains(strings.ToLower(f.IGLink), instagramHost) {
		return apperr.Wrap(apperr.Validation, "igLink must be an Instagram profile URL", ErrInvalidForm)
	}
	if len(f.Phone) > maxPhoneDigits {
		return apperr.Wrap(apperr.Validation, fmt.Sprintf("phone must have at most %d digits", maxPhoneDigits), ErrInvalidForm)
	}
	return nil
}

// Submit files a pending application for uid. An account holds at most one
// pending or approved application; the lock entry makes concurrent
// submissions for the same account fail with ErrAlreadyApplied.
func (s *Service) Submit(ctx context.Context, uid string, form entity.Form) (*entity.Application, error) {
	acct, err := s.accounts.Actor(ctx, uid)
	if err != nil {
		return nil, err
	}
	form = NormalizeForm(form)
	if err := ValidateForm(form); err != nil {
		return nil, err
	}
	if err := s.lock(ctx, uid); err != nil {
		return nil, err
	}

	app := &entity.Application{
		Code:      s.newCode(),
		UserID:    uid,
		Username:  acct.Username,
		Status:    entity.StatusPending,
		AppliedAt: s.clock.Now().UTC(),
		Form:      form,
	}
	if err := s.repo.Insert(ctx, app); err != nil {
		_ = s.docs.Remove(ctx, lockCollection, uid)
		return nil, fmt.Errorf("insert application: %w", err)
	}
	s.logger.Infow("application submitted", "uid", uid, "id", app.ID, "code", app.Code)
	return app, nil
}

type lockEntry struct {
	Since time.Time `json:"since"`
}

func (s *Service) lock(ctx context.Context, uid string) error {
	now := s.clock.Now().UTC()
	err := s.docs.Create(ctx, lockCollection, uid, lockEntry{Since: now})
	if err == nil {
		return nil
	}
	if !errors.Is(err, docstore.ErrExists) {
		return err
	}

	// a lock older than staleLockAfter without an active application is
	// left over from a submit that failed after taking it
	var held lockEntry
	if err := s.docs.Get(ctx, lockCollection, uid, &held); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	if now.Sub(held.Since) < staleLockAfter {
		return ErrAlreadyApplied
	}
	apps, err := s.repo.ByUser(ctx, uid)
	if err != nil {
		return err
	}
	for _, a := range apps {
		if a.Status.Active() {
			return ErrAlreadyApplied
		}
	}
	s.logger.Warnw("replacing stale application lock", "uid", uid, "since", held.Since)
	return s.docs.Set(ctx, lockCollection, uid, lockEntry{Since: now})
}

// Latest returns the application that decides uid's membership: the most
// recent by appliedAt, ties going to the larger key.
func (s *Service) Latest(ctx context.Context, uid string) (*entity.Application, error) {
	apps, err := s.repo.ByUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	var latest *entity.Application
	for _, a := range apps {
		if latest == nil || a.Newer(latest) {
			latest = a
		}
	}
	if latest == nil {
		return nil, ErrNoApplication
	}
	return latest, nil
}

// Review approves or rejects a pending application. The actor needs the
// manage-users capability.
func (s *Service) Review(ctx context.Context, actorUID, id string, status entity.Status) (*entity.Application, error) {
	actor, err := s.accounts.Actor(ctx, actorUID)
	if err != nil {
		return nil, err
	}
	if !s.caps.CanManageUsers(actor.Username) {
		return nil, ErrForbidden
	}
	if status != entity.StatusApproved && status != entity.StatusRejected {
		return nil, ErrInvalidStatus
	}
	app, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if app.Status != entity.StatusPending {
		return nil, ErrAlreadyReviewed
	}

	now := s.clock.Now().UTC()
	if err := s.repo.Update(ctx, id, map[string]any{
		"status":     string(status),
		"reviewedAt": now,
		"reviewedBy": actor.Username,
	}); err != nil {
		return nil, err
	}
	if status == entity.StatusRejected {
		if err := s.docs.Remove(ctx, lockCollection, app.UserID); err != nil {
			s.logger.Warnw("application lock not released", "uid", app.UserID, "err", err)
		}
	}
	app.Status, app.ReviewedAt, app.ReviewedBy = status, &now, actor.Username
	s.logger.Infow("application reviewed", "id", id, "status", status, "by", actor.Username)
	return app, nil
}

// List returns every application, newest first. The actor needs the
// view-logs capability.
func (s *Service) List(ctx context.Context, actorUID string) ([]*entity.Application, error) {
	actor, err := s.accounts.Actor(ctx, actorUID)
	if err != nil {
		return nil, err
	}
	if !s.caps.CanViewLogs(actor.Username) {
		return nil, ErrForbidden
	}
	apps, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(apps, func(i, j int) bool { return apps[i].Newer(apps[j]) })
	return apps, nil
}

func (s *Service) CountByStatus(ctx context.Context, status entity.Status) (int, error) {
	apps, err := s.repo.ByStatus(ctx, status)
	if err != nil {
		return 0, err
	}
	return len(apps), nil
}

// Watch calls fn with the owning identity of every application change.
func (s *Service) Watch(fn func(uid string)) (cancel func()) {
	return s.repo.Watch(fn)
}
