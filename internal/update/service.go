package update

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/capability"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/docstore"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/update/entity"
	userentity "github.com/ovaphlow/pitchfork/service-membership-go/internal/user/entity"
)

const (
	collection    = "updates"
	DefaultWindow = 50
)

var (
	ErrEmptyMessage = apperr.New(apperr.Validation, "message is empty")
	ErrUnauthorized = apperr.New(apperr.Auth, "not allowed to manage updates")
	ErrNotFound     = apperr.New(apperr.NotFound, "update not found")
)

type Authors interface {
	Actor(ctx context.Context, uid string) (*userentity.Account, error)
}

// Service is the update feed: an append-only log of posts, newest first,
// writable only by accounts holding the post capability.
type Service struct {
	docs    docstore.Store
	authors Authors
	caps    *capability.Table
	clock   clockwork.Clock
	logger  *zap.SugaredLogger
	metrics *Metrics
	window  int
}

func NewService(docs docstore.Store, authors Authors, caps *capability.Table, clock clockwork.Clock, logger *zap.SugaredLogger, metrics *Metrics, window int) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{docs: docs, authors: authors, caps: caps, clock: clock, logger: logger, metrics: metrics, window: window}
}

func (s *Service) Window() int { return s.window }

func (s *Service) authorize(ctx context.Context, uid string) (*userentity.Account, error) {
	acct, err := s.authors.Actor(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !s.caps.CanPostUpdate(acct.Username) {
		return nil, ErrUnauthorized
	}
	return acct, nil
}

// Post appends message under the author's current profile.
func (s *Service) Post(ctx context.Context, authorUID, message string) (*entity.Post, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	acct, err := s.authorize(ctx, authorUID)
	if err != nil {
		return nil, err
	}
	role := acct.Role
	if role == "" {
		role = userentity.RoleMember
	}
	p := &entity.Post{
		Author: entity.Author{
			UID:        acct.UID,
			Name:       acct.Name,
			Username:   acct.Username,
			ProfilePic: acct.ProfilePic,
			Role:       role,
		},
		Message:   message,
		Timestamp: s.clock.Now().UnixMilli(),
	}
	id, err := s.docs.Push(ctx, collection, p)
	if err != nil {
		return nil, err
	}
	p.ID = id
	s.metrics.posted.Inc()
	s.logger.Infow("update posted", "id", id, "author", acct.Username)
	return p, nil
}

// List returns up to limit posts, newest first. A non-positive limit or one
// above the window is clamped to the window.
func (s *Service) List(ctx context.Context, limit int) ([]*entity.Post, error) {
	if limit <= 0 || limit > s.window {
		limit = s.window
	}
	recs, err := s.docs.Query(ctx, collection, docstore.Query{OrderBy: "timestamp", LimitToLast: limit})
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Post, len(recs))
	for i, rec := range recs {
		var p entity.Post
		if err := rec.Decode(&p); err != nil {
			return nil, err
		}
		p.ID = rec.Key
		out[len(recs)-1-i] = &p
	}
	return out, nil
}

// Latest returns the newest post, or ErrNotFound for an empty feed.
func (s *Service) Latest(ctx context.Context) (*entity.Post, error) {
	posts, err := s.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, ErrNotFound
	}
	return posts[0], nil
}

func (s *Service) SetPinned(ctx context.Context, actorUID, id string, pinned bool) error {
	acct, err := s.authorize(ctx, actorUID)
	if err != nil {
		return err
	}
	if err := s.docs.Update(ctx, collection, id, map[string]any{"isPinned": pinned}); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.metrics.pinned.WithLabelValues(strconv.FormatBool(pinned)).Inc()
	s.logger.Infow("update pin changed", "id", id, "pinned", pinned, "by", acct.Username)
	return nil
}

// Delete removes a post for good. Deleting a missing post reports
// ErrNotFound; callers that treat that as done may ignore it.
func (s *Service) Delete(ctx context.Context, actorUID, id string) error {
	acct, err := s.authorize(ctx, actorUID)
	if err != nil {
		return err
	}
	var p entity.Post
	if err := s.docs.Get(ctx, collection, id, &p); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := s.docs.Remove(ctx, collection, id); err != nil {
		return err
	}
	s.metrics.deleted.Inc()
	s.logger.Infow("update deleted", "id", id, "by", acct.Username)
	return nil
}

// OnChange calls fn for every added, changed or removed post.
func (s *Service) OnChange(fn func(docstore.Change)) (cancel func()) {
	return s.docs.Subscribe(collection, fn)
}

// Watch emits the current window, then the whole refreshed window after
// every change, until ctx is done.
func (s *Service) Watch(ctx context.Context, limit int, emit func([]*entity.Post)) error {
	trigger := make(chan struct{}, 1)
	poke := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
	cancel := s.OnChange(func(docstore.Change) { poke() })
	defer cancel()

	poke()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-trigger:
		}
		posts, err := s.List(ctx, limit)
		if err != nil {
			s.logger.Warnw("refresh feed", "err", err)
			continue
		}
		emit(posts)
	}
}
