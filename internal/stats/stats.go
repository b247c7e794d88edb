// Package stats summarizes the community for the home page.
package stats

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	appentity "github.com/ovaphlow/pitchfork/service-membership-go/internal/application/entity"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/respond"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/update"
	updateentity "github.com/ovaphlow/pitchfork/service-membership-go/internal/update/entity"
)

type AccountCounter interface {
	CountAccounts(ctx context.Context) (int, error)
}

type ApplicationCounter interface {
	CountByStatus(ctx context.Context, status appentity.Status) (int, error)
}

type Feed interface {
	Latest(ctx context.Context) (*updateentity.Post, error)
}

type Summary struct {
	Accounts     int        `json:"accounts"`
	Members      int        `json:"members"`
	Pending      int        `json:"pending"`
	LatestUpdate *time.Time `json:"latestUpdate,omitempty"`
}

type Service struct {
	accounts AccountCounter
	apps     ApplicationCounter
	feed     Feed
}

func NewService(accounts AccountCounter, apps ApplicationCounter, feed Feed) *Service {
	return &Service{accounts: accounts, apps: apps, feed: feed}
}

// Summary counts accounts, approved members and pending applications and
// reports when the feed last changed.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	var (
		out Summary
		err error
	)
	if out.Accounts, err = s.accounts.CountAccounts(ctx); err != nil {
		return Summary{}, err
	}
	if out.Members, err = s.apps.CountByStatus(ctx, appentity.StatusApproved); err != nil {
		return Summary{}, err
	}
	if out.Pending, err = s.apps.CountByStatus(ctx, appentity.StatusPending); err != nil {
		return Summary{}, err
	}
	latest, err := s.feed.Latest(ctx)
	switch {
	case err == nil:
		t := latest.Time()
		out.LatestUpdate = &t
	case errors.Is(err, update.ErrNotFound):
	default:
		return Summary{}, err
	}
	return out, nil
}

type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Summary(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, sum)
}
