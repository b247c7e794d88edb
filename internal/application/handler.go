package application

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/application/entity"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/respond"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/session"
)

type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Card is the membership card shown after submitting.
type Card struct {
	Code        string `json:"applicationId"`
	Name        string `json:"name"`
	Username    string `json:"username"`
	BanningYear string `json:"banningYear"`
	IGUsername  string `json:"igUsername"`
	TGUsername  string `json:"tgUsername"`
	Phone       string `json:"phone"`
	AppliedAt   string `json:"appliedAt"`
}

type applicationResponse struct {
	*entity.Application
	Card Card `json:"card"`
}

func withCard(a *entity.Application) applicationResponse {
	return applicationResponse{
		Application: a,
		Card: Card{
			Code:        a.Code,
			Name:        a.Name,
			Username:    a.Username,
			BanningYear: a.BanningYear,
			IGUsername:  a.IGUsername,
			TGUsername:  a.TGUsername,
			Phone:       a.MaskedPhone(),
			AppliedAt:   a.AppliedAt.Format("2006-01-02"),
		},
	}
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	uid, err := session.RequireUID(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	var form entity.Form
	if err := respond.Decode(r, &form); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	app, err := h.svc.Submit(r.Context(), uid, form)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, withCard(app))
}

// Mine returns the caller's deciding application.
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	uid, err := session.RequireUID(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	app, err := h.svc.Latest(r.Context(), uid)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, withCard(app))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	uid, err := session.RequireUID(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	apps, err := h.svc.List(r.Context(), uid)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, apps)
}

type reviewRequest struct {
	Status entity.Status `json:"status"`
}

func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	uid, err := session.RequireUID(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	var req reviewRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	app, err := h.svc.Review(r.Context(), uid, r.PathValue("id"), req.Status)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, app)
}
