package user

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/respond"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/user/entity"
)

// Handler exposes profile, username lookup and admin account endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	uid, err := session.RequireUID(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	acct, err := h.svc.Get(r.Context(), uid)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, acct)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	uid, err := session.RequireUID(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	var req entity.ProfileUpdate
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if _, err := h.svc.Actor(r.Context(), uid); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	acct, err := h.svc.UpdateProfile(r.Context(), uid, req)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, acct)
}

// LookupUsername returns the public view of the account holding a username.
func (h *Handler) LookupUsername(w http.ResponseWriter, r *http.Request) {
	uid, err := h.svc.LookupByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	acct, err := h.svc.Get(r.Context(), uid)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, acct.Public())
}

func (h *Handler) Ban(w http.ResponseWriter, r *http.Request)   { h.setBanned(w, r, true) }
func (h *Handler) Unban(w http.ResponseWriter, r *http.Request) { h.setBanned(w, r, false) }

func (h *Handler) setBanned(w http.ResponseWriter, r *http.Request, banned bool) {
	uid, err := session.RequireUID(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if err := h.svc.SetBanned(r.Context(), uid, r.PathValue("username"), banned); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	uid, err := session.RequireUID(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	accounts, err := h.svc.ListAccounts(r.Context(), uid)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, accounts)
}
