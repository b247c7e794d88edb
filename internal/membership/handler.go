package membership

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/respond"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/user/entity"
)

// Handler serves signup, login, logout and the session's routing directive.
type Handler struct {
	users  *user.Service
	router *Router
	logger *zap.SugaredLogger
}

func NewHandler(users *user.Service, router *Router, logger *zap.SugaredLogger) *Handler {
	return &Handler{users: users, router: router, logger: logger}
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	entity.ProfileFields
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse carries the bearer token clients present on later requests.
type AuthResponse struct {
	Token     string          `json:"token"`
	Account   *entity.Account `json:"account"`
	Directive Directive       `json:"directive"`
}

type bannedResponse struct {
	Error     string    `json:"error"`
	Kind      string    `json:"kind"`
	Directive Directive `json:"directive"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SignupRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	acct, err := h.users.Register(r.Context(), user.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
		Profile:  req.ProfileFields,
	})
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	h.signIn(w, r, sess, acct, http.StatusCreated)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req LoginRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	acct, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	var banned *user.BannedError
	if errors.As(err, &banned) {
		sess.Suspend(banned.UID)
		d, rerr := h.router.Recompute(r.Context(), sess)
		if rerr != nil {
			respond.Error(w, h.logger, rerr)
			return
		}
		respond.JSON(w, http.StatusForbidden, bannedResponse{Error: err.Error(), Kind: "auth", Directive: d})
		return
	}
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	h.signIn(w, r, sess, acct, http.StatusOK)
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request, sess *session.Session, acct *entity.Account, status int) {
	token, err := sess.SignIn(r.Context(), acct.UID)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	d, err := h.router.Recompute(r.Context(), sess)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, status, AuthResponse{Token: token, Account: acct, Directive: d})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.SignOut(r.Context()); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Directive returns where the caller's session belongs right now.
func (h *Handler) Directive(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	d, err := h.router.Recompute(r.Context(), sess)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, d)
}

// Stream sends the directive as server-sent events whenever it changes.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	_ = h.router.Watch(r.Context(), sess, func(d Directive) {
		data, err := json.Marshal(d)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: directive\ndata: %s\n\n", data)
		flusher.Flush()
	})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		h.logger.Errorw("request without session", "path", r.URL.Path)
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return nil, false
	}
	return sess, true
}
