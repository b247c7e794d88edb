package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/respond"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/update/entity"
)

type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func limitParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.New(apperr.Validation, "limit must be a non-negative integer")
	}
	return n, nil
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	posts, err := h.svc.List(r.Context(), limit)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, posts)
}

type postRequest struct {
	Message string `json:"message"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	uid, err := session.RequireUID(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	var req postRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	p, err := h.svc.Post(r.Context(), uid, req.Message)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, p)
}

type pinRequest struct {
	Pinned bool `json:"pinned"`
}

func (h *Handler) Pin(w http.ResponseWriter, r *http.Request) {
	uid, err := session.RequireUID(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	var req pinRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if err := h.svc.SetPinned(r.Context(), uid, r.PathValue("id"), req.Pinned); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete treats an already removed post as deleted.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, err := session.RequireUID(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if err := h.svc.Delete(r.Context(), uid, r.PathValue("id")); err != nil && !errors.Is(err, ErrNotFound) {
		respond.Error(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stream sends the full window as a server-sent event after every change.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		respond.Error(w, h.logger, err)
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

	_ = h.svc.Watch(r.Context(), limit, func(posts []*entity.Post) {
		data, err := json.Marshal(posts)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: updates\ndata: %s\n\n", data)
		flusher.Flush()
	})
}
