// Package respond writes JSON responses and maps classified errors to
// status codes for every HTTP handler.
package respond

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/session"
)

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Error writes err with the status for its kind. Internal errors are logged
// and their text is not sent to the client.
func Error(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	status := apperr.HTTPStatus(err)
	if session.IsAuthError(err) {
		status = http.StatusUnauthorized
	}
	kind := apperr.KindOf(err)
	msg := err.Error()
	switch kind {
	case apperr.Internal:
		logger.Errorw("request failed", "err", err)
		msg = "internal error"
	case apperr.Unavailable:
		logger.Warnw("backend unavailable", "err", err)
		msg = "service unavailable"
	default:
		logger.Debugw("request rejected", "kind", kind.String(), "err", err)
	}
	JSON(w, status, errorBody{Error: msg, Kind: kind.String()})
}

// Decode reads a JSON body into v, rejecting unknown fields.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.Validation, "invalid payload", err)
	}
	return nil
}
