package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/xtrntr/resourceswap/internal/auth"
	"github.com/xtrntr/resourceswap/internal/metadata"
	"github.com/xtrntr/resourceswap/internal/models"
)

// Codes for failures that do not come from the engine
const (
	codeUnauthorized = "unauthorized"
	codeUserExists   = "user_exists"
	codeDuplicate    = "duplicate_request"
	codeUpstream     = "upstream_failure"
	codeUnavailable  = "unavailable"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// statusFor maps an engine error kind onto an HTTP status
func statusFor(kind models.Kind) int {
	switch kind {
	case models.KindInvalidArgument:
		return http.StatusBadRequest
	case models.KindNotOwner:
		return http.StatusForbidden
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindNotApproved, models.KindOfferInactive, models.KindOfferStale, models.KindMaxOwnedReached:
		return http.StatusConflict
	case models.KindUserLocked, models.KindCooldownActive:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError classifies err, logs it and writes the error body
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)

	entry := h.log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"code":   code,
	})
	if caller, ok := CallerFromContext(r.Context()); ok {
		entry = entry.WithField("account", caller)
	}
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	} else {
		entry.WithError(err).Debug("request rejected")
	}

	writeFailure(w, status, code, message)
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, string(models.KindInvalidArgument), err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, codeUnauthorized, err.Error()
	case errors.Is(err, models.ErrUserExists):
		return http.StatusConflict, codeUserExists, "username already taken"
	case errors.Is(err, metadata.ErrUpstream):
		return http.StatusBadGateway, codeUpstream, err.Error()
	}

	var e *models.Error
	if errors.As(err, &e) {
		return statusFor(e.Kind), string(e.Kind), e.Error()
	}
	return http.StatusInternalServerError, string(models.KindInternal), err.Error()
}
