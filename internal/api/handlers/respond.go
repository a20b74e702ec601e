// Package handlers provides HTTP handlers for the MAR API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/api/middleware"
	"github.com/carehaven/go-mar/internal/domain/grouphome"
	"github.com/carehaven/go-mar/internal/domain/intake"
	"github.com/carehaven/go-mar/internal/domain/medication"
	"github.com/carehaven/go-mar/internal/session"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	jsonEncode(w, v)
}

func jsonEncode(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

var statusByError = []struct {
	err  error
	code int
}{
	{medication.ErrMedicationNotFound, http.StatusNotFound},
	{medication.ErrClientMedicationNotFound, http.StatusNotFound},
	{medication.ErrAdministrationNotFound, http.StatusNotFound},
	{grouphome.ErrNotFound, http.StatusNotFound},
	{grouphome.ErrItemNotFound, http.StatusNotFound},
	{intake.ErrNotFound, http.StatusNotFound},
	{medication.ErrForbidden, http.StatusForbidden},
	{session.ErrInvalidCredentials, http.StatusUnauthorized},
	{session.ErrInvalidToken, http.StatusUnauthorized},
	{medication.ErrInvalidInput, http.StatusBadRequest},
	{grouphome.ErrInvalid, http.StatusBadRequest},
	{medication.ErrVersionConflict, http.StatusConflict},
	{medication.ErrDuplicateMedication, http.StatusConflict},
	{grouphome.ErrAtCapacity, http.StatusConflict},
	{grouphome.ErrAlreadyResident, http.StatusConflict},
	{grouphome.ErrNotResident, http.StatusConflict},
	{grouphome.ErrInsufficientStock, http.StatusConflict},
}

type responder struct {
	logger *zap.Logger
}

// fail maps a service error onto a response. Unknown errors are logged and
// hidden behind a 500.
func (h responder) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *intake.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
		return
	}
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			jsonError(w, err.Error(), m.code)
			return
		}
	}
	h.logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Error(err))
	jsonError(w, "internal server error", http.StatusInternalServerError)
}

func actor(r *http.Request) medication.Actor {
	u, _ := middleware.UserFromContext(r.Context())
	return medication.Actor{Name: u.Name, Role: u.Role}
}

func orNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
