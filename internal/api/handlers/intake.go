package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/domain/intake"
)

// IntakeHandler serves the intake form schema and submissions
type IntakeHandler struct {
	responder
	svc *intake.Service
}

// NewIntakeHandler creates a new handler
func NewIntakeHandler(svc *intake.Service, logger *zap.Logger) *IntakeHandler {
	return &IntakeHandler{responder: responder{orNop(logger)}, svc: svc}
}

// Routes is mounted at /intake
func (h *IntakeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/schema", h.Schema)
	r.Get("/", h.List)
	r.Post("/", h.Submit)
	r.Get("/{id}", h.Get)
	return r
}

// Schema handles GET /intake/schema
func (h *IntakeHandler) Schema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Schema())
}

// Submit handles POST /intake
func (h *IntakeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var values map[string]interface{}
	if !decode(w, r, &values) {
		return
	}
	sub, err := h.svc.Submit(r.Context(), values, actor(r).Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// List handles GET /intake
func (h *IntakeHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// Get handles GET /intake/{id}
func (h *IntakeHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
