package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/domain/medication"
)

// MedicationHandler serves medications, client medications and
// administrations
type MedicationHandler struct {
	responder
	svc *medication.Service
}

// NewMedicationHandler creates a new handler
func NewMedicationHandler(svc *medication.Service, logger *zap.Logger) *MedicationHandler {
	return &MedicationHandler{responder: responder{orNop(logger)}, svc: svc}
}

// MedicationRoutes is mounted at /medications
func (h *MedicationHandler) MedicationRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListMedications)
	r.Post("/", h.AddMedication)
	return r
}

// ClientMedicationRoutes is mounted at /client-medications
func (h *MedicationHandler) ClientMedicationRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListClientMedications)
	r.Patch("/{id}", h.UpdateClientMedication)
	return r
}

// AdministrationRoutes is mounted at /administrations
func (h *MedicationHandler) AdministrationRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.RecordAdministration)
	r.Patch("/{id}", h.EditAdministration)
	return r
}

// ListMedications handles GET /medications
func (h *MedicationHandler) ListMedications(w http.ResponseWriter, r *http.Request) {
	meds, err := h.svc.ListMedications(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meds)
}

// AddMedication handles POST /medications
func (h *MedicationHandler) AddMedication(w http.ResponseWriter, r *http.Request) {
	var req medication.AddMedicationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Medication.Route != "" && !req.Medication.Route.Valid() {
		jsonError(w, "unknown route "+string(req.Medication.Route), http.StatusBadRequest)
		return
	}
	res, err := h.svc.AddMedication(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	code := http.StatusCreated
	if res.Reused {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}

// ListClientMedications handles GET /client-medications, optionally
// filtered by ?clientId=
func (h *MedicationHandler) ListClientMedications(w http.ResponseWriter, r *http.Request) {
	var (
		list []*medication.ClientMedication
		err  error
	)
	if clientID := r.URL.Query().Get("clientId"); clientID != "" {
		list, err = h.svc.ListClientMedicationsByClient(r.Context(), clientID)
	} else {
		list, err = h.svc.ListClientMedications(r.Context())
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// UpdateClientMedication handles PATCH /client-medications/{id}
func (h *MedicationHandler) UpdateClientMedication(w http.ResponseWriter, r *http.Request) {
	var u medication.ClientMedicationUpdate
	if !decode(w, r, &u) {
		return
	}
	cm, err := h.svc.UpdateClientMedication(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cm)
}

// RecordAdministration handles POST /administrations. The signed-in user is
// recorded as administrator when the body names nobody.
func (h *MedicationHandler) RecordAdministration(w http.ResponseWriter, r *http.Request) {
	var in medication.AdministrationInput
	if !decode(w, r, &in) {
		return
	}
	if in.MedicationID == "" || in.ClientID == "" {
		jsonError(w, "medicationId and clientId are required", http.StatusBadRequest)
		return
	}
	if in.AdministeredBy == "" {
		in.AdministeredBy = actor(r).Name
	}
	a, err := h.svc.RecordAdministration(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// EditAdministration handles PATCH /administrations/{id}
func (h *MedicationHandler) EditAdministration(w http.ResponseWriter, r *http.Request) {
	var patch medication.AdministrationPatch
	if !decode(w, r, &patch) {
		return
	}
	a, err := h.svc.EditAdministration(r.Context(), actor(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
