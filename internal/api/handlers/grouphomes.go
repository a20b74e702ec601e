package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/api/middleware"
	"github.com/carehaven/go-mar/internal/domain/grouphome"
	"github.com/carehaven/go-mar/internal/session"
)

// GroupHomeHandler serves homes, residency and household inventory
type GroupHomeHandler struct {
	responder
	svc *grouphome.Service
}

// NewGroupHomeHandler creates a new handler
func NewGroupHomeHandler(svc *grouphome.Service, logger *zap.Logger) *GroupHomeHandler {
	return &GroupHomeHandler{responder: responder{orNop(logger)}, svc: svc}
}

// Routes is mounted at /group-homes
func (h *GroupHomeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.With(middleware.RequireRole(session.RoleAdmin)).Post("/", h.Create)
	r.Route("/{homeId}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/occupancy", h.Occupancy)
		r.Post("/residents", h.Admit)
		r.Delete("/residents/{clientId}", h.Discharge)
		r.Get("/inventory", h.ListItems)
		r.Post("/inventory", h.AddItem)
		r.Patch("/inventory/{itemId}", h.AdjustItem)
		r.Get("/inventory/reorder", h.Reorder)
	})
	return r
}

type createHomeRequest struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Capacity int    `json:"capacity"`
}

// Create handles POST /group-homes
func (h *GroupHomeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createHomeRequest
	if !decode(w, r, &req) {
		return
	}
	home, err := h.svc.CreateHome(r.Context(), req.Name, req.Address, req.Capacity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, home)
}

// List handles GET /group-homes
func (h *GroupHomeHandler) List(w http.ResponseWriter, r *http.Request) {
	homes, err := h.svc.ListHomes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, homes)
}

// Get handles GET /group-homes/{homeId}
func (h *GroupHomeHandler) Get(w http.ResponseWriter, r *http.Request) {
	home, err := h.svc.GetHome(r.Context(), chi.URLParam(r, "homeId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, home)
}

// Occupancy handles GET /group-homes/{homeId}/occupancy
func (h *GroupHomeHandler) Occupancy(w http.ResponseWriter, r *http.Request) {
	occ, err := h.svc.Occupancy(r.Context(), chi.URLParam(r, "homeId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, occ)
}

type admitRequest struct {
	ClientID string `json:"clientId"`
}

// Admit handles POST /group-homes/{homeId}/residents
func (h *GroupHomeHandler) Admit(w http.ResponseWriter, r *http.Request) {
	var req admitRequest
	if !decode(w, r, &req) {
		return
	}
	home, err := h.svc.Admit(r.Context(), chi.URLParam(r, "homeId"), req.ClientID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, home)
}

// Discharge handles DELETE /group-homes/{homeId}/residents/{clientId}
func (h *GroupHomeHandler) Discharge(w http.ResponseWriter, r *http.Request) {
	home, err := h.svc.Discharge(r.Context(), chi.URLParam(r, "homeId"), chi.URLParam(r, "clientId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, home)
}

// ListItems handles GET /group-homes/{homeId}/inventory
func (h *GroupHomeHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListItems(r.Context(), chi.URLParam(r, "homeId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type addItemRequest struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	Quantity     int    `json:"quantity"`
	Unit         string `json:"unit"`
	ReorderLevel int    `json:"reorderLevel"`
}

// AddItem handles POST /group-homes/{homeId}/inventory
func (h *GroupHomeHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !decode(w, r, &req) {
		return
	}
	item, err := h.svc.AddItem(r.Context(), chi.URLParam(r, "homeId"),
		req.Name, req.Category, req.Quantity, req.Unit, req.ReorderLevel)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type adjustItemRequest struct {
	Delta int `json:"delta"`
}

// AdjustItem handles PATCH /group-homes/{homeId}/inventory/{itemId}
func (h *GroupHomeHandler) AdjustItem(w http.ResponseWriter, r *http.Request) {
	var req adjustItemRequest
	if !decode(w, r, &req) {
		return
	}
	item, err := h.svc.AdjustItem(r.Context(), chi.URLParam(r, "homeId"), chi.URLParam(r, "itemId"), req.Delta)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Reorder handles GET /group-homes/{homeId}/inventory/reorder
func (h *GroupHomeHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ReorderList(r.Context(), chi.URLParam(r, "homeId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
