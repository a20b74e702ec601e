package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carehaven/go-mar/internal/api/middleware"
	"github.com/carehaven/go-mar/internal/session"
)

// AuthHandler handles login and logout
type AuthHandler struct {
	responder
	store session.Store
}

// NewAuthHandler creates a new handler
func NewAuthHandler(store session.Store, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{responder: responder{orNop(logger)}, store: store}
}

// Routes is mounted at /auth. Login is public; requireSession guards the rest.
func (h *AuthHandler) Routes(requireSession func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.Login)
	r.Group(func(r chi.Router) {
		r.Use(requireSession)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})
	return r
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  session.User `json:"user"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		jsonError(w, "username and password are required", http.StatusBadRequest)
		return
	}
	token, user, err := h.store.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Logout(r.Context(), middleware.TokenFromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, user)
}
