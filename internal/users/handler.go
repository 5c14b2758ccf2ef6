// internal/users/handler.go
package users

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"librelend/internal/breaker"
	"librelend/internal/httpx"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger.With("service", "users", "layer", "http")}
}

// Routes mounts every user endpoint.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/users/register", h.handleRegister)
	r.Post("/users/login", h.handleLogin)
	r.Get("/users/stats/active", h.handleActiveUsers)
	r.Get("/users/stats/count", h.handleCount)
	r.Get("/users/{id}", h.handleGetUser)
	return r
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Role     string `json:"role"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "email and password are required")
		return
	}
	if req.Role == "" {
		req.Role = "member"
	}

	user, err := h.service.Register(r.Context(), req.Name, req.Email, req.Role, req.Password)
	if err != nil {
		h.writeServiceError(w, "register", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, "login", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid user ID")
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "get_user", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleActiveUsers(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ActiveUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, "active_users", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.CountUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, "count_users", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	var openErr *breaker.OpenError
	var callErr *breaker.CallError

	switch {
	case errors.Is(err, ErrUserNotFound):
		httpx.WriteError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, ErrUserExists):
		httpx.WriteError(w, http.StatusConflict, "user_exists", err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, ErrRateLimited):
		httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.As(err, &openErr):
		httpx.WriteError(w, http.StatusServiceUnavailable, "dependency_unavailable", err.Error())
	case errors.As(err, &callErr):
		httpx.WriteError(w, http.StatusBadGateway, "dependency_error", err.Error())
	default:
		h.logger.Error("operation failed", "operation", op, "error", err.Error())
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
