// internal/books/handler.go
package books

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
	return &Handler{service: service, logger: logger.With("service", "books", "layer", "http")}
}

// Routes mounts every book endpoint, ledger operations included.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/books", h.handleAddBook)
	r.Get("/books", h.handleListBooks)
	r.Get("/books/stats/popular", h.handlePopularBooks)
	r.Get("/books/stats/count", h.handleCount)
	r.Get("/books/stats/available", h.handleAvailable)
	r.Get("/books/{id}", h.handleGetBook)
	r.Put("/books/{id}", h.handleUpdateBook)
	r.Delete("/books/{id}", h.handleDeleteBook)
	r.Patch("/books/{id}/reserve", h.handleReserveCopy)
	r.Patch("/books/{id}/release", h.handleReleaseCopy)
	return r
}

func (h *Handler) bookID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid book ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title  string `json:"title"`
		Author string `json:"author"`
		ISBN   string `json:"isbn"`
		Genre  string `json:"genre"`
		Copies int    `json:"copies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Title == "" || req.ISBN == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "title and isbn are required")
		return
	}

	book, err := h.service.AddBook(r.Context(), req.Title, req.Author, req.ISBN, req.Genre, req.Copies)
	if err != nil {
		h.writeServiceError(w, "add_book", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, book)
}

func (h *Handler) handleListBooks(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ListBooks(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.writeServiceError(w, "list_books", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookID(w, r)
	if !ok {
		return
	}
	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "get_book", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookID(w, r)
	if !ok {
		return
	}

	var params UpdateBookParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	book, err := h.service.UpdateBook(r.Context(), id, params)
	if err != nil {
		h.writeServiceError(w, "update_book", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		h.writeServiceError(w, "delete_book", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReserveCopy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookID(w, r)
	if !ok {
		return
	}
	available, err := h.service.ReserveCopy(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "reserve_copy", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"available_copies": available})
}

func (h *Handler) handleReleaseCopy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookID(w, r)
	if !ok {
		return
	}
	available, err := h.service.ReleaseCopy(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "release_copy", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"available_copies": available})
}

func (h *Handler) handlePopularBooks(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.PopularBooks(r.Context())
	if err != nil {
		h.writeServiceError(w, "popular_books", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.CountBooks(r.Context())
	if err != nil {
		h.writeServiceError(w, "count_books", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *Handler) handleAvailable(w http.ResponseWriter, r *http.Request) {
	total, err := h.service.TotalAvailableCopies(r.Context())
	if err != nil {
		h.writeServiceError(w, "available_copies", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"available_copies": total})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	var openErr *breaker.OpenError
	var callErr *breaker.CallError

	switch {
	case errors.Is(err, ErrBookNotFound):
		httpx.WriteError(w, http.StatusNotFound, "book_not_found", err.Error())
	case errors.Is(err, ErrBookExists):
		httpx.WriteError(w, http.StatusConflict, "book_exists", err.Error())
	case errors.Is(err, ErrNoCopiesAvailable):
		httpx.WriteError(w, http.StatusConflict, "no_copies_available", err.Error())
	case errors.Is(err, ErrHasActiveLoans):
		httpx.WriteError(w, http.StatusConflict, "has_active_loans", err.Error())
	case errors.Is(err, ErrInvalidCopies):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_copies", err.Error())
	case errors.Is(err, ErrInvariantViolation):
		h.logger.Error("invariant violation", "operation", op, "error", err.Error())
		httpx.WriteError(w, http.StatusInternalServerError, "invariant_violation", err.Error())
	case errors.As(err, &openErr):
		httpx.WriteError(w, http.StatusServiceUnavailable, "dependency_unavailable", err.Error())
	case errors.As(err, &callErr):
		httpx.WriteError(w, http.StatusBadGateway, "dependency_error", err.Error())
	default:
		h.logger.Error("operation failed", "operation", op, "error", err.Error())
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
