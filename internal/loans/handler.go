// internal/loans/handler.go
package loans

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

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
	return &Handler{service: service, logger: logger.With("service", "loans", "layer", "http")}
}

// Routes mounts every loan endpoint.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/loans", h.handleIssue)
	r.Post("/returns", h.handleReturn)
	r.Put("/loans/{id}/extend", h.handleExtend)
	r.Get("/loans/user/{userId}", h.handleLoansByUser)
	r.Get("/loans/overdue", h.handleOverdue)
	r.Get("/loans/book/{bookId}/active", h.handleActiveForBook)
	r.Get("/loans/stats/popular", h.handlePopularBooks)
	r.Get("/loans/stats/active-users", h.handleActiveUsers)
	r.Get("/loans/stats/overview", h.handleOverview)
	return r
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  uuid.UUID `json:"user_id"`
		BookID  uuid.UUID `json:"book_id"`
		DueDate time.Time `json:"due_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.DueDate.IsZero() {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "due_date is required")
		return
	}

	loan, err := h.service.IssueLoan(r.Context(), req.UserID, req.BookID, req.DueDate)
	if err != nil {
		h.writeServiceError(w, r, "issue", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, loan)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LoanID uuid.UUID `json:"loan_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	loan, err := h.service.ReturnLoan(r.Context(), req.LoanID)
	if err != nil {
		h.writeServiceError(w, r, "return", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loan)
}

func (h *Handler) handleExtend(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid loan ID")
		return
	}

	var req struct {
		ExtensionDays int `json:"extension_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.ExtensionDays <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "extension_days must be positive")
		return
	}

	loan, err := h.service.ExtendLoan(r.Context(), loanID, req.ExtensionDays)
	if err != nil {
		h.writeServiceError(w, r, "extend", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loan)
}

func (h *Handler) handleLoansByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid user ID")
		return
	}

	result, err := h.service.LoansByUser(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, "loans_by_user", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleOverdue(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.OverdueLoans(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "overdue", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleActiveForBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := uuid.Parse(chi.URLParam(r, "bookId"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid book ID")
		return
	}

	check, err := h.service.ActiveLoansForBook(r.Context(), bookID)
	if err != nil {
		h.writeServiceError(w, r, "active_for_book", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, check)
}

func (h *Handler) handlePopularBooks(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.PopularBooks(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "popular_books", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleActiveUsers(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ActiveUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "active_users", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.SystemOverview(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "overview", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, overview)
}

// writeServiceError maps the error taxonomy onto transport statuses:
// not-found 404, business-rule violations 409, breaker-open 503, failed
// remote calls 502, everything else 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var openErr *breaker.OpenError
	var callErr *breaker.CallError

	switch {
	case errors.Is(err, ErrLoanNotFound):
		httpx.WriteError(w, http.StatusNotFound, "loan_not_found", err.Error())
	case errors.Is(err, ErrUserNotFound):
		httpx.WriteError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, ErrBookNotFound):
		httpx.WriteError(w, http.StatusNotFound, "book_not_found", err.Error())
	case errors.Is(err, ErrDuplicateLoan):
		httpx.WriteError(w, http.StatusConflict, "duplicate_loan", err.Error())
	case errors.Is(err, ErrNoCopiesAvailable):
		httpx.WriteError(w, http.StatusConflict, "no_copies_available", err.Error())
	case errors.Is(err, ErrAlreadyReturned):
		httpx.WriteError(w, http.StatusConflict, "already_returned", err.Error())
	case errors.Is(err, ErrNotActive):
		httpx.WriteError(w, http.StatusConflict, "not_active", err.Error())
	case errors.Is(err, ErrMaxExtensionsReached):
		httpx.WriteError(w, http.StatusConflict, "max_extensions_reached", err.Error())
	case errors.As(err, &openErr):
		httpx.WriteError(w, http.StatusServiceUnavailable, "dependency_unavailable", err.Error())
	case errors.As(err, &callErr):
		httpx.WriteError(w, http.StatusBadGateway, "dependency_error", err.Error())
	default:
		h.logger.Error("operation failed", "operation", op, "error", err.Error())
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
