package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openshelf/backend/internal/models"
	"github.com/openshelf/backend/internal/services"
)

// LoanHandler is the HTTP surface of the lending ledger. Every operation
// passes the request time down explicitly; the services never sample the
// clock for lending decisions.
type LoanHandler struct {
	service   *services.LendingService
	validator *services.ValidationHelper
}

func NewLoanHandler(service *services.LendingService) *LoanHandler {
	return &LoanHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// IssueBook lends a book copy to a user
// @Summary Issue a book
// @Description Issue one copy of a book to a user; refused when the book has no free copy, the user is unknown or inactive, or the user is at the borrow limit
// @Tags loans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{user_id=int,book_id=int} true "Issue request"
// @Success 201 {object} object{loan_id=string,due_date=string}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /loans/issue [post]
func (h *LoanHandler) IssueBook(w http.ResponseWriter, r *http.Request) {
	adminID, ok := services.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		UserID int `json:"user_id" validate:"required,gt=0"`
		BookID int `json:"book_id" validate:"required,gt=0"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	now := time.Now().UTC()
	loanID, err := h.service.IssueBook(r.Context(), req.UserID, req.BookID, adminID, now)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	loan, err := h.service.GetLoan(r.Context(), loanID, now)
	if err != nil {
		services.SendErrorResponse(w, "Failed to load loan", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"loan_id":  loanID,
		"due_date": loan.DueDate,
		"loan":     loan,
	})
}

// ReturnBook closes an open loan
// @Summary Return a book
// @Description Close an open loan, freezing the overdue fine and restoring the copy to the shelf
// @Tags loans
// @Produce json
// @Security BearerAuth
// @Param loanId path string true "Loan ID"
// @Success 200 {object} models.ReturnResult
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse "Loan already returned"
// @Router /loans/{loanId}/return [post]
func (h *LoanHandler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	adminID, ok := services.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	loanID := chi.URLParam(r, "loanId")
	if loanID == "" {
		services.SendErrorResponse(w, "Loan id required", http.StatusBadRequest, nil)
		return
	}

	result, err := h.service.ReturnBook(r.Context(), loanID, adminID, time.Now().UTC())
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"fine":         result.Fine,
		"days_overdue": result.DaysOverdue,
	})
}

// ListLoans lists all loans with borrower and book details
// @Summary List loans
// @Tags loans
// @Produce json
// @Security BearerAuth
// @Param status query string false "Status filter (issued, returned)"
// @Success 200 {object} object{loans=[]models.LoanDetail}
// @Router /loans [get]
func (h *LoanHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != models.LoanStatusIssued && status != models.LoanStatusReturned {
		services.SendErrorResponse(w, "Invalid status filter", http.StatusBadRequest, nil)
		return
	}

	loans, err := h.service.ListLoans(r.Context(), status, time.Now().UTC())
	if err != nil {
		services.SendErrorResponse(w, "Failed to list loans", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{
		"loans": loans,
		"count": len(loans),
	})
}

// ListOverdue lists open loans past their due date
// @Summary List overdue loans
// @Description Open loans past due as of the request time, most overdue first, with live fines
// @Tags loans
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{loans=[]models.LoanDetail}
// @Router /loans/overdue [get]
func (h *LoanHandler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.ListOverdue(r.Context(), time.Now().UTC())
	if err != nil {
		services.SendErrorResponse(w, "Failed to list overdue loans", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{
		"loans": loans,
		"count": len(loans),
	})
}

// GetLoan returns one loan with book and borrower details
// @Summary Get a loan
// @Tags loans
// @Produce json
// @Security BearerAuth
// @Param loanId path string true "Loan ID"
// @Success 200 {object} models.LoanDetail
// @Failure 404 {object} services.ErrorResponse
// @Router /loans/{loanId} [get]
func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loanID := chi.URLParam(r, "loanId")

	loan, err := h.service.GetLoan(r.Context(), loanID, time.Now().UTC())
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	services.SendJSON(w, http.StatusOK, loan)
}

// GetUserLoans lists a user's loans (admin view)
// @Summary List a user's loans
// @Tags loans
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Param status query string false "Status filter"
// @Success 200 {object} object{loans=[]models.LoanDetail}
// @Router /users/{userId}/loans [get]
func (h *LoanHandler) GetUserLoans(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	h.respondUserLoans(w, r, userID)
}

// GetMyLoans lists the authenticated member's own loans
// @Summary List own loans
// @Tags loans
// @Produce json
// @Security BearerAuth
// @Param status query string false "Status filter"
// @Success 200 {object} object{loans=[]models.LoanDetail}
// @Router /auth/my-loans [get]
func (h *LoanHandler) GetMyLoans(w http.ResponseWriter, r *http.Request) {
	userID, ok := services.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	h.respondUserLoans(w, r, userID)
}

func (h *LoanHandler) respondUserLoans(w http.ResponseWriter, r *http.Request, userID int) {
	status := r.URL.Query().Get("status")
	if status != "" && status != models.LoanStatusIssued && status != models.LoanStatusReturned {
		services.SendErrorResponse(w, "Invalid status filter", http.StatusBadRequest, nil)
		return
	}

	loans, err := h.service.GetUserLoans(r.Context(), userID, status, time.Now().UTC())
	if err != nil {
		services.SendErrorResponse(w, "Failed to list loans", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{
		"loans": loans,
		"count": len(loans),
	})
}
