package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/openshelf/backend/internal/services"
)

func newLoanHandlerTest(t *testing.T) (*LoanHandler, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	service := services.NewLendingService(db, services.LendingRules{
		MaxBooksPerUser: 5,
		LoanPeriodDays:  14,
		FinePerDay:      5.0,
	})
	return NewLoanHandler(service), mock, func() { db.Close() }
}

func asAdmin(r *http.Request) *http.Request {
	ctx := context.WithValue(r.Context(), services.ContextUserID, 1)
	return r.WithContext(ctx)
}

func TestLoanHandler_IssueBook(t *testing.T) {
	handler, mock, done := newLoanHandlerTest(t)
	defer done()

	t.Run("missing identity", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/loans/issue",
			bytes.NewBufferString(`{"user_id": 3, "book_id": 7}`))
		w := httptest.NewRecorder()
		handler.IssueBook(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		r := asAdmin(httptest.NewRequest("POST", "/loans/issue",
			bytes.NewBufferString(`{"user_id": "three"}`)))
		w := httptest.NewRecorder()
		handler.IssueBook(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("book with no free copies maps to conflict", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT available_quantity, is_active FROM books WHERE id = \\$1 FOR UPDATE").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"available_quantity", "is_active"}).
				AddRow(0, true))
		mock.ExpectRollback()

		r := asAdmin(httptest.NewRequest("POST", "/loans/issue",
			bytes.NewBufferString(`{"user_id": 3, "book_id": 7}`)))
		w := httptest.NewRecorder()
		handler.IssueBook(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown book is refused", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT available_quantity, is_active FROM books WHERE id = \\$1 FOR UPDATE").
			WithArgs(99).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		r := asAdmin(httptest.NewRequest("POST", "/loans/issue",
			bytes.NewBufferString(`{"user_id": 3, "book_id": 99}`)))
		w := httptest.NewRecorder()
		handler.IssueBook(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanHandler_ReturnBook(t *testing.T) {
	handler, mock, done := newLoanHandlerTest(t)
	defer done()

	router := chi.NewRouter()
	router.Post("/loans/{loanId}/return", handler.ReturnBook)

	t.Run("unknown loan maps to not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT book_id, user_id, status, due_date FROM loans WHERE id = \\$1 FOR UPDATE").
			WithArgs("no-such-loan").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		r := asAdmin(httptest.NewRequest("POST", "/loans/no-such-loan/return", nil))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing identity", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/loans/abc/return", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
