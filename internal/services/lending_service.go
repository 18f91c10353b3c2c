package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/openshelf/backend/internal/models"
)

// Business-rule failures surfaced by the lending and catalog services. These
// are terminal: callers map them to a user-facing message, no retry.
var (
	ErrBookUnavailable     = errors.New("book unavailable")
	ErrUserNotFound        = errors.New("user not found")
	ErrBorrowLimitExceeded = errors.New("borrow limit exceeded")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrNotIssued           = errors.New("loan is not in issued state")
	ErrBookNotFound        = errors.New("book not found")
	ErrBookHasOpenLoans    = errors.New("book has open loans")
	ErrQuantityConflict    = errors.New("quantity below copies currently on loan")
)

// ErrTransient wraps storage failures that survived the bounded retry.
var ErrTransient = errors.New("transient storage failure")

const (
	maxTxAttempts  = 3
	txRetryBackoff = 50 * time.Millisecond
)

// LendingService executes issue and return operations as single database
// transactions against the affected book, user and loan rows, and serves the
// ledger queries. The caller supplies "now" on every operation; nothing here
// samples the clock for business decisions.
type LendingService struct {
	db    *sql.DB
	rules LendingRules
}

func NewLendingService(db *sql.DB, rules LendingRules) *LendingService {
	return &LendingService{
		db:    db,
		rules: rules,
	}
}

// IssueBook lends one copy of a book to a user. Preconditions are checked in
// order, first failure wins: book active with a free copy, user active, user
// below the borrow limit. The loan insert and both counter updates commit
// atomically; on any failure no partial state is left behind.
func (s *LendingService) IssueBook(ctx context.Context, userID, bookID, adminID int, now time.Time) (string, error) {
	var loanID string

	err := s.withRetry(ctx, func() error {
		id, err := s.issueBookTx(ctx, userID, bookID, adminID, now)
		if err != nil {
			return err
		}
		loanID = id
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Printf("[LENDING] Issued book %d to user %d, loan %s", bookID, userID, loanID)
	return loanID, nil
}

func (s *LendingService) issueBookTx(ctx context.Context, userID, bookID, adminID int, now time.Time) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	// Lock the book row first, then the user row. Issue and return take the
	// locks in the same order so concurrent pairs cannot deadlock.
	var (
		available int
		active    bool
	)
	err = tx.QueryRowContext(ctx,
		`SELECT available_quantity, is_active FROM books WHERE id = $1 FOR UPDATE`,
		bookID).Scan(&available, &active)
	if err == sql.ErrNoRows {
		return "", ErrBookUnavailable
	}
	if err != nil {
		return "", err
	}
	if !active || available <= 0 {
		return "", ErrBookUnavailable
	}

	var userActive bool
	err = tx.QueryRowContext(ctx,
		`SELECT is_active FROM users WHERE id = $1 FOR UPDATE`,
		userID).Scan(&userActive)
	if err == sql.ErrNoRows {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	if !userActive {
		return "", ErrUserNotFound
	}

	// The user row is locked, so this count cannot change under us.
	var openLoans int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE user_id = $1 AND status = $2`,
		userID, models.LoanStatusIssued).Scan(&openLoans)
	if err != nil {
		return "", err
	}
	if openLoans >= s.rules.MaxBooksPerUser {
		return "", ErrBorrowLimitExceeded
	}

	loanID := uuid.NewString()
	dueDate := now.AddDate(0, 0, s.rules.LoanPeriodDays)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO loans (id, book_id, user_id, issued_by, issue_date, due_date, status, fine, fine_paid)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, FALSE)`,
		loanID, bookID, userID, adminID, now, dueDate, models.LoanStatusIssued)
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE books SET available_quantity = available_quantity - 1, total_issued = total_issued + 1, updated_at = NOW() WHERE id = $1`,
		bookID)
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET books_issued = books_issued + 1, updated_at = NOW() WHERE id = $1`,
		userID)
	if err != nil {
		return "", err
	}

	return loanID, tx.Commit()
}

// ReturnBook closes an open loan: the fine is computed from the due date and
// frozen on the loan, the copy goes back on the shelf, and the borrower's
// counters are updated, all in one transaction.
func (s *LendingService) ReturnBook(ctx context.Context, loanID string, adminID int, now time.Time) (*models.ReturnResult, error) {
	var result *models.ReturnResult

	err := s.withRetry(ctx, func() error {
		r, err := s.returnBookTx(ctx, loanID, adminID, now)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[LENDING] Returned loan %s, fine %.2f (%d days overdue)", loanID, result.Fine, result.DaysOverdue)
	return result, nil
}

func (s *LendingService) returnBookTx(ctx context.Context, loanID string, adminID int, now time.Time) (*models.ReturnResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		bookID  int
		userID  int
		status  string
		dueDate time.Time
	)
	err = tx.QueryRowContext(ctx,
		`SELECT book_id, user_id, status, due_date FROM loans WHERE id = $1 FOR UPDATE`,
		loanID).Scan(&bookID, &userID, &status, &dueDate)
	if err == sql.ErrNoRows {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	if status != models.LoanStatusIssued {
		return nil, ErrNotIssued
	}

	fine, daysOverdue := ComputeFine(dueDate, now, s.rules.FinePerDay)

	_, err = tx.ExecContext(ctx,
		`UPDATE loans SET status = $1, return_date = $2, fine = $3, returned_to = $4, updated_at = NOW() WHERE id = $5`,
		models.LoanStatusReturned, now, fine, adminID, loanID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE books SET available_quantity = available_quantity + 1, updated_at = NOW() WHERE id = $1`,
		bookID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET books_issued = books_issued - 1, total_fines = total_fines + $1, updated_at = NOW() WHERE id = $2`,
		fine, userID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.ReturnResult{Fine: fine, DaysOverdue: daysOverdue}, nil
}

const loanDetailColumns = `l.id, l.book_id, l.user_id, l.issued_by, l.issue_date, l.due_date, l.return_date,
	 l.status, l.fine, l.fine_paid, l.returned_to, b.title, b.author, b.isbn`

// GetUserLoans lists a user's loans joined with book details, newest first.
// Open loans carry a live, recomputed fine as of now.
func (s *LendingService) GetUserLoans(ctx context.Context, userID int, status string, now time.Time) ([]models.LoanDetail, error) {
	query := `SELECT ` + loanDetailColumns + `
		 FROM loans l JOIN books b ON b.id = l.book_id
		 WHERE l.user_id = $1`
	args := []any{userID}

	if status != "" {
		query += ` AND l.status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY l.issue_date DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanLoanDetails(rows, false, now)
}

// ListLoans lists all loans joined with book and borrower details, newest
// first, optionally filtered by status.
func (s *LendingService) ListLoans(ctx context.Context, status string, now time.Time) ([]models.LoanDetail, error) {
	query := `SELECT ` + loanDetailColumns + `, u.username, u.email
		 FROM loans l JOIN books b ON b.id = l.book_id JOIN users u ON u.id = l.user_id`
	var args []any

	if status != "" {
		query += ` WHERE l.status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY l.issue_date DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanLoanDetails(rows, true, now)
}

// ListOverdue lists open loans whose due date has passed as of now, most
// overdue first, each annotated with its current fine.
func (s *LendingService) ListOverdue(ctx context.Context, now time.Time) ([]models.LoanDetail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+loanDetailColumns+`, u.username, u.email
		 FROM loans l JOIN books b ON b.id = l.book_id JOIN users u ON u.id = l.user_id
		 WHERE l.status = $1 AND l.due_date < $2
		 ORDER BY l.due_date ASC`,
		models.LoanStatusIssued, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanLoanDetails(rows, true, now)
}

// GetLoan fetches a single loan with book and borrower details.
func (s *LendingService) GetLoan(ctx context.Context, loanID string, now time.Time) (*models.LoanDetail, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+loanDetailColumns+`, u.username, u.email
		 FROM loans l JOIN books b ON b.id = l.book_id JOIN users u ON u.id = l.user_id
		 WHERE l.id = $1`,
		loanID)

	detail, err := s.scanLoanDetail(row.Scan, true)
	if err == sql.ErrNoRows {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}

	s.annotateFine(detail, now)
	return detail, nil
}

// CountLoans counts loans, optionally scoped to a user and a status.
func (s *LendingService) CountLoans(ctx context.Context, userID int, status string) (int, error) {
	query := `SELECT COUNT(*) FROM loans WHERE 1=1`
	var args []any

	if userID > 0 {
		args = append(args, userID)
		query += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *LendingService) scanLoanDetails(rows *sql.Rows, withUser bool, now time.Time) ([]models.LoanDetail, error) {
	var details []models.LoanDetail

	for rows.Next() {
		detail, err := s.scanLoanDetail(rows.Scan, withUser)
		if err != nil {
			return nil, err
		}
		s.annotateFine(detail, now)
		details = append(details, *detail)
	}

	return details, rows.Err()
}

func (s *LendingService) scanLoanDetail(scan func(...any) error, withUser bool) (*models.LoanDetail, error) {
	var detail models.LoanDetail

	dest := []any{
		&detail.ID, &detail.BookID, &detail.UserID, &detail.IssuedBy,
		&detail.IssueDate, &detail.DueDate, &detail.ReturnDate,
		&detail.Status, &detail.Fine, &detail.FinePaid, &detail.ReturnedTo,
		&detail.BookTitle, &detail.BookAuthor, &detail.BookISBN,
	}
	if withUser {
		dest = append(dest, &detail.Username, &detail.UserEmail)
	}

	if err := scan(dest...); err != nil {
		return nil, err
	}
	return &detail, nil
}

// annotateFine fills the derived fine fields: recomputed for open loans,
// the frozen amount for returned ones.
func (s *LendingService) annotateFine(detail *models.LoanDetail, now time.Time) {
	if detail.Status == models.LoanStatusIssued {
		detail.CurrentFine, detail.DaysOverdue = ComputeFine(detail.DueDate, now, s.rules.FinePerDay)
		return
	}

	detail.CurrentFine = detail.Fine
	if detail.ReturnDate != nil {
		_, detail.DaysOverdue = ComputeFine(detail.DueDate, *detail.ReturnDate, s.rules.FinePerDay)
	}
}

// withRetry runs op up to maxTxAttempts times, backing off between attempts,
// but only for lock contention the storage layer reports as retryable.
// Business-rule errors pass through untouched.
func (s *LendingService) withRetry(ctx context.Context, op func() error) error {
	var err error

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = op()
		if err == nil || !isRetryable(err) {
			return err
		}

		log.Printf("[LENDING] Retryable storage failure (attempt %d/%d): %v", attempt, maxTxAttempts, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * txRetryBackoff):
		}
	}

	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
