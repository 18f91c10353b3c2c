package models

import "time"

// Loan status values. A loan is created as issued and transitions exactly
// once to returned; loans are never deleted.
const (
	LoanStatusIssued   = "issued"
	LoanStatusReturned = "returned"
)

// Loan is one ledger entry: a single book copy lent to a single user for one
// borrowing period. It stores identities only; book and user details are
// joined at read time.
type Loan struct {
	ID         string     `json:"id" db:"id"`
	BookID     int        `json:"book_id" db:"book_id"`
	UserID     int        `json:"user_id" db:"user_id"`
	IssuedBy   int        `json:"issued_by" db:"issued_by"`
	IssueDate  time.Time  `json:"issue_date" db:"issue_date"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty" db:"return_date"`
	Status     string     `json:"status" db:"status"`
	Fine       float64    `json:"fine" db:"fine"`
	FinePaid   bool       `json:"fine_paid" db:"fine_paid"`
	ReturnedTo *int       `json:"returned_to,omitempty" db:"returned_to"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// LoanDetail is a loan joined with its book (and, for admin views, the
// borrower). CurrentFine is recomputed per request for open loans and equals
// the frozen Fine once returned.
type LoanDetail struct {
	Loan
	BookTitle   string  `json:"book_title" db:"book_title"`
	BookAuthor  string  `json:"book_author" db:"book_author"`
	BookISBN    string  `json:"book_isbn" db:"book_isbn"`
	Username    string  `json:"username,omitempty" db:"username"`
	UserEmail   string  `json:"user_email,omitempty" db:"user_email"`
	CurrentFine float64 `json:"current_fine"`
	DaysOverdue int     `json:"days_overdue"`
}

// ReturnResult is the outcome of a return operation.
type ReturnResult struct {
	Fine        float64 `json:"fine"`
	DaysOverdue int     `json:"days_overdue"`
}
