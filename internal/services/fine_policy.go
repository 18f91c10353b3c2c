package services

import (
	"time"

	"github.com/spf13/viper"
)

// LendingRules are the configurable business rules of the lending ledger.
type LendingRules struct {
	MaxBooksPerUser int
	LoanPeriodDays  int
	FinePerDay      float64
}

// LendingRulesFromConfig reads the lending rules with defaults.
func LendingRulesFromConfig() LendingRules {
	viper.SetDefault("library.max_books_per_user", 5)
	viper.SetDefault("library.loan_period_days", 14)
	viper.SetDefault("library.fine_per_day", 5.0)

	return LendingRules{
		MaxBooksPerUser: viper.GetInt("library.max_books_per_user"),
		LoanPeriodDays:  viper.GetInt("library.loan_period_days"),
		FinePerDay:      viper.GetFloat64("library.fine_per_day"),
	}
}

// ComputeFine returns the fine and whole days overdue for a loan due at
// dueDate as of now. Pure and deterministic: the same function prices the
// frozen fine at return time and the live fine shown for open loans, so an
// open loan's fine is always recomputed, never stored.
func ComputeFine(dueDate, now time.Time, perDay float64) (float64, int) {
	if !now.After(dueDate) {
		return 0, 0
	}

	daysOverdue := int(now.Sub(dueDate).Hours() / 24)
	return float64(daysOverdue) * perDay, daysOverdue
}
