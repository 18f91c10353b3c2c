package services

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestComputeFine(t *testing.T) {
	perDay := 5.0
	due := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	t.Run("no fine before due date", func(t *testing.T) {
		fine, days := ComputeFine(due, due.Add(-48*time.Hour), perDay)
		assert.Equal(t, 0.0, fine)
		assert.Equal(t, 0, days)
	})

	t.Run("no fine exactly at due date", func(t *testing.T) {
		fine, days := ComputeFine(due, due, perDay)
		assert.Equal(t, 0.0, fine)
		assert.Equal(t, 0, days)
	})

	t.Run("partial day overdue rounds down", func(t *testing.T) {
		fine, days := ComputeFine(due, due.Add(23*time.Hour), perDay)
		assert.Equal(t, 0.0, fine)
		assert.Equal(t, 0, days)
	})

	t.Run("three days overdue", func(t *testing.T) {
		fine, days := ComputeFine(due, due.Add(3*24*time.Hour), perDay)
		assert.Equal(t, 15.0, fine)
		assert.Equal(t, 3, days)
	})

	t.Run("fourteen day loan returned on day twenty", func(t *testing.T) {
		issued := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		dueDate := issued.AddDate(0, 0, 14)
		returned := issued.AddDate(0, 0, 20)

		fine, days := ComputeFine(dueDate, returned, perDay)
		assert.Equal(t, 6, days)
		assert.Equal(t, 30.0, fine)
	})

	t.Run("deterministic", func(t *testing.T) {
		now := due.Add(100 * time.Hour)
		fine1, days1 := ComputeFine(due, now, perDay)
		fine2, days2 := ComputeFine(due, now, perDay)
		assert.Equal(t, fine1, fine2)
		assert.Equal(t, days1, days2)
	})
}

func TestLendingRulesFromConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	t.Run("defaults", func(t *testing.T) {
		rules := LendingRulesFromConfig()
		assert.Equal(t, 5, rules.MaxBooksPerUser)
		assert.Equal(t, 14, rules.LoanPeriodDays)
		assert.Equal(t, 5.0, rules.FinePerDay)
	})

	t.Run("overrides", func(t *testing.T) {
		viper.Set("library.max_books_per_user", 3)
		viper.Set("library.fine_per_day", 2.5)

		rules := LendingRulesFromConfig()
		assert.Equal(t, 3, rules.MaxBooksPerUser)
		assert.Equal(t, 2.5, rules.FinePerDay)
	})
}
