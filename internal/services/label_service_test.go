package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestLabelService_GenerateLabel(t *testing.T) {
	t.Run("renders a label without redis", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewLabelService(db, nil)

		mock.ExpectQuery("SELECT isbn, title FROM books WHERE id = \\$1 AND is_active").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"isbn", "title"}).
				AddRow("9780134190440", "The Go Programming Language"))

		label, err := service.GenerateLabel(context.Background(), 7)
		assert.NoError(t, err)
		assert.NotEmpty(t, label)

		// Label must decode to a PNG image.
		raw, err := base64.StdEncoding.DecodeString(label)
		assert.NoError(t, err)
		assert.Equal(t, "\x89PNG", string(raw[:4]))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("serves cached label without touching the database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewLabelService(db, redisClient)

		redisMock.ExpectGet("label:7").SetVal("cached-label")

		label, err := service.GenerateLabel(context.Background(), 7)
		assert.NoError(t, err)
		assert.Equal(t, "cached-label", label)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("caches a freshly rendered label", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewLabelService(db, redisClient)

		redisMock.ExpectGet("label:7").RedisNil()
		mock.ExpectQuery("SELECT isbn, title FROM books WHERE id = \\$1 AND is_active").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"isbn", "title"}).
				AddRow("9780134190440", "The Go Programming Language"))
		redisMock.Regexp().ExpectSet("label:7", ".+", 10*time.Minute).SetVal("OK")

		label, err := service.GenerateLabel(context.Background(), 7)
		assert.NoError(t, err)
		assert.NotEmpty(t, label)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("unknown or inactive book", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewLabelService(db, nil)

		mock.ExpectQuery("SELECT isbn, title FROM books WHERE id = \\$1 AND is_active").
			WithArgs(99).
			WillReturnError(sql.ErrNoRows)

		_, err = service.GenerateLabel(context.Background(), 99)
		assert.ErrorIs(t, err, ErrBookNotFound)
	})
}
