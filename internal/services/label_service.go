package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// LabelService renders QR shelf labels for catalog entries. Rendered labels
// are cached briefly in Redis since label sheets are printed in batches.
type LabelService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewLabelService(db *sql.DB, redisClient *redis.Client) *LabelService {
	return &LabelService{
		db:    db,
		redis: redisClient,
	}
}

// GenerateLabel returns a base64 PNG QR label for the given book. The QR
// payload carries the identifying fields a scanner needs at the issue desk.
func (s *LabelService) GenerateLabel(ctx context.Context, bookID int) (string, error) {
	if s.redis != nil {
		key := fmt.Sprintf("label:%d", bookID)
		if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
			return cached, nil
		}
	}

	var isbn, title string
	err := s.db.QueryRowContext(ctx,
		`SELECT isbn, title FROM books WHERE id = $1 AND is_active`,
		bookID).Scan(&isbn, &title)
	if err == sql.ErrNoRows {
		return "", ErrBookNotFound
	}
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]any{
		"bookId": bookID,
		"isbn":   isbn,
		"title":  title,
	})
	if err != nil {
		return "", err
	}

	qr, err := qrcode.New(string(payload), qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}

	label := base64.StdEncoding.EncodeToString(buf.Bytes())

	if s.redis != nil {
		key := fmt.Sprintf("label:%d", bookID)
		s.redis.Set(ctx, key, label, 10*time.Minute)
	}

	return label, nil
}
