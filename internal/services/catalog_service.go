package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/lib/pq"

	"github.com/openshelf/backend/internal/models"
)

const (
	defaultPageSize = 12
	maxPageSize     = 100

	statsCacheKey = "catalog:statistics"
	statsCacheTTL = time.Minute
)

// CatalogService manages the book catalog: CRUD, search, the quantity
// counters, and the guarded soft-delete. Issue/return counter changes belong
// to the LendingService; the only other writer of available_quantity is the
// administrative quantity adjustment here.
type CatalogService struct {
	db        *sql.DB
	redis     *redis.Client
	rules     LendingRules
	validator *ValidationHelper
}

func NewCatalogService(db *sql.DB, redisClient *redis.Client, rules LendingRules) *CatalogService {
	return &CatalogService{
		db:        db,
		redis:     redisClient,
		rules:     rules,
		validator: NewValidationHelper(),
	}
}

// CreateBook adds a new book to the catalog
// @Summary Add a book
// @Description Create a new catalog entry with its copy count
// @Tags catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CreateBookRequest true "Book data"
// @Success 201 {object} models.Book
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "ISBN already exists"
// @Router /books [post]
func (s *CatalogService) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBookRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.CoverImage == "" {
		req.CoverImage = models.DefaultCoverImage
	}

	var book models.Book
	err := s.db.QueryRowContext(r.Context(),
		`INSERT INTO books (isbn, title, author, category, publisher, publication_year, description, cover_image, quantity, available_quantity)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 RETURNING id, created_at, updated_at`,
		req.ISBN, req.Title, req.Author, req.Category, req.Publisher,
		req.PublicationYear, req.Description, req.CoverImage, req.Quantity,
	).Scan(&book.ID, &book.CreatedAt, &book.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			log.Printf("[CATALOG] Duplicate ISBN rejected: %s", req.ISBN)
			SendErrorResponse(w, "Book with this ISBN already exists", http.StatusConflict, nil)
			return
		}
		log.Printf("[CATALOG] Book creation failed: %v", err)
		SendErrorResponse(w, "Failed to create book", http.StatusInternalServerError, nil)
		return
	}

	book.ISBN = req.ISBN
	book.Title = req.Title
	book.Author = req.Author
	book.Category = req.Category
	book.Publisher = req.Publisher
	book.PublicationYear = req.PublicationYear
	book.Description = req.Description
	book.CoverImage = req.CoverImage
	book.Quantity = req.Quantity
	book.AvailableQuantity = req.Quantity
	book.IsActive = true

	s.invalidateStats(r.Context())
	log.Printf("[CATALOG] Book created - ID: %d, ISBN: %s", book.ID, book.ISBN)
	SendJSON(w, http.StatusCreated, book)
}

// GetBook returns a single book by id
// @Summary Get a book
// @Tags catalog
// @Produce json
// @Param bookId path int true "Book ID"
// @Success 200 {object} models.Book
// @Failure 404 {object} ErrorResponse
// @Router /books/{bookId} [get]
func (s *CatalogService) GetBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.Atoi(chi.URLParam(r, "bookId"))
	if err != nil {
		SendErrorResponse(w, "Invalid book id", http.StatusBadRequest, nil)
		return
	}

	book, err := s.getBookByID(r.Context(), bookID)
	if err != nil {
		SendErrorResponse(w, "Book not found", StatusForError(err), nil)
		return
	}

	SendJSON(w, http.StatusOK, book)
}

// ListBooks lists catalog entries with optional search and category filters
// @Summary List books
// @Tags catalog
// @Produce json
// @Param search query string false "Search in title, author, ISBN"
// @Param category query string false "Category filter"
// @Param available query bool false "Only books with a free copy"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} object{books=[]models.Book,total=int,page=int,limit=int}
// @Router /books [get]
func (s *CatalogService) ListBooks(w http.ResponseWriter, r *http.Request) {
	search := strings.TrimSpace(r.URL.Query().Get("search"))
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	availableOnly := r.URL.Query().Get("available") == "true"
	page, limit := pagination(r)

	where := []string{"is_active"}
	var args []any

	if search != "" {
		args = append(args, "%"+search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR author ILIKE $%d OR isbn ILIKE $%d OR description ILIKE $%d)", n, n, n, n))
	}
	if category != "" {
		args = append(args, category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if availableOnly {
		where = append(where, "available_quantity > 0")
	}

	condition := strings.Join(where, " AND ")

	var total int
	err := s.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM books WHERE `+condition, args...).Scan(&total)
	if err != nil {
		log.Printf("[CATALOG] Book count failed: %v", err)
		SendErrorResponse(w, "Failed to list books", http.StatusInternalServerError, nil)
		return
	}

	args = append(args, limit, (page-1)*limit)
	rows, err := s.db.QueryContext(r.Context(),
		`SELECT id, isbn, title, author, category, publisher, publication_year, description, cover_image,
		        quantity, available_quantity, is_active, total_issued, created_at, updated_at
		 FROM books WHERE `+condition+
			fmt.Sprintf(` ORDER BY title ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		log.Printf("[CATALOG] Book listing failed: %v", err)
		SendErrorResponse(w, "Failed to list books", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	books := []models.Book{}
	for rows.Next() {
		var b models.Book
		if err := scanBook(rows.Scan, &b); err != nil {
			log.Printf("[CATALOG] Book scan failed: %v", err)
			SendErrorResponse(w, "Failed to list books", http.StatusInternalServerError, nil)
			return
		}
		books = append(books, b)
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"books":       books,
		"total":       total,
		"page":        page,
		"limit":       limit,
		"total_pages": (total + limit - 1) / limit,
	})
}

// GetCategories lists the distinct categories of active books
// @Summary List categories
// @Tags catalog
// @Produce json
// @Success 200 {object} object{categories=[]string}
// @Router /categories [get]
func (s *CatalogService) GetCategories(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(),
		`SELECT DISTINCT category FROM books WHERE is_active ORDER BY category ASC`)
	if err != nil {
		log.Printf("[CATALOG] Category listing failed: %v", err)
		SendErrorResponse(w, "Failed to list categories", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	categories := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			SendErrorResponse(w, "Failed to list categories", http.StatusInternalServerError, nil)
			return
		}
		categories = append(categories, c)
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"categories": categories,
		"count":      len(categories),
	})
}

// UpdateBook edits a book's descriptive fields and, optionally, its quantity
// @Summary Update a book
// @Description Quantity changes shift available copies by the same delta
// @Tags catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param bookId path int true "Book ID"
// @Param request body models.UpdateBookRequest true "Book data"
// @Success 200 {object} models.Book
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "More copies on loan than the new quantity"
// @Router /books/{bookId} [put]
func (s *CatalogService) UpdateBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.Atoi(chi.URLParam(r, "bookId"))
	if err != nil {
		SendErrorResponse(w, "Invalid book id", http.StatusBadRequest, nil)
		return
	}

	var req models.UpdateBookRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	err = s.updateBookTx(r.Context(), bookID, &req)
	if err != nil {
		if errors.Is(err, ErrBookNotFound) || errors.Is(err, ErrQuantityConflict) {
			SendErrorResponse(w, err.Error(), StatusForError(err), nil)
			return
		}
		log.Printf("[CATALOG] Book update failed for %d: %v", bookID, err)
		SendErrorResponse(w, "Failed to update book", http.StatusInternalServerError, nil)
		return
	}

	book, err := s.getBookByID(r.Context(), bookID)
	if err != nil {
		SendErrorResponse(w, "Failed to update book", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[CATALOG] Book updated - ID: %d", bookID)
	SendJSON(w, http.StatusOK, book)
}

// AdjustQuantity changes the total copy count of a book
// @Summary Adjust book quantity
// @Description Applies the same delta to available copies; refused if copies on loan exceed the new quantity
// @Tags catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param bookId path int true "Book ID"
// @Param request body object{quantity=int} true "New total quantity"
// @Success 200 {object} models.Book
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /books/{bookId}/quantity [put]
func (s *CatalogService) AdjustQuantity(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.Atoi(chi.URLParam(r, "bookId"))
	if err != nil {
		SendErrorResponse(w, "Invalid book id", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		Quantity int `json:"quantity" validate:"gte=0"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := s.AdjustBookQuantity(r.Context(), bookID, req.Quantity); err != nil {
		if errors.Is(err, ErrBookNotFound) || errors.Is(err, ErrQuantityConflict) {
			SendErrorResponse(w, err.Error(), StatusForError(err), nil)
			return
		}
		log.Printf("[CATALOG] Quantity adjustment failed for %d: %v", bookID, err)
		SendErrorResponse(w, "Failed to adjust quantity", http.StatusInternalServerError, nil)
		return
	}

	book, err := s.getBookByID(r.Context(), bookID)
	if err != nil {
		SendErrorResponse(w, "Failed to adjust quantity", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[CATALOG] Quantity adjusted - ID: %d, quantity: %d", bookID, req.Quantity)
	SendJSON(w, http.StatusOK, book)
}

// DeactivateBook soft-deletes a book
// @Summary Deactivate a book
// @Description Refused while any copy is out on loan
// @Tags catalog
// @Produce json
// @Security BearerAuth
// @Param bookId path int true "Book ID"
// @Success 200 {object} object{message=string}
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Book has open loans"
// @Router /books/{bookId} [delete]
func (s *CatalogService) DeactivateBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.Atoi(chi.URLParam(r, "bookId"))
	if err != nil {
		SendErrorResponse(w, "Invalid book id", http.StatusBadRequest, nil)
		return
	}

	if err := s.deactivateBookTx(r.Context(), bookID); err != nil {
		if errors.Is(err, ErrBookNotFound) || errors.Is(err, ErrBookHasOpenLoans) {
			SendErrorResponse(w, err.Error(), StatusForError(err), nil)
			return
		}
		log.Printf("[CATALOG] Deactivation failed for %d: %v", bookID, err)
		SendErrorResponse(w, "Failed to deactivate book", http.StatusInternalServerError, nil)
		return
	}

	s.invalidateStats(r.Context())
	log.Printf("[CATALOG] Book deactivated - ID: %d", bookID)
	SendJSON(w, http.StatusOK, map[string]string{"message": "Book deactivated"})
}

// GetStatistics returns dashboard counters
// @Summary Library statistics
// @Tags catalog
// @Produce json
// @Success 200 {object} models.LibraryStatistics
// @Router /statistics [get]
func (s *CatalogService) GetStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, statsCacheKey).Bytes(); err == nil {
			var stats models.LibraryStatistics
			if json.Unmarshal(cached, &stats) == nil {
				SendJSON(w, http.StatusOK, stats)
				return
			}
		}
	}

	stats, err := s.collectStatistics(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("[CATALOG] Statistics collection failed: %v", err)
		SendErrorResponse(w, "Failed to collect statistics", http.StatusInternalServerError, nil)
		return
	}

	if s.redis != nil {
		if payload, err := json.Marshal(stats); err == nil {
			s.redis.Set(ctx, statsCacheKey, payload, statsCacheTTL)
		}
	}

	SendJSON(w, http.StatusOK, stats)
}

// AdjustBookQuantity sets a book's total quantity and shifts the available
// counter by the same delta, keeping 0 <= available <= quantity. Refused when
// more copies are out on loan than the new total would allow.
func (s *CatalogService) AdjustBookQuantity(ctx context.Context, bookID, newQuantity int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var quantity, available int
	err = tx.QueryRowContext(ctx,
		`SELECT quantity, available_quantity FROM books WHERE id = $1 FOR UPDATE`,
		bookID).Scan(&quantity, &available)
	if err == sql.ErrNoRows {
		return ErrBookNotFound
	}
	if err != nil {
		return err
	}

	delta := newQuantity - quantity
	if available+delta < 0 {
		return ErrQuantityConflict
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE books SET quantity = $1, available_quantity = available_quantity + $2, updated_at = NOW() WHERE id = $3`,
		newQuantity, delta, bookID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *CatalogService) updateBookTx(ctx context.Context, bookID int, req *models.UpdateBookRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var quantity, available int
	err = tx.QueryRowContext(ctx,
		`SELECT quantity, available_quantity FROM books WHERE id = $1 FOR UPDATE`,
		bookID).Scan(&quantity, &available)
	if err == sql.ErrNoRows {
		return ErrBookNotFound
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE books SET title = $1, author = $2, category = $3, publisher = $4, publication_year = $5,
		        description = $6, cover_image = COALESCE(NULLIF($7, ''), cover_image), updated_at = NOW()
		 WHERE id = $8`,
		req.Title, req.Author, req.Category, req.Publisher, req.PublicationYear,
		req.Description, req.CoverImage, bookID)
	if err != nil {
		return err
	}

	if req.Quantity != nil {
		delta := *req.Quantity - quantity
		if available+delta < 0 {
			return ErrQuantityConflict
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE books SET quantity = $1, available_quantity = available_quantity + $2, updated_at = NOW() WHERE id = $3`,
			*req.Quantity, delta, bookID)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// deactivateBookTx flips is_active off, guarded against open loans. The loan
// count and the flag change share a transaction so a concurrent issue cannot
// slip between them.
func (s *CatalogService) deactivateBookTx(ctx context.Context, bookID int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var active bool
	err = tx.QueryRowContext(ctx,
		`SELECT is_active FROM books WHERE id = $1 FOR UPDATE`,
		bookID).Scan(&active)
	if err == sql.ErrNoRows {
		return ErrBookNotFound
	}
	if err != nil {
		return err
	}

	var openLoans int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE book_id = $1 AND status = $2`,
		bookID, models.LoanStatusIssued).Scan(&openLoans)
	if err != nil {
		return err
	}
	if openLoans > 0 {
		return ErrBookHasOpenLoans
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE books SET is_active = FALSE, updated_at = NOW() WHERE id = $1`,
		bookID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *CatalogService) getBookByID(ctx context.Context, bookID int) (*models.Book, error) {
	var b models.Book
	err := scanBook(s.db.QueryRowContext(ctx,
		`SELECT id, isbn, title, author, category, publisher, publication_year, description, cover_image,
		        quantity, available_quantity, is_active, total_issued, created_at, updated_at
		 FROM books WHERE id = $1`,
		bookID).Scan, &b)
	if err == sql.ErrNoRows {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *CatalogService) collectStatistics(ctx context.Context, now time.Time) (*models.LibraryStatistics, error) {
	var stats models.LibraryStatistics

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT category), COALESCE(SUM(available_quantity), 0)
		 FROM books WHERE is_active`).
		Scan(&stats.TotalBooks, &stats.TotalCategories, &stats.AvailableBooks)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE role = $1`, models.RoleMember).
		Scan(&stats.TotalMembers)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE status = $1`, models.LoanStatusIssued).
		Scan(&stats.IssuedBooks)
	if err != nil {
		return nil, err
	}

	// Live fines for overdue loans are derived, never read from storage.
	rows, err := s.db.QueryContext(ctx,
		`SELECT due_date FROM loans WHERE status = $1 AND due_date < $2`,
		models.LoanStatusIssued, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var due time.Time
		if err := rows.Scan(&due); err != nil {
			return nil, err
		}
		fine, _ := ComputeFine(due, now, s.rules.FinePerDay)
		stats.OverdueBooks++
		stats.OutstandingFines += fine
	}

	return &stats, rows.Err()
}

func (s *CatalogService) invalidateStats(ctx context.Context) {
	if s.redis != nil {
		s.redis.Del(ctx, statsCacheKey)
	}
}

func scanBook(scan func(...any) error, b *models.Book) error {
	return scan(
		&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Category, &b.Publisher,
		&b.PublicationYear, &b.Description, &b.CoverImage,
		&b.Quantity, &b.AvailableQuantity, &b.IsActive, &b.TotalIssued,
		&b.CreatedAt, &b.UpdatedAt,
	)
}

func pagination(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	return page, limit
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
