package models

import (
	"time"
)

// Book represents a catalog entry and its copy counters.
type Book struct {
	ID                int       `json:"id" db:"id"`
	ISBN              string    `json:"isbn" db:"isbn"`
	Title             string    `json:"title" db:"title"`
	Author            string    `json:"author" db:"author"`
	Category          string    `json:"category" db:"category"`
	Publisher         string    `json:"publisher" db:"publisher"`
	PublicationYear   int       `json:"publication_year" db:"publication_year"`
	Description       string    `json:"description" db:"description"`
	CoverImage        string    `json:"cover_image" db:"cover_image"`
	Quantity          int       `json:"quantity" db:"quantity"`
	AvailableQuantity int       `json:"available_quantity" db:"available_quantity"`
	IsActive          bool      `json:"is_active" db:"is_active"`
	TotalIssued       int       `json:"total_issued" db:"total_issued"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// CreateBookRequest represents a new catalog entry
type CreateBookRequest struct {
	Title           string `json:"title" validate:"required"`
	Author          string `json:"author" validate:"required"`
	ISBN            string `json:"isbn" validate:"required,min=10,max=17"`
	Category        string `json:"category" validate:"required"`
	Publisher       string `json:"publisher" validate:"required"`
	PublicationYear int    `json:"publication_year" validate:"required,gte=0"`
	Quantity        int    `json:"quantity" validate:"required,gte=1"`
	Description     string `json:"description"`
	CoverImage      string `json:"cover_image"`
}

// UpdateBookRequest represents an edit to an existing catalog entry.
// Quantity changes shift available_quantity by the same delta.
type UpdateBookRequest struct {
	Title           string `json:"title" validate:"required"`
	Author          string `json:"author" validate:"required"`
	Category        string `json:"category" validate:"required"`
	Publisher       string `json:"publisher"`
	PublicationYear int    `json:"publication_year" validate:"gte=0"`
	Quantity        *int   `json:"quantity" validate:"omitempty,gte=0"`
	Description     string `json:"description"`
	CoverImage      string `json:"cover_image"`
}

// LibraryStatistics aggregates dashboard counters
type LibraryStatistics struct {
	TotalBooks       int     `json:"total_books"`
	TotalCategories  int     `json:"total_categories"`
	IssuedBooks      int     `json:"issued_books"`
	AvailableBooks   int     `json:"available_books"`
	TotalMembers     int     `json:"total_members"`
	OverdueBooks     int     `json:"overdue_books"`
	OutstandingFines float64 `json:"outstanding_fines"`
}

const DefaultCoverImage = "/static/img/default-book.png"
