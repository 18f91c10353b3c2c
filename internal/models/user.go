package models

import "time"

// Role values for User.Role
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type User struct {
	ID          int        `json:"id" db:"id"`
	Username    string     `json:"username" db:"username"`
	Email       string     `json:"email" db:"email"`
	FullName    string     `json:"full_name" db:"full_name"`
	Phone       string     `json:"phone" db:"phone"`
	Address     string     `json:"address" db:"address"`
	Role        string     `json:"role" db:"role"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	BooksIssued int        `json:"books_issued" db:"books_issued"`
	TotalFines  float64    `json:"total_fines" db:"total_fines"`
	LastLogin   *time.Time `json:"last_login,omitempty" db:"last_login"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}
