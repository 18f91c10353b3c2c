package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/openshelf/backend/internal/models"
)

// AuthService handles member registration, authentication and the admin user
// directory. Password hashing and session mechanics are standard calls; the
// lending rules never live here.
type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *validator.Validate
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Username string `json:"username" validate:"required" example:"jdoe"`          // Username or email
	Password string `json:"password" validate:"required,min=6" example:"secret1"` // Password
}

// RegisterRequest represents the registration request payload
// @Description Registration request structure
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32" example:"jdoe"`
	Email    string `json:"email" validate:"required,email" example:"jdoe@example.com"`
	Password string `json:"password" validate:"required,min=6" example:"secret1"`
	FullName string `json:"full_name" validate:"required,min=2" example:"Jane Doe"`
	Phone    string `json:"phone" example:"+15550001111"`
	Address  string `json:"address" example:"12 Library Lane"`
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string      `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	User  models.User `json:"user"`                                                    // User information
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: validator.New(),
	}
}

// Register handles member registration
// @Summary Register a new member
// @Description Register a member account with username, email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 200 {object} AuthResponse "Registration successful"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 409 {object} ErrorResponse "Username or email already exists"
// @Router /auth/register [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req RegisterRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Registration failed - invalid request: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		log.Printf("[AUTH] Registration validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", req.Username, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	user := models.User{
		Username: strings.ToLower(req.Username),
		Email:    strings.ToLower(req.Email),
		FullName: req.FullName,
		Phone:    req.Phone,
		Address:  req.Address,
		Role:     models.RoleMember,
		IsActive: true,
	}

	err = s.db.QueryRowContext(r.Context(),
		`INSERT INTO users (username, email, password, full_name, phone, address, role)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		user.Username, user.Email, hashedPassword, user.FullName, user.Phone, user.Address, user.Role,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			log.Printf("[AUTH] Registration conflict for %s", req.Username)
			SendErrorResponse(w, "Username or email already exists", http.StatusConflict, nil)
			return
		}
		log.Printf("[AUTH] User creation failed for %s: %v", req.Username, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	token, err := generateJWT(user.ID, user.Role)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for user %d: %v", user.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Registration successful for user %d (%s)", user.ID, user.Username)
	SendJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

// Login handles user authentication
// @Summary Login
// @Description Authenticate with username or email plus password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 401 {object} ErrorResponse "Invalid credentials"
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoginRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	login := strings.ToLower(req.Username)

	var (
		user           models.User
		hashedPassword string
	)
	err := s.db.QueryRowContext(r.Context(),
		`SELECT id, username, email, password, full_name, role, is_active, books_issued, total_fines
		 FROM users WHERE username = $1 OR email = $1`,
		login).Scan(&user.ID, &user.Username, &user.Email, &hashedPassword,
		&user.FullName, &user.Role, &user.IsActive, &user.BooksIssued, &user.TotalFines)
	if err != nil {
		log.Printf("[AUTH] User not found: %s", login)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !verifyPassword(req.Password, hashedPassword) {
		log.Printf("[AUTH] Invalid password for user: %s", login)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !user.IsActive {
		log.Printf("[AUTH] Deactivated account refused: %s", login)
		SendErrorResponse(w, "Account is deactivated", http.StatusForbidden, nil)
		return
	}

	token, err := generateJWT(user.ID, user.Role)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for user %d: %v", user.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	if _, err := s.db.ExecContext(r.Context(),
		`UPDATE users SET last_login = NOW() WHERE id = $1`, user.ID); err != nil {
		log.Printf("[AUTH] Failed to record last login for user %d: %v", user.ID, err)
	}

	log.Printf("[AUTH] Login successful for user %d", user.ID)
	SendJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

// Logout blacklists the presented token until it expires
// @Summary Logout
// @Tags auth
// @Produce json
// @Success 200 {object} object{message=string}
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("blacklist:%s", token)
			expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
			if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	SendJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// GetProfile returns the authenticated user's record
// @Summary Get own profile
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User
// @Failure 401 {object} ErrorResponse
// @Router /auth/profile [get]
func (s *AuthService) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	user, err := s.getUserByID(r.Context(), userID)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[AUTH] Failed to fetch user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch user", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, user)
}

// ListUsers lists users for the admin directory
// @Summary List users
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param role query string false "Role filter (admin, member)"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} object{users=[]models.User,total=int}
// @Router /users [get]
func (s *AuthService) ListUsers(w http.ResponseWriter, r *http.Request) {
	role := strings.TrimSpace(r.URL.Query().Get("role"))
	page, limit := pagination(r)

	query := `SELECT id, username, email, full_name, phone, address, role, is_active,
	                 books_issued, total_fines, last_login, created_at, updated_at
	          FROM users`
	countQuery := `SELECT COUNT(*) FROM users`
	var args []any

	if role != "" {
		query += ` WHERE role = $1`
		countQuery += ` WHERE role = $1`
		args = append(args, role)
	}

	var total int
	if err := s.db.QueryRowContext(r.Context(), countQuery, args...).Scan(&total); err != nil {
		log.Printf("[AUTH] User count failed: %v", err)
		SendErrorResponse(w, "Failed to list users", http.StatusInternalServerError, nil)
		return
	}

	args = append(args, limit, (page-1)*limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		log.Printf("[AUTH] User listing failed: %v", err)
		SendErrorResponse(w, "Failed to list users", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.Phone, &u.Address,
			&u.Role, &u.IsActive, &u.BooksIssued, &u.TotalFines,
			&u.LastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to list users", http.StatusInternalServerError, nil)
			return
		}
		users = append(users, u)
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// ToggleUserStatus flips a user's active flag
// @Summary Toggle user active status
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Success 200 {object} models.User
// @Failure 404 {object} ErrorResponse
// @Router /users/{userId}/toggle-status [put]
func (s *AuthService) ToggleUserStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	res, err := s.db.ExecContext(r.Context(),
		`UPDATE users SET is_active = NOT is_active, updated_at = NOW() WHERE id = $1`,
		userID)
	if err != nil {
		log.Printf("[AUTH] Status toggle failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to update user status", http.StatusInternalServerError, nil)
		return
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	user, err := s.getUserByID(r.Context(), userID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Status toggled for user %d, active: %v", userID, user.IsActive)
	SendJSON(w, http.StatusOK, user)
}

func (s *AuthService) getUserByID(ctx context.Context, userID int) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, full_name, phone, address, role, is_active,
		        books_issued, total_fines, last_login, created_at, updated_at
		 FROM users WHERE id = $1`,
		userID).Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.Phone, &u.Address,
		&u.Role, &u.IsActive, &u.BooksIssued, &u.TotalFines,
		&u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func generateJWT(userID int, role string) (string, error) {
	viper.SetDefault("jwt.expiry_hours", 2)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
