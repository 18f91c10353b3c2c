package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setupAuthConfig() {
	viper.Set("jwt.secret_key", "test-secret-key")
	viper.Set("jwt.expiry_hours", 2)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("argon2.salt_length", 16)
}

func TestAuthService_Register(t *testing.T) {
	setupAuthConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil)

	t.Run("registers a new member", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("jdoe", "jdoe@example.com", sqlmock.AnyArg(), "Jane Doe", "", "", "member").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(1, time.Now(), time.Now()))

		body, _ := json.Marshal(RegisterRequest{
			Username: "JDoe",
			Email:    "JDoe@example.com",
			Password: "secret1",
			FullName: "Jane Doe",
		})
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.Register(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp AuthResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "jdoe", resp.User.Username)
		assert.Equal(t, "member", resp.User.Role)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBufferString("not json"))
		w := httptest.NewRecorder()
		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("short password rejected", func(t *testing.T) {
		body, _ := json.Marshal(RegisterRequest{
			Username: "jdoe",
			Email:    "jdoe@example.com",
			Password: "abc",
			FullName: "Jane Doe",
		})
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	setupAuthConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil)

	hashed, err := hashPassword("secret1")
	assert.NoError(t, err)

	userRows := func(active bool) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "username", "email", "password", "full_name",
			"role", "is_active", "books_issued", "total_fines"}).
			AddRow(1, "jdoe", "jdoe@example.com", hashed, "Jane Doe", "member", active, 2, 0.0)
	}

	t.Run("successful login records last seen", func(t *testing.T) {
		mock.ExpectQuery("FROM users WHERE username = \\$1 OR email = \\$1").
			WithArgs("jdoe").
			WillReturnRows(userRows(true))
		mock.ExpectExec("UPDATE users SET last_login = NOW\\(\\)").
			WithArgs(1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		body, _ := json.Marshal(LoginRequest{Username: "JDoe", Password: "secret1"})
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.Login(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp AuthResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, 1, resp.User.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		mock.ExpectQuery("FROM users WHERE username = \\$1 OR email = \\$1").
			WithArgs("jdoe").
			WillReturnRows(userRows(true))

		body, _ := json.Marshal(LoginRequest{Username: "jdoe", Password: "wrong-pass"})
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectQuery("FROM users WHERE username = \\$1 OR email = \\$1").
			WithArgs("ghost").
			WillReturnError(assert.AnError)

		body, _ := json.Marshal(LoginRequest{Username: "ghost", Password: "secret1"})
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("deactivated account refused", func(t *testing.T) {
		mock.ExpectQuery("FROM users WHERE username = \\$1 OR email = \\$1").
			WithArgs("jdoe").
			WillReturnRows(userRows(false))

		body, _ := json.Marshal(LoginRequest{Username: "jdoe", Password: "secret1"})
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.Login(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestAuthService_ToggleUserStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil)

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectExec("UPDATE users SET is_active = NOT is_active").
			WithArgs(99).
			WillReturnResult(sqlmock.NewResult(0, 0))

		router := chi.NewRouter()
		router.Put("/users/{userId}/toggle-status", service.ToggleUserStatus)

		r := httptest.NewRequest("PUT", "/users/99/toggle-status", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestPasswordHashing(t *testing.T) {
	setupAuthConfig()

	hashed, err := hashPassword("secret1")
	assert.NoError(t, err)
	assert.NotEqual(t, "secret1", hashed)
	assert.Contains(t, hashed, "$")

	assert.True(t, verifyPassword("secret1", hashed))
	assert.False(t, verifyPassword("wrong-pass", hashed))
	assert.False(t, verifyPassword("secret1", "malformed"))
}

func TestGenerateJWT(t *testing.T) {
	setupAuthConfig()

	token, err := generateJWT(123, "admin")
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	assert.NoError(t, err)
	assert.True(t, parsed.Valid)

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, float64(123), claims["user_id"])
	assert.Equal(t, "admin", claims["role"])
}
