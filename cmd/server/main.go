package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/openshelf/backend/internal/database"
	"github.com/openshelf/backend/internal/handlers"
	mW "github.com/openshelf/backend/internal/middleware"
	"github.com/openshelf/backend/internal/services"
)

// @title Library Lending Backend API
// @version 1.0
// @description API for catalog management and book lending
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("library.max_books_per_user", "LIBRARY_MAX_BOOKS_PER_USER")
	viper.BindEnv("library.loan_period_days", "LIBRARY_LOAN_PERIOD_DAYS")
	viper.BindEnv("library.fine_per_day", "LIBRARY_FINE_PER_DAY")

	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	rules := services.LendingRulesFromConfig()
	log.Printf("Lending rules: max %d books/user, %d day loans, %.2f/day fine",
		rules.MaxBooksPerUser, rules.LoanPeriodDays, rules.FinePerDay)

	lendingService := services.NewLendingService(db, rules)
	catalogService := services.NewCatalogService(db, redisClient, rules)
	authService := services.NewAuthService(db, redisClient)
	labelService := services.NewLabelService(db, redisClient)
	loanHandler := handlers.NewLoanHandler(lendingService)
	labelHandler := handlers.NewLabelHandler(labelService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.yaml"),
	))

	// Serve OpenAPI spec
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yaml")
	})

	// Static file server for book covers
	r.Handle("/static/covers/*", http.StripPrefix("/static/covers/",
		mW.StaticFileServer("./static/covers")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/books", catalogService.ListBooks)
		r.Get("/books/{bookId}", catalogService.GetBook)
		r.Get("/categories", catalogService.GetCategories)
		r.Get("/statistics", catalogService.GetStatistics)

		// Member endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/profile", authService.GetProfile)
			r.Get("/auth/my-loans", loanHandler.GetMyLoans)
		})

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)
			r.Use(mW.RequireAdmin)

			r.Post("/books", catalogService.CreateBook)
			r.Put("/books/{bookId}", catalogService.UpdateBook)
			r.Put("/books/{bookId}/quantity", catalogService.AdjustQuantity)
			r.Delete("/books/{bookId}", catalogService.DeactivateBook)
			r.Get("/books/{bookId}/label", labelHandler.GetLabel)

			r.Post("/loans/issue", loanHandler.IssueBook)
			r.Get("/loans", loanHandler.ListLoans)
			r.Get("/loans/overdue", loanHandler.ListOverdue)
			r.Get("/loans/{loanId}", loanHandler.GetLoan)
			r.Post("/loans/{loanId}/return", loanHandler.ReturnBook)

			r.Get("/users", authService.ListUsers)
			r.Put("/users/{userId}/toggle-status", authService.ToggleUserStatus)
			r.Get("/users/{userId}/loans", loanHandler.GetUserLoans)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
