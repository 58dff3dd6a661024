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

	"github.com/fortunepoints/backend/docs"
	"github.com/fortunepoints/backend/internal/cache"
	"github.com/fortunepoints/backend/internal/config"
	"github.com/fortunepoints/backend/internal/database"
	"github.com/fortunepoints/backend/internal/handlers"
	mW "github.com/fortunepoints/backend/internal/middleware"
	"github.com/fortunepoints/backend/internal/services"
)

// @title Fortune Points API
// @version 1.0
// @description Points ledger backend for the fortune-telling application
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

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

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	docs.SwaggerInfo.Title = "Fortune Points API"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	pointsConfig := config.LoadPointsConfig()

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// The redis cache is preferred; without redis the coordinator still keeps
	// its coherency guarantees through the in-process cache.
	var balanceCache cache.BalanceCache
	if redisClient != nil {
		balanceCache = cache.NewRedisCache(redisClient, pointsConfig.CacheTTL)
	} else {
		balanceCache = cache.NewMemoryCache(pointsConfig.CacheTTL)
	}

	pointsService := services.NewPointsService(db, balanceCache)
	historyService := services.NewHistoryService(db)

	var checkinService *services.CheckinService
	var qrService *services.TransferQRService
	if redisClient != nil {
		checkinService = services.NewCheckinService(redisClient, pointsService, pointsConfig)
		qrService = services.NewTransferQRService(redisClient, pointsService, pointsConfig.TransferQRTimeout)
	} else {
		log.Println("Check-in and transfer QR disabled: Redis unavailable")
	}

	pointsHandler := handlers.NewPointsHandler(pointsService, historyService, checkinService, qrService, pointsConfig)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/points/account", pointsHandler.CreateAccount)
			r.Get("/points/balance", pointsHandler.GetBalance)
			r.Get("/points/check", pointsHandler.CheckBalance)
			r.With(mW.RequireServiceRole).Post("/points/earn", pointsHandler.Earn)
			r.Post("/points/spend", pointsHandler.Spend)
			r.Post("/points/transfer", pointsHandler.Transfer)
			r.Get("/points/history", pointsHandler.GetHistory)
			r.Post("/points/checkin", pointsHandler.CheckIn)
			r.Post("/points/qr", pointsHandler.GenerateTransferQR)
			r.Post("/points/qr/redeem", pointsHandler.RedeemTransferQR)
			r.Get("/points/cache/stats", pointsHandler.CacheStats)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

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
