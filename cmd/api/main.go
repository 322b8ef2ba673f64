package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"auth-backend/internal/config"
	"auth-backend/internal/db"
	"auth-backend/internal/email"
	apihttp "auth-backend/internal/http"
	"auth-backend/internal/repository"
	"auth-backend/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	userRepo := repository.NewPgUserRepository(pool)
	codeRepo := repository.NewPgRecoveryCodeRepository(pool)

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	var (
		limiter    service.RecoverRateLimiter
		tokenStore service.ResetTokenStore
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			limiter = service.NewRedisRecoverRateLimiter(redisClient, 10*time.Minute, 3)
			tokenStore = service.NewRedisResetTokenStore(redisClient)
		}
		cancel()
	}

	if cfg.ResetTokenSecret == "" {
		logger.Warn("reset token secret not configured")
	}
	resetTokenSvc := service.NewResetTokenServiceWithStore(
		cfg.ResetTokenSecret,
		time.Duration(cfg.ResetTokenTTLMin)*time.Minute,
		tokenStore,
	)

	recoverySvc := service.NewRecoveryService(logger, userRepo, codeRepo, emailSender, limiter)
	authSvc := service.NewAuthService(logger, userRepo, recoverySvc, resetTokenSvc)

	authHandler := apihttp.NewAuthHandler(logger, authSvc)
	healthHandler := apihttp.NewHealthHandler(logger, func(ctx context.Context) error {
		return db.Ping(ctx, pool)
	})
	router := apihttp.NewRouter(logger, authHandler, healthHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
