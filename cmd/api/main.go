package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/signetcrm/server/internal/audit"
	"github.com/signetcrm/server/internal/auth"
	"github.com/signetcrm/server/internal/certify"
	"github.com/signetcrm/server/internal/config"
	"github.com/signetcrm/server/internal/db"
	httphandler "github.com/signetcrm/server/internal/http"
	"github.com/signetcrm/server/internal/http/handlers"
	"github.com/signetcrm/server/internal/notify"
	"github.com/signetcrm/server/internal/otp"
	"github.com/signetcrm/server/internal/repo"
	"github.com/signetcrm/server/internal/signature"
	"github.com/signetcrm/server/internal/token"

	_ "github.com/lib/pq"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Repositories
	userRepo := repo.NewUserRepo(database)
	contractRepo := repo.NewContractRepo(database)
	signatureRepo := repo.NewSignatureRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	referralRepo := repo.NewReferralRepo(database)
	callbackRepo := repo.NewCallbackRepo(database)
	auditRepo := repo.NewAuditRepo(database)

	// Services
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	otpManager := otp.NewManager(otpRepo, cfg.OTPSalt, cfg.OTPMaxAttempts)
	fileStore := certify.NewDiskStore(cfg.FilesDir)
	certifier := certify.NewCertifier(certify.NewTemplateRenderer(), fileStore)
	dispatcher := notify.WithRetry(notify.NewLogDispatcher(cfg.DevMode), 3, 500*time.Millisecond)
	recorder := audit.NewRecorder(auditRepo)
	issuer := token.NewIssuer(referralRepo, "REF", cfg.PublicBaseURL+"/r")

	signatureService := signature.NewService(
		signatureRepo, contractRepo, callbackRepo,
		otpManager, certifier, fileStore, dispatcher, recorder,
		signature.Config{
			PublicBaseURL: cfg.PublicBaseURL,
			DefaultTTL:    cfg.DefaultRequestTTL,
			OTPValidity:   cfg.OTPValidity,
		},
	)

	// Handlers
	publicHandler := handlers.NewPublicHandler(signatureService)
	staffHandler := handlers.NewStaffHandler(signatureService, issuer)

	router := httphandler.NewRouter(publicHandler, staffHandler, jwtService, userRepo)

	// Background sweep of expired, unverified OTP codes
	sweeper := otp.NewSweeper(otpRepo, cfg.OTPSweepInterval)
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the repo root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
