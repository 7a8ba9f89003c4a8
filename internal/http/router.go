package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/signetcrm/server/internal/auth"
	"github.com/signetcrm/server/internal/http/handlers"
	"github.com/signetcrm/server/internal/middleware"
	"github.com/signetcrm/server/internal/repo"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(publicHandler *handlers.PublicHandler, staffHandler *handlers.StaffHandler, jwtService *auth.JWTService, userRepo repo.UserRepo) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	// OTP endpoints get their own IP limiters: 10 sends and 20 verifies per 10 min
	otpSendLimiter := middleware.NewRateLimiter(10*time.Minute, 10)
	otpVerifyLimiter := middleware.NewRateLimiter(10*time.Minute, 20)

	// Public signing routes: the signature token is the capability, no auth
	r.Route("/public/sign/{token}", func(r chi.Router) {
		r.Get("/", publicHandler.HandleInfo)
		r.With(middleware.RateLimitMiddleware(otpSendLimiter)).Post("/otp", publicHandler.HandleRequestOTP)
		r.With(middleware.RateLimitMiddleware(otpVerifyLimiter)).Post("/verify-otp", publicHandler.HandleVerifyOTP)
		r.Post("/sign", publicHandler.HandleSign)
		r.Post("/decline", publicHandler.HandleDecline)
		r.Get("/document", publicHandler.HandleDocument)
		r.Get("/certificate", publicHandler.HandleCertificate)
	})

	// Staff routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService, userRepo))
		r.Post("/signatures/requests", staffHandler.HandleCreateRequest)
		r.Get("/signatures/requests/{id}", staffHandler.HandleGetRequest)
		r.Post("/signatures/callback", staffHandler.HandleCallback)
		r.Post("/referrals/codes", staffHandler.HandleEnsureReferralCode)
	})

	return r
}
