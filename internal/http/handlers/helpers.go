package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/signetcrm/server/internal/model"
)

// errorResponse is the shared error body; Code lets clients branch without
// parsing messages.
type errorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code,omitempty"`
	RemainingAttempts *int   `json:"remaining_attempts,omitempty"`
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, errorResponse{Error: message})
}

// respondWithServiceError maps the error taxonomy to HTTP statuses: not-found
// 404, expired 410 (distinct, so the client can render an accurate message),
// invalid state 409, verification failures per sub-kind.
func respondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrOTPNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Code: "not_found"})
	case errors.Is(err, model.ErrExpired):
		respondJSON(w, http.StatusGone, errorResponse{Error: "this signing link has expired", Code: "expired"})
	case errors.Is(err, model.ErrInvalidState):
		respondJSON(w, http.StatusConflict, errorResponse{Error: "this request has already been processed", Code: "invalid_state"})
	case errors.Is(err, model.ErrOTPExpired):
		respondJSON(w, http.StatusGone, errorResponse{Error: "the verification code has expired, request a new one", Code: "otp_expired"})
	case errors.Is(err, model.ErrOTPAlreadyUsed):
		respondJSON(w, http.StatusConflict, errorResponse{Error: "the verification code was already used", Code: "otp_already_used"})
	case errors.Is(err, model.ErrOTPTooManyAttempts):
		respondJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many attempts, request a new code", Code: "otp_too_many_attempts"})
	case errors.Is(err, model.ErrOTPMismatch):
		respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid verification code", Code: "otp_mismatch"})
	case errors.Is(err, model.ErrOTPRequired):
		respondJSON(w, http.StatusForbidden, errorResponse{Error: "verification is required before signing", Code: "otp_required"})
	case errors.Is(err, model.ErrCodeSpaceExhausted):
		log.Printf("OPERATIONAL ALERT: %v", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not issue code", Code: "internal"})
	default:
		log.Printf("dependency failure: %v", err)
		respondJSON(w, http.StatusBadGateway, errorResponse{Error: "a downstream dependency failed", Code: "dependency_failure"})
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}

	return r.RemoteAddr
}
