package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/signetcrm/server/internal/model"
	"github.com/signetcrm/server/internal/notify"
	"github.com/signetcrm/server/internal/signature"
)

// PublicHandler serves the token-gated public signing endpoints
type PublicHandler struct {
	svc *signature.Service
}

// NewPublicHandler creates a new public signing handler
func NewPublicHandler(svc *signature.Service) *PublicHandler {
	return &PublicHandler{svc: svc}
}

// publicInfoResponse is the JSON response for GET /public/sign/{token}
type publicInfoResponse struct {
	ContractTitle string    `json:"contract_title"`
	SignerName    string    `json:"signer_name"`
	SignerEmail   string    `json:"signer_email"`
	RequireOTP    bool      `json:"require_otp"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// HandleInfo handles GET /public/sign/{token}
func (h *PublicHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	info, err := h.svc.GetPublicInfo(r.Context(), token)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, publicInfoResponse{
		ContractTitle: info.ContractTitle,
		SignerName:    info.SignerName,
		SignerEmail:   notify.MaskRecipient(info.SignerEmail),
		RequireOTP:    info.RequireOTP,
		Status:        string(info.Status),
		ExpiresAt:     info.ExpiresAt,
	})
}

// requestOTPRequest is the request body for POST /public/sign/{token}/otp
type requestOTPRequest struct {
	Channel string `json:"channel,omitempty"`
}

// requestOTPResponse is the JSON response after an OTP was dispatched
type requestOTPResponse struct {
	SentTo    string    `json:"sent_to"`
	Channel   string    `json:"channel"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleRequestOTP handles POST /public/sign/{token}/otp
func (h *PublicHandler) HandleRequestOTP(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req requestOTPRequest
	if r.Body != nil {
		// Body is optional; an empty or invalid one means email channel
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	preferSMS := strings.EqualFold(req.Channel, string(model.ChannelSMS))

	ch, err := h.svc.RequestOTP(r.Context(), token, preferSMS)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, requestOTPResponse{
		SentTo:    notify.MaskRecipient(ch.SentTo),
		Channel:   string(ch.Channel),
		ExpiresAt: ch.ExpiresAt,
	})
}

// verifyOTPRequest is the request body for POST /public/sign/{token}/verify-otp
type verifyOTPRequest struct {
	OTP string `json:"otp"`
}

// HandleVerifyOTP handles POST /public/sign/{token}/verify-otp
func (h *PublicHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.OTP = strings.TrimSpace(req.OTP)
	if req.OTP == "" {
		respondWithError(w, http.StatusBadRequest, "otp is required")
		return
	}

	if err := h.svc.VerifyOTP(r.Context(), token, req.OTP); err != nil {
		// Attach remaining-attempts context on a mismatch, never the code itself
		if errors.Is(err, model.ErrOTPMismatch) {
			remaining, raErr := h.svc.RemainingOTPAttempts(r.Context(), token)
			if raErr == nil {
				respondJSON(w, http.StatusUnauthorized, errorResponse{
					Error:             "invalid verification code",
					Code:              "otp_mismatch",
					RemainingAttempts: &remaining,
				})
				return
			}
		}
		respondWithServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// signRequest is the request body for POST /public/sign/{token}/sign
type signRequest struct {
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	OTP       string          `json:"otp,omitempty"`
	Signature json.RawMessage `json:"signature"`
}

// signResponse is the JSON response after a successful completion
type signResponse struct {
	Signed         bool   `json:"signed"`
	PDFURL         string `json:"pdf_url"`
	CertificateURL string `json:"certificate_url"`
	DocumentHash   string `json:"document_hash"`
}

// HandleSign handles POST /public/sign/{token}/sign
func (h *PublicHandler) HandleSign(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Signature) == 0 {
		respondWithError(w, http.StatusBadRequest, "signature is required")
		return
	}

	// A code submitted inline is verified first, same as the dedicated endpoint
	if req.OTP != "" {
		if err := h.svc.VerifyOTP(r.Context(), token, strings.TrimSpace(req.OTP)); err != nil {
			respondWithServiceError(w, err)
			return
		}
	}

	result, err := h.svc.Complete(r.Context(), token,
		signature.CompleteInput{SignatureData: req.Signature},
		signature.ClientMeta{IPAddress: getClientIP(r), UserAgent: r.UserAgent()},
	)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, signResponse{
		Signed:         true,
		PDFURL:         result.DocumentURL,
		CertificateURL: result.CertificateURL,
		DocumentHash:   result.DocumentHash,
	})
}

// declineRequest is the request body for POST /public/sign/{token}/decline
type declineRequest struct {
	Reason string `json:"reason,omitempty"`
}

// HandleDecline handles POST /public/sign/{token}/decline
func (h *PublicHandler) HandleDecline(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req declineRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	var reason *string
	if req.Reason != "" {
		reason = &req.Reason
	}

	declined, err := h.svc.Decline(r.Context(), token, reason)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": string(declined.Status)})
}

// HandleDocument handles GET /public/sign/{token}/document
func (h *PublicHandler) HandleDocument(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	data, err := h.svc.ReadDocument(r.Context(), token)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleCertificate handles GET /public/sign/{token}/certificate
func (h *PublicHandler) HandleCertificate(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	data, err := h.svc.ReadCertificate(r.Context(), token)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
