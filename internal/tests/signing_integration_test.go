package tests

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signetcrm/server/internal/audit"
	"github.com/signetcrm/server/internal/auth"
	"github.com/signetcrm/server/internal/certify"
	"github.com/signetcrm/server/internal/config"
	"github.com/signetcrm/server/internal/db"
	httphandler "github.com/signetcrm/server/internal/http"
	"github.com/signetcrm/server/internal/http/handlers"
	"github.com/signetcrm/server/internal/model"
	"github.com/signetcrm/server/internal/otp"
	"github.com/signetcrm/server/internal/repo"
	"github.com/signetcrm/server/internal/signature"
	"github.com/signetcrm/server/internal/token"

	_ "github.com/lib/pq"
)

func TestMain(m *testing.M) {
	// Set env if unset. Do NOT set DATABASE_URL; integration tests skip if missing.
	if os.Getenv("JWT_SECRET") == "" {
		os.Setenv("JWT_SECRET", "test-jwt-secret-at-least-32-characters-long")
	}
	if os.Getenv("OTP_SALT") == "" {
		os.Setenv("OTP_SALT", "test-otp-salt")
	}

	code := m.Run()
	os.Exit(code)
}

// captureDispatcher records deliveries so tests can read the OTP code
// without parsing log output.
type captureDispatcher struct {
	mu       sync.Mutex
	lastOTP  string
	lastLink string
}

func (d *captureDispatcher) SendSignatureRequest(_ context.Context, _, _, link string, _ time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastLink = link
	return nil
}

func (d *captureDispatcher) SendOTPCode(_ context.Context, _ model.OTPChannel, _, code string, _ time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastOTP = code
	return nil
}

func (d *captureDispatcher) SendSignedConfirmation(_ context.Context, _, _, _ string) error {
	return nil
}

func (d *captureDispatcher) LastOTP() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastOTP
}

// testServer holds the server, DB and collaborators for integration tests
type testServer struct {
	Server     *httptest.Server
	DB         *sql.DB
	Dispatcher *captureDispatcher
	JWT        *auth.JWTService
	Users      repo.UserRepo
	Contracts  repo.ContractRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err, "config load must succeed for integration test")

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DatabaseURL)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	err = RunMigrations(database)
	require.NoError(t, err, "migrations must run successfully")

	userRepo := repo.NewUserRepo(database)
	contractRepo := repo.NewContractRepo(database)
	signatureRepo := repo.NewSignatureRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	referralRepo := repo.NewReferralRepo(database)
	callbackRepo := repo.NewCallbackRepo(database)
	auditRepo := repo.NewAuditRepo(database)

	jwtService := auth.NewJWTService(cfg.JWTSecret)
	otpManager := otp.NewManager(otpRepo, cfg.OTPSalt, cfg.OTPMaxAttempts)
	fileStore := certify.NewDiskStore(t.TempDir())
	certifier := certify.NewCertifier(certify.NewTemplateRenderer(), fileStore)
	dispatcher := &captureDispatcher{}
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

	publicHandler := handlers.NewPublicHandler(signatureService)
	staffHandler := handlers.NewStaffHandler(signatureService, issuer)

	router := httphandler.NewRouter(publicHandler, staffHandler, jwtService, userRepo)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{
		Server:     server,
		DB:         database,
		Dispatcher: dispatcher,
		JWT:        jwtService,
		Users:      userRepo,
		Contracts:  contractRepo,
	}
}

func (s *testServer) BaseURL() string { return s.Server.URL }

func (s *testServer) Truncate(t *testing.T) {
	t.Helper()
	require.NoError(t, TruncateSigningTables(context.Background(), s.DB), "truncate signing tables")
}

// StaffToken creates a staff user and signs an access token for it.
func (s *testServer) StaffToken(t *testing.T) string {
	t.Helper()
	user, err := s.Users.GetOrCreateByEmail(context.Background(), "staff@example.com")
	require.NoError(t, err)
	tok, err := s.JWT.SignAccessToken(user.ID, user.Email)
	require.NoError(t, err)
	return tok
}

// NewContract inserts a draft contract and returns its id.
func (s *testServer) NewContract(t *testing.T, title string) string {
	t.Helper()
	contract, err := s.Contracts.Create(context.Background(), title)
	require.NoError(t, err)
	return contract.ID.String()
}

// createRequestResponse matches POST /signatures/requests response
type createRequestResponse struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	PublicURL string `json:"public_url"`
}

// signResponse matches POST /public/sign/{token}/sign response
type signResponse struct {
	Signed         bool   `json:"signed"`
	PDFURL         string `json:"pdf_url"`
	CertificateURL string `json:"certificate_url"`
	DocumentHash   string `json:"document_hash"`
}

// errorResponse matches error JSON bodies
type errorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code"`
	RemainingAttempts *int   `json:"remaining_attempts"`
}

// postJSON sends a JSON body, optionally with a bearer token.
func postJSON(t *testing.T, client *http.Client, url, bearer string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func getWithAuth(t *testing.T, client *http.Client, url, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

// createRequest drives POST /signatures/requests and decodes the response.
func (s *testServer) createRequest(t *testing.T, client *http.Client, bearer, contractID string, requireOTP bool, phone string) createRequestResponse {
	t.Helper()
	body := map[string]any{
		"contract_id":  contractID,
		"signer_name":  "Ada Lovelace",
		"signer_email": "ada@example.com",
		"require_otp":  requireOTP,
	}
	if phone != "" {
		body["signer_phone"] = phone
	}
	resp := postJSON(t, client, s.BaseURL()+"/signatures/requests", bearer, body)
	defer resp.Body.Close()
	respBody := readBody(resp)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "create request must return 201; body: %s", respBody)
	var created createRequestResponse
	require.NoError(t, json.Unmarshal([]byte(respBody), &created))
	require.NotEmpty(t, created.Token)
	return created
}

func TestSigningIntegration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ts := newTestServer(t)
	baseURL := ts.BaseURL()
	client := ts.Server.Client()

	t.Run("A_HealthCheck", func(t *testing.T) {
		resp, err := client.Get(baseURL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "GET /health must return 200")
	})

	t.Run("B_StaffAuthRequired", func(t *testing.T) {
		resp := postJSON(t, client, baseURL+"/signatures/requests", "", map[string]string{})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "staff endpoint without token must return 401")
	})

	t.Run("C_HappyPath_SignWithoutOTP", func(t *testing.T) {
		ts.Truncate(t)
		bearer := ts.StaffToken(t)
		contractID := ts.NewContract(t, "Consulting Agreement")
		created := ts.createRequest(t, client, bearer, contractID, false, "")

		// Public info is visible without auth and masks the signer email
		respInfo, err := client.Get(baseURL + "/public/sign/" + created.Token)
		require.NoError(t, err)
		infoBody := readBody(respInfo)
		respInfo.Body.Close()
		require.Equal(t, http.StatusOK, respInfo.StatusCode, "GET public info must return 200; body: %s", infoBody)
		var info map[string]any
		require.NoError(t, json.Unmarshal([]byte(infoBody), &info))
		assert.Equal(t, "Consulting Agreement", info["contract_title"])
		assert.Equal(t, "pending", info["status"])
		assert.NotContains(t, info["signer_email"], "ada@example.com", "public info must mask the signer email")

		respSign := postJSON(t, client, baseURL+"/public/sign/"+created.Token+"/sign", "", map[string]any{
			"name":      "Ada Lovelace",
			"email":     "ada@example.com",
			"signature": map[string]string{"strokes": "base64data"},
		})
		signBody := readBody(respSign)
		respSign.Body.Close()
		require.Equal(t, http.StatusOK, respSign.StatusCode, "sign must return 200; body: %s", signBody)
		var signed signResponse
		require.NoError(t, json.Unmarshal([]byte(signBody), &signed))
		assert.True(t, signed.Signed)
		assert.Len(t, signed.DocumentHash, 64, "document hash must be a sha-256 hex digest")

		// Document digest must match what the certificate and response carry
		respDoc, err := client.Get(baseURL + "/public/sign/" + created.Token + "/document")
		require.NoError(t, err)
		docBytes, err := io.ReadAll(respDoc.Body)
		respDoc.Body.Close()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, respDoc.StatusCode)
		sum := sha256.Sum256(docBytes)
		assert.Equal(t, signed.DocumentHash, hex.EncodeToString(sum[:]), "persisted document must hash to the reported digest")

		respCert, err := client.Get(baseURL + "/public/sign/" + created.Token + "/certificate")
		require.NoError(t, err)
		certBody := readBody(respCert)
		respCert.Body.Close()
		require.Equal(t, http.StatusOK, respCert.StatusCode, "certificate must be readable; body: %s", certBody)
		var cert model.Certificate
		require.NoError(t, json.Unmarshal([]byte(certBody), &cert))
		assert.Equal(t, signed.DocumentHash, cert.DocumentHash)
		assert.Equal(t, "Ada Lovelace", cert.SignerName)

		// Staff view reflects the completed state
		respGet := getWithAuth(t, client, baseURL+"/signatures/requests/"+created.ID, bearer)
		getBody := readBody(respGet)
		respGet.Body.Close()
		require.Equal(t, http.StatusOK, respGet.StatusCode, "staff get must return 200; body: %s", getBody)
		var staffView map[string]any
		require.NoError(t, json.Unmarshal([]byte(getBody), &staffView))
		assert.Equal(t, "completed", staffView["status"])
		assert.Equal(t, signed.DocumentHash, staffView["document_hash"])
	})

	t.Run("D_SecondSubmissionLoses", func(t *testing.T) {
		ts.Truncate(t)
		bearer := ts.StaffToken(t)
		contractID := ts.NewContract(t, "NDA")
		created := ts.createRequest(t, client, bearer, contractID, false, "")

		sign := func() *http.Response {
			return postJSON(t, client, baseURL+"/public/sign/"+created.Token+"/sign", "", map[string]any{
				"signature": map[string]string{"strokes": "xyz"},
			})
		}

		resp1 := sign()
		body1 := readBody(resp1)
		resp1.Body.Close()
		require.Equal(t, http.StatusOK, resp1.StatusCode, "first sign must win; body: %s", body1)

		resp2 := sign()
		body2 := readBody(resp2)
		resp2.Body.Close()
		assert.Equal(t, http.StatusConflict, resp2.StatusCode, "second sign must return 409; body: %s", body2)

		// Decline after completion is also a conflict
		respDecline := postJSON(t, client, baseURL+"/public/sign/"+created.Token+"/decline", "", map[string]string{"reason": "changed my mind"})
		declineBody := readBody(respDecline)
		respDecline.Body.Close()
		assert.Equal(t, http.StatusConflict, respDecline.StatusCode, "decline after completion must return 409; body: %s", declineBody)
	})

	t.Run("E_OTPGatedSigning", func(t *testing.T) {
		ts.Truncate(t)
		bearer := ts.StaffToken(t)
		contractID := ts.NewContract(t, "Lease")
		created := ts.createRequest(t, client, bearer, contractID, true, "")

		// Signing before verification must be rejected
		respEarly := postJSON(t, client, baseURL+"/public/sign/"+created.Token+"/sign", "", map[string]any{
			"signature": map[string]string{"strokes": "xyz"},
		})
		earlyBody := readBody(respEarly)
		respEarly.Body.Close()
		assert.Equal(t, http.StatusForbidden, respEarly.StatusCode, "sign without OTP verification must return 403; body: %s", earlyBody)

		// Request a code, then verify with a wrong one first
		respOTP := postJSON(t, client, baseURL+"/public/sign/"+created.Token+"/otp", "", map[string]string{})
		otpBody := readBody(respOTP)
		respOTP.Body.Close()
		require.Equal(t, http.StatusOK, respOTP.StatusCode, "otp request must return 200; body: %s", otpBody)
		code := ts.Dispatcher.LastOTP()
		require.Len(t, code, 6, "dispatched OTP must be six digits")

		wrong := "000000"
		if wrong == code {
			wrong = "000001"
		}
		respWrong := postJSON(t, client, baseURL+"/public/sign/"+created.Token+"/verify-otp", "", map[string]string{"otp": wrong})
		wrongBody := readBody(respWrong)
		respWrong.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, respWrong.StatusCode, "wrong OTP must return 401; body: %s", wrongBody)
		var wrongErr errorResponse
		require.NoError(t, json.Unmarshal([]byte(wrongBody), &wrongErr))
		require.NotNil(t, wrongErr.RemainingAttempts, "mismatch response must carry remaining_attempts")
		assert.Equal(t, 4, *wrongErr.RemainingAttempts)

		respVerify := postJSON(t, client, baseURL+"/public/sign/"+created.Token+"/verify-otp", "", map[string]string{"otp": code})
		verifyBody := readBody(respVerify)
		respVerify.Body.Close()
		require.Equal(t, http.StatusOK, respVerify.StatusCode, "correct OTP must verify; body: %s", verifyBody)

		respSign := postJSON(t, client, baseURL+"/public/sign/"+created.Token+"/sign", "", map[string]any{
			"signature": map[string]string{"strokes": "xyz"},
		})
		signBody := readBody(respSign)
		respSign.Body.Close()
		assert.Equal(t, http.StatusOK, respSign.StatusCode, "sign after verification must return 200; body: %s", signBody)
	})

	t.Run("F_OTPAttemptCap", func(t *testing.T) {
		ts.Truncate(t)
		bearer := ts.StaffToken(t)
		contractID := ts.NewContract(t, "SOW")
		created := ts.createRequest(t, client, bearer, contractID, true, "")

		respOTP := postJSON(t, client, baseURL+"/public/sign/"+created.Token+"/otp", "", map[string]string{})
		readBody(respOTP)
		respOTP.Body.Close()
		require.Equal(t, http.StatusOK, respOTP.StatusCode)
		code := ts.Dispatcher.LastOTP()
		require.Len(t, code, 6)

		wrong := "000000"
		if wrong == code {
			wrong = "000001"
		}
		for i := 0; i < 5; i++ {
			resp := postJSON(t, client, baseURL+"/public/sign/"+created.Token+"/verify-otp", "", map[string]string{"otp": wrong})
			readBody(resp)
			resp.Body.Close()
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "attempt %d must be a mismatch", i+1)
		}

		// The correct code no longer helps once the cap is exhausted
		respCapped := postJSON(t, client, baseURL+"/public/sign/"+created.Token+"/verify-otp", "", map[string]string{"otp": code})
		cappedBody := readBody(respCapped)
		respCapped.Body.Close()
		assert.Equal(t, http.StatusTooManyRequests, respCapped.StatusCode, "verify past the attempt cap must return 429; body: %s", cappedBody)
	})

	t.Run("G_ExpiredIsDistinctFromNotFound", func(t *testing.T) {
		ts.Truncate(t)
		bearer := ts.StaffToken(t)
		contractID := ts.NewContract(t, "MSA")
		created := ts.createRequest(t, client, bearer, contractID, false, "")

		respMissing, err := client.Get(baseURL + "/public/sign/" + "deadbeef")
		require.NoError(t, err)
		readBody(respMissing)
		respMissing.Body.Close()
		assert.Equal(t, http.StatusNotFound, respMissing.StatusCode, "unknown token must return 404")

		// Push the request past its window directly
		_, err = ts.DB.Exec(`UPDATE signature_requests SET expires_at = now() - interval '1 hour' WHERE token = $1`, created.Token)
		require.NoError(t, err)

		respExpired, err := client.Get(baseURL + "/public/sign/" + created.Token)
		require.NoError(t, err)
		expiredBody := readBody(respExpired)
		respExpired.Body.Close()
		assert.Equal(t, http.StatusGone, respExpired.StatusCode, "expired token must return 410; body: %s", expiredBody)

		respSign := postJSON(t, client, baseURL+"/public/sign/"+created.Token+"/sign", "", map[string]any{
			"signature": map[string]string{"strokes": "xyz"},
		})
		readBody(respSign)
		respSign.Body.Close()
		assert.Equal(t, http.StatusGone, respSign.StatusCode, "signing an expired request must return 410")
	})

	t.Run("H_DeclineFlow", func(t *testing.T) {
		ts.Truncate(t)
		bearer := ts.StaffToken(t)
		contractID := ts.NewContract(t, "Renewal")
		created := ts.createRequest(t, client, bearer, contractID, false, "")

		respDecline := postJSON(t, client, baseURL+"/public/sign/"+created.Token+"/decline", "", map[string]string{"reason": "terms unacceptable"})
		declineBody := readBody(respDecline)
		respDecline.Body.Close()
		require.Equal(t, http.StatusOK, respDecline.StatusCode, "decline must return 200; body: %s", declineBody)

		respSign := postJSON(t, client, baseURL+"/public/sign/"+created.Token+"/sign", "", map[string]any{
			"signature": map[string]string{"strokes": "xyz"},
		})
		readBody(respSign)
		respSign.Body.Close()
		assert.Equal(t, http.StatusConflict, respSign.StatusCode, "signing a declined request must return 409")

		respGet := getWithAuth(t, client, baseURL+"/signatures/requests/"+created.ID, bearer)
		getBody := readBody(respGet)
		respGet.Body.Close()
		require.Equal(t, http.StatusOK, respGet.StatusCode)
		var staffView map[string]any
		require.NoError(t, json.Unmarshal([]byte(getBody), &staffView))
		assert.Equal(t, "declined", staffView["status"])
		assert.Equal(t, "terms unacceptable", staffView["decline_reason"])
	})

	t.Run("I_ProviderCallbackIdempotent", func(t *testing.T) {
		ts.Truncate(t)
		bearer := ts.StaffToken(t)
		contractID := ts.NewContract(t, "Partner Agreement")
		ts.createRequest(t, client, bearer, contractID, false, "")

		callback := map[string]any{
			"contract_id":  contractID,
			"signer_email": "ada@example.com",
			"status":       "completed",
		}

		resp1 := postJSON(t, client, baseURL+"/signatures/callback", bearer, callback)
		body1 := readBody(resp1)
		resp1.Body.Close()
		require.Equal(t, http.StatusOK, resp1.StatusCode, "first callback must return 200; body: %s", body1)
		var res1 map[string]any
		require.NoError(t, json.Unmarshal([]byte(body1), &res1))
		assert.Equal(t, false, res1["duplicate"])

		resp2 := postJSON(t, client, baseURL+"/signatures/callback", bearer, callback)
		body2 := readBody(resp2)
		resp2.Body.Close()
		require.Equal(t, http.StatusOK, resp2.StatusCode, "replayed callback must return 200; body: %s", body2)
		var res2 map[string]any
		require.NoError(t, json.Unmarshal([]byte(body2), &res2))
		assert.Equal(t, true, res2["duplicate"], "replay must be reported as a duplicate")
	})

	t.Run("J_ReferralCodeIdempotent", func(t *testing.T) {
		ts.Truncate(t)
		bearer := ts.StaffToken(t)
		owner, err := ts.Users.GetOrCreateByEmail(context.Background(), "owner@example.com")
		require.NoError(t, err)

		issue := func() (int, map[string]string) {
			resp := postJSON(t, client, baseURL+"/referrals/codes", bearer, map[string]string{"owner_id": owner.ID.String()})
			body := readBody(resp)
			resp.Body.Close()
			var res map[string]string
			_ = json.Unmarshal([]byte(body), &res)
			return resp.StatusCode, res
		}

		status1, res1 := issue()
		require.Equal(t, http.StatusOK, status1)
		require.NotEmpty(t, res1["code"])
		assert.Regexp(t, `^REF-[0-9A-F]{16}$`, res1["code"])
		assert.Contains(t, res1["link"], res1["code"])

		status2, res2 := issue()
		require.Equal(t, http.StatusOK, status2)
		assert.Equal(t, res1["code"], res2["code"], "repeat issuance must return the same code")

		var count int
		require.NoError(t, ts.DB.QueryRow(`SELECT count(*) FROM referral_codes WHERE owner_id = $1`, owner.ID).Scan(&count))
		assert.Equal(t, 1, count, "exactly one code row per owner")
	})

	t.Run("K_ReferralUnknownOwner", func(t *testing.T) {
		bearer := ts.StaffToken(t)
		resp := postJSON(t, client, baseURL+"/referrals/codes", bearer, map[string]string{"owner_id": "7f2e9a1c-0000-4000-8000-000000000000"})
		body := readBody(resp)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "unknown owner must return 404; body: %s", body)
	})
}

func TestConcurrentCompletionIntegration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ts := newTestServer(t)
	ts.Truncate(t)
	client := ts.Server.Client()
	bearer := ts.StaffToken(t)
	contractID := ts.NewContract(t, "Race Contract")
	created := ts.createRequest(t, client, bearer, contractID, false, "")

	const workers = 8
	statuses := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := postJSON(t, client, ts.BaseURL()+"/public/sign/"+created.Token+"/sign", "", map[string]any{
				"signature": map[string]string{"strokes": "xyz"},
			})
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	var ok, conflict int
	for code := range statuses {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			conflict++
		default:
			t.Errorf("unexpected status %d from concurrent sign", code)
		}
	}
	assert.Equal(t, 1, ok, "exactly one concurrent submission must win")
	assert.Equal(t, workers-1, conflict, "all losers must observe a conflict")
}

func TestConcurrentReferralIssuanceIntegration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ts := newTestServer(t)
	ts.Truncate(t)
	client := ts.Server.Client()
	bearer := ts.StaffToken(t)
	owner, err := ts.Users.GetOrCreateByEmail(context.Background(), "owner@example.com")
	require.NoError(t, err)

	const workers = 8
	codes := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := postJSON(t, client, ts.BaseURL()+"/referrals/codes", bearer, map[string]string{"owner_id": owner.ID.String()})
			body := readBody(resp)
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("concurrent issuance returned %d: %s", resp.StatusCode, body)
				codes <- ""
				return
			}
			var res map[string]string
			if err := json.Unmarshal([]byte(body), &res); err != nil {
				t.Errorf("decode issuance response: %v", err)
				codes <- ""
				return
			}
			codes <- res["code"]
		}()
	}
	wg.Wait()
	close(codes)

	seen := map[string]bool{}
	for code := range codes {
		require.NotEmpty(t, code)
		seen[code] = true
	}
	assert.Len(t, seen, 1, "all concurrent calls must yield the same code")

	var count int
	require.NoError(t, ts.DB.QueryRow(`SELECT count(*) FROM referral_codes WHERE owner_id = $1`, owner.ID).Scan(&count))
	assert.Equal(t, 1, count, "exactly one code row per owner")
}

// readBody reads and returns the response body (consumes it). Use for error messages only.
func readBody(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
