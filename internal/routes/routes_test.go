package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/scholar-bridge/scholar_bridge/internal/apperror"
	"github.com/scholar-bridge/scholar_bridge/internal/config"
	"github.com/scholar-bridge/scholar_bridge/internal/logging"
	"github.com/scholar-bridge/scholar_bridge/internal/payment"
)

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

type recordingSender struct {
	mu    sync.Mutex
	sends []string
}

func (r *recordingSender) Send(_ context.Context, _, _, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, body)
	return nil
}

func (r *recordingSender) lastCode(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sends) == 0 {
		t.Fatal("no mail was sent")
	}
	match := codePattern.FindStringSubmatch(r.sends[len(r.sends)-1])
	if match == nil {
		t.Fatalf("no code found in mail body: %q", r.sends[len(r.sends)-1])
	}
	return match[1]
}

func testConfig() config.Config {
	return config.Config{
		AppName:              "ScholarBridge",
		AppEnv:               "test",
		SessionSecret:        "session-secret",
		VerifiedSecret:       "verified-secret",
		WebhookSecret:        "webhook-secret",
		TokenIssuer:          "scholarbridge",
		TokenAudience:        "scholarbridge-api",
		SessionTokenTTL:      24 * time.Hour,
		VerifiedTokenTTL:     15 * time.Minute,
		OTPTTL:               10 * time.Minute,
		OTPAttempts:          5,
		PendingTTL:           24 * time.Hour,
		RegistrationFeeCents: 500,
	}
}

func setupTestApp(t *testing.T) (*fiber.App, *recordingSender, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	logger := logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: apperror.FiberHandler(logger)})

	mail := &recordingSender{}
	if err := Setup(app, Deps{Cfg: testConfig(), Cache: cache, Logger: logger, Mailer: mail}); err != nil {
		t.Fatalf("setup routes: %v", err)
	}

	cleanup := func() {
		cache.Close()
		mr.Close()
	}
	return app, mail, cleanup
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any, header map[string]string) (int, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp.StatusCode, decoded
}

func TestDonorRegistrationFlow(t *testing.T) {
	app, mail, cleanup := setupTestApp(t)
	defer cleanup()

	status, body := doJSON(t, app, fiber.MethodPost, "/api/v1/auth/register/donor", fiber.Map{
		"email":    "donor@example.org",
		"password": "sturdy-pass-42",
		"name":     "Jonas Weber",
		"phone":    "+49-170-5551234",
	}, nil)
	if status != fiber.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%v)", status, body)
	}
	if body["nextStep"] != "verify_email" {
		t.Fatalf("expected nextStep verify_email, got %v", body["nextStep"])
	}

	status, body = doJSON(t, app, fiber.MethodPost, "/api/v1/auth/verify-otp", fiber.Map{
		"email": "donor@example.org",
		"otp":   mail.lastCode(t),
	}, nil)
	if status != fiber.StatusOK {
		t.Fatalf("verify: expected 200, got %d (%v)", status, body)
	}
	if body["nextStep"] != "done" {
		t.Fatalf("expected nextStep done, got %v", body["nextStep"])
	}
	session, _ := body["token"].(string)
	if session == "" {
		t.Fatal("expected a session token")
	}

	status, body = doJSON(t, app, fiber.MethodGet, "/api/v1/me", nil, map[string]string{
		fiber.HeaderAuthorization: "Bearer " + session,
	})
	if status != fiber.StatusOK {
		t.Fatalf("me: expected 200, got %d (%v)", status, body)
	}
	if body["email"] != "donor@example.org" || body["kind"] != "donor" {
		t.Fatalf("unexpected profile: %v", body)
	}
}

func TestStudentRegistrationFlowWithPayment(t *testing.T) {
	app, mail, cleanup := setupTestApp(t)
	defer cleanup()

	status, body := doJSON(t, app, fiber.MethodPost, "/api/v1/auth/register/student", fiber.Map{
		"email":    "student@example.org",
		"password": "sturdy-pass-42",
		"name":     "Ama Mensah",
		"school":   "Makerere University",
		"major":    "Computer Science",
	}, nil)
	if status != fiber.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%v)", status, body)
	}

	status, body = doJSON(t, app, fiber.MethodPost, "/api/v1/auth/verify-otp", fiber.Map{
		"email": "student@example.org",
		"otp":   mail.lastCode(t),
	}, nil)
	if status != fiber.StatusOK {
		t.Fatalf("verify: expected 200, got %d (%v)", status, body)
	}
	if body["nextStep"] != "pay" {
		t.Fatalf("expected nextStep pay, got %v", body["nextStep"])
	}
	verified, _ := body["token"].(string)
	if verified == "" {
		t.Fatal("expected a verified token")
	}

	status, body = doJSON(t, app, fiber.MethodPost, "/api/v1/payment/create-intent", fiber.Map{
		"verifiedToken": verified,
		"provider":      "stripe",
	}, nil)
	if status != fiber.StatusCreated {
		t.Fatalf("create intent: expected 201, got %d (%v)", status, body)
	}
	intentID, _ := body["providerIntentId"].(string)
	if intentID == "" {
		t.Fatal("expected a provider intent id")
	}
	if body["amountCents"] != float64(500) {
		t.Fatalf("expected amountCents 500, got %v", body["amountCents"])
	}

	// Client confirmation and a duplicate must settle to the same account.
	status, first := doJSON(t, app, fiber.MethodPost, "/api/v1/payment/confirm", fiber.Map{
		"providerIntentId": intentID,
	}, nil)
	if status != fiber.StatusOK {
		t.Fatalf("confirm: expected 200, got %d (%v)", status, first)
	}
	status, second := doJSON(t, app, fiber.MethodPost, "/api/v1/payment/confirm", fiber.Map{
		"providerIntentId": intentID,
	}, nil)
	if status != fiber.StatusOK {
		t.Fatalf("repeat confirm: expected 200, got %d (%v)", status, second)
	}
	firstAccount := first["account"].(map[string]any)
	secondAccount := second["account"].(map[string]any)
	if firstAccount["id"] != secondAccount["id"] {
		t.Fatalf("expected the same account, got %v and %v", firstAccount["id"], secondAccount["id"])
	}

	session, _ := second["sessionToken"].(string)
	status, body = doJSON(t, app, fiber.MethodGet, "/api/v1/me", nil, map[string]string{
		fiber.HeaderAuthorization: "Bearer " + session,
	})
	if status != fiber.StatusOK {
		t.Fatalf("me: expected 200, got %d (%v)", status, body)
	}
	if body["school"] != "Makerere University" {
		t.Fatalf("unexpected profile: %v", body)
	}
}

func TestWebhookConfirmation(t *testing.T) {
	app, mail, cleanup := setupTestApp(t)
	defer cleanup()

	doJSON(t, app, fiber.MethodPost, "/api/v1/auth/register/student", fiber.Map{
		"email":    "hook@example.org",
		"password": "sturdy-pass-42",
		"name":     "Ama Mensah",
		"school":   "Makerere University",
		"major":    "Computer Science",
	}, nil)
	_, body := doJSON(t, app, fiber.MethodPost, "/api/v1/auth/verify-otp", fiber.Map{
		"email": "hook@example.org",
		"otp":   mail.lastCode(t),
	}, nil)
	verified, _ := body["token"].(string)
	_, body = doJSON(t, app, fiber.MethodPost, "/api/v1/payment/create-intent", fiber.Map{
		"verifiedToken": verified,
		"provider":      "paypal",
	}, nil)
	intentID, _ := body["providerIntentId"].(string)

	payload := []byte(fmt.Sprintf(`{"providerIntentId":%q}`, intentID))

	// Unsigned and badly signed deliveries are rejected.
	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/payment/webhook/paypal", bytes.NewReader(payload))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("unsigned webhook: expected 401, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(fiber.MethodPost, "/api/v1/payment/webhook/paypal", bytes.NewReader(payload))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Webhook-Signature", payment.Sign("wrong-secret", payload))
	resp, err = app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("missigned webhook: expected 401, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(fiber.MethodPost, "/api/v1/payment/webhook/paypal", bytes.NewReader(payload))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Webhook-Signature", payment.Sign("webhook-secret", payload))
	resp, err = app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("signed webhook: expected 200, got %d", resp.StatusCode)
	}
	var confirmed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&confirmed); err != nil {
		t.Fatalf("decode webhook response: %v", err)
	}
	if session, _ := confirmed["sessionToken"].(string); session == "" {
		t.Fatal("expected a session token from webhook confirmation")
	}
}

func TestResendRateLimit(t *testing.T) {
	app, _, cleanup := setupTestApp(t)
	defer cleanup()

	doJSON(t, app, fiber.MethodPost, "/api/v1/auth/register/donor", fiber.Map{
		"email":    "limited@example.org",
		"password": "sturdy-pass-42",
		"name":     "Jonas Weber",
		"phone":    "+49-170-5551234",
	}, nil)

	// Resend quota is 3 per window; the 4th request is throttled.
	for i := 0; i < 3; i++ {
		status, body := doJSON(t, app, fiber.MethodPost, "/api/v1/auth/resend-verification", fiber.Map{
			"email": "limited@example.org",
		}, nil)
		if status != fiber.StatusAccepted {
			t.Fatalf("resend %d: expected 202, got %d (%v)", i+1, status, body)
		}
	}
	status, body := doJSON(t, app, fiber.MethodPost, "/api/v1/auth/resend-verification", fiber.Map{
		"email": "limited@example.org",
	}, nil)
	if status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d (%v)", status, body)
	}
	if hint, _ := body["retryAfter"].(string); hint == "" {
		t.Fatal("expected a retryAfter hint")
	}
}

func TestCreateIntentRateLimit(t *testing.T) {
	app, _, cleanup := setupTestApp(t)
	defer cleanup()

	// The limiter counts before authentication, so a forged token still
	// burns quota. Budget is 5 per window; the 6th request is throttled.
	for i := 0; i < 5; i++ {
		status, body := doJSON(t, app, fiber.MethodPost, "/api/v1/payment/create-intent", fiber.Map{
			"verifiedToken": "forged",
			"provider":      "stripe",
		}, nil)
		if status != fiber.StatusUnauthorized {
			t.Fatalf("create-intent %d: expected 401, got %d (%v)", i+1, status, body)
		}
	}
	status, body := doJSON(t, app, fiber.MethodPost, "/api/v1/payment/create-intent", fiber.Map{
		"verifiedToken": "forged",
		"provider":      "stripe",
	}, nil)
	if status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d (%v)", status, body)
	}
}

func TestRateLimitDisabledByPolicy(t *testing.T) {
	t.Setenv("RATE_LIMIT_DISABLED", "1")
	app, _, cleanup := setupTestApp(t)
	defer cleanup()

	doJSON(t, app, fiber.MethodPost, "/api/v1/auth/register/donor", fiber.Map{
		"email":    "unlimited@example.org",
		"password": "sturdy-pass-42",
		"name":     "Jonas Weber",
		"phone":    "+49-170-5551234",
	}, nil)

	for i := 0; i < 10; i++ {
		status, body := doJSON(t, app, fiber.MethodPost, "/api/v1/auth/resend-verification", fiber.Map{
			"email": "unlimited@example.org",
		}, nil)
		if status != fiber.StatusAccepted {
			t.Fatalf("resend %d: expected 202 with limiter disabled, got %d (%v)", i+1, status, body)
		}
	}
}

func TestResendDoesNotRevealUnknownEmail(t *testing.T) {
	app, _, cleanup := setupTestApp(t)
	defer cleanup()

	status, body := doJSON(t, app, fiber.MethodPost, "/api/v1/auth/resend-verification", fiber.Map{
		"email": "ghost@example.org",
	}, nil)
	if status != fiber.StatusAccepted {
		t.Fatalf("expected 202 for unknown email, got %d (%v)", status, body)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok response, got %v", body)
	}
}

func TestWrongCodeRejected(t *testing.T) {
	app, mail, cleanup := setupTestApp(t)
	defer cleanup()

	doJSON(t, app, fiber.MethodPost, "/api/v1/auth/register/donor", fiber.Map{
		"email":    "typo@example.org",
		"password": "sturdy-pass-42",
		"name":     "Jonas Weber",
		"phone":    "+49-170-5551234",
	}, nil)
	code := mail.lastCode(t)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	status, body := doJSON(t, app, fiber.MethodPost, "/api/v1/auth/verify-otp", fiber.Map{
		"email": "typo@example.org",
		"otp":   wrong,
	}, nil)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong code, got %d (%v)", status, body)
	}
}

func TestMeRequiresSession(t *testing.T) {
	app, _, cleanup := setupTestApp(t)
	defer cleanup()

	status, _ := doJSON(t, app, fiber.MethodGet, "/api/v1/me", nil, nil)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", status)
	}
}

func TestHealthz(t *testing.T) {
	app, _, cleanup := setupTestApp(t)
	defer cleanup()

	status, body := doJSON(t, app, fiber.MethodGet, "/healthz", nil, nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", status, body)
	}
}
