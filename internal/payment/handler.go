package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/scholar-bridge/scholar_bridge/internal/apperror"
	"github.com/scholar-bridge/scholar_bridge/internal/registration"
)

const webhookSignatureHeader = "X-Webhook-Signature"

// Handler exposes the payment gate endpoints.
type Handler struct {
	svc           *Service
	webhookSecret []byte
}

// NewHandler constructs a payment handler. webhookSecret authenticates
// inbound provider webhooks.
func NewHandler(svc *Service, webhookSecret string) *Handler {
	return &Handler{svc: svc, webhookSecret: []byte(webhookSecret)}
}

type createIntentRequest struct {
	VerifiedToken string `json:"verifiedToken"`
	Provider      string `json:"provider"`
}

type createIntentResponse struct {
	ProviderIntentID string `json:"providerIntentId"`
	Provider         string `json:"provider"`
	AmountCents      int64  `json:"amountCents"`
	ClientSecret     string `json:"clientSecretOrApprovalUrl"`
}

// CreateIntent handles POST /payment/create-intent.
func (h *Handler) CreateIntent(c *fiber.Ctx) error {
	var req createIntentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.New(apperror.KindValidation, "malformed request body")
	}
	if req.VerifiedToken == "" {
		return apperror.New(apperror.KindValidation, "verifiedToken is required")
	}
	if req.Provider == "" {
		return apperror.New(apperror.KindValidation, "provider is required")
	}

	rec, err := h.svc.CreateIntent(c.UserContext(), req.VerifiedToken, req.Provider)
	if err != nil {
		return mapPaymentError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(createIntentResponse{
		ProviderIntentID: rec.ProviderIntentID,
		Provider:         rec.Provider,
		AmountCents:      rec.AmountCents,
		ClientSecret:     rec.ClientSecret,
	})
}

type confirmRequest struct {
	ProviderIntentID string `json:"providerIntentId"`
}

type confirmResponse struct {
	Account      confirmAccount `json:"account"`
	SessionToken string         `json:"sessionToken"`
}

type confirmAccount struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Kind  string `json:"kind"`
	Name  string `json:"name"`
}

// Confirm handles POST /payment/confirm. Safe to call repeatedly.
func (h *Handler) Confirm(c *fiber.Ctx) error {
	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.New(apperror.KindValidation, "malformed request body")
	}
	if req.ProviderIntentID == "" {
		return apperror.New(apperror.KindValidation, "providerIntentId is required")
	}
	return h.confirm(c, req.ProviderIntentID)
}

// Webhook handles POST /payment/webhook/:provider. The payload shape matches
// the confirm endpoint; the HMAC signature header authenticates the sender.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	if !h.validSignature(c.Body(), c.Get(webhookSignatureHeader)) {
		return apperror.New(apperror.KindUnauthorized, "invalid webhook signature")
	}

	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.New(apperror.KindValidation, "malformed request body")
	}
	if req.ProviderIntentID == "" {
		return apperror.New(apperror.KindValidation, "providerIntentId is required")
	}
	return h.confirm(c, req.ProviderIntentID)
}

func (h *Handler) confirm(c *fiber.Ctx, providerIntentID string) error {
	res, err := h.svc.Confirm(c.UserContext(), providerIntentID)
	if err != nil {
		return mapPaymentError(err)
	}
	return c.Status(fiber.StatusOK).JSON(confirmResponse{
		Account: confirmAccount{
			ID:    res.AccountID,
			Email: res.Email,
			Kind:  string(res.Kind),
			Name:  res.Name,
		},
		SessionToken: res.SessionToken,
	})
}

func (h *Handler) validSignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, h.webhookSecret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the webhook signature for a payload. Exported for tests and
// for the simulated providers' webhook delivery.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func mapPaymentError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidToken):
		return apperror.Wrap(apperror.KindUnauthorized, "invalid or expired verification token", err)
	case errors.Is(err, ErrNotPayable):
		return apperror.Wrap(apperror.KindConflict, "registration is not awaiting payment", err)
	case errors.Is(err, ErrUnknownProvider):
		return apperror.Wrap(apperror.KindValidation, "unknown payment provider", err)
	case errors.Is(err, ErrIntentNotFound):
		return apperror.Wrap(apperror.KindNotFound, "payment intent not found", err)
	case errors.Is(err, ErrIntentFailed):
		return apperror.Wrap(apperror.KindConflict, "payment intent failed, create a new one", err)
	case errors.Is(err, ErrPaymentFailed):
		return apperror.Wrap(apperror.KindConflict, "payment was declined, create a new intent", err)
	case errors.Is(err, ErrProviderUnavailable):
		return apperror.Wrap(apperror.KindUnavailable, "payment provider unavailable, try again shortly", err)
	case errors.Is(err, registration.ErrNotFound):
		return apperror.Wrap(apperror.KindNotFound, "registration not found", err)
	default:
		return apperror.Internal(err)
	}
}
