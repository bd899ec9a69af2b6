package registration

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/scholar-bridge/scholar_bridge/internal/apperror"
)

// Handler exposes the intake and verification endpoints.
type Handler struct {
	svc *Service
}

// NewHandler constructs a registration handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	School   string `json:"school"`
	Major    string `json:"major"`
	Phone    string `json:"phone"`
}

type registerResponse struct {
	RegistrationID string `json:"registrationId"`
	NextStep       string `json:"nextStep"`
}

// Register handles POST /auth/register/:kind for kind in {student, donor}.
func (h *Handler) Register(c *fiber.Ctx) error {
	// Copy the route param: fiber reuses the request buffer, and the kind
	// string is stored in the registration beyond this handler's lifetime.
	kind := AccountKind(utils.CopyString(c.Params("kind")))
	if kind != KindStudent && kind != KindDonor {
		return apperror.New(apperror.KindValidation, "unknown account kind")
	}

	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.New(apperror.KindValidation, "malformed request body")
	}

	out, err := h.svc.Register(c.UserContext(), RegisterInput{
		Kind:     kind,
		Email:    req.Email,
		Password: req.Password,
		Profile:  Profile{Name: req.Name, School: req.School, Major: req.Major, Phone: req.Phone},
	})
	if err != nil {
		return mapRegistrationError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(registerResponse{
		RegistrationID: out.RegistrationID,
		NextStep:       out.NextStep,
	})
}

type verifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type verifyResponse struct {
	RegistrationID string `json:"registrationId"`
	AccountKind    string `json:"accountKind"`
	NextStep       string `json:"nextStep"`
	Token          string `json:"token,omitempty"`
}

// Verify handles POST /auth/verify-otp.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.New(apperror.KindValidation, "malformed request body")
	}
	if req.Email == "" || req.OTP == "" {
		return apperror.New(apperror.KindValidation, "email and otp are required")
	}

	out, err := h.svc.Verify(c.UserContext(), req.Email, req.OTP)
	if err != nil {
		return mapRegistrationError(err)
	}

	return c.Status(fiber.StatusOK).JSON(verifyResponse{
		RegistrationID: out.RegistrationID,
		AccountKind:    string(out.Kind),
		NextStep:       out.NextStep,
		Token:          out.Token,
	})
}

type resendRequest struct {
	Email string `json:"email"`
}

// Resend handles POST /auth/resend-verification. The response never reveals
// whether the email has a pending registration.
func (h *Handler) Resend(c *fiber.Ctx) error {
	var req resendRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.New(apperror.KindValidation, "malformed request body")
	}
	if req.Email == "" {
		return apperror.New(apperror.KindValidation, "email is required")
	}

	if err := h.svc.Resend(c.UserContext(), req.Email); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Fail silently to prevent email enumeration.
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true})
		}
		return mapRegistrationError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true})
}

func mapRegistrationError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return apperror.Wrap(apperror.KindValidation, err.Error(), err)
	case errors.Is(err, ErrAlreadyRegistered):
		return apperror.Wrap(apperror.KindConflict, "email already registered", err)
	case errors.Is(err, ErrRegistrationActive):
		return apperror.Wrap(apperror.KindConflict, "registration already in progress", err)
	case errors.Is(err, ErrInvalidCode):
		return apperror.Wrap(apperror.KindUnauthorized, "incorrect verification code", err)
	case errors.Is(err, ErrCodeExpired):
		return apperror.Wrap(apperror.KindExpired, "verification code expired, request a new one", err)
	case errors.Is(err, ErrNotFound):
		return apperror.Wrap(apperror.KindNotFound, "no active registration for this email", err)
	case errors.Is(err, ErrMailUnavailable):
		return apperror.Wrap(apperror.KindUnavailable, "could not deliver the verification email, try again shortly", err)
	default:
		return apperror.Internal(err)
	}
}
