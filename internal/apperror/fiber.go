package apperror

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// FiberHandler renders every error escaping a handler as the standard JSON
// envelope: {"error":{"kind":...,"message":...}} plus a retryAfter field on
// rate-limit rejections. Internal errors are logged with full context and
// surfaced with a generic message.
func FiberHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var ae *Error
		if errors.As(err, &ae) {
			if ae.Kind == KindInternal {
				logger.Error("internal error",
					slog.String("path", c.Path()),
					slog.String("method", c.Method()),
					slog.Any("error", err),
				)
			}
			body := fiber.Map{"error": fiber.Map{"kind": ae.Kind, "message": ae.Message}}
			if ae.RetryAfter > 0 {
				retry := ae.RetryAfter.Round(time.Second)
				if retry < time.Second {
					retry = time.Second
				}
				body["retryAfter"] = retry.String()
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(retry.Seconds())))
			}
			return c.Status(ae.Status()).JSON(body)
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"error": fiber.Map{"kind": kindForStatus(fe.Code), "message": fe.Message},
			})
		}

		logger.Error("unhandled error",
			slog.String("path", c.Path()),
			slog.String("method", c.Method()),
			slog.Any("error", err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fiber.Map{"kind": KindInternal, "message": "unable to complete registration"},
		})
	}
}

func kindForStatus(status int) Kind {
	switch status {
	case fiber.StatusBadRequest:
		return KindValidation
	case fiber.StatusUnauthorized:
		return KindUnauthorized
	case fiber.StatusNotFound:
		return KindNotFound
	case fiber.StatusConflict:
		return KindConflict
	case fiber.StatusGone:
		return KindExpired
	case fiber.StatusTooManyRequests:
		return KindRateLimited
	case fiber.StatusServiceUnavailable:
		return KindUnavailable
	default:
		return KindInternal
	}
}
