package routes

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/scholar-bridge/scholar_bridge/internal/account"
	"github.com/scholar-bridge/scholar_bridge/internal/config"
	"github.com/scholar-bridge/scholar_bridge/internal/mailer"
	"github.com/scholar-bridge/scholar_bridge/internal/middleware"
	"github.com/scholar-bridge/scholar_bridge/internal/notification"
	"github.com/scholar-bridge/scholar_bridge/internal/payment"
	"github.com/scholar-bridge/scholar_bridge/internal/ratelimit"
	"github.com/scholar-bridge/scholar_bridge/internal/registration"
	"github.com/scholar-bridge/scholar_bridge/internal/token"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Mailer overrides the default sender; tests inject a recorder here.
	Mailer mailer.Sender
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Repositories
	var pendingRepo registration.Repository
	var accountRepo account.Repository
	var intentRepo payment.Repository
	if d.DB != nil {
		pendingRepo = registration.NewPostgresRepository(d.DB)
		accountRepo = account.NewPostgresRepository(d.DB)
		intentRepo = payment.NewPostgresRepository(d.DB)
	} else {
		pendingRepo = registration.NewMemoryRepository()
		accountRepo = account.NewMemoryRepository()
		intentRepo = payment.NewMemoryRepository()
	}

	// Services and handlers
	tokens := token.NewIssuer(
		d.Cfg.VerifiedSecret, d.Cfg.SessionSecret,
		d.Cfg.TokenIssuer, d.Cfg.TokenAudience,
		d.Cfg.VerifiedTokenTTL, d.Cfg.SessionTokenTTL,
	)
	notifier := notification.NewLoggerNotifier(d.Logger)
	finalizer := account.NewFinalizer(accountRepo, pendingRepo, tokens, notifier, d.Logger)

	mail := d.Mailer
	if mail == nil {
		if d.Cfg.SMTPHost != "" {
			mail = mailer.NewSMTPSender(mailer.SMTPConfig{
				Host:     d.Cfg.SMTPHost,
				Port:     d.Cfg.SMTPPort,
				Username: d.Cfg.SMTPUsername,
				Password: d.Cfg.SMTPPassword,
				From:     d.Cfg.SMTPFrom,
			})
		} else {
			mail = mailer.NewLogSender(d.Logger)
		}
	}

	registrationSvc := registration.NewService(pendingRepo, accountRepo, mail, tokens, finalizer, registration.Options{
		OTPTTL:      d.Cfg.OTPTTL,
		OTPAttempts: d.Cfg.OTPAttempts,
		PendingTTL:  d.Cfg.PendingTTL,
	}, d.Logger)
	paymentSvc := payment.NewService(intentRepo, pendingRepo, payment.DefaultProviders(), tokens, finalizer, d.Cfg.RegistrationFeeCents, d.Logger)

	registrationHandler := registration.NewHandler(registrationSvc)
	paymentHandler := payment.NewHandler(paymentSvc, d.Cfg.WebhookSecret)

	limiter := ratelimit.New(d.Cache, ratelimit.DefaultQuotas(), ratelimit.EnvPolicy{}, d.Logger)

	// API routes
	api := app.Group("/api/v1")

	RegisterRegistrationRoutes(api, registrationHandler, limiter)
	RegisterPaymentRoutes(api, paymentHandler, limiter)

	// Protected routes
	protected := api.Group("", middleware.SessionAuth(tokens))
	RegisterMeRoute(protected, accountRepo)

	return nil
}
