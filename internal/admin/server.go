// Package admin exposes the read-only administrative surface: report
// listings of incomplete payout records and a health probe. It never mutates
// payout state.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ended/simplecoin-rpc-client/internal/config"
	"github.com/ended/simplecoin-rpc-client/internal/payout"
	"github.com/ended/simplecoin-rpc-client/internal/wallet"
)

// Deps aggregates what the admin server needs.
type Deps struct {
	Cfg    config.Config
	Repo   payout.Repository
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Wallet wallet.Gateway
	Logger *slog.Logger
}

// Server wraps the Fiber application.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New instantiates the admin HTTP server and wires its routes.
func New(d Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:      d.Cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(requestID())
	app.Use(audit(d.Logger))

	registerHealth(app, d)
	registerReports(app, d.Repo)

	return &Server{app: app, cfg: d.Cfg}
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the underlying Fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func registerHealth(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		dbStatus, redisStatus, walletStatus := "ok", "ok", "ok"
		if d.DB != nil {
			if err := d.DB.Ping(ctx); err != nil {
				dbStatus = err.Error()
			}
		}
		if d.Cache != nil {
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
			}
		}
		if d.Wallet != nil {
			if err := d.Wallet.Ping(ctx); err != nil {
				walletStatus = err.Error()
			}
		}

		status := http.StatusOK
		if dbStatus != "ok" || redisStatus != "ok" || walletStatus != "ok" {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"postgres": dbStatus, "redis": redisStatus, "wallet": walletStatus},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
