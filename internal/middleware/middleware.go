package middleware

import (
	"runtime/debug"
	"time"

	"chroma-rag/config"
	"chroma-rag/internal/metrics"
	"chroma-rag/pkg/apperror"
	"chroma-rag/pkg/apperror/status"
	"chroma-rag/pkg/logger"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/google/uuid"
)

// Register installs the middleware chain in order: recovery, request id,
// metrics, CORS, connection limiter.
func Register(app *fiber.App, cfg config.Config) {
	app.Use(PanicRecovery())
	app.Use(RequestID())
	app.Use(Metrics())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Cors.AllowOrigins,
		AllowMethods: cfg.Cors.AllowMethods,
		AllowHeaders: cfg.Cors.AllowHeaders,
	}))
	if cfg.Server.Concurrency > 0 {
		app.Use(ConnectionLimit(NewConnectionLimiter(cfg.Server.Concurrency)))
	}
}

// ConnectionLimiter limits the number of concurrent connections
type ConnectionLimiter struct {
	limit    int
	waitlist chan struct{}
}

func NewConnectionLimiter(limit int) *ConnectionLimiter {
	return &ConnectionLimiter{
		limit:    limit,
		waitlist: make(chan struct{}, limit),
	}
}

func (cl *ConnectionLimiter) Acquire() bool {
	select {
	case cl.waitlist <- struct{}{}:
		return true
	default:
		return false
	}
}

func (cl *ConnectionLimiter) Release() {
	select {
	case <-cl.waitlist:
	default:
	}
}

// ConnectionLimit rejects requests beyond the limiter capacity with 503.
func ConnectionLimit(limiter *ConnectionLimiter) fiber.Handler {
	return func(c fiber.Ctx) error {
		if !limiter.Acquire() {
			return apperror.WriteError(config.ModuleServer, c, fiber.StatusServiceUnavailable,
				status.ErrorCodeInternal, "Server is at maximum capacity")
		}
		defer limiter.Release()
		return c.Next()
	}
}

// RequestID echoes X-Request-ID or assigns a fresh uuid.
func RequestID() fiber.Handler {
	return func(c fiber.Ctx) error {
		id := c.Get(apperror.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(apperror.HeaderRequestID, id)
		return c.Next()
	}
}

// Metrics records request count and latency by route pattern.
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		code := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			} else {
				code = fiber.StatusInternalServerError
			}
		}
		metrics.ObserveHTTP(c.Method(), c.Route().Path, code, time.Since(start))
		return err
	}
}

// PanicRecovery turns a panic into a 500 with the standard error payload.
func PanicRecovery() fiber.Handler {
	return func(c fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.WithFields(map[string]interface{}{
					"panic":       r,
					"method":      c.Method(),
					"path":        c.Path(),
					"ip":          c.IP(),
					"user_agent":  c.Get("User-Agent"),
					"tracking_id": apperror.TrackingID(c),
					"stack":       string(stack),
				}).Errorf("Panic recovered")

				err = c.Status(fiber.StatusInternalServerError).JSON(apperror.ErrorResponse{
					Error:      "An unexpected error occurred",
					ErrorCode:  apperror.Code(status.ErrorCodeInternal),
					TrackingID: apperror.TrackingID(c),
				})
			}
		}()
		return c.Next()
	}
}
