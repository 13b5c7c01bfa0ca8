package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/maheshrc27/threadpost/internal/api/handlers"
	"github.com/maheshrc27/threadpost/internal/api/middleware"
	"github.com/maheshrc27/threadpost/internal/queue"
	"github.com/maheshrc27/threadpost/internal/service"
	"github.com/sirupsen/logrus"
)

type Deps struct {
	SecretKey    string
	Location     *time.Location
	Orchestrator service.OrchestratorService
	Sync         service.SyncService
	Runner       queue.Runner
	Status       handlers.StatusSource
	Runs         handlers.RunLister
	// Enqueuer is optional; without it delayed posts are refused.
	Enqueuer queue.Enqueuer
	Log      *logrus.Entry
}

func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Minute,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			d.Log.WithError(err).WithField("path", c.Path()).Error("unhandled request error")
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(requestLogger(d.Log))

	app.Get("/health", handlers.Health)

	authMiddleware := middleware.NewAuthMiddleware(d.SecretKey, d.Log)
	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	scheduler := handlers.NewSchedulerHandler(d.Status, d.Runs, d.Location)
	api.Get("/scheduler/status", scheduler.GetStatus)
	api.Get("/runs", scheduler.ListRuns)

	post := handlers.NewPostHandler(d.Orchestrator, d.Runner, d.Enqueuer, d.Log)
	api.Post("/posts", post.PostAll)
	api.Post("/posts/:account", post.PostAccount)

	sync := handlers.NewSyncHandler(d.Sync, d.Runner, d.Log)
	api.Post("/sync", sync.Sync)

	return app
}

func requestLogger(log *logrus.Entry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Method(),
			"path":     c.Path(),
			"status":   c.Response().StatusCode(),
			"duration": time.Since(start).String(),
		}).Info("request")
		return err
	}
}
