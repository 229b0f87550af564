package bootstrap

import (
	"strings"

	apihttp "helios_server/adapter/in/http"
	"helios_server/config"
	"helios_server/infra/middleware"
	"helios_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI assembles the fiber app.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "helios-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             10 * 1024 * 1024,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID,X-Helios-Admin-Token",
		MaxAge:       86400,
	}))

	// Health checks (no auth)
	healthHandler := apihttp.NewHealthHandler(deps.DB, deps.Redis)
	healthHandler.Register(app)

	// API routes
	api := app.Group("/api")
	api.Use(middleware.Timeout(cfg.RequestTimeout))

	rateLimiter := middleware.NewRateLimiter(deps.Redis, middleware.DefaultRateLimitConfig())
	api.Use(rateLimiter.Handler())

	api.Use(middleware.JWTAuth(cfg.JWTSecret))

	adminGate := middleware.AdminGate(cfg.AdminToken)

	allowlistHandler := apihttp.NewAllowlistHandler(deps.AllowlistService)
	allowlistHandler.Register(api)

	contactHandler := apihttp.NewContactHandler(deps.ContactService)
	contactHandler.Register(api)
	contactHandler.RegisterAdmin(api, adminGate)

	taskHandler := apihttp.NewTaskHandler(deps.TriageService)
	taskHandler.Register(api)
	taskHandler.RegisterAdmin(api, adminGate)

	scheduleHandler := apihttp.NewScheduleHandler(deps.ScheduleService, deps.Location)
	scheduleHandler.Register(api)
	scheduleHandler.RegisterAdmin(api, adminGate)

	logger.Info("API server initialized")

	return app, cleanup, nil
}
