// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"fmt"
	"time"

	_ "pollapp/docs" // swagger docs
	"pollapp/internal/cache"
	"pollapp/internal/config"
	"pollapp/internal/database"
	"pollapp/internal/featureflags"
	"pollapp/internal/jobs"
	"pollapp/internal/middleware"
	"pollapp/internal/models"
	"pollapp/internal/notifications"
	"pollapp/internal/policy"
	"pollapp/internal/repository"
	"pollapp/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// wireableHub is implemented by websocket hubs that listen on Redis pub/sub.
type wireableHub interface {
	StartWiring(ctx context.Context, n *notifications.Notifier) error
	Shutdown(ctx context.Context) error
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	limitKey       middleware.KeyFunc

	userRepo     repository.UserRepository
	pollRepo     repository.PollRepository
	voteRepo     repository.VoteRepository
	commentRepo  repository.CommentRepository
	reactionRepo repository.ReactionRepository

	policy       *policy.Policy
	featureFlags *featureflags.Manager
	notifier     *notifications.Notifier
	hub          *notifications.Hub
	hubs         []wireableHub
	scheduler    *jobs.Scheduler

	pollService      *service.PollService
	voteService      *service.VoteService
	commentService   *service.CommentService
	reactionService  *service.ReactionService
	userService      *service.UserService
	analyticsService *service.AnalyticsService
}

// NewServer connects to the database and Redis and builds a server.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// A nil redis client disables caching, pub/sub and live results.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	role, ok := models.ParseRole(cfg.PollCreationRole)
	if !ok {
		role = models.RoleMember
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("pollapp-api"),
		userRepo:       repository.NewUserRepository(db),
		pollRepo:       repository.NewPollRepository(db),
		voteRepo:       repository.NewVoteRepository(db),
		commentRepo:    repository.NewCommentRepository(db),
		reactionRepo:   repository.NewReactionRepository(db),
		policy:         policy.New(policy.Options{CreatorRole: role}),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		notifier:       notifications.NewNotifier(redisClient),
		limitKey:       middleware.AddressKey(cfg.TrustProxyHeaders),
	}

	s.pollService = service.NewPollService(s.pollRepo, s.policy, s.featureFlags, s.notifier)
	s.voteService = service.NewVoteService(s.pollRepo, s.voteRepo,
		service.WithVoteEvents(s.notifier),
		service.WithVoteFlags(s.featureFlags),
	)
	s.commentService = service.NewCommentService(s.commentRepo, s.pollRepo, s.policy)
	s.reactionService = service.NewReactionService(s.reactionRepo, s.pollRepo, s.policy)
	s.userService = service.NewUserService(s.userRepo, s.policy)
	s.analyticsService = service.NewAnalyticsService(repository.NewAnalyticsRepository(db), s.policy)

	if redisClient != nil {
		s.hub = notifications.NewHub()
		s.hubs = []wireableHub{s.hub}
	}

	schedule := cfg.ExpirySweepSchedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	sweeper := jobs.NewExpirySweeper(s.pollRepo, s.notifier, time.Now)
	scheduler, err := jobs.NewScheduler(schedule, sweeper)
	if err != nil {
		return nil, err
	}
	s.scheduler = scheduler

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())

	// Propagates request and user ids into the request context for logging.
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}
	app.Use(middleware.TracingMiddleware())

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	// Global rate limiting (100 requests per minute per client address)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || middleware.RateLimitExempt()
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return s.limitKey(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Pollapp Metrics Dashboard",
	}))

	api.Get("/swagger/*", swagger.HandlerDefault)

	auth := api.Group("/auth")
	auth.Post("/signup", middleware.RateLimit(
		s.redis, s.limitKey, 3, 10*time.Minute, "signup"), s.Signup)
	auth.Post("/login", middleware.RateLimit(
		s.redis, s.limitKey, 10, 5*time.Minute, "login"), s.Login)
	auth.Post("/logout", s.AuthRequired(), s.Logout)

	// Public poll routes. Handlers resolve an optional session themselves.
	polls := api.Group("/polls")
	polls.Get("/", s.GetPolls)
	polls.Get("/trending", s.GetTrendingPolls)
	polls.Get("/mine", s.AuthRequired(), s.GetMyPolls)
	polls.Post("/", s.AuthRequired(), middleware.RateLimit(
		s.redis, s.limitKey, 10, time.Hour, "create_poll"), s.CreatePoll)
	polls.Post("/:id/vote", s.OptionalAuth(), middleware.RateLimit(
		s.redis, s.limitKey, 30, time.Minute, "vote"), s.SubmitVote)
	polls.Get("/:id/vote", s.GetVoteStatus)
	polls.Get("/:id/comments", s.GetComments)
	polls.Get("/:id/reactions", s.GetReactions)
	polls.Get("/:id", s.GetPoll)

	embed := api.Group("/embed")
	embed.Get("/polls/:id", s.GetEmbeddedPoll)

	ws := api.Group("/ws")
	ws.Get("/polls/:id", s.LiveResultsUpgrade, s.LiveResultsHandler())

	// Everything below requires a session; public routes must be registered above.
	protected := api.Group("", s.AuthRequired())
	owned := protected.Group("/polls")
	owned.Get("/:id/results/export", s.ExportPollResults)
	owned.Get("/:id/results", s.GetPollResults)
	owned.Post("/:id/options", s.AddPollOption)
	owned.Delete("/:id/options/:optionId", s.DeletePollOption)
	owned.Post("/:id/comments", middleware.RateLimit(
		s.redis, s.limitKey, 5, time.Minute, "create_comment"), s.CreateComment)
	owned.Delete("/:id/comments/:commentId", s.DeleteComment)
	owned.Post("/:id/reactions", middleware.RateLimit(
		s.redis, s.limitKey, 30, time.Minute, "reaction"), s.ToggleReaction)
	owned.Patch("/:id", s.UpdatePoll)
	owned.Delete("/:id", s.DeletePoll)

	users := protected.Group("/users")
	users.Get("/me", s.GetMyProfile)
	users.Put("/me/theme", s.UpdateMyTheme)

	admin := protected.Group("/admin", s.AdminRequired())
	admin.Get("/users", s.AdminListUsers)
	admin.Patch("/users/:id/role", s.AdminUpdateUserRole)
	admin.Delete("/users/:id", s.AdminDeleteUser)
	admin.Get("/analytics", s.AdminAnalytics)
	admin.Get("/feature-flags", s.GetFeatureFlags)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports database and Redis reachability.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if s.db == nil {
		dbStatus = "unhealthy"
	} else if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" || redisStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// NewApp builds the fiber app with middleware and routes installed.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Pollapp API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", "error", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// Start wires background workers and listens on the configured port.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.NewApp()

	for _, h := range s.hubs {
		h := h
		go func() {
			if err := h.StartWiring(s.shutdownCtx, s.notifier); err != nil {
				middleware.Logger.Error("failed to start live results wiring", "error", err)
			}
		}()
	}
	if s.scheduler != nil {
		s.scheduler.Start()
	}

	middleware.Logger.Info("server starting", "port", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.scheduler != nil {
		s.scheduler.Stop(ctx)
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", "error", err)
		}
	}

	for _, h := range s.hubs {
		if err := h.Shutdown(ctx); err != nil {
			middleware.Logger.Error("error shutting down live results hub", "error", err)
		}
	}

	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			if cerr := sqlDB.Close(); cerr != nil {
				middleware.Logger.Error("error closing sql DB", "error", cerr)
			}
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", "error", rerr)
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}
