// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"betelconnect/internal/bootstrap"
	"betelconnect/internal/config"
	"betelconnect/internal/middleware"
	"betelconnect/internal/models"
	"betelconnect/internal/notifications"
	"betelconnect/internal/observability"
	"betelconnect/internal/repository"
	"betelconnect/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	auth    *middleware.Authenticator
	limiter *middleware.Limiter
	wsLog   *observability.WSLogger

	userRepo repository.UserRepository
	notifier *notifications.Notifier
	presence *notifications.Presence
	hub      *notifications.Hub
	bus      notifications.Bus

	directory           *service.UserDirectory
	blobs               *service.LocalBlobStore
	postService         *service.PostService
	threadService       *service.ThreadService
	messageService      *service.MessageService
	notificationService *service.NotificationService
}

// NewServer connects to the database and Redis and builds a Server on them.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	db, rdb, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, db, rdb)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil; events are then delivered in-process only.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if cfg == nil || db == nil {
		return nil, fmt.Errorf("config and database are required")
	}

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	threadRepo := repository.NewThreadRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	presence := notifications.NewPresence(redisClient, notifications.PresenceConfig{})
	hub := notifications.NewHub(presence)
	notifier := notifications.NewNotifier(redisClient)
	bus := notifications.NewRelayBus(notifier, hub)
	notifications.WirePresence(presence, bus)

	directory := service.NewUserDirectory(userRepo, cfg.UserCacheSize, cfg.UserCacheTTL())
	blobs := service.NewLocalBlobStore(cfg)
	limiter := middleware.NewLimiter(redisClient, redisClient == nil)
	notificationService := service.NewNotificationService(notificationRepo, directory, bus)

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("betelconnect-api"),
		auth:           middleware.NewAuthenticator(cfg.JWTSecret, redisClient),
		limiter:        limiter,
		wsLog:          observability.NewWSLogger("event hub"),

		userRepo: userRepo,
		notifier: notifier,
		presence: presence,
		hub:      hub,
		bus:      bus,

		directory:           directory,
		blobs:               blobs,
		notificationService: notificationService,
		postService:         service.NewPostService(postRepo, blobs, directory, notificationService, bus),
		threadService:       service.NewThreadService(postRepo, threadRepo, directory, notificationService, bus),
		messageService: service.NewMessageService(
			messageRepo, userRepo, directory, blobs, notificationService, bus, presence, limiter,
		),
	}
	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New(helmet.Config{
		CrossOriginResourcePolicy: "cross-origin",
	}))
	app.Use(middleware.StructuredLogger())
	app.Use(middleware.TracingMiddleware())

	// CORS runs before the limiter so rejected responses still carry CORS headers.
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

	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
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
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// uploaded media
	app.Static(s.blobBaseURL(), s.blobDir(), fiber.Static{
		Compress:      false,
		ByteRange:     true,
		CacheDuration: 24 * time.Hour,
		MaxAge:        86400,
	})

	api := app.Group("/api")
	auth := s.auth.Required()

	// Websocket ticket issuance and the socket itself, which authenticates by ticket
	api.Post("/ws/ticket", auth, s.IssueWSTicket)
	api.Get("/ws", auth, s.WebsocketUpgrade, s.WebsocketHandler())

	posts := api.Group("/posts", auth)
	posts.Get("/", s.GetPosts)
	posts.Post("/", s.limiter.Middleware(10, 5*time.Minute, "create_post"), s.CreatePost)
	// Define specific /:id/:resource routes BEFORE generic /:id route
	posts.Post("/:id/like", s.LikePost)
	posts.Get("/:id/comments", s.GetComments)
	posts.Post("/:id/comments", s.limiter.Middleware(30, time.Minute, "create_comment"), s.CreateComment)
	posts.Post("/:id/nodes/:nodeId/replies", s.limiter.Middleware(30, time.Minute, "create_comment"), s.CreateReply)
	posts.Post("/:id/nodes/:nodeId/like", s.LikeNode)
	posts.Put("/:id/nodes/:nodeId", s.UpdateNode)
	posts.Delete("/:id/nodes/:nodeId", s.DeleteNode)
	posts.Put("/:id", s.UpdatePost)
	posts.Delete("/:id", s.DeletePost)

	messages := api.Group("/messages", auth)
	messages.Get("/contacts", s.GetContacts)
	messages.Put("/item/:messageId", s.UpdateMessage)
	messages.Delete("/item/:messageId", s.DeleteMessage)
	messages.Post("/:userId/read", s.MarkMessagesRead)
	messages.Get("/:userId", s.GetConversation)
	messages.Post("/:userId", s.limiter.Middleware(60, time.Minute, "send_message"), s.SendMessage)

	notes := api.Group("/notifications", auth)
	notes.Get("/", s.GetNotifications)
	notes.Post("/read", s.MarkAllNotificationsRead)
	notes.Post("/:id/read", s.MarkNotificationRead)
	notes.Delete("/:id", s.DeleteNotification)
	notes.Delete("/", s.ClearNotifications)

	users := api.Group("/users", auth)
	users.Get("/:id", s.GetUserProfile)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional, so its
// absence is reported without failing the probe.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"online_users": len(s.presence.OnlineUsers()),
		"time":         time.Now(),
	})
}

// App builds the Fiber app with middleware and routes installed.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	// inline images arrive base64 encoded
	bodyLimit := int(s.config.BlobMaxUploadBytes()*4/3) + 1<<20
	app := fiber.New(fiber.Config{
		AppName:      "BetelConnect API",
		BodyLimit:    bodyLimit,
		ErrorHandler: errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// errorHandler answers errors that escaped a handler, such as unknown routes.
func errorHandler(c *fiber.Ctx, err error) error {
	if fe, ok := err.(*fiber.Error); ok {
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
	}
	middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := s.App()

	if s.notifier.Enabled() {
		go func() {
			if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
				middleware.Logger.Error("failed to start hub wiring",
					slog.String("hub", s.hub.Name()), slog.String("error", err.Error()))
			}
		}()
	}

	middleware.Logger.Info("server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down hub", slog.String("error", err.Error()))
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}

func (s *Server) blobBaseURL() string {
	if s.config.BlobBaseURL == "" {
		return "/media"
	}
	return s.config.BlobBaseURL
}

func (s *Server) blobDir() string {
	if s.config.BlobDir == "" {
		return "uploads"
	}
	return s.config.BlobDir
}
