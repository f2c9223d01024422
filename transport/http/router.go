package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/eauth/internal/keys"
	"github.com/layer-3/eauth/ports"
	"github.com/layer-3/eauth/service"
)

// RouterConfig gathers what the router mounts
type RouterConfig struct {
	AuthService   *service.AuthService
	Sessions      *SessionManager
	Keys          *keys.Manager
	Resolver      ports.NameResolver // optional
	UI            UIOptions
	EnableUI      bool   // mount /, /login and the JWKS document
	AuthorizePath string // path watched by the redirect-loop guard
	Development   bool
	Logger        *slog.Logger
}

// SetupRouter sets up the Gin router
func SetupRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	router := gin.New()
	router.SetHTMLTemplate(Views())
	router.Use(RequestLogger(logger), ErrorPages(cfg.Development, logger), Recovery(logger))

	// Create handlers
	handlers := NewAuthHandlers(cfg.AuthService, cfg.Keys, cfg.Resolver, cfg.UI, logger)

	// Session-less routes
	router.GET("/healthz", handlers.Health)
	if cfg.EnableUI {
		router.GET("/.well-known/jwks.json", handlers.JWKS)
	}

	// Everything registered below, unmatched paths included, runs with a session
	router.Use(cfg.Sessions.Middleware(), RedirectLoopGuard(cfg.AuthorizePath))

	if cfg.EnableUI {
		router.GET("/", handlers.Index)
		router.GET("/login", handlers.LoginPage)
	}

	// Challenge/response routes
	auth := router.Group("/auth")
	{
		auth.GET("/:Address", handlers.Challenge)
		auth.POST("/:Message/:Signature", handlers.Verify)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(SessionGate(cfg.AuthService))
	{
		api.Any("/logout", handlers.Logout)
		api.GET("/user", handlers.User)
	}

	return router
}
