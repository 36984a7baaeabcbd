package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"tunesync-service/internal/api/handlers"
	"tunesync-service/internal/api/middleware"
	"tunesync-service/internal/config"
	"tunesync-service/internal/gateway"
	"tunesync-service/internal/repositories/postgres"
	"tunesync-service/internal/services"
)

type Router struct {
	engine           *gin.Engine
	wsHandler        *handlers.WSHandler
	authHandler      *handlers.AuthHandler
	userHandler      *handlers.UserHandler
	directoryHandler *handlers.DirectoryHandler
	searchHandler    *handlers.SearchHandler
	iconHandler      *handlers.IconHandler
	rateLimitMW      *middleware.RateLimitMiddleware
	authMW           *middleware.AuthMiddleware
}

func NewRouter(
	gw *gateway.Gateway,
	cfg *config.Config,
	db *gorm.DB,
	redisClient *redis.Client,
	icons *services.IconService,
) *Router {
	gin.SetMode(cfg.Server.Mode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.LogApi())

	userRepo := postgres.NewUserRepository(db)
	userService := services.NewUserService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration)
	catalogService := services.NewCatalogService(cfg.Catalog)
	redisService := services.NewRedisService(redisClient)

	var iconHandler *handlers.IconHandler
	if icons != nil {
		iconHandler = handlers.NewIconHandler(icons)
	}

	return &Router{
		engine:           engine,
		wsHandler:        handlers.NewWSHandler(gw),
		authHandler:      handlers.NewAuthHandler(cfg.Catalog, userService),
		userHandler:      handlers.NewUserHandler(userService, gw),
		directoryHandler: handlers.NewDirectoryHandler(gw),
		searchHandler:    handlers.NewSearchHandler(catalogService),
		iconHandler:      iconHandler,
		rateLimitMW:      middleware.NewRateLimitMiddleware(redisService),
		authMW:           middleware.NewAuthMiddleware(cfg.JWT.Secret),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthcheck", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.engine.Group("/api/v1")

	// WebSocket endpoint. Clients authenticate in-band with the handshake
	// frame, so the HTTP layer stays unauthenticated.
	api.GET("/ws", r.wsHandler.HandleWebSocket)

	// Authenticated routes
	auth := api.Group("/")
	auth.Use(r.authMW.RequireAuth())
	{
		users := auth.Group("/users")
		users.Use(r.rateLimitMW.RateLimit(100, time.Minute))
		{
			users.GET("/me", r.userHandler.GetProfile)
			users.PUT("/me/settings", r.userHandler.UpdateSettings)
			users.GET("/me/recent-tracks", r.userHandler.GetRecentTracks)
			users.GET("/online", r.directoryHandler.OnlineUsers)
			users.GET("/recent", r.directoryHandler.RecentUsers)
		}

		search := auth.Group("/search")
		search.Use(r.rateLimitMW.RateLimit(60, time.Minute))
		{
			search.GET("", r.searchHandler.SearchTracks)
		}
	}

	// Public routes
	public := api.Group("/")
	{
		authRoutes := public.Group("/auth")
		authRoutes.Use(r.rateLimitMW.RateLimitIP(50, time.Minute))
		{
			authRoutes.GET("/login", r.authHandler.Login)
			authRoutes.GET("/callback", r.authHandler.Callback)
		}

		if r.iconHandler != nil {
			icons := public.Group("/icons")
			icons.Use(r.rateLimitMW.RateLimitIP(120, time.Minute))
			{
				icons.GET("/:id", r.iconHandler.GetIcon)
			}
		}
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
