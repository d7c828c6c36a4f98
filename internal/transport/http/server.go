package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-hub/internal/auth"
	"github.com/vovakirdan/wirechat-hub/internal/config"
	"github.com/vovakirdan/wirechat-hub/internal/core"
	"github.com/vovakirdan/wirechat-hub/internal/store"
)

// NewServer builds the HTTP server with the REST API, file serving and the
// chat sockets.
func NewServer(chat *core.Chat, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(authService, logger)
	userHandlers := NewUserHandlers(st, logger)
	roomHandlers := NewRoomHandlers(chat, authService, logger)
	fileHandlers := NewFileHandlers(chat, cfg.UploadDir, cfg.MaxUploadBytes, logger)
	wsHandler := NewWSHandler(chat, cfg, logger)

	api := router.Group("/api")
	{
		api.POST("/register", apiHandlers.Register)
		api.POST("/login", apiHandlers.Login)

		authed := api.Group("")
		authed.Use(AuthMiddleware(authService, logger))
		{
			authed.GET("/me", userHandlers.Me)

			authed.GET("/rooms", roomHandlers.ListRooms)
			authed.POST("/rooms", roomHandlers.CreateRoom)
			authed.POST("/rooms/private", roomHandlers.OpenPrivateRoom)
			authed.GET("/rooms/:key", roomHandlers.GetRoom)
			authed.PATCH("/rooms/:key", roomHandlers.UpdateRoom)
			authed.DELETE("/rooms/:key", roomHandlers.DeleteRoom)
			authed.POST("/rooms/:key/leave", roomHandlers.LeaveRoom)
			authed.GET("/rooms/:key/messages", roomHandlers.ListMessages)
			authed.POST("/rooms/:key/files", fileHandlers.Upload)
		}
	}

	if cfg.UploadDir != "" {
		router.Static(filesPrefix, cfg.UploadDir)
	}

	ws := router.Group("/ws")
	ws.Use(AuthMiddleware(authService, logger))
	{
		ws.GET("/chat/:key", wsHandler.ServeChat)
		ws.GET("/online-status", wsHandler.ServeOnlineStatus)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
