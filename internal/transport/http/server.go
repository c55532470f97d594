package http

import (
	"fmt"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/talkroom/talkroom-server/internal/auth"
	"github.com/talkroom/talkroom-server/internal/config"
	"github.com/talkroom/talkroom-server/internal/core"
	"github.com/talkroom/talkroom-server/internal/store"
)

// NewServer builds an HTTP server with REST and websocket routes. The
// websocket endpoint is served on a plain mux outside gin: the upgrade
// hijacks the connection, which gin's response writer does not support.
func NewServer(hub *core.Hub, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(authService, logger)
	roomHandlers := NewRoomHandlers(st, logger)
	messageHandlers := NewMessageHandlers(st, roomHandlers, logger)

	api := router.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)

	authorized := api.Group("")
	authorized.Use(AuthMiddleware(authService, logger))
	authorized.POST("/rooms", roomHandlers.CreateRoom)
	authorized.GET("/rooms", roomHandlers.ListRooms)
	authorized.POST("/rooms/:id/join", roomHandlers.JoinRoom)
	authorized.POST("/rooms/:id/leave", roomHandlers.LeaveRoom)
	authorized.POST("/rooms/private", roomHandlers.PrivateRoom)
	authorized.GET("/rooms/:id/messages", messageHandlers.History)
	authorized.POST("/rooms/:id/read", messageHandlers.MarkRead)
	authorized.GET("/me/rooms", roomHandlers.MyRooms)

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, authService, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	fmt.Fprint(c.Writer, "ok")
}
