package server

import (
	"github.com/labstack/echo/v4"

	"github.com/justinchat/justinchat/internal/application/config"
	"github.com/justinchat/justinchat/internal/infra/ports/http/handlers"
	"github.com/justinchat/justinchat/internal/infra/ports/http/middleware"
)

func New(
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	callHandler *handlers.CallHandler,
	iceHandler *handlers.IceHandler,
	wsHandler *handlers.WebSocketHandler,
) *echo.Echo {
	e := echo.New()

	e.HideBanner = true

	e.Use(middleware.SlogLogger())
	e.Use(middleware.PrometheusMiddleware())

	api := e.Group("/api")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
		}

		v1 := api.Group("/v1")
		v1.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
		{
			v1.GET("/me", authHandler.GetMe)

			v1.GET("/ice", iceHandler.IceServers)

			v1.GET("/ws", wsHandler.Handle)

			v1.POST("/calls/invite", callHandler.Invite)
			v1.POST("/calls/:id/accept", callHandler.Accept)
			v1.GET("/calls/history", callHandler.History)
		}
	}

	return e
}
