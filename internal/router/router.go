package router

import (
	"github.com/cloudwego/hertz/pkg/app/server"

	"github.com/optimiscs/ZhimoWanxiang/internal/handler"
	"github.com/optimiscs/ZhimoWanxiang/internal/middleware"
)

// Setup registers all routes.
func Setup(
	h *server.Hertz,
	userHandler *handler.UserHandler,
	chatHandler *handler.ChatHandler,
	taskHandler *handler.TaskHandler,
	healthHandler *handler.HealthHandler,
) {
	// Global middleware
	h.Use(middleware.Recovery())
	h.Use(middleware.Logger())
	h.Use(middleware.CORS())

	// Health check routes (no authentication)
	h.GET("/ping", healthHandler.Ping)
	h.GET("/health/ready", healthHandler.Readiness)
	h.GET("/health/live", healthHandler.Liveness)

	apiV1 := h.Group("/api/v1")
	{
		// ============ Public routes ============
		auth := apiV1.Group("/auth")
		{
			auth.POST("/register", userHandler.Register)
			auth.POST("/login", userHandler.Login)
			auth.POST("/refresh", userHandler.RefreshToken)
		}

		// ============ Protected routes (JWT) ============
		authorized := apiV1.Group("")
		authorized.Use(userHandler.AuthMiddleware())
		{
			users := authorized.Group("/users")
			{
				users.GET("/me", userHandler.GetCurrentUser)
				users.GET("", userHandler.ListUsers)
				users.DELETE("/:id", userHandler.DeleteUser)
			}

			chat := authorized.Group("/chat")
			{
				sessions := chat.Group("/sessions")
				{
					sessions.POST("", chatHandler.CreateSession)
					sessions.GET("", chatHandler.ListSessions)
					sessions.GET("/:id", chatHandler.GetSession)
					sessions.DELETE("/:id", chatHandler.DeleteSession)
					sessions.PUT("/:id/title", chatHandler.UpdateTitle)
					sessions.PUT("/:id/settings", chatHandler.UpdateSettings)
					sessions.GET("/:id/messages", chatHandler.ListMessages)
					sessions.POST("/:id/messages", chatHandler.SendMessage)

					// The dashboard POSTs the turn, then GETs the SSE reply
					sessions.POST("/:id/stream", chatHandler.SubmitStreamTurn)
					sessions.GET("/:id/stream", chatHandler.StreamReply)
				}

				chat.GET("/export-chat/:id", chatHandler.ExportChat)

				// Background analysis tasks
				chat.POST("/analyze-news", taskHandler.AnalyzeNews)
				chat.POST("/pr-strategy", taskHandler.PRStrategy)
				chat.GET("/task-status/:id", taskHandler.TaskStatus)
			}
		}
	}
}
