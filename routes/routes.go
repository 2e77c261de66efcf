package routes

import (
	"log"
	"net/http"
	"strconv"

	"simboard/handlers"
	"simboard/middleware"
	"simboard/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func SetupRoutes(
	router *gin.Engine,
	authHandler *handlers.AuthHandler,
	sessionHandler *handlers.SessionHandler,
	teamHandler *handlers.TeamHandler,
	hub *services.Hub,
	registry *services.Registry,
	jwtSecret string,
) {
	// API routes
	api := router.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		// Public session routes: the existence probe and the
		// passcode-checked team submission.
		public := api.Group("/sessions")
		{
			public.GET("/:id/status", sessionHandler.Status)
			public.POST("/:id/decisions", teamHandler.SubmitDecision)
		}

		// Protected host routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(jwtSecret))
		{
			protected.GET("/auth/profile", authHandler.GetProfile)

			sessions := protected.Group("/sessions")
			{
				sessions.GET("", sessionHandler.List)
				sessions.POST("", sessionHandler.CreateActive)
				sessions.POST("/draft", sessionHandler.CreateDraft)
				sessions.GET("/:id", sessionHandler.Get)
				sessions.PATCH("/:id", sessionHandler.Update)
				sessions.DELETE("/:id", sessionHandler.Delete)
				sessions.PUT("/:id/wizard", sessionHandler.SaveWizard)
				sessions.POST("/:id/finalize", sessionHandler.Finalize)
				sessions.POST("/:id/reset", sessionHandler.Reset)
				sessions.POST("/:id/complete", sessionHandler.Complete)

				sessions.POST("/:id/advance", sessionHandler.Advance)
				sessions.POST("/:id/back", sessionHandler.Retreat)
				sessions.POST("/:id/jump", sessionHandler.Jump)
				sessions.POST("/:id/play", sessionHandler.SetPlaying)
				sessions.PUT("/:id/notes", sessionHandler.UpdateNotes)
				sessions.POST("/:id/alert/dismiss", sessionHandler.DismissAlert)

				sessions.GET("/:id/teams", teamHandler.ListTeams)
				sessions.GET("/:id/decisions", teamHandler.GetDecisions)
				sessions.GET("/:id/rounds", teamHandler.GetRoundData)
				sessions.POST("/:id/teams/:teamId/decisions/:phaseId/reset", teamHandler.ResetDecision)
			}
		}
	}

	// WebSocket endpoint for live session updates. teamID 0 is the
	// host connection.
	router.GET("/ws/:sessionID/:teamID", func(c *gin.Context) {
		sessionID, err := services.ParseSessionID(c.Param("sessionID"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session id"})
			return
		}

		teamID64, err := strconv.ParseUint(c.Param("teamID"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid team id"})
			return
		}
		teamID := uint(teamID64)

		rt, err := registry.Get(c.Request.Context(), sessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}

		if teamID != 0 {
			found := false
			for _, team := range rt.Reconciler.Teams() {
				if team.ID == teamID {
					found = true
					break
				}
			}
			if !found {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Team not found in session"})
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed for session %d, team %d: %v", sessionID, teamID, err)
			return
		}

		client := hub.RegisterClient(conn, sessionID, teamID)
		hub.SendStateSync(client)
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
