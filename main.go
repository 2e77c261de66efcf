package main

import (
	"log"

	"simboard/config"
	"simboard/content"
	"simboard/feed"
	"simboard/handlers"
	"simboard/middleware"
	"simboard/models"
	"simboard/routes"
	"simboard/services"
	"simboard/store"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env if present; real deployments set the environment.
	godotenv.Load()

	cfg := config.Load()
	logger := config.InitLogger()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database models
	err = db.AutoMigrate(
		&models.Host{},
		&models.Session{},
		&models.Team{},
		&models.TeamDecision{},
		&models.TeamRoundData{},
	)
	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize Redis
	redisClient := config.InitRedis(cfg)

	// Load slide decks
	decks, err := content.LoadLibraryDir(cfg.DeckDir)
	if err != nil {
		log.Fatal("Failed to load slide decks:", err)
	}

	// Initialize change feed and store
	changeFeed := feed.NewRedisFeed(redisClient, logger)
	dataStore := store.NewGormStore(db, changeFeed, logger)

	// Initialize services
	authService := services.NewAuthService(db, cfg.JWTSecret)
	sessionService := services.NewSessionService(dataStore, decks, logger)
	decisionService := services.NewDecisionService(dataStore, logger)
	finalizer := services.NewDecisionFinalizer(dataStore, decks, logger)
	consequences := services.NewRoundConsequenceProcessor(dataStore, decks, logger)
	views := services.NewRedisViewCache(redisClient, logger)

	// Initialize WebSocket hub
	hub := services.NewHub(views)
	go hub.Run()

	registry := services.NewRegistry(
		sessionService, decisionService, dataStore, changeFeed,
		finalizer, consequences, views, hub, logger,
	)
	defer registry.CloseAll()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	sessionHandler := handlers.NewSessionHandler(sessionService, registry)
	teamHandler := handlers.NewTeamHandler(decisionService, registry)

	// Setup Gin router
	router := gin.Default()

	// Add CORS middleware
	router.Use(middleware.CORS())

	// Setup routes
	routes.SetupRoutes(router, authHandler, sessionHandler, teamHandler, hub, registry, cfg.JWTSecret)

	// Start server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
