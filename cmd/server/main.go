package main

import (
	"fmt"
	"log"
	"os"

	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/database"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/handlers"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env in development; production configures the environment directly
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment as-is")
	}

	// Initialize database
	if err := database.InitDB(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}

	// The places provider is required for venue assignment
	places, err := services.MapsClient()
	if err != nil {
		log.Fatal("Failed to initialize maps client:", err)
	}

	db := database.GetDB()

	messageService := services.NewMessageService(db)
	alertService := services.NewAlertService()
	lifecycleService := services.NewLifecycleService(db)
	matchingService := services.NewMatchingService(db, lifecycleService)
	venueService := services.NewVenueService(db, places, messageService, alertService)

	// A group filling up is what triggers venue assignment
	lifecycleService.OnConfirmed(venueService.AssignVenue)

	// Exactly one cleanup worker runs destructive steps per deployment
	cleanupWorker := services.NewCleanupWorker(db, alertService, messageService, services.NewLockerFromEnv())
	cleanupWorker.Start()

	handlers.Init(matchingService, lifecycleService, messageService)

	// Initialize Gin router
	router := gin.Default()

	// Configure trusted proxies
	router.SetTrustedProxies([]string{"127.0.0.1"})

	// CORS for the web client
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	if origin := os.Getenv("CORS_ALLOWED_ORIGIN"); origin != "" {
		corsConfig.AllowOrigins = []string{origin}
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-User-ID")
	router.Use(cors.New(corsConfig))

	// Basic routes
	router.GET("/", handlers.HomeHandler)
	router.GET("/health", handlers.HealthHandler)

	// Public group routes
	router.GET("/public/groups/:group_id", handlers.GetGroupByID)

	// Protected routes (caller identity required)
	protected := router.Group("")
	protected.Use(handlers.RequireUser())
	{
		protected.POST("/groups/join", handlers.JoinRandomGroup)
		protected.GET("/groups/mine", handlers.GetMyGroup)
		protected.GET("/groups/:group_id", handlers.GetGroupByID)
		protected.POST("/groups/:group_id/leave", handlers.LeaveGroup)
		protected.POST("/groups/heartbeat", handlers.Heartbeat)
		protected.GET("/groups/:group_id/messages", handlers.GetGroupMessages)

		protected.POST("/groups/scheduled", handlers.CreateScheduledGroup)
		protected.DELETE("/groups/scheduled/:group_id", handlers.CancelScheduledGroup)
	}

	// Start the server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	fmt.Printf("Server starting on port %s...\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
