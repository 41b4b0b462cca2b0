package handlers

import (
	"log"
	"net/http"

	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/services"

	"github.com/gin-gonic/gin"
)

// Service singletons, wired once from main. Handlers stay thin shells over the
// engine; rendering and notification copy live with external collaborators.
var (
	matchingService  *services.MatchingService
	lifecycleService *services.LifecycleService
	messageService   *services.MessageService
)

// Init wires the handler package to its services
func Init(matching *services.MatchingService, lifecycle *services.LifecycleService, messages *services.MessageService) {
	matchingService = matching
	lifecycleService = lifecycle
	messageService = messages
}

// handleError provides a consistent way to handle and log errors
func handleError(c *gin.Context, status int, message string, err error) {
	log.Printf("Error: %v", err)
	c.JSON(status, gin.H{"error": message})
}

// RequireUser extracts the caller identity injected by the auth layer in
// front of this service and aborts when it is missing.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

// HomeHandler handles requests to the root path "/"
func HomeHandler(c *gin.Context) {
	c.String(http.StatusOK, "Random Rendezvous API")
}

// HealthHandler is a simple health check endpoint
func HealthHandler(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}
