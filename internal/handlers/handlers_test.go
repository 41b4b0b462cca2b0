package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/database"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/models"
	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	database.DB = db

	lifecycle := services.NewLifecycleService(db)
	matching := services.NewMatchingService(db, lifecycle)
	Init(matching, lifecycle, services.NewMessageService(db))

	router := gin.New()
	router.GET("/public/groups/:group_id", GetGroupByID)

	protected := router.Group("")
	protected.Use(RequireUser())
	{
		protected.POST("/groups/join", JoinRandomGroup)
		protected.GET("/groups/mine", GetMyGroup)
		protected.GET("/groups/:group_id", GetGroupByID)
		protected.POST("/groups/:group_id/leave", LeaveGroup)
		protected.POST("/groups/heartbeat", Heartbeat)
		protected.GET("/groups/:group_id/messages", GetGroupMessages)
		protected.POST("/groups/scheduled", CreateScheduledGroup)
		protected.DELETE("/groups/scheduled/:group_id", CancelScheduledGroup)
	}
	return router
}

func doJSON(router *gin.Engine, method, path, userID string, payload interface{}) *httptest.ResponseRecorder {
	var body *bytes.Buffer
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func joinPayload() map[string]interface{} {
	return map[string]interface{}{
		"latitude":      48.8566,
		"longitude":     2.3522,
		"location_name": "Paris",
	}
}

func joinGroup(t *testing.T, router *gin.Engine, userID string) string {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/groups/join", userID, joinPayload())
	if w.Code != http.StatusOK && w.Code != http.StatusCreated {
		t.Fatalf("join for %s returned %d: %s", userID, w.Code, w.Body.String())
	}
	var resp struct {
		Group models.Group `json:"group"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode join response: %v", err)
	}
	return resp.Group.ID
}

func TestRequireUserRejectsAnonymous(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(router, http.MethodPost, "/groups/join", "", joinPayload())
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestJoinCreatesGroup(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(router, http.MethodPost, "/groups/join", "alice", joinPayload())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Group   models.Group `json:"group"`
		Created bool         `json:"created"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Created {
		t.Error("expected created=true for the first requester")
	}
	if resp.Group.Status != models.GroupWaiting || resp.Group.CurrentParticipants != 1 {
		t.Errorf("unexpected new group state: %s/%d", resp.Group.Status, resp.Group.CurrentParticipants)
	}
}

func TestJoinAttachesToNearbyGroup(t *testing.T) {
	router := setupRouter(t)

	firstID := joinGroup(t, router, "alice")

	w := doJSON(router, http.MethodPost, "/groups/join", "bob", joinPayload())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for an attach, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Group   models.Group `json:"group"`
		Created bool         `json:"created"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Created || resp.Group.ID != firstID {
		t.Errorf("expected attach to group %s, got created=%v id=%s", firstID, resp.Created, resp.Group.ID)
	}
}

func TestJoinRejectsInvalidCoordinates(t *testing.T) {
	router := setupRouter(t)

	payload := map[string]interface{}{
		"latitude":      123.0,
		"longitude":     2.35,
		"location_name": "Nowhere",
	}
	w := doJSON(router, http.MethodPost, "/groups/join", "alice", payload)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestJoinConflictsWhenAlreadyMember(t *testing.T) {
	router := setupRouter(t)

	joinGroup(t, router, "alice")

	// Far away, so matching cannot return the existing group
	payload := map[string]interface{}{
		"latitude":      45.7640,
		"longitude":     4.8357,
		"location_name": "Lyon",
	}
	w := doJSON(router, http.MethodPost, "/groups/join", "alice", payload)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLeaveGroup(t *testing.T) {
	router := setupRouter(t)

	groupID := joinGroup(t, router, "alice")
	joinGroup(t, router, "bob")

	w := doJSON(router, http.MethodPost, "/groups/"+groupID+"/leave", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var group models.Group
	if err := database.GetDB().Where("id = ?", groupID).First(&group).Error; err != nil {
		t.Fatalf("group should survive with a remaining member: %v", err)
	}
	if group.CurrentParticipants != 1 {
		t.Errorf("expected 1 remaining participant, got %d", group.CurrentParticipants)
	}
}

func TestLeaveWithoutMembership(t *testing.T) {
	router := setupRouter(t)

	groupID := joinGroup(t, router, "alice")

	w := doJSON(router, http.MethodPost, "/groups/"+groupID+"/leave", "stranger", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHeartbeat(t *testing.T) {
	router := setupRouter(t)

	joinGroup(t, router, "alice")

	w := doJSON(router, http.MethodPost, "/groups/heartbeat", "alice", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, http.MethodPost, "/groups/heartbeat", "stranger", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a non-member heartbeat, got %d", w.Code)
	}
}

func TestGetGroupByID(t *testing.T) {
	router := setupRouter(t)

	groupID := joinGroup(t, router, "alice")

	w := doJSON(router, http.MethodGet, "/groups/"+groupID, "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var group models.Group
	if err := json.Unmarshal(w.Body.Bytes(), &group); err != nil {
		t.Fatalf("failed to decode group: %v", err)
	}
	if len(group.Participants) != 1 {
		t.Errorf("expected participants preloaded, got %d", len(group.Participants))
	}

	w = doJSON(router, http.MethodGet, "/groups/no-such-group", "alice", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown group, got %d", w.Code)
	}
}

func TestGetMyGroup(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(router, http.MethodGet, "/groups/mine", "alice", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a membership, got %d", w.Code)
	}

	groupID := joinGroup(t, router, "alice")

	w = doJSON(router, http.MethodGet, "/groups/mine", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var group models.Group
	if err := json.Unmarshal(w.Body.Bytes(), &group); err != nil {
		t.Fatalf("failed to decode group: %v", err)
	}
	if group.ID != groupID {
		t.Errorf("expected group %s, got %s", groupID, group.ID)
	}
}

func TestScheduledGroupLifecycle(t *testing.T) {
	router := setupRouter(t)

	past := map[string]interface{}{
		"latitude":      48.8566,
		"longitude":     2.3522,
		"location_name": "Paris",
		"scheduled_for": time.Now().Add(-time.Hour).Format(time.RFC3339),
	}
	w := doJSON(router, http.MethodPost, "/groups/scheduled", "alice", past)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a past time, got %d", w.Code)
	}

	future := map[string]interface{}{
		"latitude":      48.8566,
		"longitude":     2.3522,
		"location_name": "Paris",
		"scheduled_for": time.Now().Add(2 * time.Hour).Format(time.RFC3339),
	}
	w = doJSON(router, http.MethodPost, "/groups/scheduled", "alice", future)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var group models.Group
	if err := json.Unmarshal(w.Body.Bytes(), &group); err != nil {
		t.Fatalf("failed to decode group: %v", err)
	}
	if !group.IsScheduled {
		t.Error("expected a scheduled group")
	}

	w = doJSON(router, http.MethodDelete, "/groups/scheduled/"+group.ID, "bob", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a non-owner cancel, got %d", w.Code)
	}

	w = doJSON(router, http.MethodDelete, "/groups/scheduled/"+group.ID, "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var cancelled models.Group
	if err := database.GetDB().Where("id = ?", group.ID).First(&cancelled).Error; err != nil {
		t.Fatalf("cancelled group should still exist: %v", err)
	}
	if cancelled.Status != models.GroupCancelled {
		t.Errorf("expected status cancelled, got %s", cancelled.Status)
	}
}

func TestGetGroupMessagesMarksRead(t *testing.T) {
	router := setupRouter(t)

	groupID := joinGroup(t, router, "alice")

	db := database.GetDB()
	for i := 0; i < 3; i++ {
		msg := models.Message{GroupID: groupID, Sender: models.SystemSender, Content: fmt.Sprintf("note %d", i)}
		if err := db.Create(&msg).Error; err != nil {
			t.Fatalf("seed message failed: %v", err)
		}
	}

	w := doJSON(router, http.MethodGet, "/groups/"+groupID+"/messages", "stranger", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a non-member, got %d", w.Code)
	}

	w = doJSON(router, http.MethodGet, "/groups/"+groupID+"/messages", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode messages: %v", err)
	}
	if len(resp.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(resp.Messages))
	}
	for _, msg := range resp.Messages {
		var readers []string
		if err := json.Unmarshal(msg.ReadBy, &readers); err != nil {
			t.Fatalf("failed to parse read_by: %v", err)
		}
		if len(readers) != 1 || readers[0] != "alice" {
			t.Errorf("expected alice to be marked as reader, got %v", readers)
		}
	}
}
