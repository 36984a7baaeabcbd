package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tunesync-service/internal/gateway"
	"tunesync-service/internal/models"
	"tunesync-service/internal/services"
)

type UserHandler struct {
	userService *services.UserService
	gateway     *gateway.Gateway
}

func NewUserHandler(userService *services.UserService, gw *gateway.Gateway) *UserHandler {
	return &UserHandler{
		userService: userService,
		gateway:     gw,
	}
}

// GetProfile returns the caller's own record.
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID := c.GetString("user_id")
	user, err := h.userService.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}
	c.JSON(http.StatusOK, user.ToResponse())
}

// UpdateSettings patches visibility, presence mode or status. Live gateway
// sessions pick up the change immediately.
func (h *UserHandler) UpdateSettings(c *gin.Context) {
	userID := c.GetString("user_id")

	var req models.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Visibility != nil && !validVisibility(*req.Visibility) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid visibility"})
		return
	}
	if req.Presence != nil && !validPresence(*req.Presence) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid presence mode"})
		return
	}

	user, err := h.userService.UpdateSettings(c.Request.Context(), userID, &req)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
		return
	}

	h.gateway.ApplySettings(userID, req.Visibility, req.Presence)

	c.JSON(http.StatusOK, user.ToResponse())
}

// GetRecentTracks returns the caller's recently played list.
func (h *UserHandler) GetRecentTracks(c *gin.Context) {
	userID := c.GetString("user_id")
	user, err := h.userService.GetByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load recent tracks"})
		return
	}
	tracks := user.RecentTracks
	if tracks == nil {
		tracks = models.TrackList{}
	}
	c.JSON(http.StatusOK, gin.H{"tracks": tracks})
}

func validVisibility(v models.BroadcastVisibility) bool {
	switch v {
	case models.VisibilityNobody, models.VisibilityFriends, models.VisibilityEveryone:
		return true
	}
	return false
}

func validPresence(m models.PresenceMode) bool {
	switch m {
	case models.PresenceModeNone, models.PresenceModeSimple, models.PresenceModeFull:
		return true
	}
	return false
}
