package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hobbymeet-sync/internal/notifications"
)

type NotificationHandler struct {
	relay *notifications.Relay
}

func NewNotificationHandler(relay *notifications.Relay) *NotificationHandler {
	return &NotificationHandler{relay: relay}
}

type feedViewRequest struct {
	Open *bool `json:"open" binding:"required"`
}

type activeRoomRequest struct {
	RoomID string `json:"room_id" binding:"required"`
}

// View records whether the notification feed is on screen. Opening it loads
// the snapshot on first use.
func (h *NotificationHandler) View(c *gin.Context) {
	var req feedViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.relay.SetFeedOpen(*req.Open)
	if *req.Open {
		if err := h.relay.LoadSnapshot(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"open": *req.Open, "unread": h.relay.UnreadCount()})
}

func (h *NotificationHandler) List(c *gin.Context) {
	if err := h.relay.LoadSnapshot(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": h.relay.Feed(),
		"unread":        h.relay.UnreadCount(),
	})
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.relay.UnreadCount()})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.relay.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": h.relay.UnreadCount()})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	if err := h.relay.MarkAllRead(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": h.relay.UnreadCount()})
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	if err := h.relay.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetActiveRoom suppresses pushes for the room the user is looking at.
func (h *NotificationHandler) SetActiveRoom(c *gin.Context) {
	var req activeRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.relay.SetActiveRoom(req.RoomID)
	c.JSON(http.StatusOK, gin.H{"room_id": h.relay.ActiveRoom()})
}

func (h *NotificationHandler) ClearActiveRoom(c *gin.Context) {
	h.relay.ClearActiveRoom()
	c.Status(http.StatusNoContent)
}
