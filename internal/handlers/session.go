package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hobbymeet-sync/internal/realtime"
)

type SessionHandler struct {
	sync *realtime.Synchronizer
}

func NewSessionHandler(sync *realtime.Synchronizer) *SessionHandler {
	return &SessionHandler{sync: sync}
}

type loginRequest struct {
	Token string `json:"token" binding:"required"`
}

// Login stores the credential and brings the realtime session up.
func (h *SessionHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := h.sync.Login(c.Request.Context(), req.Token)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "session": status})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *SessionHandler) Logout(c *gin.Context) {
	h.sync.Logout(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.sync.Status())
}

// Connect asks for a connection after the UI observed a failure.
func (h *SessionHandler) Connect(c *gin.Context) {
	if err := h.sync.Reconnect(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "session": h.sync.Status()})
		return
	}
	c.JSON(http.StatusOK, h.sync.Status())
}
