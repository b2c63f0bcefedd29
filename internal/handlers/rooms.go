package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hobbymeet-sync/internal/chat"
	"hobbymeet-sync/internal/realtime"
)

type RoomHandler struct {
	sync *realtime.Synchronizer
}

func NewRoomHandler(sync *realtime.Synchronizer) *RoomHandler {
	return &RoomHandler{sync: sync}
}

type postMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

type markReadRequest struct {
	UptoID string `json:"upto_id"`
}

// Enter opens the chat view of the room, joining it on the live connection.
func (h *RoomHandler) Enter(c *gin.Context) {
	roomID := c.Param("room_id")
	view := h.sync.OpenChat(roomID)
	c.JSON(http.StatusOK, gin.H{
		"room_id": view.RoomID(),
		"active":  h.sync.Rooms().Active(),
		"pending": h.sync.Rooms().Pending(),
	})
}

func (h *RoomHandler) Exit(c *gin.Context) {
	h.sync.CloseChat(c.Param("room_id"))
	c.Status(http.StatusNoContent)
}

// ListMessages returns the room log, loading REST history first when the log
// is still empty.
func (h *RoomHandler) ListMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	if h.sync.Reducer().Len(roomID) == 0 || c.Query("refresh") == "true" {
		if _, err := h.sync.LoadHistory(c.Request.Context(), roomID); err != nil {
			writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": h.sync.Reducer().Messages(roomID),
		"unread":   h.sync.Reducer().Unread(roomID),
	})
}

// PostMessage sends optimistically. A send that fails on the wire still
// returns the failed entry so the UI can offer retry.
func (h *RoomHandler) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.sync.Send(c.Param("room_id"), req.Text)
	if err != nil {
		if msg.ClientID == "" {
			writeError(c, err)
			return
		}
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "message": msg})
		return
	}
	c.JSON(http.StatusAccepted, msg)
}

func (h *RoomHandler) RetryMessage(c *gin.Context) {
	msg, err := h.sync.Retry(c.Param("room_id"), c.Param("client_id"))
	if err != nil {
		if msg.ClientID == "" {
			writeError(c, err)
			return
		}
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "message": msg})
		return
	}
	c.JSON(http.StatusAccepted, msg)
}

// DiscardMessage drops a failed local entry.
func (h *RoomHandler) DiscardMessage(c *gin.Context) {
	if !h.sync.Discard(c.Param("room_id"), c.Param("client_id")) {
		writeError(c, chat.ErrUnknownMessage)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	roomID := c.Param("room_id")
	moved := h.sync.MarkRead(roomID, req.UptoID)
	c.JSON(http.StatusOK, gin.H{"moved": moved, "unread": h.sync.Reducer().Unread(roomID)})
}

// Input reports a keystroke in the composer of the open room.
func (h *RoomHandler) Input(c *gin.Context) {
	if !h.sync.Input(c.Param("room_id")) {
		c.JSON(http.StatusConflict, gin.H{"error": "room is not open"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) Typing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.sync.Typing(c.Param("room_id"))})
}
