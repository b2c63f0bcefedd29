package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hobbymeet-sync/internal/chat"
	"hobbymeet-sync/internal/notifications"
	"hobbymeet-sync/internal/restapi"
	"hobbymeet-sync/internal/session"
	"hobbymeet-sync/internal/ws"
)

func statusFor(err error) int {
	var backendErr *restapi.StatusError
	switch {
	case session.IsCredentialError(err), errors.Is(err, restapi.ErrUnauthorized), errors.Is(err, chat.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrUnknownMessage), errors.Is(err, notifications.ErrUnknownNotification):
		return http.StatusNotFound
	case errors.Is(err, ws.ErrNotConnected), errors.Is(err, ws.ErrDisconnected), errors.Is(err, ws.ErrSendBufferFull):
		return http.StatusServiceUnavailable
	case errors.As(err, &backendErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
