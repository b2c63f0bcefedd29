package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/observability"
)

func setupRouter(status func() models.SessionStatus) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/whoami", RequireSession(status), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":    c.GetString("userID"),
			"request_id": observability.RequestIDFromContext(c.Request.Context()),
		})
	})
	return router
}

func TestRequireSessionRejectsAnonymous(t *testing.T) {
	router := setupRouter(func() models.SessionStatus {
		return models.SessionStatus{State: models.ConnStateDisconnected}
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	router := setupRouter(func() models.SessionStatus {
		return models.SessionStatus{UserID: "u1", State: models.ConnStateConnected}
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Request-ID", "req-7")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-7", w.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"user_id":"u1","request_id":"req-7"}`, w.Body.String())
}
