package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/session"
)

type recorded struct {
	method string
	path   string
	auth   string
}

func newServer(t *testing.T, handler http.HandlerFunc) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	store := &session.MemoryStore{}
	require.NoError(t, store.SetToken(context.Background(), "tok-1"))
	return NewClient(srv.URL+"/", store, time.Second), &calls
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListNotificationsAndCount(t *testing.T) {
	created := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	client, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/notifications":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"notifications": []models.Notification{{ID: "n1", Type: models.NotificationRating, CreatedAt: created}},
			})
		case "/notifications/unread-count":
			writeJSON(w, http.StatusOK, map[string]int{"count": 3})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	list, err := client.ListNotifications(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "n1", list[0].ID)
	assert.Equal(t, created, list[0].CreatedAt)

	count, err := client.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.Len(t, *calls, 2)
	assert.Equal(t, "Bearer tok-1", (*calls)[0].auth)
}

func TestMutationsUseExpectedRoutes(t *testing.T) {
	client, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	require.NoError(t, client.MarkRead(ctx, "n1"))
	require.NoError(t, client.MarkAllRead(ctx))
	require.NoError(t, client.DeleteNotification(ctx, "n1"))

	assert.Equal(t, []recorded{
		{method: http.MethodPost, path: "/notifications/n1/read", auth: "Bearer tok-1"},
		{method: http.MethodPost, path: "/notifications/read-all", auth: "Bearer tok-1"},
		{method: http.MethodDelete, path: "/notifications/n1", auth: "Bearer tok-1"},
	}, *calls)
}

func TestRoomMessagesFillsDefaults(t *testing.T) {
	client, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/evt-42/messages", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"messages": []map[string]string{{"id": "m1", "sender_id": "bob", "text": "hi"}},
		})
	})

	msgs, err := client.RoomMessages(context.Background(), "evt-42")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "evt-42", msgs[0].RoomID)
	assert.Equal(t, models.MessageStatusSent, msgs[0].Status)
}

func TestErrorStatusesAreTyped(t *testing.T) {
	client, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/notifications/read-all" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token expired"})
			return
		}
		http.Error(w, "boom", http.StatusBadGateway)
	})

	err := client.MarkAllRead(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualError(t, err, "backend returned 401: token expired")

	_, err = client.UnreadCount(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, "boom", statusErr.Message)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestMissingCredentialSkipsRequest(t *testing.T) {
	client, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {})
	require.NoError(t, client.tokens.(*session.MemoryStore).ClearToken(context.Background()))

	_, err := client.ListNotifications(context.Background())
	assert.ErrorIs(t, err, session.ErrNoCredential)
	assert.Empty(t, *calls)
}
