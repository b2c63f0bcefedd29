package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hobbymeet-sync/internal/db"
	"hobbymeet-sync/internal/models"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := db.Connect(db.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestCredentialRepoRoundTrip(t *testing.T) {
	repo := NewCredentialRepo(openTestDB(t))
	ctx := context.Background()

	token, err := repo.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, repo.SetToken(ctx, "tok-1"))
	require.NoError(t, repo.SetToken(ctx, "tok-2"))
	token, err = repo.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)

	require.NoError(t, repo.ClearToken(ctx))
	token, err = repo.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestMessageRepoUpsertKeepsDeletion(t *testing.T) {
	repo := NewMessageRepo(openTestDB(t))
	ctx := context.Background()
	sent := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	deleted := sent.Add(time.Minute)

	msg := models.Message{ID: "m1", RoomID: "evt-1", SenderID: "bob", Text: "hi", SentAt: sent}
	require.NoError(t, repo.Save(ctx, msg))

	msg.DeletedAt = &deleted
	require.NoError(t, repo.Save(ctx, msg))

	msg.DeletedAt = nil
	msg.ClientID = "c-1"
	require.NoError(t, repo.Save(ctx, msg))

	got, err := repo.ListByRoom(ctx, "evt-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].DeletedAt)
	assert.True(t, deleted.Equal(*got[0].DeletedAt))
	assert.Equal(t, "c-1", got[0].ClientID)
	assert.Equal(t, models.MessageStatusSent, got[0].Status)
}

func TestMessageRepoListsLatestOldestFirst(t *testing.T) {
	repo := NewMessageRepo(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Save(ctx, models.Message{
			ID:       fmt.Sprintf("m%d", i),
			RoomID:   "evt-1",
			SenderID: "bob",
			Text:     "x",
			SentAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repo.Save(ctx, models.Message{ID: "other", RoomID: "evt-2", SenderID: "bob", Text: "y", SentAt: base}))

	got, err := repo.ListByRoom(ctx, "evt-1", 3)
	require.NoError(t, err)
	var ids []string
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m2", "m3", "m4"}, ids)
}

func TestMessageRepoRejectsUnconfirmed(t *testing.T) {
	repo := NewMessageRepo(openTestDB(t))
	err := repo.Save(context.Background(), models.Message{RoomID: "evt-1", Text: "pending"})
	assert.ErrorIs(t, err, ErrMessageIncomplete)
}
