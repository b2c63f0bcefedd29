package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"hobbymeet-sync/internal/models"
)

// APIMock mocks the backend REST client.
type APIMock struct {
	mock.Mock
}

func (m *APIMock) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	args := m.Called(ctx)
	var list []models.Notification
	if val := args.Get(0); val != nil {
		list = val.([]models.Notification)
	}
	return list, args.Error(1)
}

func (m *APIMock) UnreadCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *APIMock) MarkRead(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *APIMock) MarkAllRead(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *APIMock) DeleteNotification(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *APIMock) RoomMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	args := m.Called(ctx, roomID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

// CredentialStoreMock mocks the persisted credential store.
type CredentialStoreMock struct {
	mock.Mock
}

func (m *CredentialStoreMock) GetToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *CredentialStoreMock) SetToken(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *CredentialStoreMock) ClearToken(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// ArchiveMock mocks the local message archive.
type ArchiveMock struct {
	mock.Mock
}

func (m *ArchiveMock) Save(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *ArchiveMock) ListByRoom(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}
