// Package restapi is the typed client of the backend REST endpoints used by
// the synchronizer.
package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/session"
)

var ErrUnauthorized = errors.New("backend rejected credential")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Code)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// TokenSource yields the bearer token for each request.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type notificationList struct {
	Notifications []models.Notification `json:"notifications"`
}

type unreadCount struct {
	Count int `json:"count"`
}

type messageList struct {
	Messages []models.Message `json:"messages"`
}

func (c *Client) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	var out notificationList
	if err := c.do(ctx, http.MethodGet, "/notifications", &out); err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out unreadCount
	if err := c.do(ctx, http.MethodGet, "/notifications/unread-count", &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/notifications/"+url.PathEscape(id)+"/read", nil)
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/notifications/read-all", nil)
}

func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil)
}

// RoomMessages fetches the message history of an event chat room.
func (c *Client) RoomMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var out messageList
	if err := c.do(ctx, http.MethodGet, "/events/"+url.PathEscape(roomID)+"/messages", &out); err != nil {
		return nil, err
	}
	for i := range out.Messages {
		if out.Messages[i].RoomID == "" {
			out.Messages[i].RoomID = roomID
		}
		if out.Messages[i].Status == "" {
			out.Messages[i].Status = models.MessageStatusSent
		}
	}
	return out.Messages, nil
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return session.ErrNoCredential
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) != nil {
		body.Error = strings.TrimSpace(string(raw))
	}
	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}
