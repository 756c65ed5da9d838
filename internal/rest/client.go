package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nabeelvk/pkchat/internal/chat"
	"go.uber.org/zap"
)

// Client consumes the marketplace REST collaborators: permission checks,
// message history, unread snapshots, conversation list, clear/delete and
// the notification feed.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a REST client for the given API base URL.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

// ChatPermission asks the appointment service whether chat is enabled for
// an appointment, returning the participant ids and counterpart snapshot.
func (c *Client) ChatPermission(ctx context.Context, appointmentID string) (*chat.PermissionGrant, error) {
	var grant chat.PermissionGrant
	if err := c.do(ctx, http.MethodGet, "/appointments/"+appointmentID+"/chat-permission", &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// Messages fetches the message history of a conversation.
func (c *Client) Messages(ctx context.Context, chatID string) ([]chat.Message, error) {
	var msgs []chat.Message
	if err := c.do(ctx, http.MethodGet, "/messages/"+chatID, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Chats fetches the conversation summaries for the authenticated user.
func (c *Client) Chats(ctx context.Context) ([]chat.Summary, error) {
	var chats []chat.Summary
	if err := c.do(ctx, http.MethodGet, "/chats", &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// UnreadCounts fetches the authoritative unread counts per conversation.
func (c *Client) UnreadCounts(ctx context.Context) (map[string]int, error) {
	var counts map[string]int
	if err := c.do(ctx, http.MethodGet, "/chats/unread-counts", &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// ClearChat erases a conversation for this user only.
func (c *Client) ClearChat(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodPost, "/chats/clear/"+chatID, nil)
}

// DeleteChat deletes a conversation for both participants.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodDelete, "/chats/"+chatID, nil)
}

// Notifications fetches the notification feed.
func (c *Client) Notifications(ctx context.Context) ([]chat.Notification, error) {
	var notifs []chat.Notification
	if err := c.do(ctx, http.MethodGet, "/notifications", &notifs); err != nil {
		return nil, err
	}
	return notifs, nil
}

// MarkAllNotificationsRead marks the whole feed read. Best-effort.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPatch, "/notifications/read-all", nil)
}
