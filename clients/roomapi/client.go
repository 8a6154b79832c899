package roomapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mcdev12/tabletalk/internal/models"
)

// Sentinel errors mapped from the room service's status codes. Anything
// else is a transport failure and propagates as-is.
var (
	ErrNotFound    = errors.New("room not found")
	ErrForbidden   = errors.New("forbidden")
	ErrValidation  = errors.New("validation failed")
	ErrRateLimited = errors.New("rate limited")
	ErrConflict    = errors.New("conflict")
)

// CreateRoomRequest is the body for creating a room.
type CreateRoomRequest struct {
	HostName string `json:"host_name"`
	Chaos    bool   `json:"chaos"`
}

// Client is a JSON/HTTP client for the room service.
type Client struct {
	baseURL string
	client  *http.Client
	token   string
}

// NewClient creates a room service client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetToken attaches the caller's bearer token to every request.
func (c *Client) SetToken(token string) {
	c.token = token
}

// CreateRoom asks the service to create a session; the service picks the
// room code and derives the host identity from the bearer token.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Session, error) {
	var out models.Session
	if err := c.do(ctx, http.MethodPost, "/rooms", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRoom fetches a session. An unknown or expired room code returns
// (nil, nil): absence is an answer, not an error. Transport failures
// still propagate.
func (c *Client) GetRoom(ctx context.Context, roomCode string) (*models.Session, error) {
	var out models.Session
	err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomCode), nil, &out)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRoom applies a partial update and returns the server's resulting
// session. The server is authoritative; the result is never reconstructed
// locally.
func (c *Client) UpdateRoom(ctx context.Context, roomCode string, patch models.SessionPatch) (*models.Session, error) {
	var out models.Session
	if err := c.do(ctx, http.MethodPatch, "/rooms/"+url.PathEscape(roomCode), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRoom deletes a session. Deleting an absent room is not an error.
func (c *Client) DeleteRoom(ctx context.Context, roomCode string) error {
	err := c.do(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(roomCode), nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// ListRooms returns the caller's sessions, optionally filtered by step.
func (c *Client) ListRooms(ctx context.Context, playerID string, step *models.Step) ([]*models.Session, error) {
	q := url.Values{}
	q.Set("player", playerID)
	if step != nil {
		q.Set("step", string(*step))
	}

	var out []*models.Session
	if err := c.do(ctx, http.MethodGet, "/rooms?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, responseBody)
	}

	if out == nil || len(responseBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	msg := payload.Error
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrValidation, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	default:
		return fmt.Errorf("room service returned status code: %d, response: %s", status, msg)
	}
}
