package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to a remote content generation service over JSON/HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewClient creates a generator client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// SetHeader attaches a header (e.g. an API key) to every request.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

var _ Generator = (*Client)(nil)

// Question requests one question for the given input.
func (c *Client) Question(ctx context.Context, req QuestionRequest) (string, error) {
	var resp struct {
		Question string `json:"question"`
	}
	if err := c.post(ctx, "/v1/question", req, &resp); err != nil {
		return "", err
	}
	if resp.Question == "" {
		return "", fmt.Errorf("generator returned an empty question")
	}
	return resp.Question, nil
}

// Summary requests the end-of-game summary. Some generator deployments
// answer with a "notes" field instead of "summary"; both are accepted.
func (c *Client) Summary(ctx context.Context, req SummaryRequest) (string, error) {
	var resp struct {
		Summary string `json:"summary"`
		Notes   string `json:"notes"`
	}
	if err := c.post(ctx, "/v1/summary", req, &resp); err != nil {
		return "", err
	}
	if resp.Summary != "" {
		return resp.Summary, nil
	}
	if resp.Notes != "" {
		return resp.Notes, nil
	}
	return "", fmt.Errorf("generator returned an empty summary")
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("generator returned status code: %d, response: %s", resp.StatusCode, string(responseBody))
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
