// Package pinboard publishes finished designs to the pin platform: it
// resolves which board an album posts to, detects the design's theme for
// hashtag selection, assembles the SEO payload, and performs the REST calls.
package pinboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/makerloom/stitchpress/internal/config"
)

// PublishError reports a non-2xx answer from the pin API with its body, so
// the operator sees what the platform rejected.
type PublishError struct {
	StatusCode int
	Body       string
}

func (e *PublishError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		body = "empty response body"
	}
	return fmt.Sprintf("pin API returned %d: %s", e.StatusCode, body)
}

// Retryable reports whether the failure is worth repeating on a later run.
// Rate limits and server errors are; rejected payloads are not.
func (e *PublishError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to the pin platform REST API. Authentication goes through an
// oauth2.TokenSource so token refresh stays outside this package.
type Client struct {
	baseURL    string
	tokens     oauth2.TokenSource
	httpClient *http.Client
}

// NewClient builds a client from the pinboard configuration, wrapping the
// configured access token in a static token source.
func NewClient(cfg config.PinboardConfig) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})
	return NewClientWithTokenSource(cfg.BaseURL, ts, cfg.Timeout())
}

// NewClientWithTokenSource wires a client onto an explicit token source.
// Tests point baseURL at a local server.
func NewClientWithTokenSource(baseURL string, tokens oauth2.TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, int, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, 0, fmt.Errorf("fetching pinboard token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("pin API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}

// MediaSource points the pin at its image.
type MediaSource struct {
	SourceType string `json:"source_type"`
	URL        string `json:"url"`
}

// PinRequest is the payload for creating a pin.
type PinRequest struct {
	BoardID     string      `json:"board_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	AltText     string      `json:"alt_text,omitempty"`
	Link        string      `json:"link,omitempty"`
	MediaSource MediaSource `json:"media_source"`
}

// CreatePin posts a pin and returns its id. A 2xx with an empty body is
// treated as created with unknown id, which some deployments produce.
func (c *Client) CreatePin(ctx context.Context, pin PinRequest) (string, error) {
	body, status, err := c.doRequest(ctx, http.MethodPost, "/pins", pin)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &PublishError{StatusCode: status, Body: string(body)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("parsing pin response: %w", err)
	}
	return created.ID, nil
}

// CreateBoard creates a board and returns its id.
func (c *Client) CreateBoard(ctx context.Context, name, description string) (string, error) {
	payload := map[string]string{"name": name}
	if description != "" {
		payload["description"] = description
	}

	body, status, err := c.doRequest(ctx, http.MethodPost, "/boards", payload)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &PublishError{StatusCode: status, Body: string(body)}
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("parsing board response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("board created without an id")
	}
	return created.ID, nil
}

// BoardPatch carries the mutable board fields.
type BoardPatch struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// UpdateBoard patches a board's name or description.
func (c *Client) UpdateBoard(ctx context.Context, boardID string, patch BoardPatch) error {
	body, status, err := c.doRequest(ctx, http.MethodPatch, "/boards/"+boardID, patch)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &PublishError{StatusCode: status, Body: string(body)}
	}
	return nil
}
