package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound matches *Error values with a 404 status.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized matches *Error values with a 401 status.
	ErrUnauthorized = errors.New("unauthorized")
)

// Error is a failed response from the persistence service.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("chat api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("chat api error (%d)", e.Status)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	}
	return false
}

// Pagination is the paging block returned with list responses.
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	Limit       int  `json:"limit"`
	HasMore     bool `json:"hasMore"`
	LoadedCount int  `json:"loadedCount,omitempty"`
	Total       int  `json:"total,omitempty"`
}

type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Pagination *Pagination     `json:"pagination"`
	Message    string          `json:"message"`
}

// Client talks to the chat persistence service.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient constructs a client for baseURL.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	value := strings.TrimSpace(baseURL)
	if value == "" {
		return nil, fmt.Errorf("api url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("api url must include scheme")
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(value, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// doJSON performs a request and decodes the envelope's data into out. The
// pagination block, when present, is returned.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, reqBody, out any) (*Pagination, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env envelope
	decodeErr := json.Unmarshal(respData, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		if decodeErr == nil && env.Message != "" {
			apiErr.Message = env.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respData))
		}
		return nil, apiErr
	}
	if len(respData) == 0 {
		return nil, nil
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%s %s: decode response: %w", method, path, decodeErr)
	}
	if !env.Success {
		return nil, &Error{Status: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return env.Pagination, nil
}
