package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RequestError is an API call that failed: a non-2xx response or a network
// error before one could be read. StatusCode is zero for network errors.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("api: %s", e.Message)
	}
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.StatusCode)
}

// ErrMalformedResponse indicates a 2xx response whose body did not match the
// expected shape. Loads treat it the same as a request failure: user-visible
// and retryable, never a silent empty result.
var ErrMalformedResponse = errors.New("api: malformed response")

// Client talks to the chat product's request/response API with bearer auth.
type Client struct {
	base   string
	http   *http.Client
	logger *zap.Logger

	mu     sync.RWMutex
	token  string
	selfID string
}

// New creates a client for the API at baseURL (e.g. "http://host:3000/api").
func New(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// SetCredential sets the bearer token and local user identity used on
// subsequent calls. Login and Register call this automatically.
func (c *Client) SetCredential(token, selfID string) {
	c.mu.Lock()
	c.token = token
	c.selfID = selfID
	c.mu.Unlock()
}

func (c *Client) credential() (token, selfID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.selfID
}

// do issues one request. A non-nil body is JSON-encoded; a non-nil out is
// decoded from the response body, with decode failures reported as
// ErrMalformedResponse.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+"/"+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, _ := c.credential(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &RequestError{Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := serverMessage(data)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &RequestError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			c.logger.Warn("undecodable API response",
				zap.String("path", path),
				zap.Error(err))
			return fmt.Errorf("%s: %w", path, ErrMalformedResponse)
		}
	}
	return nil
}

// serverMessage extracts the {"message": ...} field servers attach to errors.
func serverMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Message
}
