package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rakunlabs/ferroflux/internal/security"
)

// HTTPDoer is the subset of *http.Client the http_client tool needs,
// narrowed so tests can substitute a fake without spinning up a real
// listener.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// MockResponse is a shadow-mode stand-in for a real network call,
// consulted by HTTPClientTool before any request is dispatched.
type MockResponse struct {
	Status  int
	Headers map[string]string
	Body    string
}

// HTTPClientTool implements the "http_client" tool: same request
// contract as the http_request node (SPEC_FULL.md §4.5), plus a
// shadow-mode mock map that lets a node's outbound calls be intercepted
// without touching its configuration — used by tests and staged
// rollouts of a workflow change. Grounded on httpworker's dispatch phase
// for the request-building shape; the shadow-mode interception itself
// has no teacher equivalent and is designed fresh in the teacher's
// general helper-registration idiom (goja.go's registerGojaHTTPHelpers).
type HTTPClientTool struct {
	client HTTPDoer

	mu    sync.RWMutex
	mocks map[string]MockResponse
}

// NewHTTPClientTool constructs an HTTPClientTool. client may be nil, in
// which case a default *http.Client with a 30s timeout is used.
func NewHTTPClientTool(client HTTPDoer) *HTTPClientTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClientTool{client: client, mocks: make(map[string]MockResponse)}
}

func (t *HTTPClientTool) Name() string { return "http_client" }

// SetMock registers a shadow-mode mock response for method+url,
// consulted before any real network call is made.
func (t *HTTPClientTool) SetMock(method, url string, resp MockResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mocks[mockKey(method, url)] = resp
}

// ClearMock removes a previously registered mock.
func (t *HTTPClientTool) ClearMock(method, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.mocks, mockKey(method, url))
}

func mockKey(method, url string) string {
	return strings.ToUpper(method) + " " + url
}

func (t *HTTPClientTool) Invoke(ctx context.Context, _ *Context, params map[string]any) (map[string]any, error) {
	method, _ := params["method"].(string)
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)

	url, _ := params["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http_client: 'url' is required")
	}

	t.mu.RLock()
	mock, shadowed := t.mocks[mockKey(method, url)]
	t.mu.RUnlock()
	if shadowed {
		status := mock.Status
		if status == 0 {
			status = http.StatusOK
		}
		return map[string]any{"status": status, "headers": mock.Headers, "body": mock.Body, "shadowed": true}, nil
	}

	if err := security.ValidateURL(url); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body, ok := params["body"]; ok && body != nil {
		raw, err := toBodyBytes(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("http_client: %w", err)
	}

	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_client: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http_client: read response: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]any{"status": resp.StatusCode, "headers": headers, "body": string(respBody)}, nil
}

func toBodyBytes(body any) ([]byte, error) {
	if s, ok := body.(string); ok {
		return []byte(s), nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("http_client: encode body: %w", err)
	}
	return raw, nil
}
