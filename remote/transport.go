package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/bytedance/sonic"

	"github.com/jonwraymond/storyjobs/resilience"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// StatusError is a non-2xx response from a remote endpoint.
type StatusError struct {
	Function   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("remote: %s returned %d %s", e.Function, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// HTTPTransport posts JSON payloads to per-function endpoints.
type HTTPTransport struct {
	Client    *http.Client
	Endpoints map[string]string
	Headers   map[string]string
}

// NewHTTPTransport creates a transport for the given function endpoints.
func NewHTTPTransport(endpoints map[string]string) *HTTPTransport {
	return &HTTPTransport{
		Client:    http.DefaultClient,
		Endpoints: endpoints,
	}
}

// Call implements Transport. Caller-fault statuses are returned as
// resilience.Permanent errors so the executor does not retry them.
func (t *HTTPTransport) Call(ctx context.Context, function string, payload any) ([]byte, error) {
	url, ok := t.Endpoints[function]
	if !ok {
		return nil, resilience.Permanent(fmt.Errorf("%w: %s", ErrUnknownFunction, function))
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("remote: encode %s payload: %w", function, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %s: %w", function, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("remote: read %s response: %w", function, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Function: function, StatusCode: resp.StatusCode, Body: truncate(string(data), 256)}
		if isCallerFault(resp.StatusCode) {
			return nil, resilience.Permanent(serr)
		}
		return nil, serr
	}
	return data, nil
}

func isCallerFault(code int) bool {
	switch code {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
