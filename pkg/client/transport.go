package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes bounds how much of a response body is read into memory.
const maxResponseBytes = 32 << 20

// Call is a single outbound request handed to a Transport.
type Call struct {
	URL    string
	Method string
	Header http.Header
	Body   []byte
}

// Response is what a Transport returns for any completed exchange, 2xx or not.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs the network call. It returns an error only for
// transport failures; HTTP status handling is left to the coordinator.
// Implementations must honor ctx cancellation.
type Transport interface {
	RoundTrip(ctx context.Context, call *Call) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, call *Call) (*Response, error)

// RoundTrip implements Transport.
func (f TransportFunc) RoundTrip(ctx context.Context, call *Call) (*Response, error) {
	return f(ctx, call)
}

// HTTPTransport is the net/http Transport.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a Transport backed by httpClient.
// A nil client uses a fresh http.Client without its own timeout;
// the coordinator bounds every call through the context instead.
func NewHTTPTransport(httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPTransport{client: httpClient}
}

// RoundTrip implements Transport.
func (t *HTTPTransport) RoundTrip(ctx context.Context, call *Call) (*Response, error) {
	var body io.Reader
	if len(call.Body) > 0 {
		body = bytes.NewReader(call.Body)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range call.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}
