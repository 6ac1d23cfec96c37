// Package delivery posts encoded commands to the remote event sink.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/neuroplastio/neio-remote/internal/payload"
	"go.uber.org/zap"
)

type Kind uint8

const (
	// KindNetwork covers connection, timeout and transport failures.
	KindNetwork Kind = iota
	// KindRejected means the sink answered with a non-2xx status.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRejected:
		return "rejected"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Error is returned by Deliver for every failed delivery.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindRejected {
		return fmt.Sprintf("delivery rejected with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a delivery error, false if err is not one.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

var defaultOptions = clientOptions{
	timeout:       10 * time.Second,
	maxBodyBytes:  512,
	maxDrainBytes: 64 << 10,
}

type clientOptions struct {
	timeout      time.Duration
	maxBodyBytes int64
	// Responses longer than maxBodyBytes+maxDrainBytes are cut off and their connection is dropped.
	maxDrainBytes int64
	transport     http.RoundTripper
}

type Option func(*clientOptions)

func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) {
		o.transport = rt
	}
}

// Client posts payloads over a shared connection pool. Calls are independent:
// a failed request never affects the next one.
type Client struct {
	log     *zap.Logger
	options clientOptions
	http    *http.Client
}

func New(log *zap.Logger, opts ...Option) *Client {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	transport := options.transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &Client{
		log:     log,
		options: options,
		http: &http.Client{
			Timeout:   options.timeout,
			Transport: transport,
		},
	}
}

// EventURL joins the sink base URL with the event path: <base>/events/<name>.
func EventURL(baseURL, eventName string) string {
	return strings.TrimRight(baseURL, "/") + "/events/" + url.PathEscape(eventName)
}

// Deliver posts p to endpoint once. It does not retry.
func (c *Client) Deliver(ctx context.Context, endpoint string, p payload.Payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(p.Body))
	if err != nil {
		return &Error{Kind: KindNetwork, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	for name, values := range p.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, c.options.maxBodyBytes))
	// Drain the rest so the connection goes back to the pool.
	_, _ = io.CopyN(io.Discard, resp.Body, c.options.maxDrainBytes)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &Error{
			Kind:       KindRejected,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body))),
		}
	}
	if readErr != nil {
		c.log.Debug("failed to read response body", zap.String("endpoint", endpoint), zap.Error(readErr))
	}
	return nil
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
