//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/oshokin/polypack/internal/version"
)

// DefaultTimeout bounds a single request to the update host.
const DefaultTimeout = 30 * time.Second

// Client fetches files published under an update host base URL.
type Client struct {
	// baseURL is the folder every file name is resolved against.
	baseURL *url.URL
	// http performs the requests.
	http *http.Client

	// callTimeout is the default timeout for an individual request, body included.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for requests.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

var (
	// ErrAddressRequired is returned when the update host URL is missing.
	ErrAddressRequired = errors.New("update url must be provided")
	// ErrBadHTTPStatus is returned for any non-200 response.
	ErrBadHTTPStatus = errors.New("unexpected http status")
)

// Dial prepares a client for the update host at baseURL. No request is made.
func Dial(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrAddressRequired
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse update url: %w", err)
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%q: %w", baseURL, ErrAddressRequired)
	}

	client := &Client{
		baseURL:     parsed,
		http:        http.DefaultClient,
		callTimeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	if c == nil || c.http == nil {
		return nil
	}

	c.http.CloseIdleConnections()

	return nil
}

// URL returns the absolute location of a published file. Absolute URLs
// are returned unchanged.
func (c *Client) URL(fileName string) string {
	if ref, err := url.Parse(fileName); err == nil && ref.IsAbs() {
		return ref.String()
	}

	fileURL := *c.baseURL
	// Use path.Join to normalize duplicate slashes when composing the URL path.
	fileURL.Path = path.Join("/", fileURL.Path, fileName)

	return fileURL.String()
}

// Get opens a published file. The caller must close the returned body;
// closing it also releases the call timeout.
func (c *Client) Get(ctx context.Context, fileName string) (io.ReadCloser, error) {
	finalURL := c.URL(fileName)

	callCtx, cancel := c.callContext(ctx)

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, finalURL, http.NoBody)
	if err != nil {
		cancel()
		return nil, err
	}

	req.Header.Set("User-Agent", version.UserAgent())

	response, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("get %s: %w", finalURL, err)
	}

	if response.StatusCode != http.StatusOK {
		_ = response.Body.Close()

		cancel()

		return nil, fmt.Errorf("%s, %s: %w", finalURL, response.Status, ErrBadHTTPStatus)
	}

	return &cancelOnClose{ReadCloser: response.Body, cancel: cancel}, nil
}

// Download stores a published file at dst with the given mode.
func (c *Client) Download(ctx context.Context, fileName, dst string, mode os.FileMode) error {
	body, err := c.Get(ctx, fileName)
	if err != nil {
		return err
	}

	defer body.Close()

	output, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(output, body); err != nil {
		_ = output.Close()
		return fmt.Errorf("download %s: %w", fileName, err)
	}

	return output.Close()
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

// cancelOnClose ties a request context to the lifetime of its body.
type cancelOnClose struct {
	io.ReadCloser

	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()

	return err
}
