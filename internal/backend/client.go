package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	APIPrefix      = "api/runners"
	jsonType       = "application/json"
	maxErrorBody   = 64 << 10
	defaultTimeout = 5 * time.Minute
)

var (
	ErrNotJSON   = errors.New("backend returned a non-JSON response")
	ErrMalformed = errors.New("malformed backend response")
)

// TokenSource yields the current session token or an empty string.
type TokenSource interface {
	Token() string
}

type Config struct {
	URL       string
	AuthToken string
	// CAFile is a PEM bundle trusted for the backend in addition to the
	// system roots, useful for self-signed deployments.
	CAFile  string
	Timeout time.Duration
}

// Client is a thin JSON request/response wrapper around the runner API of the
// backend. It does not retry.
type Client struct {
	baseURL   *url.URL
	authToken string
	client    *http.Client
	logger    *slog.Logger

	mx      sync.RWMutex
	session TokenSource
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, errors.New("please define the backend url with a scheme, e.g. `https://some-url.com`")
	}
	if cfg.AuthToken == "" {
		return nil, errors.New("runner auth token is empty")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CAFile != "" {
		pool, err := certPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	return &Client{
		baseURL:   parsedURL,
		authToken: cfg.AuthToken,
		client:    &http.Client{Transport: transport, Timeout: timeout},
		logger:    logger,
	}, nil
}

func certPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ca pem file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// UseSession makes the client authenticate with the session token of src
// whenever it is not empty.
func (c *Client) UseSession(src TokenSource) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.session = src
}

func (c *Client) bearer() string {
	c.mx.RLock()
	src := c.session
	c.mx.RUnlock()
	if src != nil {
		if t := src.Token(); t != "" {
			return t
		}
	}
	return c.authToken
}

// Get sends a GET request to route and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, route string, params url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, route, nil, params)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	return decodeJSON(resp, out)
}

// Post sends body as JSON to route and decodes the JSON response into out.
// Both body and out may be nil.
func (c *Client) Post(ctx context.Context, route string, body any, params url.Values, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		r = bytes.NewReader(b)
	}
	resp, err := c.do(ctx, http.MethodPost, route, r, params)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	return decodeJSON(resp, out)
}

// Payload is a binary response body.
type Payload struct {
	ContentType string
	Data        []byte
}

// GetBinary fetches a raw response body. The content type is returned as-is,
// callers decide what they accept.
func (c *Client) GetBinary(ctx context.Context, route string, params url.Values) (Payload, error) {
	resp, err := c.do(ctx, http.MethodGet, route, nil, params)
	if err != nil {
		return Payload{}, err
	}
	defer closeBody(resp)
	if resp.StatusCode >= http.StatusBadRequest {
		return Payload{}, newError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Payload{}, fmt.Errorf("reading response body: %w", err)
	}
	return Payload{ContentType: resp.Header.Get("Content-Type"), Data: data}, nil
}

func (c *Client) do(ctx context.Context, method, route string, body io.Reader, params url.Values) (*http.Response, error) {
	u := c.baseURL.JoinPath(APIPrefix, route)
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer())
	req.Header.Set("Accept", jsonType)
	if body != nil {
		req.Header.Set("Content-Type", jsonType)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "backend request",
		slog.String("method", method),
		slog.String("route", route),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)))
	return resp, nil
}

func decodeJSON(resp *http.Response, out any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		return newError(resp)
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		return fmt.Errorf("%w: content type %q", ErrNotJSON, resp.Header.Get("Content-Type"))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

func isJSON(header string) bool {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	return mediaType == jsonType || strings.HasSuffix(mediaType, "+json")
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
