package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// StatusError is returned by the client when the relay responds with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-200 HTTP status code %d received: %s", e.Code, e.Body)
}

// Client sends command lists to a relay.
type Client struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	baseURL                  string
	token                    string
	waitInterval             time.Duration
	customizeRetryableClient func(*retryablehttp.Client)
}

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("relay_client").Sugar()
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// retryDialErrors retries only when the relay could not be reached at all.
// Once a request has been delivered it may have started a session, so it is never resent.
func retryDialErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	var opErr *net.OpError
	if err != nil && errors.As(err, &opErr) && opErr.Op == "dial" {
		return true, nil
	}
	return false, nil
}

// NewClient builds a client for the relay at baseURL, e.g. "http://127.0.0.1:8080".
func NewClient(baseURL, token string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported relay URL scheme %q", u.Scheme)
	}

	c := &Client{
		Logger:       zap.NewNop().Sugar(),
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		token:        token,
		waitInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		},
	}
	retryClient.CheckRetry = retryDialErrors
	retryClient.RetryWaitMin = 50 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.RetryMax = 5
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	c.HTTPClient = retryClient.StandardClient()
	return c, nil
}

// Send runs commands against the named device and returns once the relay's REPL session has finished.
func (c *Client) Send(ctx context.Context, device string, commands []string) error {
	b, err := json.Marshal(CommandRequest{Commands: commands})
	if err != nil {
		return fmt.Errorf("encoding commands: %w", err)
	}
	u := c.baseURL + "/" + url.PathEscape(device)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Content-Type", "application/json")

	c.Logger.Debugw("sending commands", "Device", device, "Commands", len(commands))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending commands over HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body string
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			body = fmt.Errorf("error reading body: %w", err).Error()
		} else {
			body = strings.TrimSpace(string(b))
		}
		return &StatusError{Code: resp.StatusCode, Body: body}
	}
	return nil
}

// ping succeeds if the relay answers HTTP at all. Any status is fine, since unauthenticated requests are rejected.
func (c *Client) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// WaitForServer blocks until the relay responds or ctx is done.
func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := c.ping(ctx)
			if err == nil {
				c.Logger.Debug("relay responded, done waiting for server")
				return nil
			}
			c.Logger.Debugf("got ping error: %s", err)
		}
	}
}
