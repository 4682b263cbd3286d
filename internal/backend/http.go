package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpClient is the shared REST plumbing under the adapters. Transport
// failures become ConnectivityError; deadline overruns during submission
// become SubmissionTimeoutError at the call site.
type httpClient struct {
	backend  string
	base     string
	client   *http.Client
	username string
	password string
	token    string
}

func newHTTPClient(cfg Config) *httpClient {
	return &httpClient{
		backend:  cfg.Name,
		base:     cfg.Endpoint,
		client:   &http.Client{},
		username: cfg.Username,
		password: cfg.Password,
		token:    cfg.Token,
	}
}

// statusError is a non-2xx response; it is not retryable.
type statusError struct {
	backend string
	code    int
	body    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.backend, e.code, e.body)
}

// doJSON performs one JSON request. A nil in skips the body; a nil out
// discards the response body.
func (c *httpClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return &ConnectivityError{Backend: c.backend, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{backend: c.backend, code: resp.StatusCode, body: string(b)}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// submitJSON wraps doJSON in the submission timeout and converts a deadline
// overrun into SubmissionTimeoutError.
func (c *httpClient) submitJSON(ctx context.Context, timeout time.Duration, method, path string, in, out any) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := c.doJSON(sctx, method, path, in, out)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return &SubmissionTimeoutError{Backend: c.backend, Timeout: timeout}
	}
	return err
}

// httpStatusCode extracts the code from a statusError, or 0.
func httpStatusCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}
