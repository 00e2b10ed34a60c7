package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/procurehq/be-proc-requests/internal/errors"
)

// httpClient is a thin JSON REST client shared by all collaborator clients.
// Every call carries the configured timeout; transport failures surface as
// UNAVAILABLE so callers can fail closed.
type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string, timeout time.Duration) *httpClient {
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Get performs a GET and decodes the JSON response into out (if non-nil).
func (c *httpClient) Get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to build request")
	}
	return c.do(req, out)
}

// Post performs a POST with a JSON body and decodes the response into out (if non-nil).
func (c *httpClient) Post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Unavailable(req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.New(errors.ErrCodeNotFound, fmt.Sprintf("%s returned 404", req.URL.Path))
	}
	if resp.StatusCode >= 500 {
		return errors.New(errors.ErrCodeUnavailable,
			fmt.Sprintf("%s returned %d", req.URL.Path, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s returned %d", req.URL.Path, resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to decode response")
	}
	return nil
}
