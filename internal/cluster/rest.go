package cluster

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

// ErrUnexpectedStatus is wrapped by GetJSON for non-2xx responses.
var ErrUnexpectedStatus = errors.New("unexpected http status")

// DefaultRequestTimeout bounds every REST call made with NewHTTPClient.
const DefaultRequestTimeout = 10 * time.Second

var httpClient = NewHTTPClient(DefaultRequestTimeout)

// NewHTTPClient returns a client whose requests cannot outlive timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// Do performs one REST call against a node. The password is sent as the
// Authorization header and body, when non-nil, is JSON encoded. A 2xx
// response with content is decoded into out. The status code is returned for
// any response; only transport and decode failures produce an error.
func Do(ctx context.Context, client *http.Client, method, url, password string, body, out any) (int, error) {
	if client == nil {
		client = httpClient
	}

	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w", url, err)
	}
	return resp.StatusCode, nil
}

// GetJSON fetches url and decodes a 2xx body into out. Any other status is
// an error wrapping ErrUnexpectedStatus.
func GetJSON(ctx context.Context, client *http.Client, url, password string, out any) error {
	status, err := Do(ctx, client, http.MethodGet, url, password, nil, out)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("%w: GET %s: %d", ErrUnexpectedStatus, url, status)
	}
	return nil
}
