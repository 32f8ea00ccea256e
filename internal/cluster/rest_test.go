package cluster

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestGetJSON tests the GetJSON function with various scenarios
func TestGetJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		expectError    bool
		contextTimeout bool
	}{
		{
			name:           "successful GET",
			serverResponse: http.StatusOK,
			serverBody:     `{"class":"RotatingIpRoutePlanner"}`,
		},
		{
			name:           "not found error",
			serverResponse: http.StatusNotFound,
			serverBody:     `{"error":"not found"}`,
			expectError:    true,
		},
		{
			name:           "context timeout",
			serverResponse: http.StatusOK,
			serverBody:     `{"class":"RotatingIpRoutePlanner"}`,
			expectError:    true,
			contextTimeout: true,
		},
		{
			name:           "invalid JSON response",
			serverResponse: http.StatusOK,
			serverBody:     `{invalid json}`,
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("Expected GET method, got %s", r.Method)
				}
				if tt.contextTimeout {
					time.Sleep(100 * time.Millisecond)
				}
				w.WriteHeader(tt.serverResponse)
				w.Write([]byte(tt.serverBody))
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.contextTimeout {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, 1*time.Millisecond)
				defer cancel()
			}

			var status RoutePlannerStatus
			err := GetJSON(ctx, nil, server.URL, "pw", &status)

			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if !tt.expectError && status.Class != "RotatingIpRoutePlanner" {
				t.Errorf("Expected class RotatingIpRoutePlanner, got %q", status.Class)
			}
		})
	}
}

// TestGetJSONWrapsUnexpectedStatus checks callers can match the sentinel.
func TestGetJSONWrapsUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	err := GetJSON(context.Background(), nil, server.URL, "wrong", nil)
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("Expected ErrUnexpectedStatus, got %v", err)
	}
}

// TestDoReturnsStatus tests that Do leaves status interpretation to the caller.
func TestDoReturnsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer server.Close()

	var out map[string]string
	status, err := Do(context.Background(), nil, http.MethodGet, server.URL, "pw", nil, &out)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if status != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", status)
	}
	if out != nil {
		t.Errorf("Expected body of failed call to be ignored, got %v", out)
	}
}

// TestDoInvalidURL tests Do with invalid and unreachable URLs
func TestDoInvalidURL(t *testing.T) {
	ctx := context.Background()

	if _, err := Do(ctx, nil, http.MethodGet, "://invalid-url", "", nil, nil); err == nil {
		t.Error("Expected error for invalid URL, got none")
	}
	if _, err := Do(ctx, nil, http.MethodGet, "http://localhost:99999", "", nil, nil); err == nil {
		t.Error("Expected error for unreachable server, got none")
	}
}

// TestHTTPClient tests that the HTTP client has proper timeout
func TestHTTPClient(t *testing.T) {
	if httpClient.Timeout != DefaultRequestTimeout {
		t.Errorf("Expected HTTP client timeout of %v, got %v", DefaultRequestTimeout, httpClient.Timeout)
	}
	if c := NewHTTPClient(time.Second); c.Timeout != time.Second {
		t.Errorf("Expected timeout 1s, got %v", c.Timeout)
	}
}
