package httprequest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/flowrun/pkg/blockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRequestNode_Execute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ETH", body["symbol"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer server.Close()

	node, err := NewHTTPRequestNodeFactory(server.Client()).Create(map[string]any{
		"url":     server.URL,
		"headers": map[string]any{"X-Token": "secret"},
	})
	require.NoError(t, err)

	output, err := node.Execute(context.Background(), map[string]any{"symbol": "ETH"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, output["status_code"])
	assert.Equal(t, map[string]any{"accepted": true}, output["body"])
}

func TestHTTPRequestNode_Classification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"server error", http.StatusBadGateway, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"client error", http.StatusBadRequest, false},
		{"not found", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			node, err := NewHTTPRequestNode(server.Client(), map[string]any{"url": server.URL})
			require.NoError(t, err)

			_, err = node.Execute(context.Background(), nil)
			require.Error(t, err)
			assert.Equal(t, tt.transient, blockruntime.IsTransient(err))
		})
	}
}

func TestHTTPRequestNode_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	node, err := NewHTTPRequestNode(http.DefaultClient, map[string]any{"url": url})
	require.NoError(t, err)

	_, err = node.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.True(t, blockruntime.IsTransient(err))
}

func TestNewHTTPRequestNode_Validation(t *testing.T) {
	_, err := NewHTTPRequestNode(http.DefaultClient, map[string]any{})
	assert.True(t, blockruntime.IsValidation(err))

	_, err = NewHTTPRequestNode(http.DefaultClient, map[string]any{"url": "not a url"})
	assert.True(t, blockruntime.IsValidation(err))
}
