package httprequest

import (
	"net/http"

	"github.com/dukex/flowrun/pkg/blockruntime"
)

// HTTPRequestNodeFactory creates HTTPRequestNode instances.
type HTTPRequestNodeFactory struct {
	client *http.Client
}

// NewHTTPRequestNodeFactory creates a new factory instance. A nil client uses http.DefaultClient.
func NewHTTPRequestNodeFactory(client *http.Client) *HTTPRequestNodeFactory {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPRequestNodeFactory{client: client}
}

// Create creates a new HTTPRequestNode instance.
func (f *HTTPRequestNodeFactory) Create(config map[string]any) (blockruntime.Block, error) {
	return NewHTTPRequestNode(f.client, config)
}

// ID returns the factory ID.
func (f *HTTPRequestNodeFactory) ID() string {
	return "http"
}

// Name returns the factory name.
func (f *HTTPRequestNodeFactory) Name() string {
	return "HTTP Request"
}

// Description returns the factory description.
func (f *HTTPRequestNodeFactory) Description() string {
	return "Calls a webhook with the node input as JSON body and outputs the response"
}

// Schema returns the JSON schema for HTTP request node configuration.
func (f *HTTPRequestNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Target URL",
				"examples":    []string{"https://hooks.example.com/alerts"},
			},
			"method": map[string]any{
				"type":    "string",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
				"default": "POST",
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
		},
		"required": []string{"url"},
	}
}
