package blockruntime_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/blockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoBlock struct {
	prefix string
	delay  time.Duration
}

func (b *echoBlock) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return map[string]any{"echo": fmt.Sprint(b.prefix, input["value"])}, nil
}

type echoFactory struct{}

func (echoFactory) Create(config map[string]any) (blockruntime.Block, error) {
	prefix, _ := config["prefix"].(string)
	if prefix == "explode" {
		return nil, errors.New("cannot build block")
	}

	delay, _ := config["delay"].(string)
	d, _ := time.ParseDuration(delay)

	return &echoBlock{prefix: prefix, delay: d}, nil
}

func (echoFactory) ID() string          { return "echo" }
func (echoFactory) Name() string        { return "Echo" }
func (echoFactory) Description() string { return "Echoes its input" }
func (echoFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prefix": map[string]any{"type": "string"},
			"delay":  map[string]any{"type": "string"},
		},
		"required": []string{"prefix"},
	}
}

func newRegistry(t *testing.T) *blockruntime.Registry {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	registry := blockruntime.NewRegistry(logger)
	require.NoError(t, registry.Register(echoFactory{}))

	return registry
}

func TestRegistry_Execute(t *testing.T) {
	registry := newRegistry(t)

	tests := []struct {
		name       string
		request    blockruntime.Request
		wantOutput map[string]any
		validation bool
		transient  bool
	}{
		{
			name: "runs the block",
			request: blockruntime.Request{
				Type:   "echo",
				Config: map[string]any{"prefix": "> "},
				Input:  map[string]any{"value": "hi"},
			},
			wantOutput: map[string]any{"echo": "> hi"},
		},
		{
			name:       "unknown block type",
			request:    blockruntime.Request{Type: "missing"},
			validation: true,
		},
		{
			name:       "config violates schema",
			request:    blockruntime.Request{Type: "echo", Config: map[string]any{"prefix": 42}},
			validation: true,
		},
		{
			name:       "missing required config",
			request:    blockruntime.Request{Type: "echo"},
			validation: true,
		},
		{
			name:       "factory rejects config",
			request:    blockruntime.Request{Type: "echo", Config: map[string]any{"prefix": "explode"}},
			validation: true,
		},
		{
			name:       "invalid timeout",
			request:    blockruntime.Request{Type: "echo", Config: map[string]any{"prefix": "", "timeout": "soon"}},
			validation: true,
		},
		{
			name: "timeout expires",
			request: blockruntime.Request{
				Type:   "echo",
				Config: map[string]any{"prefix": "", "delay": "1s", "timeout": "10ms"},
			},
			transient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := registry.Execute(context.Background(), tt.request)

			if tt.wantOutput != nil {
				require.NoError(t, err)
				assert.Equal(t, tt.wantOutput, result.Output)

				return
			}

			require.Error(t, err)
			assert.Equal(t, tt.validation, blockruntime.IsValidation(err))
			assert.Equal(t, tt.transient, blockruntime.IsTransient(err))
		})
	}
}

func TestRegistry_Types(t *testing.T) {
	registry := newRegistry(t)

	assert.Equal(t, []string{"echo"}, registry.Types())

	factory, ok := registry.Factory("echo")
	require.True(t, ok)
	assert.Equal(t, "Echo", factory.Name())
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit transient", blockruntime.Transient(errors.New("503")), true},
		{"explicit permanent", blockruntime.Permanent(errors.New("400")), false},
		{"validation", blockruntime.Validationf("bad config"), false},
		{"wrapped transient", fmt.Errorf("call: %w", blockruntime.Transient(errors.New("reset"))), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"network error", &net.OpError{Op: "dial", Err: timeoutErr{}}, true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, blockruntime.IsTransient(tt.err))
		})
	}
}
