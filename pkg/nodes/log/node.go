// Package log provides the logging block.
package log

import (
	"context"
	"log/slog"

	"github.com/dukex/flowrun/pkg/blockruntime"
	"github.com/dukex/flowrun/pkg/template"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// LogNode writes a message and its input to the worker log and passes the input through.
type LogNode struct {
	message string
	level   slog.Level
	logger  *slog.Logger
}

// NewLogNode creates a new logging block.
func NewLogNode(logger *slog.Logger, config map[string]any) (*LogNode, error) {
	message, ok := config["message"].(string)
	if !ok {
		return nil, blockruntime.Validationf("missing required field 'message'")
	}

	level := slog.LevelInfo

	if name, ok := config["level"].(string); ok {
		level, ok = levels[name]
		if !ok {
			return nil, blockruntime.Validationf("unknown log level %q", name)
		}
	}

	return &LogNode{
		message: message,
		level:   level,
		logger:  logger,
	}, nil
}

// Execute renders the message against the input and logs it.
func (n *LogNode) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	message, err := template.Render(n.message, input)
	if err != nil {
		return nil, blockruntime.Permanent(err)
	}

	n.logger.Log(ctx, n.level, message, "node_type", "log", "input", input)

	return map[string]any{
		"message": message,
		"level":   n.level.String(),
		"input":   input,
	}, nil
}
