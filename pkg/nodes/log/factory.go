package log

import (
	"log/slog"

	"github.com/dukex/flowrun/pkg/blockruntime"
)

// LogNodeFactory creates LogNode instances.
type LogNodeFactory struct {
	logger *slog.Logger
}

// NewLogNodeFactory creates a new factory instance logging through logger.
func NewLogNodeFactory(logger *slog.Logger) *LogNodeFactory {
	return &LogNodeFactory{logger: logger}
}

// Create creates a new LogNode instance.
func (f *LogNodeFactory) Create(config map[string]any) (blockruntime.Block, error) {
	return NewLogNode(f.logger, config)
}

// ID returns the factory ID.
func (f *LogNodeFactory) ID() string {
	return "log"
}

// Name returns the factory name.
func (f *LogNodeFactory) Name() string {
	return "Log"
}

// Description returns the factory description.
func (f *LogNodeFactory) Description() string {
	return "Logs a message with the node input at the given level and passes the input through"
}

// Schema returns the JSON schema for Log node configuration.
func (f *LogNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log",
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"enum":        []string{"debug", "info", "warn", "error"},
				"default":     "info",
			},
		},
		"required": []string{"message"},
	}
}
