package blockruntime

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// TimeoutConfigKey is the node config key holding an optional per-invocation timeout, either a
// duration string ("5s") or a number of milliseconds.
const TimeoutConfigKey = "timeout"

// Block is a configured block instance.
type Block interface {
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Factory creates blocks of one type and describes their configuration.
type Factory interface {
	// Create creates a new block instance with the given configuration
	Create(config map[string]any) (Block, error)

	// ID returns the block type handled by this factory
	ID() string

	// Name returns the human-readable name for this block type
	Name() string

	// Description returns a description of what this block does
	Description() string

	// Schema returns the JSON schema for configuring this block
	Schema() map[string]any
}

type registration struct {
	factory Factory
	schema  *gojsonschema.Schema
}

// Registry is an in-process Runtime dispatching requests to registered block factories.
type Registry struct {
	logger *slog.Logger

	mu            sync.RWMutex
	registrations map[string]registration
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:        logger.With("module", "block_registry"),
		registrations: make(map[string]registration),
	}
}

// Register adds a factory, compiling its configuration schema.
func (r *Registry) Register(factory Factory) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(factory.Schema()))
	if err != nil {
		return fmt.Errorf("invalid schema for block type %q: %w", factory.ID(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.registrations[factory.ID()] = registration{factory: factory, schema: schema}

	r.logger.Debug("block registered", "block_type", factory.ID())

	return nil
}

// Types returns the registered block types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.registrations))
}

// Factory returns the factory registered for blockType.
func (r *Registry) Factory(blockType string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.registrations[blockType]

	return reg.factory, ok
}

// ValidateConfig checks config against the block type's schema.
func (r *Registry) ValidateConfig(blockType string, config map[string]any) error {
	r.mu.RLock()
	reg, ok := r.registrations[blockType]
	r.mu.RUnlock()

	if !ok {
		return Validationf("block type %q not registered", blockType)
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := reg.schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return Validationf("validate config: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return Validationf("invalid config for block type %q: %s", blockType, strings.Join(messages, "; "))
	}

	return nil
}

// Execute validates the node config, builds the block and runs it, applying the optional timeout.
func (r *Registry) Execute(ctx context.Context, request Request) (Result, error) {
	err := r.ValidateConfig(request.Type, request.Config)
	if err != nil {
		return Result{}, err
	}

	timeout, err := parseTimeout(request.Config[TimeoutConfigKey])
	if err != nil {
		return Result{}, err
	}

	factory, _ := r.Factory(request.Type)

	block, err := factory.Create(request.Config)
	if err != nil {
		return Result{}, Validation(err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, err := block.Execute(ctx, request.Input)
	if err != nil {
		return Result{}, err
	}

	return Result{Output: output}, nil
}

func parseTimeout(value any) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case string:
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return 0, Validationf("invalid timeout %q: %w", v, err)
		}

		return timeout, nil
	case float64:
		return time.Duration(v * float64(time.Millisecond)), nil
	case int:
		return time.Duration(v) * time.Millisecond, nil
	default:
		return 0, Validationf("invalid timeout type %T", value)
	}
}
