package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowrun/pkg/blockruntime"
	"github.com/dukex/flowrun/pkg/nodes/httprequest"
	lognode "github.com/dukex/flowrun/pkg/nodes/log"
	"github.com/dukex/flowrun/pkg/nodes/transform"
)

const httpBlockTimeout = 30 * time.Second

func registerNativeBlocks(reg *blockruntime.Registry, logger *slog.Logger) error {
	factories := []blockruntime.Factory{
		lognode.NewLogNodeFactory(logger),
		transform.NewTransformNodeFactory(),
		httprequest.NewHTTPRequestNodeFactory(&http.Client{Timeout: httpBlockTimeout}),
	}

	for _, factory := range factories {
		err := reg.Register(factory)
		if err != nil {
			return err
		}
	}

	return nil
}

// NewRegistry creates the in-process block runtime with the built-in blocks.
func NewRegistry(logger *slog.Logger) (*blockruntime.Registry, error) {
	reg := blockruntime.NewRegistry(logger)

	err := registerNativeBlocks(reg, logger.With("module", "block_log"))
	if err != nil {
		return nil, err
	}

	return reg, nil
}
