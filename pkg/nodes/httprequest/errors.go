package httprequest

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/flowrun/pkg/blockruntime"
)

func validationf(format string, args ...any) error {
	return blockruntime.Validationf(format, args...)
}

func permanentf(format string, args ...any) error {
	return blockruntime.Permanent(fmt.Errorf(format, args...))
}

func transientf(format string, args ...any) error {
	return blockruntime.Transient(fmt.Errorf(format, args...))
}

// classifyTransport leaves worker cancellation unclassified and marks every other client failure transient.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	return blockruntime.Transient(err)
}
