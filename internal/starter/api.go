package starter

import (
	"context"

	"moff.io/walletconnect-sign/internal/config"
	"moff.io/walletconnect-sign/pkg/errors"
)

// Startable must return once started; long running work goes to its own
// goroutines.
type Startable interface {
	Start(ctx context.Context) error
}

type Configurable interface {
	Apply(*config.Configuration)
}

// Start applies the global configuration to each element and starts them in
// order, stopping at the first failure.
func Start(ctx context.Context, elems ...Startable) error {
	for _, ele := range elems {
		if configurable, ok := ele.(Configurable); ok && config.Global != nil {
			configurable.Apply(config.Global)
		}
		if err := ele.Start(ctx); err != nil {
			return errors.Wrapf(err, "start %T", ele)
		}
	}
	return nil
}

type Stopable interface {
	Stop()
}

// Stop stops elements in reverse order.
func Stop(elems ...Stopable) {
	for i := len(elems) - 1; i >= 0; i-- {
		elems[i].Stop()
	}
}
