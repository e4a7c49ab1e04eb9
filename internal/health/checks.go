package health

import (
	"context"
	"errors"
	"fmt"

	"grimm.is/npfkit/internal/ctlplane"
	"grimm.is/npfkit/internal/dict"
	"grimm.is/npfkit/internal/npf"
	"grimm.is/npfkit/internal/state"
)

// BackendCheck reports whether b can produce its live configuration.
func BackendCheck(b ctlplane.Backend) CheckFunc {
	return func(ctx context.Context) Check {
		resp, err := b.Handle(ctx, ctlplane.CmdSave, dict.NewMap())
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		cfg, err := npf.FromMap(resp)
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		n := 0
		it := cfg.Rules()
		for it.Next() {
			n++
		}
		if err := it.Err(); err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d rules active", n)}
	}
}

// StoreCheck reports whether the snapshot store answers. An empty store
// is healthy.
func StoreCheck(s state.Store) CheckFunc {
	return func(ctx context.Context) Check {
		snap, err := s.Latest(ctx)
		switch {
		case errors.Is(err, state.ErrNotFound):
			return Check{Status: StatusHealthy, Message: "no snapshots"}
		case err != nil:
			return Check{Status: StatusDegraded, Message: err.Error()}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("snapshot version %d", snap.Version)}
	}
}
