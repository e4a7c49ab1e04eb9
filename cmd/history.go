package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"grimm.is/npfkit/internal/ctlplane"
	"grimm.is/npfkit/internal/i18n"
	"grimm.is/npfkit/internal/npf"
	"grimm.is/npfkit/internal/state"
)

// openStore opens the snapshot database. Tests replace it.
var openStore = func(path string) (state.Store, error) {
	s, err := state.NewSQLiteStore(state.DefaultOptions(path))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// RunHistory lists the configuration snapshots recorded by the engine.
func RunHistory(statePath string, limit int) error {
	store, err := openStore(statePath)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	snaps, err := store.List(context.Background(), limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tID\tCREATED\tRULES\tREASON")
	for _, s := range snaps {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", s.Version, s.ID, s.CreatedAt.Format("2006-01-02 15:04:05"), s.Rules, s.Reason)
	}
	return w.Flush()
}

// RunRollback loads a recorded snapshot back into the engine.
func RunRollback(statePath, id string) error {
	store, err := openStore(statePath)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	snap, err := store.Get(context.Background(), id)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", id, err)
	}
	cfg, err := npf.Import(snap.Data)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", id, err)
	}

	return withClient(func(c ctlplane.ControlPlaneClient) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := c.Submit(ctx, cfg); err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
		Printer.Fprintf(stdout, i18n.MsgLoaded, snap.Rules)
		return nil
	})
}
