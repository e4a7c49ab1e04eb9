package ctlplane

import (
	"context"

	"grimm.is/npfkit/internal/npf"
)

// ControlPlaneClient defines the envelope operations used by the CLI.
// This interface enables mocking for tests.
type ControlPlaneClient interface {
	Submit(ctx context.Context, cfg *npf.Config) error
	Flush(ctx context.Context) error
	Retrieve(ctx context.Context) (*npf.Config, error)

	RuleAdd(ctx context.Context, ruleset string, r *npf.Rule) (uint64, error)
	RuleRemove(ctx context.Context, ruleset string, id uint64) error
	RuleRemoveKey(ctx context.Context, ruleset string, key []byte) error
	RuleFlush(ctx context.Context, ruleset string) error
	RuleList(ctx context.Context, ruleset string) (*npf.Config, error)

	NATLookup(ctx context.Context, key npf.ConnKey, dir uint16) (npf.NATResult, error)
	ConnList(ctx context.Context) ([]npf.Conn, error)

	LastError() *npf.PeerError
	Close() error
}

// Ensure Client implements ControlPlaneClient
var _ ControlPlaneClient = (*Client)(nil)
