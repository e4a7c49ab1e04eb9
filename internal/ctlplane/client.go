package ctlplane

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"grimm.is/npfkit/internal/dict"
	"grimm.is/npfkit/internal/npf"
)

const (
	keyRulesetName = "ruleset-name"
	keyCommand     = "command"
	keyRuleID      = "id"
	keyRuleKey     = "key"
	keyRules       = "rules"
)

// Client is the request/response envelope over a Channel. It keeps no
// state between calls other than the most recent peer error, and is not
// safe for concurrent use.
type Client struct {
	ch      Channel
	lastErr *npf.PeerError
}

// NewClient wraps ch.
func NewClient(ch Channel) *Client {
	return &Client{ch: ch}
}

// Connect dials the engine at the default socket path.
func Connect() (*Client, error) {
	ch, err := Dial(GetSocketPath())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine at %s: %w", GetSocketPath(), err)
	}
	return NewClient(ch), nil
}

// Close closes the underlying channel.
func (c *Client) Close() error {
	return c.ch.Close()
}

// LastError returns the structured error of the most recent failed
// exchange, or nil if it succeeded.
func (c *Client) LastError() *npf.PeerError {
	return c.lastErr
}

// Submit builds cfg and loads it into the engine. cfg is materialized by
// the call whether or not the engine accepts it.
func (c *Client) Submit(ctx context.Context, cfg *npf.Config) error {
	root, err := cfg.Build()
	if err != nil {
		return err
	}
	resp, err := c.sendRecv(ctx, CmdLoad, root)
	if err != nil {
		return err
	}
	return c.check(resp)
}

// Flush replaces the engine's configuration with an empty one.
func (c *Client) Flush(ctx context.Context) error {
	cfg := npf.NewConfig()
	if err := cfg.SetFlush(true); err != nil {
		return err
	}
	return c.Submit(ctx, cfg)
}

// Retrieve returns the engine's live configuration, including its
// connection snapshot.
func (c *Client) Retrieve(ctx context.Context) (*npf.Config, error) {
	resp, err := c.sendRecv(ctx, CmdSave, nil)
	if err != nil {
		return nil, err
	}
	if err := c.check(resp); err != nil {
		return nil, err
	}
	return npf.FromMap(resp)
}

// RuleAdd inserts r into the named dynamic ruleset and returns the id the
// engine assigned. r itself is not modified.
func (c *Client) RuleAdd(ctx context.Context, ruleset string, r *npf.Rule) (uint64, error) {
	req := r.Map().Clone()
	req.Remove("subrules")
	req.Remove("skip-to")
	resp, err := c.sendRecv(ctx, CmdRule, rulesetRequest(req, ruleset, RuleAdd))
	if err != nil {
		return 0, err
	}
	if err := c.check(resp); err != nil {
		return 0, err
	}
	id, ok := resp.GetUint64(keyRuleID)
	if !ok {
		return 0, fmt.Errorf("%w: rule add response without id", npf.ErrFormat)
	}
	return id, nil
}

// RuleRemove removes the rule with the given id from the named ruleset.
func (c *Client) RuleRemove(ctx context.Context, ruleset string, id uint64) error {
	req := rulesetRequest(dict.NewMap(), ruleset, RuleRemove)
	req.SetUint64(keyRuleID, id)
	return c.send(ctx, CmdRule, req)
}

// RuleRemoveKey removes the rule carrying key from the named ruleset.
func (c *Client) RuleRemoveKey(ctx context.Context, ruleset string, key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty rule key", npf.ErrInvalidArgument)
	}
	req := rulesetRequest(dict.NewMap(), ruleset, RuleRemKey)
	req.SetBlob(keyRuleKey, key)
	return c.send(ctx, CmdRule, req)
}

// RuleFlush removes every rule from the named ruleset.
func (c *Client) RuleFlush(ctx context.Context, ruleset string) error {
	return c.send(ctx, CmdRule, rulesetRequest(dict.NewMap(), ruleset, RuleFlush))
}

// RuleList returns the rules of the named ruleset as a read-only
// configuration holding only a rules section.
func (c *Client) RuleList(ctx context.Context, ruleset string) (*npf.Config, error) {
	resp, err := c.sendRecv(ctx, CmdRule, rulesetRequest(dict.NewMap(), ruleset, RuleList))
	if err != nil {
		return nil, err
	}
	if err := c.check(resp); err != nil {
		return nil, err
	}
	rules, ok := resp.GetList(keyRules)
	if !ok {
		return nil, fmt.Errorf("%w: rule list response without rules", npf.ErrFormat)
	}
	return npf.FromRules(rules), nil
}

// NATLookup returns the original endpoint of a translated connection.
func (c *Client) NATLookup(ctx context.Context, key npf.ConnKey, dir uint16) (npf.NATResult, error) {
	req, err := npf.NATLookupRequest(key, dir)
	if err != nil {
		return npf.NATResult{}, err
	}
	resp, err := c.sendRecv(ctx, CmdConnLookup, req)
	if err != nil {
		return npf.NATResult{}, err
	}
	if err := c.check(resp); err != nil {
		return npf.NATResult{}, err
	}
	return npf.ParseNATResult(resp)
}

// ConnList returns the engine's connection snapshot.
func (c *Client) ConnList(ctx context.Context) ([]npf.Conn, error) {
	cfg, err := c.Retrieve(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Collect(cfg.Connections()), nil
}

func rulesetRequest(req *dict.Map, ruleset string, op uint32) *dict.Map {
	req.SetString(keyRulesetName, ruleset)
	req.SetUint32(keyCommand, op)
	return req
}

func (c *Client) send(ctx context.Context, cmd Command, req *dict.Map) error {
	c.lastErr = nil
	return c.record(c.ch.Send(ctx, cmd, req))
}

func (c *Client) sendRecv(ctx context.Context, cmd Command, req *dict.Map) (*dict.Map, error) {
	c.lastErr = nil
	resp, err := c.ch.SendRecv(ctx, cmd, req)
	return resp, c.record(err)
}

func (c *Client) record(err error) error {
	var pe *npf.PeerError
	if errors.As(err, &pe) {
		c.lastErr = pe
	}
	return err
}

// check surfaces an error record carried in a response document.
func (c *Client) check(resp *dict.Map) error {
	if pe := npf.PeerErrorFromMap(resp); pe != nil {
		c.lastErr = pe
		return pe
	}
	return nil
}
