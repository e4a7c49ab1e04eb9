// Package engine is an in-memory reference implementation of the
// privileged filtering peer. It validates and applies configurations
// received over the control channel, serves the live configuration back
// and manages named dynamic rulesets.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"sync"
	"syscall"

	"grimm.is/npfkit/internal/ctlplane"
	"grimm.is/npfkit/internal/dict"
	"grimm.is/npfkit/internal/logging"
	"grimm.is/npfkit/internal/metrics"
	"grimm.is/npfkit/internal/npf"
	"grimm.is/npfkit/internal/state"
)

// TableSink receives the tables of every applied configuration.
type TableSink interface {
	SyncTables(tables []*npf.Table) error
}

// Options configures an Engine. Every field is optional.
type Options struct {
	Store   state.Store
	Tables  TableSink
	Metrics *metrics.Registry
	Logger  *logging.Logger
}

// Engine holds the live configuration.
type Engine struct {
	mu sync.Mutex

	store   state.Store
	tables  TableSink
	metrics *metrics.Registry
	logger  *logging.Logger

	// root holds every section of the live configuration except rules,
	// which are kept as a forest so dynamic groups can grow.
	root   *dict.Map
	forest *dict.List
	conns  []npf.Conn
	nextID uint64
}

var _ ctlplane.Backend = (*Engine)(nil)

// New returns an engine with an empty configuration.
func New(opts Options) *Engine {
	e := &Engine{
		store:   opts.Store,
		tables:  opts.Tables,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		nextID:  1,
	}
	if e.metrics == nil {
		e.metrics = metrics.Get()
	}
	if e.logger == nil {
		e.logger = logging.WithComponent("engine")
	}
	e.reset()
	return e
}

func (e *Engine) reset() {
	e.root = emptyRoot()
	e.forest = dict.NewList()
}

func emptyRoot() *dict.Map {
	root, _ := npf.NewConfig().Build()
	root.Remove("rules")
	root.Remove("flush")
	return root
}

// Handle dispatches one control channel command.
func (e *Engine) Handle(ctx context.Context, cmd ctlplane.Command, req *dict.Map) (*dict.Map, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch cmd {
	case ctlplane.CmdLoad:
		if req == nil {
			return nil, fmt.Errorf("%w: load without a configuration", npf.ErrInvalidArgument)
		}
		return e.load(ctx, req, "load"), nil
	case ctlplane.CmdSave:
		return e.save()
	case ctlplane.CmdRule:
		if req == nil {
			return nil, fmt.Errorf("%w: rule command without a request", npf.ErrInvalidArgument)
		}
		return e.rule(req)
	case ctlplane.CmdConnLookup:
		if req == nil {
			return nil, fmt.Errorf("%w: lookup without a request", npf.ErrInvalidArgument)
		}
		return e.connLookup(req)
	}
	return nil, fmt.Errorf("%w: %s", ctlplane.ErrUnsupported, cmd)
}

// Restore reloads the most recent persisted snapshot. A store without
// snapshots is not an error.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snap, err := e.store.Latest(ctx)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	root, err := dict.UnmarshalMap(snap.Data)
	if err != nil {
		return fmt.Errorf("restore snapshot %s: %w", snap.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if pe := npf.PeerErrorFromMap(e.load(ctx, root, "")); pe != nil {
		return fmt.Errorf("restore snapshot %s: %w", snap.ID, pe)
	}
	e.logger.Info("configuration restored", "snapshot", snap.ID, "version", snap.Version)
	return nil
}

// AddConnection records a tracked connection for lookups and snapshots.
func (e *Engine) AddConnection(conn npf.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns = append(e.conns, conn)
	e.metrics.Connections.Set(float64(len(e.conns)))
}

// loadError builds the error document returned for a rejected load. The
// origin is the caller's source position.
func loadError(code syscall.Errno, id int64) *dict.Map {
	pe := &npf.PeerError{Code: int32(code), ID: id}
	if _, file, line, ok := runtime.Caller(1); ok {
		pe.SourceFile = file
		pe.SourceLine = uint32(line)
	}
	return pe.Map()
}

// load validates and applies req. A non-empty reason persists the result
// under that reason.
func (e *Engine) load(ctx context.Context, req *dict.Map, reason string) *dict.Map {
	cfg, err := npf.FromMap(req)
	if err != nil {
		e.metrics.RecordLoad(err, 0, 0, 0)
		e.logger.Warn("configuration rejected", "error", err)
		if errors.Is(err, npf.ErrVersion) {
			return loadError(syscall.EPROTONOSUPPORT, 0)
		}
		return loadError(syscall.EINVAL, 0)
	}

	if cfg.Flush() {
		e.reset()
		e.syncTables(nil)
		e.metrics.RecordLoad(nil, 0, 0, 0)
		e.logger.Info("configuration flushed")
		e.logger.Audit("flush", "configuration", map[string]any{"reason": reason})
		e.persist(ctx, reason)
		return dict.NewMap()
	}

	if errDoc := e.validate(cfg); errDoc != nil {
		e.metrics.RecordLoad(errors.New("validation failed"), 0, 0, 0)
		return errDoc
	}

	rules, _ := req.GetList("rules")
	forest, err := unflatten(rules)
	if err != nil {
		e.metrics.RecordLoad(err, 0, 0, 0)
		return loadError(syscall.EINVAL, 0)
	}

	var tables []*npf.Table
	for t := range cfg.Tables() {
		tables = append(tables, t)
	}
	if err := e.syncTables(tables); err != nil {
		e.metrics.RecordLoad(err, 0, 0, 0)
		return loadError(syscall.EIO, 0)
	}

	root := req.Clone()
	for _, k := range []string{"rules", "flush", "active", "conn-list"} {
		root.Remove(k)
	}
	e.root = root
	e.forest = forest
	e.assignIDs(e.forest)

	nRules := countRules(e.forest)
	nNAT := count(cfg.NATs())
	e.metrics.RecordLoad(nil, nRules, nNAT, len(tables))
	e.logger.Info("configuration loaded", "rules", nRules, "nat", nNAT, "tables", len(tables))
	e.logger.Audit("load", "configuration", map[string]any{"reason": reason, "rules": nRules})
	e.persist(ctx, reason)
	return dict.NewMap()
}

// validate checks the parts of cfg the engine interprets. The returned
// document carries the 1-based position of the offending object.
func (e *Engine) validate(cfg *npf.Config) *dict.Map {
	procs := make(map[string]bool)
	for rp := range cfg.RuleProcs() {
		procs[rp.Name()] = true
	}

	pos := int64(0)
	it := cfg.Rules()
	for it.Next() {
		pos++
		r := it.Rule()
		if r.Map().Has("code") {
			if typ, _ := r.Code(); typ != npf.CodeNC && typ != npf.CodeBPF {
				return loadError(syscall.EINVAL, pos)
			}
		}
		if p := r.Proc(); p != "" && !procs[p] {
			e.logger.Warn("rule references unknown procedure", "position", pos, "rproc", p)
			return loadError(syscall.ENOENT, pos)
		}
	}
	if err := it.Err(); err != nil {
		e.logger.Warn("inconsistent rule list", "error", err)
		return loadError(syscall.EINVAL, pos)
	}

	pos = 0
	for n := range cfg.NATs() {
		pos++
		if n.Type() != npf.NATIn && n.Type() != npf.NATOut {
			return loadError(syscall.EINVAL, pos)
		}
		if prefix, _ := n.Translation(); !prefix.IsValid() {
			return loadError(syscall.EINVAL, pos)
		}
	}

	pos = 0
	for t := range cfg.Tables() {
		pos++
		_, hasData := t.Data()
		switch t.Type() {
		case npf.TableHash, npf.TableTree:
			if hasData {
				return loadError(syscall.EINVAL, pos)
			}
		case npf.TableCDB:
			if !hasData {
				return loadError(syscall.EINVAL, pos)
			}
		default:
			return loadError(syscall.EINVAL, pos)
		}
	}
	return nil
}

func (e *Engine) assignIDs(forest *dict.List) {
	for r := range forest.Maps() {
		if id, ok := r.GetUint64("id"); ok {
			e.nextID = max(e.nextID, id+1)
		} else {
			r.SetUint64("id", e.nextID)
			e.nextID++
		}
		if sub, ok := r.GetList("subrules"); ok {
			e.assignIDs(sub)
		}
	}
}

func (e *Engine) syncTables(tables []*npf.Table) error {
	if e.tables == nil {
		return nil
	}
	if err := e.tables.SyncTables(tables); err != nil {
		e.logger.Error("table sync failed", "error", err)
		return err
	}
	return nil
}

func (e *Engine) persist(ctx context.Context, reason string) {
	if e.store == nil || reason == "" {
		return
	}
	doc, err := e.document(false)
	if err != nil {
		e.logger.Error("snapshot failed", "error", err)
		return
	}
	data, err := dict.Marshal(doc)
	if err != nil {
		e.logger.Error("snapshot failed", "error", err)
		return
	}
	snap, err := e.store.Save(ctx, reason, countRules(e.forest), data)
	if err != nil {
		e.logger.Error("snapshot failed", "error", err)
		return
	}
	e.logger.Debug("snapshot saved", "id", snap.ID, "version", snap.Version)
}

// document assembles the live configuration. Live documents carry the
// active flag and the connection snapshot.
func (e *Engine) document(live bool) (*dict.Map, error) {
	flat, err := npf.Linearize(e.forest.Clone())
	if err != nil {
		return nil, err
	}
	doc := e.root.Clone()
	doc.Set("rules", flat)
	if live {
		doc.SetBool("active", true)
		conns := dict.NewList()
		for _, c := range e.conns {
			conns.Append(c.Map())
		}
		doc.Set("conn-list", conns)
	}
	return doc, nil
}

func (e *Engine) save() (*dict.Map, error) {
	return e.document(true)
}

func (e *Engine) rule(req *dict.Map) (*dict.Map, error) {
	name, ok := req.GetString("ruleset-name")
	if !ok {
		return nil, fmt.Errorf("%w: rule command without ruleset-name", npf.ErrInvalidArgument)
	}
	op, ok := req.GetUint32("command")
	if !ok {
		return nil, fmt.Errorf("%w: rule command without command", npf.ErrInvalidArgument)
	}
	group := findGroup(e.forest, name)
	if group == nil {
		return nil, fmt.Errorf("%w: dynamic ruleset %q", npf.ErrNotFound, name)
	}

	switch op {
	case ctlplane.RuleAdd:
		r := req.Clone()
		r.Remove("ruleset-name")
		r.Remove("command")
		if r.Has("subrules") {
			return nil, fmt.Errorf("%w: dynamic rules cannot nest", npf.ErrInvalidArgument)
		}
		id := e.nextID
		e.nextID++
		r.SetUint64("id", id)
		subrulesOf(group).Append(r)
		e.logger.Debug("dynamic rule added", "ruleset", name, "id", id)
		resp := dict.NewMap()
		resp.SetUint64("id", id)
		return resp, nil

	case ctlplane.RuleRemove:
		id, ok := req.GetUint64("id")
		if !ok {
			return nil, fmt.Errorf("%w: remove without id", npf.ErrInvalidArgument)
		}
		return nil, removeWhere(group, func(r *npf.Rule) bool { return r.ID() == id })

	case ctlplane.RuleRemKey:
		key, ok := req.GetBlob("key")
		if !ok || key.Len() == 0 {
			return nil, fmt.Errorf("%w: remove without key", npf.ErrInvalidArgument)
		}
		want := key.Bytes()
		return nil, removeWhere(group, func(r *npf.Rule) bool { return bytes.Equal(r.Key(), want) })

	case ctlplane.RuleList:
		rules := dict.NewList()
		if sub, ok := group.GetList("subrules"); ok {
			flat, err := npf.Linearize(sub.Clone())
			if err != nil {
				return nil, err
			}
			rules = flat
		}
		resp := dict.NewMap()
		resp.Set("rules", rules)
		return resp, nil

	case ctlplane.RuleFlush:
		group.Remove("subrules")
		return dict.NewMap(), nil
	}
	return nil, fmt.Errorf("%w: rule command %d", ctlplane.ErrUnsupported, op)
}

func removeWhere(group *dict.Map, match func(*npf.Rule) bool) error {
	sub, ok := group.GetList("subrules")
	if ok {
		for i, v := range sub.All() {
			m, isMap := v.(*dict.Map)
			if isMap && match(npf.RuleFromMap(m)) {
				sub.Remove(i)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: no matching rule", npf.ErrNotFound)
}

func (e *Engine) connLookup(req *dict.Map) (*dict.Map, error) {
	key, dir, err := npf.ParseNATLookupRequest(req)
	if err != nil {
		return nil, err
	}
	for _, c := range e.conns {
		var match bool
		switch dir {
		case npf.DirOut:
			match = c.Proto == key.Proto && c.Src == key.Src && c.Dst == key.Dst
		case npf.DirIn:
			match = c.Proto == key.Proto && c.Src == key.Dst && c.Dst == key.Src
		default:
			return nil, fmt.Errorf("%w: direction %d", npf.ErrInvalidArgument, dir)
		}
		if !match {
			continue
		}
		if c.TranslatedPort == 0 {
			return dict.NewMap(), nil
		}
		return npf.NATResult{Original: c.Src, TranslatedPort: c.TranslatedPort}.Map(), nil
	}
	return nil, fmt.Errorf("%w: connection %s", npf.ErrNotFound, key)
}

func count[T any](seq iter.Seq[T]) int {
	n := 0
	for range seq {
		n++
	}
	return n
}
