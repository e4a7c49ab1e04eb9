package engine

import (
	"context"
	"io"
	"net/netip"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/npfkit/internal/ctlplane"
	"grimm.is/npfkit/internal/dict"
	"grimm.is/npfkit/internal/logging"
	"grimm.is/npfkit/internal/metrics"
	"grimm.is/npfkit/internal/npf"
	"grimm.is/npfkit/internal/state"
)

type recordingSink struct {
	calls [][]string
	err   error
}

func (s *recordingSink) SyncTables(tables []*npf.Table) error {
	var names []string
	for _, t := range tables {
		names = append(names, t.Name())
	}
	s.calls = append(s.calls, names)
	return s.err
}

func newTestEngine(opts Options) *Engine {
	opts.Metrics = metrics.New()
	opts.Logger = logging.New(logging.Config{Level: logging.LevelError, Output: io.Discard})
	return New(opts)
}

func build(t *testing.T, cfg *npf.Config) *dict.Map {
	t.Helper()
	root, err := cfg.Build()
	require.NoError(t, err)
	return root.Clone()
}

// sampleConfig is [pass-all, dyn{}, outer{inner}] plus one table.
func sampleConfig(t *testing.T) *npf.Config {
	t.Helper()
	cfg := npf.NewConfig()
	require.NoError(t, cfg.InsertRule(nil, npf.NewRule("pass-all", npf.RulePass|npf.RuleIn|npf.RuleOut, "")))
	require.NoError(t, cfg.InsertRule(nil, npf.NewRule("dyn", npf.DynamicGroup|npf.RuleIn, "")))
	outer := npf.NewRule("outer", npf.RuleGroup|npf.RuleIn, "eth0")
	require.NoError(t, cfg.InsertRule(nil, outer))
	require.NoError(t, cfg.InsertRule(outer, npf.NewRule("inner", npf.RuleIn, "")))

	tbl := npf.NewTable("blocklist", 1, npf.TableHash)
	require.NoError(t, tbl.AddEntry(netip.MustParsePrefix("198.51.100.0/24")))
	require.NoError(t, cfg.InsertTable(tbl))
	return cfg
}

func handle(t *testing.T, e *Engine, cmd ctlplane.Command, req *dict.Map) *dict.Map {
	t.Helper()
	resp, err := e.Handle(context.Background(), cmd, req)
	require.NoError(t, err)
	return resp
}

func walk(t *testing.T, cfg *npf.Config) (names []string, levels []int) {
	t.Helper()
	it := cfg.Rules()
	for it.Next() {
		names = append(names, it.Rule().Name())
		levels = append(levels, it.Level())
	}
	require.NoError(t, it.Err())
	return names, levels
}

func TestEngine_LoadSave(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(Options{Tables: sink})

	resp := handle(t, e, ctlplane.CmdLoad, build(t, sampleConfig(t)))
	assert.Nil(t, npf.PeerErrorFromMap(resp))
	assert.Equal(t, [][]string{{"blocklist"}}, sink.calls)

	live, err := npf.FromMap(handle(t, e, ctlplane.CmdSave, nil))
	require.NoError(t, err)
	assert.True(t, live.Active())

	names, levels := walk(t, live)
	assert.Equal(t, []string{"pass-all", "dyn", "outer", "inner"}, names)
	assert.Equal(t, []int{0, 0, 0, 1}, levels)

	var ids []uint64
	for it := live.Rules(); it.Next(); {
		ids = append(ids, it.Rule().ID())
	}
	assert.Equal(t, []uint64{1, 2, 3, 4}, ids)

	var tables []string
	for tbl := range live.Tables() {
		tables = append(tables, tbl.Name())
	}
	assert.Equal(t, []string{"blocklist"}, tables)
}

func TestEngine_RejectedLoadKeepsLiveConfig(t *testing.T) {
	e := newTestEngine(Options{})
	handle(t, e, ctlplane.CmdLoad, build(t, sampleConfig(t)))

	bad := npf.NewConfig()
	r := npf.NewRule("uses-proc", npf.RuleIn, "")
	r.SetProc("missing")
	require.NoError(t, bad.InsertRule(nil, npf.NewRule("first", npf.RuleIn, "")))
	require.NoError(t, bad.InsertRule(nil, r))

	pe := npf.PeerErrorFromMap(handle(t, e, ctlplane.CmdLoad, build(t, bad)))
	require.NotNil(t, pe)
	assert.Equal(t, int32(syscall.ENOENT), pe.Code)
	assert.Equal(t, int64(2), pe.ID)
	assert.NotEmpty(t, pe.SourceFile)
	assert.NotZero(t, pe.SourceLine)

	live, err := npf.FromMap(handle(t, e, ctlplane.CmdSave, nil))
	require.NoError(t, err)
	names, _ := walk(t, live)
	assert.Equal(t, []string{"pass-all", "dyn", "outer", "inner"}, names)
}

func TestEngine_LoadValidation(t *testing.T) {
	e := newTestEngine(Options{})

	wrongVersion := build(t, npf.NewConfig())
	wrongVersion.SetUint32("version", npf.Version+1)
	pe := npf.PeerErrorFromMap(handle(t, e, ctlplane.CmdLoad, wrongVersion))
	require.NotNil(t, pe)
	assert.Equal(t, int32(syscall.EPROTONOSUPPORT), pe.Code)

	cdb := npf.NewConfig()
	require.NoError(t, cdb.InsertTable(npf.NewTable("t", 1, npf.TableCDB)))
	pe = npf.PeerErrorFromMap(handle(t, e, ctlplane.CmdLoad, build(t, cdb)))
	require.NotNil(t, pe)
	assert.Equal(t, int32(syscall.EINVAL), pe.Code)
	assert.Equal(t, int64(1), pe.ID)

	// Hand-edited skip-to pointing past the end of the list.
	broken := build(t, sampleConfig(t))
	rules, _ := broken.GetList("rules")
	rules.At(2).(*dict.Map).SetUint32("skip-to", 99)
	pe = npf.PeerErrorFromMap(handle(t, e, ctlplane.CmdLoad, broken))
	require.NotNil(t, pe)
	assert.Equal(t, int32(syscall.EINVAL), pe.Code)

	_, err := e.Handle(context.Background(), ctlplane.CmdLoad, nil)
	assert.ErrorIs(t, err, npf.ErrInvalidArgument)
}

func TestEngine_TableSyncFailure(t *testing.T) {
	sink := &recordingSink{err: assert.AnError}
	e := newTestEngine(Options{Tables: sink})

	pe := npf.PeerErrorFromMap(handle(t, e, ctlplane.CmdLoad, build(t, sampleConfig(t))))
	require.NotNil(t, pe)
	assert.Equal(t, int32(syscall.EIO), pe.Code)

	live, err := npf.FromMap(handle(t, e, ctlplane.CmdSave, nil))
	require.NoError(t, err)
	names, _ := walk(t, live)
	assert.Empty(t, names)
}

func TestEngine_Flush(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(Options{Tables: sink})
	handle(t, e, ctlplane.CmdLoad, build(t, sampleConfig(t)))

	flush := npf.NewConfig()
	require.NoError(t, flush.SetFlush(true))
	handle(t, e, ctlplane.CmdLoad, build(t, flush))

	live, err := npf.FromMap(handle(t, e, ctlplane.CmdSave, nil))
	require.NoError(t, err)
	names, _ := walk(t, live)
	assert.Empty(t, names)
	assert.Equal(t, 0, count(live.Tables()))
	assert.Len(t, sink.calls, 2)
	assert.Empty(t, sink.calls[1])
}

func ruleReq(ruleset string, op uint32) *dict.Map {
	m := dict.NewMap()
	m.SetString("ruleset-name", ruleset)
	m.SetUint32("command", op)
	return m
}

func TestEngine_DynamicRuleset(t *testing.T) {
	e := newTestEngine(Options{})
	handle(t, e, ctlplane.CmdLoad, build(t, sampleConfig(t)))

	add := func(name string, key []byte) uint64 {
		req := npf.NewRule(name, npf.RuleIn, "").Map()
		if key != nil {
			req.SetBlob("key", key)
		}
		req.SetString("ruleset-name", "dyn")
		req.SetUint32("command", ctlplane.RuleAdd)
		id, ok := handle(t, e, ctlplane.CmdRule, req).GetUint64("id")
		require.True(t, ok)
		return id
	}
	idA := add("a", []byte{0x01})
	idB := add("b", []byte{0x02})
	add("c", nil)
	assert.Equal(t, uint64(5), idA, "dynamic ids continue after the loaded rules")
	assert.Equal(t, idA+1, idB)

	list := func() []string {
		rules, ok := handle(t, e, ctlplane.CmdRule, ruleReq("dyn", ctlplane.RuleList)).GetList("rules")
		require.True(t, ok)
		names, _ := walk(t, npf.FromRules(rules))
		return names
	}
	assert.Equal(t, []string{"a", "b", "c"}, list())

	// Dynamic rules appear nested under their group in the live config.
	live, err := npf.FromMap(handle(t, e, ctlplane.CmdSave, nil))
	require.NoError(t, err)
	names, levels := walk(t, live)
	assert.Equal(t, []string{"pass-all", "dyn", "a", "b", "c", "outer", "inner"}, names)
	assert.Equal(t, []int{0, 0, 1, 1, 1, 0, 1}, levels)

	rm := ruleReq("dyn", ctlplane.RuleRemove)
	rm.SetUint64("id", idA)
	handle(t, e, ctlplane.CmdRule, rm)
	_, err = e.Handle(context.Background(), ctlplane.CmdRule, rm)
	assert.ErrorIs(t, err, npf.ErrNotFound, "second removal finds nothing")

	rk := ruleReq("dyn", ctlplane.RuleRemKey)
	rk.SetBlob("key", []byte{0x02})
	handle(t, e, ctlplane.CmdRule, rk)
	assert.Equal(t, []string{"c"}, list())

	handle(t, e, ctlplane.CmdRule, ruleReq("dyn", ctlplane.RuleFlush))
	assert.Empty(t, list())

	_, err = e.Handle(context.Background(), ctlplane.CmdRule, ruleReq("outer", ctlplane.RuleList))
	assert.ErrorIs(t, err, npf.ErrNotFound, "static groups are not dynamic rulesets")

	_, err = e.Handle(context.Background(), ctlplane.CmdRule, ruleReq("dyn", 42))
	assert.ErrorIs(t, err, ctlplane.ErrUnsupported)
}

func TestEngine_ConnLookup(t *testing.T) {
	e := newTestEngine(Options{})
	e.AddConnection(npf.Conn{
		Proto:          6,
		Src:            netip.MustParseAddrPort("10.0.0.2:40000"),
		Dst:            netip.MustParseAddrPort("192.0.2.1:443"),
		TranslatedPort: 61000,
		Interface:      "wan0",
	})
	e.AddConnection(npf.Conn{
		Proto:     17,
		Src:       netip.MustParseAddrPort("10.0.0.3:5353"),
		Dst:       netip.MustParseAddrPort("10.0.0.1:53"),
		Interface: "lan0",
	})

	key := npf.ConnKey{
		Proto: 6,
		Src:   netip.MustParseAddrPort("10.0.0.2:40000"),
		Dst:   netip.MustParseAddrPort("192.0.2.1:443"),
	}
	req, err := npf.NATLookupRequest(key, npf.DirOut)
	require.NoError(t, err)
	res, err := npf.ParseNATResult(handle(t, e, ctlplane.CmdConnLookup, req))
	require.NoError(t, err)
	assert.Equal(t, uint16(61000), res.TranslatedPort)
	assert.Equal(t, key.Src, res.Original)

	reverse := npf.ConnKey{Proto: 6, Src: key.Dst, Dst: key.Src}
	req, err = npf.NATLookupRequest(reverse, npf.DirIn)
	require.NoError(t, err)
	_, err = npf.ParseNATResult(handle(t, e, ctlplane.CmdConnLookup, req))
	require.NoError(t, err)

	plain := npf.ConnKey{Proto: 17, Src: netip.MustParseAddrPort("10.0.0.3:5353"), Dst: netip.MustParseAddrPort("10.0.0.1:53")}
	req, err = npf.NATLookupRequest(plain, npf.DirOut)
	require.NoError(t, err)
	_, err = npf.ParseNATResult(handle(t, e, ctlplane.CmdConnLookup, req))
	assert.ErrorIs(t, err, npf.ErrNotFound, "untranslated connection")

	req, err = npf.NATLookupRequest(reverse, npf.DirOut)
	require.NoError(t, err)
	_, err = e.Handle(context.Background(), ctlplane.CmdConnLookup, req)
	assert.ErrorIs(t, err, npf.ErrNotFound)

	live, err := npf.FromMap(handle(t, e, ctlplane.CmdSave, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, count(live.Connections()))
}

func TestEngine_PersistAndRestore(t *testing.T) {
	ctx := context.Background()
	store, err := state.NewSQLiteStore(state.DefaultOptions(filepath.Join(t.TempDir(), "npf.db")))
	require.NoError(t, err)
	defer store.Close()

	e := newTestEngine(Options{Store: store})
	require.NoError(t, e.Restore(ctx), "empty store restores nothing")
	handle(t, e, ctlplane.CmdLoad, build(t, sampleConfig(t)))

	snaps, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "load", snaps[0].Reason)
	assert.Equal(t, 4, snaps[0].Rules)

	restarted := newTestEngine(Options{Store: store})
	require.NoError(t, restarted.Restore(ctx))

	before := handle(t, e, ctlplane.CmdSave, nil)
	after := handle(t, restarted, ctlplane.CmdSave, nil)
	assert.True(t, dict.Equal(before, after))

	snaps, err = store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "restoring does not record a new snapshot")
}

func TestEngine_UnsupportedCommand(t *testing.T) {
	e := newTestEngine(Options{})
	_, err := e.Handle(context.Background(), ctlplane.Command(77), nil)
	assert.ErrorIs(t, err, ctlplane.ErrUnsupported)
}

func TestUnflatten(t *testing.T) {
	forest := dict.NewList()
	b := dict.NewMap()
	b.SetString("name", "b")
	d := dict.NewMap()
	d.SetString("name", "d")
	e := dict.NewMap()
	e.SetString("name", "e")
	d.Set("subrules", dict.NewList(e))
	c := dict.NewMap()
	c.SetString("name", "c")
	b.Set("subrules", dict.NewList(c, d))
	a := dict.NewMap()
	a.SetString("name", "a")
	f := dict.NewMap()
	f.SetString("name", "f")
	forest.Append(a, b, f)

	want := forest.Clone()
	flat, err := npf.Linearize(forest)
	require.NoError(t, err)

	got, err := unflatten(flat)
	require.NoError(t, err)
	assert.True(t, dict.Equal(want, got))
	assert.Equal(t, 6, countRules(got))
}
