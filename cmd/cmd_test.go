package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"grimm.is/npfkit/internal/ctlplane"
	"grimm.is/npfkit/internal/dict"
	"grimm.is/npfkit/internal/i18n"
	"grimm.is/npfkit/internal/npf"
	"grimm.is/npfkit/internal/state"
)

const testPolicy = `
table "bl" {
  type    = "hash"
  entries = ["10.0.0.0/8"]
}

nat "out" {
  interface = "wan0"
  address   = "203.0.113.1"
}

rule "allow" {
  pass = true
}

group "ext" {
  direction = "in"
  interface = "wan0"

  rule "deny" {
    final = true
  }
}
`

func setupCLI(t *testing.T) (*bytes.Buffer, *ctlplane.MockControlPlaneClient) {
	t.Helper()
	buf := &bytes.Buffer{}
	client := &ctlplane.MockControlPlaneClient{}
	client.On("Close").Return(nil).Maybe()

	oldOut, oldPrinter, oldClient := stdout, Printer, newClient
	stdout = buf
	Printer = i18n.NewPrinter(language.English)
	newClient = func() (ctlplane.ControlPlaneClient, error) { return client, nil }
	t.Cleanup(func() {
		stdout, Printer, newClient = oldOut, oldPrinter, oldClient
		client.AssertExpectations(t)
	})
	return buf, client
}

func writePolicy(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

// liveCopy returns cfg as the engine would report it back.
func liveCopy(t *testing.T, cfg *npf.Config) *npf.Config {
	t.Helper()
	root, err := cfg.Build()
	require.NoError(t, err)
	doc := root.Clone()
	doc.SetBool("active", true)
	doc.Set("conn-list", dict.NewList())
	rules, ok := doc.GetList("rules")
	require.True(t, ok)
	id := uint64(1)
	for m := range rules.Maps() {
		m.SetUint64("id", id)
		id++
	}
	live, err := npf.FromMap(doc)
	require.NoError(t, err)
	return live
}

func TestRunValidate(t *testing.T) {
	out, _ := setupCLI(t)
	path := writePolicy(t, testPolicy)

	require.NoError(t, RunValidate(path))
	assert.Equal(t, path+": configuration is valid (3 rules, 1 NAT policies, 1 tables)\n", out.String())
}

func TestRunValidate_Invalid(t *testing.T) {
	setupCLI(t)

	err := RunValidate(writePolicy(t, `
table "bl" {
  type = "bogus"
}
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, npf.ErrInvalidArgument)

	assert.ErrorIs(t, RunValidate(""), npf.ErrInvalidArgument)
	assert.Error(t, RunValidate(writePolicy(t, "rule \"a\" {")))
}

func TestRunShow_Policy(t *testing.T) {
	out, _ := setupCLI(t)

	require.NoError(t, RunShow(writePolicy(t, testPolicy)))
	text := out.String()
	assert.Contains(t, text, "rules:\n  pass \"allow\"\n  group \"ext\" in on wan0\n    block \"deny\" final\n")
	assert.Contains(t, text, "map on wan0 -> 203.0.113.1")
	assert.Contains(t, text, "bl id")
}

func TestRunShow_Live(t *testing.T) {
	out, client := setupCLI(t)
	cfg, err := assemblePolicy(writePolicy(t, testPolicy))
	require.NoError(t, err)

	client.On("Retrieve", mock.Anything).Return(liveCopy(t, cfg), nil).Once()
	require.NoError(t, RunShow(""))
	assert.Contains(t, out.String(), "    block \"deny\" final # id 3\n")
}

func TestRunExport(t *testing.T) {
	out, _ := setupCLI(t)
	path := writePolicy(t, testPolicy)

	dst := filepath.Join(t.TempDir(), "policy.npf")
	require.NoError(t, RunExport(path, dst, false))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	cfg, err := npf.Import(data)
	require.NoError(t, err)
	n, err := countRules(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, RunExport(path, "", true))
	assert.Contains(t, out.String(), "name: deny\n")
}

func TestRunLoad(t *testing.T) {
	out, client := setupCLI(t)
	path := writePolicy(t, testPolicy)

	client.On("Submit", mock.Anything, mock.AnythingOfType("*npf.Config")).Return(nil).Once()
	require.NoError(t, RunLoad(path))
	assert.Equal(t, "Configuration loaded (3 rules)\n", out.String())
}

func TestRunLoad_PeerError(t *testing.T) {
	_, client := setupCLI(t)
	path := writePolicy(t, testPolicy)

	peerErr := &npf.PeerError{Code: int32(syscall.EINVAL), ID: 2, SourceFile: "engine.go", SourceLine: 42}
	client.On("Submit", mock.Anything, mock.Anything).Return(peerErr).Once()

	err := RunLoad(path)
	var pe *npf.PeerError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, int64(2), pe.ID)
}

func TestRunFlushAndSave(t *testing.T) {
	out, client := setupCLI(t)

	client.On("Flush", mock.Anything).Return(nil).Once()
	require.NoError(t, RunFlush())
	assert.Equal(t, "Configuration flushed\n", out.String())

	cfg, err := assemblePolicy(writePolicy(t, testPolicy))
	require.NoError(t, err)
	client.On("Retrieve", mock.Anything).Return(liveCopy(t, cfg), nil).Once()

	dst := filepath.Join(t.TempDir(), "saved.npf")
	require.NoError(t, RunSave(dst, false))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	saved, err := npf.Import(data)
	require.NoError(t, err)
	assert.True(t, saved.Active())
}

func TestRunRule(t *testing.T) {
	out, client := setupCLI(t)

	client.On("RuleAdd", mock.Anything, "dyn", mock.MatchedBy(func(r *npf.Rule) bool {
		return r.Name() == "x" &&
			r.Attr() == npf.RulePass|npf.RuleIn &&
			bytes.Equal(r.Key(), []byte{0xab}) &&
			r.Priority() == npf.PriLast
	})).Return(uint64(7), nil).Once()
	require.NoError(t, RunRule([]string{"dyn", "add", "-name", "x", "-dir", "in", "-pass", "-key", "ab"}))
	assert.Equal(t, "Rule added to dyn with id 7\n", out.String())

	client.On("RuleRemove", mock.Anything, "dyn", uint64(7)).Return(nil).Once()
	require.NoError(t, RunRule([]string{"dyn", "rem-id", "7"}))

	client.On("RuleRemoveKey", mock.Anything, "dyn", []byte{0xab}).Return(nil).Once()
	require.NoError(t, RunRule([]string{"dyn", "rem", "ab"}))

	client.On("RuleFlush", mock.Anything, "dyn").Return(nil).Once()
	require.NoError(t, RunRule([]string{"dyn", "flush"}))

	listed := npf.NewRule("r1", npf.RulePass|npf.RuleIn, "")
	listed.Map().SetUint64("id", 9)
	client.On("RuleList", mock.Anything, "dyn").Return(npf.FromRules(dict.NewList(listed.Map())), nil).Once()
	out.Reset()
	require.NoError(t, RunRule([]string{"dyn", "list"}))
	assert.Equal(t, "pass \"r1\" in # id 9\n", out.String())
}

func TestRunRule_BadArguments(t *testing.T) {
	setupCLI(t)

	for name, args := range map[string][]string{
		"too short":     {"dyn"},
		"unknown op":    {"dyn", "frobnicate"},
		"bad direction": {"dyn", "add", "-dir", "sideways"},
		"bad key":       {"dyn", "add", "-key", "zz"},
		"bad id":        {"dyn", "rem-id", "seven"},
		"rem no key":    {"dyn", "rem"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, RunRule(args), npf.ErrInvalidArgument)
		})
	}
}

func TestRunNATLookup(t *testing.T) {
	out, client := setupCLI(t)

	key := npf.ConnKey{
		Proto: 6,
		Src:   netip.MustParseAddrPort("192.0.2.1:1024"),
		Dst:   netip.MustParseAddrPort("203.0.113.1:80"),
	}
	res := npf.NATResult{Original: netip.MustParseAddrPort("10.0.0.5:80"), TranslatedPort: 80}
	client.On("NATLookup", mock.Anything, key, npf.DirIn).Return(res, nil).Once()

	require.NoError(t, RunNATLookup("tcp", "192.0.2.1:1024", "203.0.113.1:80", "in"))
	assert.Equal(t, "6 192.0.2.1:1024 -> 203.0.113.1:80 translated from 10.0.0.5:80 (port 80)\n", out.String())

	assert.ErrorIs(t, RunNATLookup("tcp", "192.0.2.1", "203.0.113.1:80", "in"), npf.ErrInvalidArgument)
	assert.ErrorIs(t, RunNATLookup("tcp", "192.0.2.1:1", "203.0.113.1:80", "up"), npf.ErrInvalidArgument)
	assert.ErrorIs(t, RunNATLookup("carrier-pigeon", "192.0.2.1:1", "203.0.113.1:80", "in"), npf.ErrInvalidArgument)
}

func TestRunConnList(t *testing.T) {
	out, client := setupCLI(t)

	conns := []npf.Conn{{
		Proto:          6,
		Src:            netip.MustParseAddrPort("10.0.0.5:1000"),
		Dst:            netip.MustParseAddrPort("198.51.100.7:443"),
		TranslatedPort: 2000,
		Interface:      "wan0",
	}}
	client.On("ConnList", mock.Anything).Return(conns, nil).Once()

	require.NoError(t, RunConnList())
	assert.Contains(t, out.String(), "10.0.0.5:1000 -> 198.51.100.7:443")
	assert.Contains(t, out.String(), "1 connections\n")
}

func TestRunDiff(t *testing.T) {
	out, client := setupCLI(t)
	path := writePolicy(t, testPolicy)
	cfg, err := assemblePolicy(path)
	require.NoError(t, err)

	client.On("Retrieve", mock.Anything).Return(liveCopy(t, cfg), nil).Once()
	require.NoError(t, RunDiff(path))
	assert.Equal(t, "No differences\n", out.String())

	changed := liveCopy(t, cfg)
	root, err := changed.Build()
	require.NoError(t, err)
	rules, _ := root.GetList("rules")
	rules.At(0).(*dict.Map).SetString("name", "renamed")

	out.Reset()
	client.On("Retrieve", mock.Anything).Return(changed, nil).Once()
	assert.ErrorIs(t, RunDiff(path), ErrDiffers)
	assert.Contains(t, out.String(), "+++ Running")
	assert.Contains(t, out.String(), "name: allow")
	assert.Contains(t, out.String(), "name: renamed")
}

func TestRunFmt(t *testing.T) {
	out, _ := setupCLI(t)
	path := writePolicy(t, "rule \"a\" {\npass=true\n}\n")

	require.NoError(t, RunFmt(path, false))
	assert.Equal(t, "rule \"a\" {\n  pass = true\n}\n", out.String())

	require.NoError(t, RunFmt(path, true))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, out.String(), string(data))
}

func TestRunHistoryAndRollback(t *testing.T) {
	out, client := setupCLI(t)
	cfg, err := assemblePolicy(writePolicy(t, testPolicy))
	require.NoError(t, err)
	data, err := cfg.Export()
	require.NoError(t, err)

	statePath := filepath.Join(t.TempDir(), "state.db")
	store, err := state.NewSQLiteStore(state.DefaultOptions(statePath))
	require.NoError(t, err)
	snap, err := store.Save(context.Background(), "load", 3, data)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	require.NoError(t, RunHistory(statePath, 10))
	assert.Contains(t, out.String(), "VERSION")
	assert.Contains(t, out.String(), snap.ID)

	client.On("Submit", mock.Anything, mock.MatchedBy(func(c *npf.Config) bool {
		n, err := countRules(c)
		return err == nil && n == 3
	})).Return(nil).Once()
	out.Reset()
	require.NoError(t, RunRollback(statePath, snap.ID))
	assert.Equal(t, "Configuration loaded (3 rules)\n", out.String())

	assert.ErrorIs(t, RunRollback(statePath, "missing"), state.ErrNotFound)
}

type backendFunc func(ctx context.Context, cmd ctlplane.Command, req *dict.Map) (*dict.Map, error)

func (f backendFunc) Handle(ctx context.Context, cmd ctlplane.Command, req *dict.Map) (*dict.Map, error) {
	return f(ctx, cmd, req)
}

func TestStatusHandler(t *testing.T) {
	cfg, err := assemblePolicy(writePolicy(t, testPolicy))
	require.NoError(t, err)
	live := liveCopy(t, cfg)
	doc, err := live.Build()
	require.NoError(t, err)

	h := i18n.Middleware(statusHandler(backendFunc(func(_ context.Context, cmd ctlplane.Command, _ *dict.Map) (*dict.Map, error) {
		assert.Equal(t, ctlplane.CmdSave, cmd)
		return doc, nil
	})))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Engine aktiv: 3 Regeln, 1 NAT-Regeln, 1 Tabellen\n", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "Engine active: 3 rules, 1 NAT policies, 1 tables\n", rec.Body.String())
}
