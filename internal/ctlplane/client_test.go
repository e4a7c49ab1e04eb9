package ctlplane

import (
	"context"
	"errors"
	"net/netip"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/npfkit/internal/dict"
	"grimm.is/npfkit/internal/npf"
)

func errorDoc(code int32) *dict.Map {
	return (&npf.PeerError{Code: code, ID: 7, SourceFile: "npf_conf.c", SourceLine: 212}).Map()
}

func TestClient_SubmitPeerError(t *testing.T) {
	ch := new(MockChannel)
	c := NewClient(ch)
	ctx := context.Background()

	cfg := npf.NewConfig()
	require.NoError(t, cfg.InsertRule(nil, npf.NewRule("r1", npf.RulePass|npf.RuleIn, "")))

	ch.On("SendRecv", ctx, CmdLoad, mock.AnythingOfType("*dict.Map")).Return(errorDoc(int32(syscall.EINVAL)), nil).Once()

	err := c.Submit(ctx, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, npf.ErrPeer))
	assert.False(t, errors.Is(err, npf.ErrProtocol))

	pe := c.LastError()
	require.NotNil(t, pe)
	assert.Equal(t, int32(syscall.EINVAL), pe.Code)
	assert.Equal(t, int64(7), pe.ID)
	assert.Equal(t, "npf_conf.c", pe.SourceFile)
	assert.Equal(t, uint32(212), pe.SourceLine)

	// The local configuration is unchanged by the rejected exchange.
	it := cfg.Rules()
	require.True(t, it.Next())
	assert.Equal(t, "r1", it.Rule().Name())
	assert.False(t, it.Next())

	// A later success clears the record.
	ch.On("SendRecv", ctx, CmdLoad, mock.AnythingOfType("*dict.Map")).Return(dict.NewMap(), nil).Once()
	require.NoError(t, c.Flush(ctx))
	assert.Nil(t, c.LastError())
	ch.AssertExpectations(t)
}

func TestClient_TransportErrorIsNotPeerError(t *testing.T) {
	ch := new(MockChannel)
	c := NewClient(ch)
	ctx := context.Background()

	ch.On("SendRecv", ctx, CmdSave, (*dict.Map)(nil)).Return(nil, &TransportError{Op: "save", Errno: syscall.EPIPE})

	_, err := c.Retrieve(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, npf.ErrProtocol))
	assert.False(t, errors.Is(err, npf.ErrPeer))
	assert.Nil(t, c.LastError())
}

func TestClient_RuleAdd(t *testing.T) {
	ch := new(MockChannel)
	c := NewClient(ch)
	ctx := context.Background()

	r := npf.NewRule("block-ssh", npf.RuleIn, "eth0")
	r.SetKey([]byte{0xab, 0xcd})

	resp := dict.NewMap()
	resp.SetUint64("id", 42)
	ch.On("SendRecv", ctx, CmdRule, mock.MatchedBy(func(req *dict.Map) bool {
		name, _ := req.GetString("ruleset-name")
		cmd, _ := req.GetUint32("command")
		rname, _ := req.GetString("name")
		return name == "dyn" && cmd == RuleAdd && rname == "block-ssh"
	})).Return(resp, nil)

	id, err := c.RuleAdd(ctx, "dyn", r)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	assert.False(t, r.Map().Has("ruleset-name"), "caller's rule must not be modified")
	assert.False(t, r.Map().Has("command"))
}

func TestClient_RuleAddWithoutID(t *testing.T) {
	ch := new(MockChannel)
	c := NewClient(ch)
	ctx := context.Background()
	ch.On("SendRecv", ctx, CmdRule, mock.Anything).Return(dict.NewMap(), nil)

	_, err := c.RuleAdd(ctx, "dyn", npf.NewRule("", npf.RuleIn, ""))
	assert.ErrorIs(t, err, npf.ErrFormat)
}

func TestClient_SendOnlyRuleCommands(t *testing.T) {
	ch := new(MockChannel)
	c := NewClient(ch)
	ctx := context.Background()

	op := func(want uint32) any {
		return mock.MatchedBy(func(req *dict.Map) bool {
			cmd, _ := req.GetUint32("command")
			return cmd == want
		})
	}
	ch.On("Send", ctx, CmdRule, op(RuleRemove)).Return(nil)
	ch.On("Send", ctx, CmdRule, op(RuleRemKey)).Return(&npf.PeerError{Code: int32(syscall.ENOENT)})
	ch.On("Send", ctx, CmdRule, op(RuleFlush)).Return(nil)

	require.NoError(t, c.RuleRemove(ctx, "dyn", 3))

	err := c.RuleRemoveKey(ctx, "dyn", []byte{1})
	assert.ErrorIs(t, err, npf.ErrPeer)
	require.NotNil(t, c.LastError())
	assert.Equal(t, int32(syscall.ENOENT), c.LastError().Code)

	require.NoError(t, c.RuleFlush(ctx, "dyn"))
	assert.Nil(t, c.LastError())

	assert.ErrorIs(t, c.RuleRemoveKey(ctx, "dyn", nil), npf.ErrInvalidArgument)
	ch.AssertNumberOfCalls(t, "Send", 3)
}

func TestClient_RuleList(t *testing.T) {
	ch := new(MockChannel)
	c := NewClient(ch)
	ctx := context.Background()

	ch.On("SendRecv", ctx, CmdRule, mock.Anything).Return(dict.NewMap(), nil).Once()
	_, err := c.RuleList(ctx, "dyn")
	assert.ErrorIs(t, err, npf.ErrFormat, "rules array is required")

	resp := dict.NewMap()
	resp.Set("rules", dict.NewList(npf.NewRule("a", npf.RuleIn, "").Map(), npf.NewRule("b", npf.RuleOut, "").Map()))
	ch.On("SendRecv", ctx, CmdRule, mock.Anything).Return(resp, nil).Once()

	cfg, err := c.RuleList(ctx, "dyn")
	require.NoError(t, err)
	var names []string
	for it := cfg.Rules(); it.Next(); {
		names = append(names, it.Rule().Name())
	}
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestClient_NATLookup(t *testing.T) {
	ch := new(MockChannel)
	c := NewClient(ch)
	ctx := context.Background()

	key := npf.ConnKey{
		Proto: 6,
		Src:   netip.MustParseAddrPort("10.0.0.2:40000"),
		Dst:   netip.MustParseAddrPort("192.0.2.1:80"),
	}
	want := npf.NATResult{Original: netip.MustParseAddrPort("10.0.0.2:40000"), TranslatedPort: 61000}
	ch.On("SendRecv", ctx, CmdConnLookup, mock.Anything).Return(want.Map(), nil).Once()

	got, err := c.NATLookup(ctx, key, npf.DirOut)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ch.On("SendRecv", ctx, CmdConnLookup, mock.Anything).Return(dict.NewMap(), nil).Once()
	_, err = c.NATLookup(ctx, key, npf.DirOut)
	assert.ErrorIs(t, err, npf.ErrNotFound)

	_, err = c.NATLookup(ctx, key, 9)
	assert.ErrorIs(t, err, npf.ErrInvalidArgument)
	ch.AssertNumberOfCalls(t, "SendRecv", 2)
}

func TestErrno(t *testing.T) {
	tests := []struct {
		err  error
		want syscall.Errno
	}{
		{nil, 0},
		{ErrUnsupported, syscall.EOPNOTSUPP},
		{npf.ErrNotFound, syscall.ENOENT},
		{npf.ErrAlreadyExists, syscall.EEXIST},
		{npf.ErrMaterialized, syscall.EINVAL},
		{npf.ErrVersion, syscall.EINVAL},
		{&npf.PeerError{Code: int32(syscall.EBUSY)}, syscall.EBUSY},
		{syscall.EPERM, syscall.EPERM},
		{errors.New("boom"), syscall.EIO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Errno(tt.err), "%v", tt.err)
	}
}
