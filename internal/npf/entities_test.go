package npf

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/npfkit/internal/dict"
)

func TestRule_SetCode(t *testing.T) {
	r := NewRule("r", RulePass|RuleIn, "eth0")
	require.NoError(t, r.SetCode(CodeBPF, make([]byte, 16)))
	typ, code := r.Code()
	assert.Equal(t, CodeBPF, typ)
	assert.Len(t, code, 16)

	assert.ErrorIs(t, r.SetCode(CodeType(9), []byte{1}), ErrInvalidArgument)
	assert.ErrorIs(t, r.SetCode(CodeBPF, make([]byte, 12)), ErrInvalidArgument)
	typ, code = r.Code()
	assert.Equal(t, CodeBPF, typ, "rule unchanged after rejected code")
	assert.Len(t, code, 16)

	require.NoError(t, r.SetCode(CodeNC, []byte{1, 2, 3}))
}

func TestRule_Fields(t *testing.T) {
	r := NewRule("", RuleDynamic|RuleGroup, "")
	assert.False(t, r.Map().Has("name"))
	assert.False(t, r.Map().Has("ifname"))
	assert.Equal(t, PriLast, r.Priority())

	r.SetPriority(PriFirst)
	r.SetKey([]byte("k1"))
	r.SetInfo([]byte{0})
	r.SetProc("log")
	assert.Equal(t, PriFirst, r.Priority())
	assert.Equal(t, []byte("k1"), r.Key())
	assert.Equal(t, []byte{0}, r.Info())
	assert.Equal(t, "log", r.Proc())
	assert.Equal(t, uint64(0), r.ID())

	data, err := r.Export()
	require.NoError(t, err)
	m, err := dict.UnmarshalMap(data)
	require.NoError(t, err)
	assert.True(t, dict.Equal(r.Map(), m))
}

func TestNewNAT(t *testing.T) {
	n, err := NewNAT(NATIn, NATPortMap, "eth1", netip.MustParseAddr("10.1.1.1"), 32, 8080)
	require.NoError(t, err)
	assert.Equal(t, RulePass|RuleFinal|RuleIn, n.Attr())
	assert.Equal(t, NATPortMap, n.Flags())
	pfx, port := n.Translation()
	assert.Equal(t, netip.MustParsePrefix("10.1.1.1/32"), pfx)
	assert.Equal(t, uint16(8080), port)

	n.SetNPT66(0xfffe)
	assert.Equal(t, AlgoNPT66, n.Algo())
	adj, ok := n.NPT66Adj()
	assert.True(t, ok)
	assert.Equal(t, uint16(0xfffe), adj)

	_, err = NewNAT(NATOut, 0, "", netip.MustParseAddr("10.0.0.1"), 33, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewNAT(NATOut, 0, "", netip.Addr{}, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewNAT(NATType(5), 0, "", netip.MustParseAddr("10.0.0.1"), 8, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTable_MalformedEntriesSkipped(t *testing.T) {
	tbl := NewTable("t", 4, TableTree)
	require.NoError(t, tbl.AddEntry(netip.MustParsePrefix("2001:db8::/32")))
	entries, _ := tbl.Map().GetList("entries")
	bad := dict.NewMap()
	bad.SetBlob("addr", []byte{1, 2, 3})
	bad.SetUint8("mask", 8)
	entries.Append(bad)

	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("2001:db8::/32")}, tbl.Entries())

	unset := TableFromMap(dict.NewMap())
	assert.Equal(t, ^uint32(0), unset.ID())
}

func TestPeerError(t *testing.T) {
	assert.Nil(t, PeerErrorFromMap(dict.NewMap()))

	e := &PeerError{Code: 22, ID: 3, SourceFile: "engine.go", SourceLine: 42}
	back := PeerErrorFromMap(e.Map())
	require.NotNil(t, back)
	assert.Equal(t, e, back)
	assert.ErrorIs(t, back, ErrPeer)
	assert.Contains(t, back.Error(), "engine.go:42")
}
