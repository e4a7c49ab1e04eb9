package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"grimm.is/npfkit/internal/npf"
)

func TestInterfaceName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"eth0", false},
		{"wan0.100", false},
		{"br-lan", false},
		{"npflog_0", false},
		{"", true},
		{"abcdefghijklmnop", true},
		{"eth0;rm", true},
		{"eth 0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InterfaceName(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, npf.ErrInvalidArgument)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIdentifier(t *testing.T) {
	assert.NoError(t, Identifier("blocklist"))
	assert.NoError(t, Identifier("rate_limit-2"))
	assert.ErrorIs(t, Identifier(""), npf.ErrInvalidArgument)
	assert.ErrorIs(t, Identifier("a.b"), npf.ErrInvalidArgument)
	assert.ErrorIs(t, Identifier(strings.Repeat("x", MaxIdentifier+1)), npf.ErrInvalidArgument)
}

func TestProtocol(t *testing.T) {
	for name, want := range map[string]uint16{"tcp": 6, "UDP": 17, "icmp6": 58, "132": 132, "0": 0} {
		got, err := Protocol(name)
		assert.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	for _, bad := range []string{"", "pigeon", "256", "-1"} {
		_, err := Protocol(bad)
		assert.ErrorIs(t, err, npf.ErrInvalidArgument, bad)
	}
}
