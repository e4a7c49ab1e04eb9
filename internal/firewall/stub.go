//go:build !linux

package firewall

import (
	"errors"

	"grimm.is/npfkit/internal/npf"
)

// ErrUnsupported is returned where nftables is unavailable.
var ErrUnsupported = errors.New("nftables is only available on linux")

// SetSync is unavailable off Linux.
type SetSync struct{}

// Open always fails off Linux.
func Open(tableName string) (*SetSync, error) {
	return nil, ErrUnsupported
}

func (s *SetSync) SyncTables(tables []*npf.Table) error {
	return ErrUnsupported
}
