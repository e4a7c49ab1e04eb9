//go:build !linux

package health

import "context"

// NftablesCheck always reports degraded off Linux.
func NftablesCheck(table string) CheckFunc {
	return func(ctx context.Context) Check {
		return Check{Status: StatusDegraded, Message: "nftables not available on this platform"}
	}
}
