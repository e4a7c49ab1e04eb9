//go:build linux

package health

import (
	"context"
	"fmt"

	"github.com/google/nftables"
)

// NftablesCheck reports whether the table receiving mirrored sets
// exists. A missing table is degraded: it is created on the next load.
func NftablesCheck(table string) CheckFunc {
	return func(ctx context.Context) Check {
		conn, err := nftables.New()
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("failed to open nftables connection: %v", err)}
		}
		tables, err := conn.ListTables()
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("failed to list tables: %v", err)}
		}
		for _, t := range tables {
			if t.Name == table {
				return Check{Status: StatusHealthy, Message: fmt.Sprintf("table %s present", table)}
			}
		}
		return Check{Status: StatusDegraded, Message: fmt.Sprintf("table %s not found", table)}
	}
}
