// Package testutil gates tests that need a real kernel.
package testutil

import (
	"os"
	"testing"

	"grimm.is/npfkit/internal/brand"
)

// VMTestEnv names the environment variable that enables kernel tests.
var VMTestEnv = brand.ConfigEnvPrefix + "_VM_TEST"

// RequireVM skips the test unless VMTestEnv is set. Tests behind it touch
// nftables or interfaces of the machine they run on.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv(VMTestEnv) == "" {
		t.Skipf("Skipping test: requires %s environment", VMTestEnv)
	}
}

// RequireRoot skips the test unless it runs as uid 0.
func RequireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
}
