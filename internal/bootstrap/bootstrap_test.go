package bootstrap

import (
	"context"
	"os"
	"testing"
)

func TestSeedNoopWithoutAdminName(t *testing.T) {
	os.Unsetenv("HYDROGEN_DEMO_ADMIN_NAME")

	// svc is nil: if Seed tried to use it without the env-var gate, this
	// would panic instead of returning cleanly.
	if err := Seed(context.Background(), nil, "testdb"); err != nil {
		t.Fatalf("Seed with no HYDROGEN_DEMO_ADMIN_NAME: %v", err)
	}
}
