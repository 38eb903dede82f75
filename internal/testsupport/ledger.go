package testsupport

import (
	"testing"

	"dashwatch/internal/config"
	"dashwatch/internal/ledger"
)

// MustOpenLedger opens the job ledger for cfg and closes it on cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
