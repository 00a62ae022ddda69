package testsupport

import (
	"testing"

	"dmagent/internal/config"
	"dmagent/internal/journal"
)

// MustOpenJournal opens the task journal for tests and registers cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Store {
	t.Helper()

	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
