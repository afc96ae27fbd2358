package store_test

import (
	"os"
	"testing"

	"github.com/dshills/launchpad-go/store"
)

// mysqlTestDSN returns the DSN the integration tests should connect to,
// skipping the test when it isn't set. There is no way to stand up MySQL
// in a unit test run, so this only runs when LAUNCHPAD_MYSQL_DSN points
// at a real (throwaway) database, e.g. in CI with a MySQL service
// container.
func mysqlTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("LAUNCHPAD_MYSQL_DSN")
	if dsn == "" {
		t.Skip("LAUNCHPAD_MYSQL_DSN not set; skipping MySQL integration test")
	}
	return dsn
}

func TestMySQLStore_Conformance(t *testing.T) {
	dsn := mysqlTestDSN(t)
	runConformance(t, func(t *testing.T) store.Store {
		t.Helper()
		s, err := store.NewMySQLStore(dsn)
		if err != nil {
			t.Fatalf("NewMySQLStore() error: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMySQLStore_DocumentTooLarge(t *testing.T) {
	dsn := mysqlTestDSN(t)
	s, err := store.NewMySQLStore(dsn, store.WithMySQLMaxDocumentBytes(64))
	if err != nil {
		t.Fatalf("NewMySQLStore() error: %v", err)
	}
	defer s.Close()

	fw := newLargeFirework()
	if err := s.ReplaceFirework(testCtx(), fw, true); err != store.ErrDocumentTooLarge {
		t.Errorf("ReplaceFirework() error = %v, want ErrDocumentTooLarge", err)
	}
}
