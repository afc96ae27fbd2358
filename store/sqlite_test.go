package store_test

import (
	"testing"

	"github.com/dshills/launchpad-go/store"
)

func TestSQLiteStore_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) store.Store {
		t.Helper()
		s, err := store.NewSQLiteStore("file::memory:?cache=shared")
		if err != nil {
			t.Fatalf("NewSQLiteStore() error: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStore_DocumentTooLarge(t *testing.T) {
	s, err := store.NewSQLiteStore("file::memory:?cache=shared", store.WithSQLiteMaxDocumentBytes(64))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	defer s.Close()

	fw := newLargeFirework()
	if err := s.ReplaceFirework(testCtx(), fw, true); err != store.ErrDocumentTooLarge {
		t.Errorf("ReplaceFirework() error = %v, want ErrDocumentTooLarge", err)
	}
}
