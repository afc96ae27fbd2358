package store_test

import (
	"context"

	"github.com/dshills/launchpad-go/model"
)

func testCtx() context.Context {
	return context.Background()
}

// newLargeFirework returns a firework whose spec alone serializes past
// any reasonable maxDocumentBytes test threshold.
func newLargeFirework() *model.Firework {
	big := make([]interface{}, 0, 64)
	for i := 0; i < 64; i++ {
		big = append(big, "padding-to-exceed-the-configured-document-size-limit")
	}
	fw := model.NewFirework("oversize", map[string]interface{}{"payload": big}, nil)
	fw.FwID = 500
	return fw
}
