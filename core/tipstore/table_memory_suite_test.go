package tipstore_test

import (
	"testing"

	"github.com/codewandler/evstore/core/tipstore"
	"github.com/codewandler/evstore/core/tipstore/tabletest"
)

func TestMemoryTable_Conformance(t *testing.T) {
	tabletest.Run(t, tipstore.NewMemoryTable())
}
