package memory

import (
	"testing"

	"github.com/nitishm/bindle/storage"
	"github.com/nitishm/bindle/storage/testkit"
)

func TestMemory_Conformance(t *testing.T) {
	testkit.RunConformance(t, func(t *testing.T) storage.ObjectStore {
		return New()
	})
}
