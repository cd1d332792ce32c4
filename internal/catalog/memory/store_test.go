package memory

import (
	"testing"

	"warcreplay/internal/catalog"
	"warcreplay/internal/catalog/catalogtest"
)

func TestConformance(t *testing.T) {
	catalogtest.TestStore(t, func(t *testing.T) catalog.Store {
		return NewStore()
	})
}
