package vanstock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vanroute/vanroute/internal/unit"
)

func TestEditSetKeepsStagingOrderOnReplace(t *testing.T) {
	es := NewEditSet()
	es.Put(StockLine{ProductID: 2, Unit: unit.Kilogram, StartQty: 1})
	es.Put(StockLine{ProductID: 1, Unit: unit.Kilogram, StartQty: 2})
	es.Put(StockLine{ProductID: 2, Unit: unit.Kilogram, StartQty: 3})

	lines := es.Lines()
	require.Len(t, lines, 2)
	require.Equal(t, int64(2), lines[0].ProductID)
	require.InDelta(t, 3.0, lines[0].StartQty, 0.0001)
	require.Equal(t, int64(1), lines[1].ProductID)
}

// Handler goroutines edit a session while the change listener resets it.
// Run with the race detector to catch unguarded access to the draft map.
func TestEditSetSurvivesConcurrentReset(t *testing.T) {
	registry := NewSessionRegistry()
	key := SessionKey{VehicleID: 7, OperatorID: 21, Date: "2026-03-14"}
	es := registry.Acquire(key)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < 1000; i++ {
			es.Put(StockLine{ProductID: int64(i%10 + 1), Unit: unit.Kilogram, StartQty: float64(i)})
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_ = es.Lines()
				_ = es.Len()
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				registry.ResetMatching(7, "2026-03-14")
			}
		}
	}()
	wg.Wait()

	es.Clear()
	require.Zero(t, es.Len())
	require.Empty(t, es.Lines())
}
