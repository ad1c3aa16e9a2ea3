package state_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/state"
)

func TestStore_UpsertReturnsPrior(t *testing.T) {
	s := state.NewStore()

	if _, ok := s.Get("AAPL"); ok {
		t.Fatal("Empty store should not contain AAPL")
	}

	if _, existed := s.Upsert("AAPL", 100, 1); existed {
		t.Error("First upsert should report no prior state")
	}

	prior, existed := s.Upsert("AAPL", 102, 2)
	if !existed {
		t.Fatal("Second upsert should report prior state")
	}
	if prior.LastPrice != 100 || prior.LastTimestamp != 1 {
		t.Errorf("Unexpected prior state: %+v", prior)
	}

	got, _ := s.Get("AAPL")
	if got.LastPrice != 102 || got.LastTimestamp != 2 || got.Symbol != "AAPL" {
		t.Errorf("Unexpected current state: %+v", got)
	}
	if s.Len() != 1 {
		t.Errorf("Expected one entry per symbol, got %d", s.Len())
	}
}

func TestStore_Snapshot_Sorted(t *testing.T) {
	s := state.NewStore()
	s.Upsert("MSFT", 50, 1)
	s.Upsert("AAPL", 100, 1)

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Symbol != "AAPL" || snap[1].Symbol != "MSFT" {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
}

// Every upsert must observe exactly the value written by the one before it.
func TestStore_ConcurrentUpsertChain(t *testing.T) {
	s := state.NewStore()
	const writers, perWriter = 8, 500

	var mu sync.Mutex
	seenPrior := make(map[float64]int)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				price := float64(w*perWriter + i + 1)
				prior, existed := s.Upsert("AAPL", price, int64(i))
				if existed {
					mu.Lock()
					seenPrior[prior.LastPrice]++
					mu.Unlock()
				}
				s.Upsert(fmt.Sprintf("SYM%d", w), price, int64(i))
			}
		}(w)
	}
	wg.Wait()

	if len(seenPrior) != writers*perWriter-1 {
		t.Errorf("Expected %d distinct priors, got %d", writers*perWriter-1, len(seenPrior))
	}
	for price, n := range seenPrior {
		if n != 1 {
			t.Errorf("Prior %v observed %d times", price, n)
		}
	}
	if s.Len() != writers+1 {
		t.Errorf("Expected %d symbols, got %d", writers+1, s.Len())
	}
}
