package state

import (
	"sort"
	"sync"
)

// SymbolState is the last price observed for a symbol.
type SymbolState struct {
	Symbol        string  `json:"symbol"`
	LastPrice     float64 `json:"lastPrice"`
	LastTimestamp int64   `json:"lastTimestamp"`
}

// Store keeps one SymbolState per symbol for the lifetime of the process.
// Entries are never evicted; the key space is bounded by the watch-list.
type Store struct {
	mu     sync.RWMutex
	states map[string]SymbolState
}

func NewStore() *Store {
	return &Store{states: make(map[string]SymbolState)}
}

func (s *Store) Get(symbol string) (SymbolState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[symbol]
	return st, ok
}

// Upsert records price and timestamp as the latest state of symbol and returns the
// state it replaced. The read and the write happen under one lock, so callers can
// derive the previous price without racing another writer on the same symbol.
func (s *Store) Upsert(symbol string, price float64, timestamp int64) (prior SymbolState, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior, existed = s.states[symbol]
	s.states[symbol] = SymbolState{Symbol: symbol, LastPrice: price, LastTimestamp: timestamp}
	return prior, existed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// Snapshot returns a copy of every entry, sorted by symbol.
func (s *Store) Snapshot() []SymbolState {
	s.mu.RLock()
	out := make([]SymbolState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
