package market

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrOutOfOrderData is returned by Record when a snapshot is older than the
// last one recorded for its symbol.
var ErrOutOfOrderData = errors.New("out of order market data")

// ErrInvalidPrice is returned by Record for a snapshot without a positive
// last price.
var ErrInvalidPrice = errors.New("non-positive market price")

// Status qualifies a Window result.
type Status int

const (
	StatusOK Status = iota
	// StatusInsufficient means fewer snapshots than requested exist. Callers
	// treat it as "no signal possible".
	StatusInsufficient
)

func (s Status) String() string {
	if s == StatusInsufficient {
		return "insufficient"
	}
	return "ok"
}

// Store keeps a bounded sliding window of snapshots per symbol. Only the
// engine writes; readers such as the paper exchange may call Latest
// concurrently.
type Store struct {
	mu       sync.RWMutex
	capacity int
	series   map[string]*ring
}

// NewStore sizes every symbol's window to capacity snapshots.
func NewStore(capacity int) *Store {
	if capacity < 2 {
		capacity = 2
	}
	return &Store{capacity: capacity, series: make(map[string]*ring)}
}

func (s *Store) Capacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity
}

// Grow raises the per-symbol capacity, keeping recorded history. Shrinking
// is not supported.
func (s *Store) Grow(capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if capacity <= s.capacity {
		return
	}
	s.capacity = capacity
	for sym, r := range s.series {
		grown := newRing(capacity)
		for _, snap := range r.tail(r.size) {
			grown.push(snap)
		}
		s.series[sym] = grown
	}
}

// Record appends snap. Equal timestamps are accepted; older ones and
// snapshots without a positive last price are rejected.
func (s *Store) Record(snap MarketSnapshot) error {
	symbol := strings.ToUpper(strings.TrimSpace(snap.Symbol))
	if symbol == "" {
		return fmt.Errorf("record snapshot: empty symbol")
	}
	snap.Symbol = symbol
	if !snap.Last.IsPositive() {
		return fmt.Errorf("%w: %s last=%s", ErrInvalidPrice, symbol, snap.Last)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.series[symbol]
	if !ok {
		r = newRing(s.capacity)
		s.series[symbol] = r
	}
	if last, ok := r.last(); ok && snap.Timestamp.Before(last.Timestamp) {
		return fmt.Errorf("%w: %s %s before %s", ErrOutOfOrderData, symbol,
			snap.Timestamp.Format("15:04:05.000"), last.Timestamp.Format("15:04:05.000"))
	}
	r.push(snap)
	return nil
}

// Window returns the most recent length snapshots oldest first. When fewer
// exist all of them are returned with StatusInsufficient.
func (s *Store) Window(symbol string, length int) ([]MarketSnapshot, Status) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.series[symbol]
	if !ok || length <= 0 {
		return nil, StatusInsufficient
	}
	out := r.tail(length)
	if len(out) < length {
		return out, StatusInsufficient
	}
	return out, StatusOK
}

// Latest returns the newest snapshot of symbol.
func (s *Store) Latest(symbol string) (MarketSnapshot, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.series[symbol]
	if !ok {
		return MarketSnapshot{}, false
	}
	return r.last()
}

// Symbols lists symbols with at least one snapshot.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.series))
	for sym := range s.series {
		out = append(out, sym)
	}
	return out
}

type ring struct {
	buf   []MarketSnapshot
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]MarketSnapshot, capacity)}
}

func (r *ring) push(v MarketSnapshot) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) last() (MarketSnapshot, bool) {
	if r.size == 0 {
		return MarketSnapshot{}, false
	}
	return r.buf[(r.start+r.size-1)%len(r.buf)], true
}

func (r *ring) tail(n int) []MarketSnapshot {
	if n > r.size {
		n = r.size
	}
	out := make([]MarketSnapshot, n)
	first := r.start + r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(first+i)%len(r.buf)]
	}
	return out
}
