package history

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ratewatch/internal/rates"
)

// Point is one recorded observation for a pair.
type Point struct {
	Pair       rates.Pair
	Rate       decimal.Decimal
	ObservedAt time.Time
}

// Ring keeps the last capacity points for one pair, oldest evicted first.
type Ring struct {
	mu     sync.RWMutex
	points []Point
	index  int
	count  int
}

// NewRing creates a ring with the given fixed capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{points: make([]Point, capacity)}
}

// Append records a point, evicting the oldest when full.
func (r *Ring) Append(p Point) {
	r.mu.Lock()
	r.points[r.index] = p
	r.index = (r.index + 1) % len(r.points)
	if r.count < len(r.points) {
		r.count++
	}
	r.mu.Unlock()
}

// Len returns the number of points currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// All returns every held point, oldest first.
func (r *Ring) All() []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ordered(r.count)
}

// Last returns up to n most recent points, oldest first.
func (r *Ring) Last(n int) []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n > r.count {
		n = r.count
	}
	return r.ordered(n)
}

// Since returns points observed at or after t, oldest first.
func (r *Ring) Since(t time.Time) []Point {
	all := r.All()
	for i, p := range all {
		if !p.ObservedAt.Before(t) {
			return all[i:]
		}
	}
	return nil
}

// ordered copies the newest n points out of the ring in observation order.
// Callers must hold at least a read lock.
func (r *Ring) ordered(n int) []Point {
	out := make([]Point, 0, n)
	start := r.index - n
	if r.count < len(r.points) {
		start = r.count - n
	}
	for i := 0; i < n; i++ {
		idx := ((start + i) % len(r.points) + len(r.points)) % len(r.points)
		out = append(out, r.points[idx])
	}
	return out
}

// Book holds one ring per pair, created lazily on first observation.
type Book struct {
	mu       sync.RWMutex
	rings    map[rates.Pair]*Ring
	capacity int
}

// NewBook creates a book whose rings hold capacity points each. Capacity is
// sized to cover the longest supported prediction/chart window.
func NewBook(capacity int) *Book {
	return &Book{rings: make(map[rates.Pair]*Ring), capacity: capacity}
}

// Append records a point on the pair's ring.
func (b *Book) Append(p Point) {
	b.ring(p.Pair, true).Append(p)
}

// Ring returns the pair's ring, or nil when the pair was never observed.
func (b *Book) Ring(pair rates.Pair) *Ring {
	return b.ring(pair, false)
}

// Last returns up to n most recent points for a pair, oldest first.
func (b *Book) Last(pair rates.Pair, n int) []Point {
	r := b.ring(pair, false)
	if r == nil {
		return nil
	}
	return r.Last(n)
}

// Since returns the pair's points observed at or after t, oldest first.
func (b *Book) Since(pair rates.Pair, t time.Time) []Point {
	r := b.ring(pair, false)
	if r == nil {
		return nil
	}
	return r.Since(t)
}

func (b *Book) ring(pair rates.Pair, create bool) *Ring {
	b.mu.RLock()
	r, ok := b.rings[pair]
	b.mu.RUnlock()
	if ok || !create {
		return r
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok = b.rings[pair]; ok {
		return r
	}
	r = NewRing(b.capacity)
	b.rings[pair] = r
	return r
}
