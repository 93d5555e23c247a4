package negentropy

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sort"
)

const (
	negInfinity = math.MinInt64
	posInfinity = math.MaxInt64
)

// Storage is a sealed, sorted view over a set of items, ready for
// range queries and fingerprinting. Build once per Session; it does not
// support mutation after construction (mirrors the "sealed" storage the
// reference protocol builds before starting a round).
type Storage struct {
	items []Item // sorted ascending by (Timestamp, ID)
}

// NewStorage sorts and seals a copy of items.
func NewStorage(items []Item) *Storage {
	cp := make([]Item, len(items))
	copy(cp, items)
	sort.Slice(cp, func(i, j int) bool { return itemLess(cp[i], cp[j]) })
	return &Storage{items: cp}
}

func itemLess(a, b Item) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return bytesLess(a.ID[:], b.ID[:])
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// boundsIndex returns [lo, hi) indices into s.items within [lower, upper).
func (s *Storage) boundsIndex(lower, upper int64) (int, int) {
	lo := sort.Search(len(s.items), func(i int) bool { return s.items[i].Timestamp >= lower })
	var hi int
	if upper == posInfinity {
		hi = len(s.items)
	} else {
		hi = sort.Search(len(s.items), func(i int) bool { return s.items[i].Timestamp >= upper })
	}
	return lo, hi
}

// ItemsInRange returns items with lower <= Timestamp < upper.
func (s *Storage) ItemsInRange(lower, upper int64) []Item {
	lo, hi := s.boundsIndex(lower, upper)
	out := make([]Item, hi-lo)
	copy(out, s.items[lo:hi])
	return out
}

// Fingerprint returns a 16-byte accumulator over every item in
// [lower, upper): the running byte-wise sum of every id, combined with
// the item count so an empty range and a range whose ids cancel out
// byte-sum-wise are never mistaken for one another.
func (s *Storage) Fingerprint(lower, upper int64) [16]byte {
	lo, hi := s.boundsIndex(lower, upper)
	var acc [32]byte
	for i := lo; i < hi; i++ {
		id := s.items[i].ID
		for b := 0; b < 32; b++ {
			acc[b] += id[b]
		}
	}
	var countBuf [8]byte
	binary.BigEndian.PutUint64(countBuf[:], uint64(hi-lo))
	h := sha256.New()
	h.Write(acc[:])
	h.Write(countBuf[:])
	sum := h.Sum(nil)
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

// Len returns the number of items held.
func (s *Storage) Len() int { return len(s.items) }
