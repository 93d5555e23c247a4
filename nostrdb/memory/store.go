// Package memory is an in-process Store backed by xsync concurrent
// maps for the hot id/deletion tables and mutex-guarded sorted slices
// for the secondary indices, modeled on rust-nostr's DatabaseHelper
// (author_index / kind_author_index / param_replaceable_index /
// deleted_coordinates).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb"
)

type entry struct {
	key   [40]byte
	event *nostr.Event
}

// Store is an in-memory nostrdb.Store. Zero value is not usable; use
// New.
type Store struct {
	ids       *xsync.MapOf[nostr.ID, *nostr.Event]
	deletedID *xsync.MapOf[nostr.ID, struct{}]
	vanished  *xsync.MapOf[nostr.PubKey, struct{}]

	mu                 sync.RWMutex
	byAuthor           map[nostr.PubKey][]entry
	byKindAuthor       map[kindAuthorKey][]entry
	byKind             map[int][]entry
	byAuthorTag        map[authorTagKey][]entry
	byKindTag          map[kindTagKey][]entry
	byTag              map[tagKey][]entry
	byCreated          []entry
	addressable        map[nostr.Coordinate]*nostr.Event
	deletedCoordinates map[nostr.Coordinate]time.Time
}

type kindAuthorKey struct {
	kind   int
	author nostr.PubKey
}

// tagKey, authorTagKey and kindTagKey index single-letter tags ("e",
// "p", "d", ...), the only tag names NIP-01 relays are required to
// filter on. tc/atc/ktc mirror the rust-nostr DatabaseHelper's
// tag_index / author_tag_index / kind_tag_index tables.
type tagKey struct {
	letter byte
	value  string
}

type authorTagKey struct {
	author nostr.PubKey
	letter byte
	value  string
}

type kindTagKey struct {
	kind   int
	letter byte
	value  string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		ids:                xsync.NewMapOf[nostr.ID, *nostr.Event](),
		deletedID:          xsync.NewMapOf[nostr.ID, struct{}](),
		vanished:           xsync.NewMapOf[nostr.PubKey, struct{}](),
		byAuthor:           make(map[nostr.PubKey][]entry),
		byKindAuthor:       make(map[kindAuthorKey][]entry),
		byKind:             make(map[int][]entry),
		byAuthorTag:        make(map[authorTagKey][]entry),
		byKindTag:          make(map[kindTagKey][]entry),
		byTag:              make(map[tagKey][]entry),
		addressable:        make(map[nostr.Coordinate]*nostr.Event),
		deletedCoordinates: make(map[nostr.Coordinate]time.Time),
	}
}

func (s *Store) Capabilities() nostrdb.Capabilities {
	return nostrdb.Capabilities{FullTextSearch: false, Durable: false}
}

func (s *Store) Close() error { return nil }

// sortKey orders events newest-first: a big-endian negated unix
// timestamp (so ascending byte order is descending time) followed by
// the raw id bytes as an ascending tiebreak.
func sortKey(e *nostr.Event) [40]byte {
	var k [40]byte
	neg := ^uint64(e.CreatedAt.Unix())
	for i := 0; i < 8; i++ {
		k[i] = byte(neg >> (56 - 8*i))
	}
	copy(k[8:], e.ID[:])
	return k
}

func (s *Store) Save(ctx context.Context, e *nostr.Event) (nostrdb.Result, error) {
	if nostr.Classify(e.Kind) == nostr.Ephemeral {
		return nostrdb.Result{Status: nostrdb.Rejected, Reason: nostrdb.ReasonEphemeralNotStored, Message: "ephemeral events are not stored"}, nil
	}
	if _, dup := s.ids.Load(e.ID); dup {
		return nostrdb.Result{Status: nostrdb.Duplicate, Message: "event already stored"}, nil
	}
	if _, ok := s.deletedID.Load(e.ID); ok {
		return nostrdb.Result{Status: nostrdb.Rejected, Reason: nostrdb.ReasonDeletedByAuthor, Message: "event id was previously deleted by its author"}, nil
	}
	if _, ok := s.vanished.Load(e.PubKey); ok {
		return nostrdb.Result{Status: nostrdb.Rejected, Reason: nostrdb.ReasonVanished, Message: "author requested vanish"}, nil
	}
	if expiresAt := e.Tags.First("expiration").Value(); expiresAt != "" {
		if secs, ok := atoi(expiresAt); ok && time.Unix(int64(secs), 0).Before(time.Now()) {
			return nostrdb.Result{Status: nostrdb.Rejected, Message: "event has already expired"}, nil
		}
	}

	if nostr.IsVanish(e.Kind) {
		if !hasAllRelaysTag(e) {
			return nostrdb.Result{Status: nostrdb.Rejected, Message: "vanish request missing relay=ALL_RELAYS tag"}, nil
		}
		s.vanished.Store(e.PubKey, struct{}{})
		s.purgeAuthor(e.PubKey)
		s.purgeGiftWrapsFor(e.PubKey)
		return nostrdb.Result{Status: nostrdb.Deleted, Message: "vanish processed"}, nil
	}

	if nostr.IsDeletion(e.Kind) {
		return s.processDeletion(e)
	}

	if coord, ok := e.Identifier(); ok {
		s.mu.Lock()
		if coordDeletedAt, wasDeleted := s.deletedCoordinates[coord]; wasDeleted && !e.CreatedAt.After(coordDeletedAt) {
			s.mu.Unlock()
			return nostrdb.Result{Status: nostrdb.Rejected, Reason: nostrdb.ReasonDeletedByAuthor, Message: "coordinate was deleted at or after this event's timestamp"}, nil
		}
		if existing, ok := s.addressable[coord]; ok {
			if !e.Supersedes(existing) {
				s.mu.Unlock()
				return nostrdb.Result{Status: nostrdb.Rejected, Reason: nostrdb.ReasonSuperseded, Message: "a newer or tie-winning event already occupies this coordinate"}, nil
			}
			s.removeLocked(existing)
			s.insertLocked(e)
			s.addressable[coord] = e
			s.mu.Unlock()
			s.ids.Delete(existing.ID)
			s.ids.Store(e.ID, e)
			return nostrdb.Result{Status: nostrdb.Replaced, Message: "replaced older event at same coordinate"}, nil
		}
		s.insertLocked(e)
		s.addressable[coord] = e
		s.mu.Unlock()
		s.ids.Store(e.ID, e)
		return nostrdb.Result{Status: nostrdb.Saved}, nil
	}

	s.mu.Lock()
	s.insertLocked(e)
	s.mu.Unlock()
	s.ids.Store(e.ID, e)

	return nostrdb.Result{Status: nostrdb.Saved}, nil
}

func hasAllRelaysTag(e *nostr.Event) bool {
	for _, v := range e.Tags.Values("relay") {
		if v == "ALL_RELAYS" {
			return true
		}
	}
	return false
}

// purgeGiftWrapsFor removes kind-1059 gift-wrap events p-tagging pk, as
// part of a vanish request's fan-out cleanup.
func (s *Store) purgeGiftWrapsFor(pk nostr.PubKey) {
	const kindGiftWrap = 1059
	s.mu.RLock()
	candidates := append([]entry(nil), s.byKind[kindGiftWrap]...)
	s.mu.RUnlock()

	for _, en := range candidates {
		if !containsTagValue(en.event, "p", pk.String()) {
			continue
		}
		s.mu.Lock()
		s.removeLocked(en.event)
		s.mu.Unlock()
		s.ids.Delete(en.event.ID)
	}
}

func containsTagValue(e *nostr.Event, name, value string) bool {
	for _, v := range e.Tags.Values(name) {
		if v == value {
			return true
		}
	}
	return false
}

// processDeletion applies a kind-5 deletion request: every e-tagged id
// and a-tagged coordinate authored by e.PubKey is removed. Deletions
// are never themselves subject to deletion. A single e-tagged target
// authored by someone else rejects the whole deletion (InvalidDelete)
// and nothing is removed.
func (s *Store) processDeletion(e *nostr.Event) (nostrdb.Result, error) {
	for _, id := range e.Tags.Values("e") {
		parsed, err := nostr.ParseID(id)
		if err != nil {
			continue
		}
		if target, ok := s.ids.Load(parsed); ok && target.PubKey != e.PubKey {
			return nostrdb.Result{Status: nostrdb.Rejected, Message: "deletion targets an event authored by someone else"}, nil
		}
	}

	for _, id := range e.Tags.Values("e") {
		parsed, err := nostr.ParseID(id)
		if err != nil {
			continue
		}
		if target, ok := s.ids.Load(parsed); ok && target.PubKey == e.PubKey && !nostr.IsDeletion(target.Kind) {
			s.mu.Lock()
			s.removeLocked(target)
			s.mu.Unlock()
			s.ids.Delete(parsed)
			s.deletedID.Store(parsed, struct{}{})
		}
	}
	for _, coordStr := range e.Tags.Values("a") {
		coord, ok := parseCoordinate(coordStr)
		if !ok || coord.Pubkey != e.PubKey {
			continue
		}
		s.mu.Lock()
		if s.deletedCoordinates[coord].Before(e.CreatedAt) {
			s.deletedCoordinates[coord] = e.CreatedAt
		}
		if target, ok := s.addressable[coord]; ok {
			s.removeLocked(target)
			delete(s.addressable, coord)
			s.mu.Unlock()
			s.ids.Delete(target.ID)
		} else {
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.insertLocked(e)
	s.mu.Unlock()
	s.ids.Store(e.ID, e)

	return nostrdb.Result{Status: nostrdb.Deleted, Message: "deletion processed"}, nil
}

func parseCoordinate(s string) (nostr.Coordinate, bool) {
	parts := splitN(s, ':', 3)
	if len(parts) < 2 {
		return nostr.Coordinate{}, false
	}
	kind, ok := atoi(parts[0])
	if !ok {
		return nostr.Coordinate{}, false
	}
	pk, err := nostr.ParsePubKey(parts[1])
	if err != nil {
		return nostr.Coordinate{}, false
	}
	d := ""
	if len(parts) == 3 {
		d = parts[2]
	}
	return nostr.Coordinate{Kind: kind, Pubkey: pk, D: d}, true
}

func splitN(s string, sep byte, n int) []string {
	var out []string
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func (s *Store) purgeAuthor(pk nostr.PubKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// removeLocked splices s.byAuthor[pk] in place, so iterate a
	// snapshot rather than the live slice it's mutating underneath us.
	snapshot := append([]entry(nil), s.byAuthor[pk]...)
	for _, en := range snapshot {
		s.ids.Delete(en.event.ID)
		s.removeLocked(en.event)
	}
	delete(s.byAuthor, pk)
	for coord := range s.addressable {
		if coord.Pubkey == pk {
			delete(s.addressable, coord)
		}
	}
}

func (s *Store) insertLocked(e *nostr.Event) {
	key := sortKey(e)
	en := entry{key: key, event: e}
	s.byAuthor[e.PubKey] = insertSorted(s.byAuthor[e.PubKey], en)
	s.byKindAuthor[kindAuthorKey{e.Kind, e.PubKey}] = insertSorted(s.byKindAuthor[kindAuthorKey{e.Kind, e.PubKey}], en)
	s.byKind[e.Kind] = insertSorted(s.byKind[e.Kind], en)
	s.byCreated = insertSorted(s.byCreated, en)
	for _, it := range indexableTags(e) {
		s.byTag[tagKey{it.letter, it.value}] = insertSorted(s.byTag[tagKey{it.letter, it.value}], en)
		s.byAuthorTag[authorTagKey{e.PubKey, it.letter, it.value}] = insertSorted(s.byAuthorTag[authorTagKey{e.PubKey, it.letter, it.value}], en)
		s.byKindTag[kindTagKey{e.Kind, it.letter, it.value}] = insertSorted(s.byKindTag[kindTagKey{e.Kind, it.letter, it.value}], en)
	}
}

func (s *Store) removeLocked(e *nostr.Event) {
	key := sortKey(e)
	s.byAuthor[e.PubKey] = removeSorted(s.byAuthor[e.PubKey], key)
	s.byKindAuthor[kindAuthorKey{e.Kind, e.PubKey}] = removeSorted(s.byKindAuthor[kindAuthorKey{e.Kind, e.PubKey}], key)
	s.byKind[e.Kind] = removeSorted(s.byKind[e.Kind], key)
	s.byCreated = removeSorted(s.byCreated, key)
	for _, it := range indexableTags(e) {
		s.byTag[tagKey{it.letter, it.value}] = removeSorted(s.byTag[tagKey{it.letter, it.value}], key)
		s.byAuthorTag[authorTagKey{e.PubKey, it.letter, it.value}] = removeSorted(s.byAuthorTag[authorTagKey{e.PubKey, it.letter, it.value}], key)
		s.byKindTag[kindTagKey{e.Kind, it.letter, it.value}] = removeSorted(s.byKindTag[kindTagKey{e.Kind, it.letter, it.value}], key)
	}
}

// indexedTag is one single-letter tag worth indexing.
type indexedTag struct {
	letter byte
	value  string
}

// indexableTags returns the event's single-letter tags (the ones
// NIP-01 filters can constrain on), deduplicated so a repeated
// "e" tag with the same value doesn't insert into an index twice.
func indexableTags(e *nostr.Event) []indexedTag {
	seen := make(map[indexedTag]struct{})
	var out []indexedTag
	for _, tag := range e.Tags.All() {
		name := tag.Name()
		if len(name) != 1 {
			continue
		}
		v := tag.Value()
		if v == "" {
			continue
		}
		it := indexedTag{letter: name[0], value: v}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

func insertSorted(list []entry, en entry) []entry {
	i := sort.Search(len(list), func(i int) bool {
		return cmpKey(list[i].key, en.key) >= 0
	})
	list = append(list, entry{})
	copy(list[i+1:], list[i:])
	list[i] = en
	return list
}

func removeSorted(list []entry, key [40]byte) []entry {
	i := sort.Search(len(list), func(i int) bool {
		return cmpKey(list[i].key, key) >= 0
	})
	if i < len(list) && list[i].key == key {
		return append(list[:i], list[i+1:]...)
	}
	return list
}

func cmpKey(a, b [40]byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
