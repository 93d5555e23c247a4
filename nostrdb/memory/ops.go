package memory

import (
	"context"
	"time"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb"
)

// CheckID reports whether id is currently stored, was deleted, or was
// never seen.
func (s *Store) CheckID(ctx context.Context, id nostr.ID) (nostrdb.IDStatus, error) {
	if _, ok := s.ids.Load(id); ok {
		return nostrdb.ExistsSaved, nil
	}
	if _, ok := s.deletedID.Load(id); ok {
		return nostrdb.ExistsDeleted, nil
	}
	return nostrdb.NotExistent, nil
}

// EventByID returns the stored event for id, if any.
func (s *Store) EventByID(ctx context.Context, id nostr.ID) (nostr.Event, bool, error) {
	e, ok := s.ids.Load(id)
	if !ok {
		return nostr.Event{}, false, nil
	}
	return *e, true, nil
}

// Delete removes every event matching f from every index, without
// marking ids as deleted (that is reserved for kind-5 processing).
func (s *Store) Delete(ctx context.Context, f *nostr.Filter) (int, error) {
	matches, err := s.Query(ctx, f)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range matches {
		e := matches[i]
		s.mu.Lock()
		s.removeLocked(&e)
		s.mu.Unlock()
		s.ids.Delete(e.ID)
		if coord, ok := e.Identifier(); ok {
			s.mu.Lock()
			if s.addressable[coord] != nil && s.addressable[coord].ID == e.ID {
				delete(s.addressable, coord)
			}
			s.mu.Unlock()
		}
		n++
	}
	return n, nil
}

// Wipe removes every stored event and resets deletion/vanish state.
func (s *Store) Wipe(ctx context.Context) error {
	s.ids.Range(func(id nostr.ID, _ *nostr.Event) bool {
		s.ids.Delete(id)
		return true
	})
	s.deletedID.Range(func(id nostr.ID, _ struct{}) bool {
		s.deletedID.Delete(id)
		return true
	})
	s.vanished.Range(func(pk nostr.PubKey, _ struct{}) bool {
		s.vanished.Delete(pk)
		return true
	})

	s.mu.Lock()
	s.byAuthor = make(map[nostr.PubKey][]entry)
	s.byKindAuthor = make(map[kindAuthorKey][]entry)
	s.byKind = make(map[int][]entry)
	s.byAuthorTag = make(map[authorTagKey][]entry)
	s.byKindTag = make(map[kindTagKey][]entry)
	s.byTag = make(map[tagKey][]entry)
	s.byCreated = nil
	s.addressable = make(map[nostr.Coordinate]*nostr.Event)
	s.deletedCoordinates = make(map[nostr.Coordinate]time.Time)
	s.mu.Unlock()
	return nil
}
