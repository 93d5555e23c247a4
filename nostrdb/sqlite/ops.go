package sqlite

import (
	"context"
	"database/sql"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb"
)

// CheckID reports whether id is currently stored, was deleted, or was
// never seen.
func (s *Store) CheckID(ctx context.Context, id nostr.ID) (nostrdb.IDStatus, error) {
	var mark int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, id.String()).Scan(&mark)
	if err == nil {
		return nostrdb.ExistsSaved, nil
	}
	if err != sql.ErrNoRows {
		return nostrdb.NotExistent, err
	}
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM deleted_ids WHERE id = ?`, id.String()).Scan(&mark)
	if err == nil {
		return nostrdb.ExistsDeleted, nil
	}
	if err != sql.ErrNoRows {
		return nostrdb.NotExistent, err
	}
	return nostrdb.NotExistent, nil
}

// EventByID returns the stored event for id, if any.
func (s *Store) EventByID(ctx context.Context, id nostr.ID) (nostr.Event, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, pubkey, created_at, kind, tags, content, sig FROM events WHERE id = ?`, id.String())
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nostr.Event{}, false, nil
	}
	if err != nil {
		return nostr.Event{}, false, err
	}
	return e, true, nil
}

// Delete removes every event matching f, without marking ids deleted.
func (s *Store) Delete(ctx context.Context, f *nostr.Filter) (int, error) {
	matches, err := s.Query(ctx, f)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for _, e := range matches {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, e.ID.String()); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM events_fts WHERE id = ?`, e.ID.String()); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(matches), nil
}

// Wipe removes every stored event and resets deletion/vanish state.
func (s *Store) Wipe(ctx context.Context) error {
	for _, stmt := range []string{
		`DELETE FROM events`,
		`DELETE FROM events_fts`,
		`DELETE FROM deleted_ids`,
		`DELETE FROM deleted_coordinates`,
		`DELETE FROM vanished`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
