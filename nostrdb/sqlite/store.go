// Package sqlite is a durable nostrdb.Store backed by modernc.org/sqlite
// (a pure-Go driver, avoiding cgo), with an FTS5 virtual table backing
// full-text search. Schema and pragma choices favor safety under
// concurrent access: WAL mode, a bounded connection pool, busy_timeout.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/nostrdb"
)

// Store is a durable, FTS5-backed event store.
type Store struct {
	db *sql.DB
}

const maxConns = 4

// Open creates or opens the sqlite database at path (":memory:" is
// accepted for tests) and ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("nostrdb/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("nostrdb/sqlite: pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		pubkey TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		kind INTEGER NOT NULL,
		tags TEXT NOT NULL,
		content TEXT NOT NULL,
		sig TEXT NOT NULL,
		d_tag TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS events_pubkey_created ON events(pubkey, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS events_kind_pubkey ON events(kind, pubkey, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS events_kind ON events(kind, created_at DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS events_addressable ON events(kind, pubkey, d_tag)`,
	`CREATE TABLE IF NOT EXISTS deleted_ids (id TEXT PRIMARY KEY)`,
	`CREATE TABLE IF NOT EXISTS deleted_coordinates (
		kind INTEGER NOT NULL, pubkey TEXT NOT NULL, d_tag TEXT NOT NULL, deleted_at INTEGER NOT NULL,
		PRIMARY KEY (kind, pubkey, d_tag)
	)`,
	`CREATE TABLE IF NOT EXISTS vanished (pubkey TEXT PRIMARY KEY)`,
	// tag_values holds the values of title/description/subject/name tags
	// space-joined, so an unqualified MATCH (which FTS5 ORs across every
	// indexed column) finds events by metadata as well as by content.
	`CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(id UNINDEXED, content, tag_values)`,
}

func (s *Store) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("nostrdb/sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}
	return nil
}

func (s *Store) Capabilities() nostrdb.Capabilities {
	return nostrdb.Capabilities{FullTextSearch: true, Durable: true}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Save(ctx context.Context, e *nostr.Event) (nostrdb.Result, error) {
	if nostr.Classify(e.Kind) == nostr.Ephemeral {
		return nostrdb.Result{Status: nostrdb.Rejected, Reason: nostrdb.ReasonEphemeralNotStored, Message: "ephemeral events are not stored"}, nil
	}

	var dup int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, e.ID.String()).Scan(&dup); err == nil {
		return nostrdb.Result{Status: nostrdb.Duplicate, Message: "event already stored"}, nil
	} else if err != sql.ErrNoRows {
		return nostrdb.Result{}, err
	}

	var deletedMark int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM deleted_ids WHERE id = ?`, e.ID.String()).Scan(&deletedMark); err == nil {
		return nostrdb.Result{Status: nostrdb.Rejected, Reason: nostrdb.ReasonDeletedByAuthor, Message: "event id was previously deleted by its author"}, nil
	} else if err != sql.ErrNoRows {
		return nostrdb.Result{}, err
	}

	var vanishedMark int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM vanished WHERE pubkey = ?`, e.PubKey.String()).Scan(&vanishedMark); err == nil {
		return nostrdb.Result{Status: nostrdb.Rejected, Reason: nostrdb.ReasonVanished, Message: "author requested vanish"}, nil
	} else if err != sql.ErrNoRows {
		return nostrdb.Result{}, err
	}

	if expiresAt := e.Tags.First("expiration").Value(); expiresAt != "" {
		var secs int64
		if _, err := fmt.Sscanf(expiresAt, "%d", &secs); err == nil && time.Unix(secs, 0).Before(time.Now()) {
			return nostrdb.Result{Status: nostrdb.Rejected, Message: "event has already expired"}, nil
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nostrdb.Result{}, err
	}
	defer tx.Rollback()

	if nostr.IsVanish(e.Kind) {
		if !hasAllRelaysTag(e) {
			return nostrdb.Result{Status: nostrdb.Rejected, Message: "vanish request missing relay=ALL_RELAYS tag"}, nil
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO vanished (pubkey) VALUES (?)`, e.PubKey.String()); err != nil {
			return nostrdb.Result{}, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM events_fts WHERE id IN (SELECT id FROM events WHERE pubkey = ?)`, e.PubKey.String()); err != nil {
			return nostrdb.Result{}, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE pubkey = ?`, e.PubKey.String()); err != nil {
			return nostrdb.Result{}, err
		}
		const kindGiftWrap = 1059
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM events_fts WHERE id IN (
				SELECT id FROM events WHERE kind = ? AND EXISTS (
					SELECT 1 FROM json_each(events.tags) t WHERE json_extract(t.value, '$[0]') = 'p' AND json_extract(t.value, '$[1]') = ?
				)
			)`, kindGiftWrap, e.PubKey.String()); err != nil {
			return nostrdb.Result{}, err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM events WHERE kind = ? AND EXISTS (
				SELECT 1 FROM json_each(tags) t WHERE json_extract(t.value, '$[0]') = 'p' AND json_extract(t.value, '$[1]') = ?
			)`, kindGiftWrap, e.PubKey.String()); err != nil {
			return nostrdb.Result{}, err
		}
		if err := tx.Commit(); err != nil {
			return nostrdb.Result{}, err
		}
		return nostrdb.Result{Status: nostrdb.Deleted, Message: "vanish processed"}, nil
	}

	if nostr.IsDeletion(e.Kind) {
		res, err := s.processDeletion(ctx, tx, e)
		if err != nil {
			return nostrdb.Result{}, err
		}
		if res.Status == nostrdb.Rejected {
			return res, nil // deferred tx.Rollback() discards any staged work
		}
		if err := tx.Commit(); err != nil {
			return nostrdb.Result{}, err
		}
		return res, nil
	}

	if coord, ok := e.Identifier(); ok {
		var deletedAt int64
		err := tx.QueryRowContext(ctx, `SELECT deleted_at FROM deleted_coordinates WHERE kind = ? AND pubkey = ? AND d_tag = ?`,
			coord.Kind, coord.Pubkey.String(), coord.D).Scan(&deletedAt)
		if err == nil && e.CreatedAt.Unix() <= deletedAt {
			return nostrdb.Result{Status: nostrdb.Rejected, Reason: nostrdb.ReasonDeletedByAuthor, Message: "coordinate was deleted at or after this event's timestamp"}, nil
		} else if err != nil && err != sql.ErrNoRows {
			return nostrdb.Result{}, err
		}

		var existingID string
		var existingCreated int64
		err = tx.QueryRowContext(ctx, `SELECT id, created_at FROM events WHERE kind = ? AND pubkey = ? AND d_tag = ?`,
			coord.Kind, coord.Pubkey.String(), coord.D).Scan(&existingID, &existingCreated)
		switch {
		case err == sql.ErrNoRows:
			if err := s.insertEvent(ctx, tx, e); err != nil {
				return nostrdb.Result{}, err
			}
			if err := tx.Commit(); err != nil {
				return nostrdb.Result{}, err
			}
			return nostrdb.Result{Status: nostrdb.Saved}, nil
		case err != nil:
			return nostrdb.Result{}, err
		default:
			if e.CreatedAt.Unix() < existingCreated || (e.CreatedAt.Unix() == existingCreated && e.ID.String() >= existingID) {
				return nostrdb.Result{Status: nostrdb.Rejected, Reason: nostrdb.ReasonSuperseded, Message: "a newer or tie-winning event already occupies this coordinate"}, nil
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, existingID); err != nil {
				return nostrdb.Result{}, err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM events_fts WHERE id = ?`, existingID); err != nil {
				return nostrdb.Result{}, err
			}
			if err := s.insertEvent(ctx, tx, e); err != nil {
				return nostrdb.Result{}, err
			}
			if err := tx.Commit(); err != nil {
				return nostrdb.Result{}, err
			}
			return nostrdb.Result{Status: nostrdb.Replaced, Message: "replaced older event at same coordinate"}, nil
		}
	}

	if err := s.insertEvent(ctx, tx, e); err != nil {
		return nostrdb.Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return nostrdb.Result{}, err
	}
	return nostrdb.Result{Status: nostrdb.Saved}, nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, e *nostr.Event) error {
	tagsJSON, err := json.Marshal(tagsAsStrings(e.Tags.All()))
	if err != nil {
		return err
	}
	d := e.Tags.First("d").Value()
	_, err = tx.ExecContext(ctx, `INSERT INTO events (id, pubkey, created_at, kind, tags, content, sig, d_tag) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID.String(), e.PubKey.String(), e.CreatedAt.Unix(), e.Kind, string(tagsJSON), e.Content, e.Sig.String(), d)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events_fts (id, content, tag_values) VALUES (?, ?, ?)`,
		e.ID.String(), e.Content, searchableTagValues(e.Tags.All()))
	return err
}

// searchableTagValues extracts the values of tags whose name commonly
// holds human-readable metadata (NIP-23/NIP-52/NIP-51 "title",
// "description", "subject", "name"), so full-text search matches
// against them as well as against event content.
func searchableTagValues(tags []nostr.Tag) string {
	var parts []string
	for _, t := range tags {
		switch t.Name() {
		case "title", "description", "subject", "name":
			if v := t.Value(); v != "" {
				parts = append(parts, v)
			}
		}
	}
	return strings.Join(parts, " ")
}

func tagsAsStrings(tags []nostr.Tag) [][]string {
	out := make([][]string, len(tags))
	for i, t := range tags {
		out[i] = []string(t)
	}
	return out
}

func hasAllRelaysTag(e *nostr.Event) bool {
	for _, v := range e.Tags.Values("relay") {
		if v == "ALL_RELAYS" {
			return true
		}
	}
	return false
}

// processDeletion applies a kind-5 deletion within tx. A single
// e-tagged target authored by someone else rejects the whole deletion
// (InvalidDelete); the caller's deferred tx.Rollback() undoes anything
// processDeletion already staged.
func (s *Store) processDeletion(ctx context.Context, tx *sql.Tx, e *nostr.Event) (nostrdb.Result, error) {
	for _, idStr := range e.Tags.Values("e") {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT pubkey FROM events WHERE id = ?`, idStr).Scan(&owner)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nostrdb.Result{}, err
		}
		if owner != e.PubKey.String() {
			return nostrdb.Result{Status: nostrdb.Rejected, Message: "deletion targets an event authored by someone else"}, nil
		}
	}

	for _, idStr := range e.Tags.Values("e") {
		var owner string
		var kind int
		err := tx.QueryRowContext(ctx, `SELECT pubkey, kind FROM events WHERE id = ?`, idStr).Scan(&owner, &kind)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nostrdb.Result{}, err
		}
		if nostr.IsDeletion(kind) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, idStr); err != nil {
			return nostrdb.Result{}, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM events_fts WHERE id = ?`, idStr); err != nil {
			return nostrdb.Result{}, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO deleted_ids (id) VALUES (?)`, idStr); err != nil {
			return nostrdb.Result{}, err
		}
	}

	for _, coordStr := range e.Tags.Values("a") {
		coord, ok := parseCoordinate(coordStr)
		if !ok || coord.Pubkey != e.PubKey {
			continue
		}
		ts := e.CreatedAt.Unix()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO deleted_coordinates (kind, pubkey, d_tag, deleted_at) VALUES (?,?,?,?)
			ON CONFLICT(kind, pubkey, d_tag) DO UPDATE SET deleted_at = MAX(deleted_at, excluded.deleted_at)`,
			coord.Kind, coord.Pubkey.String(), coord.D, ts); err != nil {
			return nostrdb.Result{}, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM events_fts WHERE id IN (SELECT id FROM events WHERE kind=? AND pubkey=? AND d_tag=?)`,
			coord.Kind, coord.Pubkey.String(), coord.D); err != nil {
			return nostrdb.Result{}, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE kind = ? AND pubkey = ? AND d_tag = ?`,
			coord.Kind, coord.Pubkey.String(), coord.D); err != nil {
			return nostrdb.Result{}, err
		}
	}

	if err := s.insertEvent(ctx, tx, e); err != nil {
		return nostrdb.Result{}, err
	}
	return nostrdb.Result{Status: nostrdb.Deleted, Message: "deletion processed"}, nil
}

func parseCoordinate(s string) (nostr.Coordinate, bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return nostr.Coordinate{}, false
	}
	var kind int
	if _, err := fmt.Sscanf(parts[0], "%d", &kind); err != nil {
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

func scanEvent(rows interface {
	Scan(dest ...any) error
}) (nostr.Event, error) {
	var id, pubkey, tagsJSON, content, sig string
	var createdAt int64
	var kind int
	if err := rows.Scan(&id, &pubkey, &createdAt, &kind, &tagsJSON, &content, &sig); err != nil {
		return nostr.Event{}, err
	}
	var rawTags [][]string
	if err := json.Unmarshal([]byte(tagsJSON), &rawTags); err != nil {
		return nostr.Event{}, err
	}
	tags := make([]nostr.Tag, len(rawTags))
	for i, t := range rawTags {
		tags[i] = nostr.Tag(t)
	}
	parsedID, err := nostr.ParseID(id)
	if err != nil {
		return nostr.Event{}, err
	}
	parsedPub, err := nostr.ParsePubKey(pubkey)
	if err != nil {
		return nostr.Event{}, err
	}
	parsedSig, err := nostr.ParseSignature(sig)
	if err != nil {
		return nostr.Event{}, err
	}
	return nostr.Event{
		ID:        parsedID,
		PubKey:    parsedPub,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
		Kind:      kind,
		Tags:      nostr.NewTags(tags...),
		Content:   content,
		Sig:       parsedSig,
	}, nil
}
