package sqlite

import (
	"context"
	"strings"

	"github.com/nostrcore/relaypool/nostr"
)

const defaultLimit = 500

func buildWhere(f *nostr.Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(f.IDs) > 0 {
		clauses = append(clauses, "e.id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id.String())
		}
	}
	if len(f.Authors) > 0 {
		clauses = append(clauses, "e.pubkey IN ("+placeholders(len(f.Authors))+")")
		for _, a := range f.Authors {
			args = append(args, a.String())
		}
	}
	if len(f.Kinds) > 0 {
		clauses = append(clauses, "e.kind IN ("+placeholders(len(f.Kinds))+")")
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}
	if f.Since != nil {
		clauses = append(clauses, "e.created_at >= ?")
		args = append(args, f.Since.Unix())
	}
	if f.Until != nil {
		clauses = append(clauses, "e.created_at <= ?")
		args = append(args, f.Until.Unix())
	}
	for name, values := range f.Tags {
		if name == "d" && len(values) == 1 {
			clauses = append(clauses, "e.d_tag = ?")
			args = append(args, values[0])
			continue
		}
		// Generic tag constraints fall back to a LIKE scan over the
		// JSON-encoded tags column; acceptable for a client-side cache
		// whose tag filters are rarely on the hot path.
		var likeClauses []string
		for _, v := range values {
			likeClauses = append(likeClauses, "e.tags LIKE ?")
			args = append(args, "%[\""+name+"\",\""+v+"\"%")
		}
		clauses = append(clauses, "("+strings.Join(likeClauses, " OR ")+")")
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	return where, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (s *Store) Query(ctx context.Context, f *nostr.Filter) ([]nostr.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	var rows interface {
		Next() bool
		Scan(dest ...any) error
		Close() error
		Err() error
	}

	if f.Search != "" {
		where, args := buildWhere(f)
		joinWhere := strings.Replace(where, "WHERE", "AND", 1)
		q := `SELECT e.id, e.pubkey, e.created_at, e.kind, e.tags, e.content, e.sig
			FROM events_fts fts JOIN events e ON e.id = fts.id
			WHERE fts MATCH ? ` + joinWhere + `
			ORDER BY e.created_at DESC LIMIT ?`
		allArgs := append([]interface{}{f.Search}, args...)
		allArgs = append(allArgs, limit)
		r, err := s.db.QueryContext(ctx, q, allArgs...)
		if err != nil {
			return nil, err
		}
		rows = r
	} else {
		where, args := buildWhere(f)
		q := `SELECT e.id, e.pubkey, e.created_at, e.kind, e.tags, e.content, e.sig FROM events e ` +
			where + ` ORDER BY e.created_at DESC, e.id ASC LIMIT ?`
		args = append(args, limit)
		r, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		rows = r
	}
	defer rows.Close()

	var out []nostr.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		var deleted int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM deleted_ids WHERE id = ?`, e.ID.String()).Scan(&deleted); err == nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context, f *nostr.Filter) (int, error) {
	where, args := buildWhere(f)
	var q string
	var allArgs []interface{}
	if f.Search != "" {
		joinWhere := strings.Replace(where, "WHERE", "AND", 1)
		q = `SELECT COUNT(*) FROM events_fts fts JOIN events e ON e.id = fts.id WHERE fts MATCH ? ` + joinWhere
		allArgs = append([]interface{}{f.Search}, args...)
	} else {
		q = `SELECT COUNT(*) FROM events e ` + where
		allArgs = args
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, allArgs...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
