package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
)

// canonicalArray is the NIP-01 serialization used to compute an event's
// id: [0, pubkey, created_at, kind, tags, content], as compact JSON with
// no HTML-escaping (Go's default escapes <, >, & which would otherwise
// produce an id that disagrees with every other implementation).
func canonicalArray(e *Event) ([]byte, error) {
	arr := [6]interface{}{
		0,
		e.PubKey.String(),
		e.CreatedAt.Unix(),
		e.Kind,
		tagsAsStrings(e.Tags.All()),
		e.Content,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil, err
	}
	// Encoder.Encode appends a trailing newline; the canonical form has
	// none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func tagsAsStrings(tags []Tag) [][]string {
	out := make([][]string, len(tags))
	for i, t := range tags {
		out[i] = []string(t)
	}
	return out
}

// ComputeID returns the SHA-256 digest of e's canonical serialization.
func ComputeID(e *Event) (ID, error) {
	data, err := canonicalArray(e)
	if err != nil {
		return ID{}, err
	}
	return ID(sha256.Sum256(data)), nil
}
