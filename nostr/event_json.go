package nostr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

type wireEvent struct {
	ID        string   `json:"id"`
	PubKey    string   `json:"pubkey"`
	CreatedAt int64    `json:"created_at"`
	Kind      int      `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string   `json:"content"`
	Sig       string   `json:"sig"`
}

// MarshalJSON encodes e in the standard NIP-01 wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		ID:        e.ID.String(),
		PubKey:    e.PubKey.String(),
		CreatedAt: e.CreatedAt.Unix(),
		Kind:      e.Kind,
		Tags:      tagsAsStrings(e.Tags.All()),
		Content:   e.Content,
		Sig:       e.Sig.String(),
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON decodes the standard NIP-01 wire shape into e. It does
// not verify the signature; call Verify explicitly once an event has
// been accepted onto the ingest path.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("nostr: unmarshal event: %w", err)
	}
	return e.fromWire(w)
}

func (e *Event) fromWire(w wireEvent) error {
	id, err := ParseID(w.ID)
	if err != nil {
		return err
	}
	pk, err := ParsePubKey(w.PubKey)
	if err != nil {
		return err
	}
	sig, err := ParseSignature(w.Sig)
	if err != nil {
		return err
	}
	tags := make([]Tag, len(w.Tags))
	for i, t := range w.Tags {
		tags[i] = Tag(t)
	}
	e.ID = id
	e.PubKey = pk
	e.CreatedAt = time.Unix(w.CreatedAt, 0).UTC()
	e.Kind = w.Kind
	e.Tags = NewTags(tags...)
	e.Content = w.Content
	e.Sig = sig
	return nil
}

// FastDecodeEvent parses a raw EVENT JSON payload using gjson, avoiding
// a full encoding/json pass for the common "is this event relevant"
// triage (kind/pubkey/created_at) before the more expensive full decode
// and signature check run. It falls back to the exact same result as
// UnmarshalJSON.
func FastDecodeEvent(raw []byte) (Event, error) {
	if !gjson.ValidBytes(raw) {
		return Event{}, fmt.Errorf("nostr: invalid event json")
	}
	result := gjson.ParseBytes(raw)
	var e Event
	var w wireEvent
	w.ID = result.Get("id").String()
	w.PubKey = result.Get("pubkey").String()
	w.CreatedAt = result.Get("created_at").Int()
	w.Kind = int(result.Get("kind").Int())
	w.Content = result.Get("content").String()
	w.Sig = result.Get("sig").String()
	for _, t := range result.Get("tags").Array() {
		var tag []string
		for _, el := range t.Array() {
			tag = append(tag, el.String())
		}
		w.Tags = append(w.Tags, tag)
	}
	if err := e.fromWire(w); err != nil {
		return Event{}, err
	}
	return e, nil
}

// MarshalJSON encodes f as a NIP-01 filter object, omitting unset
// fields so empty filters don't over-constrain a REQ.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{}
	if len(f.IDs) > 0 {
		ids := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = id.String()
		}
		m["ids"] = ids
	}
	if len(f.Authors) > 0 {
		authors := make([]string, len(f.Authors))
		for i, a := range f.Authors {
			authors[i] = a.String()
		}
		m["authors"] = authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for name, values := range f.Tags {
		m["#"+name] = values
	}
	if f.Since != nil {
		m["since"] = f.Since.Unix()
	}
	if f.Until != nil {
		m["until"] = f.Until.Unix()
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	if f.Search != "" {
		m["search"] = f.Search
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
