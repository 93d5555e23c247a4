package nostr

import (
	"context"
	"time"
)

// Builder assembles an Event field by field before signing, a fluent
// construction style that produces a real in-process Event rather than
// shelling out to build one.
type Builder struct {
	kind      int
	content   string
	tags      []Tag
	createdAt time.Time
}

// NewBuilder starts a builder for the given kind, defaulting CreatedAt
// to now.
func NewBuilder(kind int) *Builder {
	return &Builder{kind: kind, createdAt: time.Now()}
}

func (b *Builder) Content(content string) *Builder {
	b.content = content
	return b
}

func (b *Builder) Tag(tag Tag) *Builder {
	b.tags = append(b.tags, tag)
	return b
}

func (b *Builder) Tags(tags ...Tag) *Builder {
	b.tags = append(b.tags, tags...)
	return b
}

func (b *Builder) CreatedAt(t time.Time) *Builder {
	b.createdAt = t
	return b
}

// Build signs and returns the finished event.
func (b *Builder) Build(ctx context.Context, signer Signer) (Event, error) {
	e := Event{
		Kind:      b.kind,
		Content:   b.content,
		CreatedAt: b.createdAt,
		Tags:      NewTags(DedupeTags(b.tags)...),
	}
	if err := Sign(ctx, &e, signer); err != nil {
		return Event{}, err
	}
	return e, nil
}
