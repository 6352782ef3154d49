package etl

import (
	"fmt"
	"regexp"
	"time"
)

// ── Transformer ────────────────────────────────────────────
// Transformers prepare documents for the relational store before they are
// written. Each one maps a document's top-level fields and keeps no state
// across documents, so a retried batch can be normalized again safely.

// Transformer processes a single document.
type Transformer interface {
	Transform(Document) (Document, error)
}

// TimestampLayout is the destination timestamp literal format.
const TimestampLayout = "2006-01-02 15:04:05"

var isoUTC = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d{1,9})?Z$`)

// Accepted source layouts. The first also parses values without a fraction.
var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02T15:04:05Z",
}

// TimestampTransform rewrites ISO-8601 UTC strings into TimestampLayout in Location.
// Strings that do not parse are left unchanged.
type TimestampTransform struct {
	Location *time.Location
}

func (t *TimestampTransform) Transform(d Document) (Document, error) {
	for k, v := range d.Fields {
		if v.Kind != KindString {
			continue
		}
		if ts, ok := t.convert(v.Str); ok {
			d.Fields[k] = String(ts)
		}
	}
	return d, nil
}

func (t *TimestampTransform) convert(s string) (string, bool) {
	if !isoUTC.MatchString(s) {
		return "", false
	}
	loc := t.Location
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range isoLayouts {
		parsed, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return parsed.In(loc).Format(TimestampLayout), true
		}
	}
	return "", false
}

// FlattenTransform serializes nested mappings, and lists whose first element
// is a mapping, into JSON text. Lists of scalars are left for the writer.
type FlattenTransform struct{}

func (t *FlattenTransform) Transform(d Document) (Document, error) {
	for k, v := range d.Fields {
		if !needsFlatten(v) {
			continue
		}
		s, err := EncodeJSON(v)
		if err != nil {
			return d, fmt.Errorf("encode field %s of %s: %w", k, d.ID, err)
		}
		d.Fields[k] = String(s)
	}
	return d, nil
}

func needsFlatten(v Value) bool {
	switch v.Kind {
	case KindMap:
		return true
	case KindList:
		return len(v.List) > 0 && v.List[0].Kind == KindMap
	default:
		return false
	}
}

// ── Normalizer ─────────────────────────────────────────────

// Normalizer is the transform chain applied to every document before write.
type Normalizer struct {
	chain []Transformer
}

// NewNormalizer builds the standard chain: timestamps first, then flattening.
// A nil location means the process local zone.
func NewNormalizer(loc *time.Location) *Normalizer {
	return &Normalizer{chain: []Transformer{
		&TimestampTransform{Location: loc},
		&FlattenTransform{},
	}}
}

// Normalize returns a normalized copy of d; d itself is not modified.
func (n *Normalizer) Normalize(d Document) (Document, error) {
	out := d.Clone()
	for _, t := range n.chain {
		var err error
		if out, err = t.Transform(out); err != nil {
			return Document{}, err
		}
	}
	return out, nil
}

// NormalizeAll normalizes a page of documents. One failing document fails the page.
func (n *Normalizer) NormalizeAll(docs []Document) ([]Document, error) {
	out := make([]Document, len(docs))
	for i, d := range docs {
		nd, err := n.Normalize(d)
		if err != nil {
			return nil, err
		}
		out[i] = nd
	}
	return out, nil
}
