// Package projection holds the in-memory state rebuilt from an entity's events.
package projection

import (
	"encoding/json"
	"slices"
	"strings"
)

// Sequence is an ordered, append-only sequence of strings.
//
// A Sequence value never changes once built. Append returns a new value; when
// the receiver is the newest value over its buffer the item is written in place,
// otherwise the items are copied first. Copy is O(1).
type Sequence struct {
	buf *buffer
	n   int
}

type buffer struct {
	items []string
}

// Of builds a Sequence from items.
func Of(items ...string) Sequence {
	if len(items) == 0 {
		return Sequence{}
	}
	return Sequence{buf: &buffer{items: slices.Clone(items)}, n: len(items)}
}

// Append returns the sequence with item added at the end.
func (s Sequence) Append(item string) Sequence {
	if s.buf != nil && len(s.buf.items) == s.n {
		s.buf.items = append(s.buf.items, item)
		return Sequence{buf: s.buf, n: s.n + 1}
	}
	items := make([]string, s.n, s.n+1+s.n/2)
	copy(items, s.view())
	return Sequence{buf: &buffer{items: append(items, item)}, n: s.n + 1}
}

// Copy returns an independent sequence with the same items. Appending to either
// side never shows through the other.
func (s Sequence) Copy() Sequence {
	if s.n == 0 {
		return Sequence{}
	}
	return Sequence{buf: &buffer{items: s.buf.items[:s.n:s.n]}, n: s.n}
}

func (s Sequence) Size() int { return s.n }

// At returns the i-th item. It panics when i is out of range.
func (s Sequence) At(i int) string { return s.view()[i] }

// Items returns a fresh slice holding the items in order.
func (s Sequence) Items() []string { return slices.Clone(s.view()) }

func (s Sequence) Equal(o Sequence) bool { return slices.Equal(s.view(), o.view()) }

// String renders the sequence as [a, b, c].
func (s Sequence) String() string {
	return "[" + strings.Join(s.view(), ", ") + "]"
}

func (s Sequence) MarshalJSON() ([]byte, error) {
	if s.n == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(s.view())
}

func (s *Sequence) UnmarshalJSON(b []byte) error {
	var items []string
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*s = Of(items...)
	return nil
}

func (s Sequence) view() []string {
	if s.buf == nil {
		return nil
	}
	return s.buf.items[:s.n]
}
