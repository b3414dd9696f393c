// Package handle maps live CAD entities to short printable handles the agent
// can quote back across turns.
//
// A handle is derived from an identity string chosen per entity kind, so the
// same entity observed twice yields the same handle without the table having
// to remember anything about the entity beyond the binding itself.
package handle

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/cad"
	"github.com/m4xw311/cadlink/metrics"
)

// DefaultLength is the number of characters in a handle.
const DefaultLength = 5

type binding struct {
	entity   cad.Entity
	identity string
}

// Table is the process-wide handle table. It is not safe for concurrent use;
// the add-in drives it from a single loop.
type Table struct {
	length   int
	bindings map[string]binding
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Table.
type Option func(*Table)

// WithLength overrides the handle length.
func WithLength(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.length = n
		}
	}
}

// WithLogger sets the logger used for collision diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(t *Table) { t.log = l }
}

// WithMetrics sets the collectors the table reports to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Table) { t.metrics = m }
}

// New creates an empty table.
func New(opts ...Option) *Table {
	t := &Table{
		length:   DefaultLength,
		bindings: make(map[string]binding),
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(t)
	}
	if t.log == nil {
		t.log = zap.NewNop()
	}
	return t
}

// Intern returns the handle for e, binding it on first observation. Observing
// the same identity again refreshes the stored reference. A different
// identity hashing to the same handle replaces the older binding.
func (t *Table) Intern(e cad.Entity) string {
	if e == nil {
		return ""
	}
	id := Identity(e)
	h := Hash(id, t.length)
	prev, ok := t.bindings[h]
	switch {
	case !ok:
		t.metrics.HandleInterned()
	case prev.identity != id:
		t.log.Warn("handle collision, rebinding",
			zap.String("handle", h),
			zap.String("previous", prev.identity),
			zap.String("identity", id))
		t.metrics.HandleCollision()
	}
	t.bindings[h] = binding{entity: e, identity: id}
	return h
}

// InternMany interns every entity, preserving order.
func InternMany[E cad.Entity](t *Table, es []E) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, t.Intern(e))
	}
	return out
}

// Lookup returns the entity bound to h. Entities the host has invalidated
// are reported as missing.
func (t *Table) Lookup(h string) (cad.Entity, bool) {
	b, ok := t.bindings[h]
	if !ok || !cad.Alive(b.entity) {
		return nil, false
	}
	return b.entity, true
}

// Peek returns the handle e would get and whether e's identity is already
// bound to it, without binding anything.
func (t *Table) Peek(e cad.Entity) (string, bool) {
	id := Identity(e)
	h := Hash(id, t.length)
	b, ok := t.bindings[h]
	return h, ok && b.identity == id
}

// Known reports whether h was ever bound, alive or not.
func (t *Table) Known(h string) bool {
	_, ok := t.bindings[h]
	return ok
}

// Len returns the number of bindings.
func (t *Table) Len() int { return len(t.bindings) }

// Entry describes one binding.
type Entry struct {
	Handle     string `json:"handle"`
	ObjectType string `json:"objectType"`
	Name       string `json:"name,omitempty"`
	Alive      bool   `json:"alive"`
}

// Handles returns a snapshot of every binding sorted by handle.
func (t *Table) Handles() []Entry {
	out := make([]Entry, 0, len(t.bindings))
	for h, b := range t.bindings {
		e := Entry{Handle: h, ObjectType: b.entity.ObjectType(), Alive: cad.Alive(b.entity)}
		if n, ok := b.entity.(cad.Named); ok && e.Alive {
			e.Name = n.Name()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Reset drops every binding.
func (t *Table) Reset() {
	t.bindings = make(map[string]binding)
}

// Hash derives a handle of length n from an identity string.
func Hash(identity string, n int) string {
	sum := sha256.Sum256([]byte(identity))
	enc := base64.StdEncoding.EncodeToString(sum[:])
	var b strings.Builder
	for _, r := range enc {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == n {
				break
			}
		}
	}
	return b.String()
}

// Identity returns the identity string of e. It only reads identity
// accessors and never includes counters or timestamps.
func Identity(e cad.Entity) string {
	switch v := e.(type) {
	case cad.Component:
		return fmt.Sprintf("Component_%s_%s_%s", v.ID(), v.EntityToken(), documentName(v))
	case cad.BodyCollection:
		if owner := v.Owner(); owner != nil {
			return fmt.Sprintf("BRepBodies_%s_%s", Identity(owner.Component()), owner.Name())
		}
	case cad.Point3D:
		return fmt.Sprintf("Point3D_%g_%g_%g", v.X, v.Y, v.Z)
	case cad.Point2D:
		return fmt.Sprintf("Point2D_%g_%g", v.X, v.Y)
	case cad.Vector3D:
		return fmt.Sprintf("Vector3D_%g_%g_%g", v.X, v.Y, v.Z)
	case cad.Matrix3D:
		parts := make([]string, len(v.Cells))
		for i, c := range v.Cells {
			parts[i] = fmt.Sprintf("%g", c)
		}
		return "Matrix3D_" + strings.Join(parts, "_")
	case cad.Tokened:
		if tok := v.EntityToken(); tok != "" {
			return tok
		}
	}
	return fallback(e)
}

func documentName(c cad.Component) string {
	if d := c.ParentDesign(); d != nil {
		return d.DocumentName()
	}
	return ""
}

// fallback identifies otherwise anonymous entities by address. Such handles
// are only stable while the same object is kept alive.
func fallback(e cad.Entity) string {
	rv := reflect.ValueOf(e)
	name := rv.Type().String()
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		return fmt.Sprintf("%s_%x", name, rv.Pointer())
	}
	return fmt.Sprintf("%s_%v", name, e)
}
