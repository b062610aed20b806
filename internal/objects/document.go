// Package objects provides ready-made synchronizable types.
package objects

import (
	"slices"
	"sync"
	"time"

	"github.com/zeusync/datasync/internal/core/synchronizer"
	"github.com/zeusync/datasync/internal/core/value"
)

// Document is a named value replaced wholesale on every update. It is safe
// for concurrent use.
type Document struct {
	name        string
	objectsOnly bool
	onApply     func(*Document)

	mu        sync.RWMutex
	data      *value.Value
	updatedAt time.Time
	revision  uint64
}

var _ synchronizer.Synchronizable = (*Document)(nil)

type DocumentOption func(*Document)

// ObjectsOnly makes the document reject anything but objects.
func ObjectsOnly() DocumentOption {
	return func(d *Document) { d.objectsOnly = true }
}

// WithInitial sets the starting value. It is not checked against ObjectsOnly.
func WithInitial(v *value.Value) DocumentOption {
	return func(d *Document) { d.data = v }
}

// OnApply registers fn to run after every accepted update.
func OnApply(fn func(*Document)) DocumentOption {
	return func(d *Document) { d.onApply = fn }
}

func NewDocument(name string, opts ...DocumentOption) *Document {
	d := &Document{name: name, data: value.Null()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Document) Name() string {
	return d.name
}

func (d *Document) ToValue() *value.Value {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.data
}

func (d *Document) Apply(v *value.Value) bool {
	if v == nil || (d.objectsOnly && !v.IsObject()) {
		return false
	}
	d.mu.Lock()
	d.data = v
	d.revision++
	d.updatedAt = time.Now()
	fn := d.onApply
	d.mu.Unlock()

	if fn != nil {
		fn(d)
	}
	return true
}

// Set is Apply for local writes.
func (d *Document) Set(v *value.Value) bool {
	return d.Apply(v)
}

// Revision counts accepted updates.
func (d *Document) Revision() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.revision
}

// UpdatedAt is zero until the first update.
func (d *Document) UpdatedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.updatedAt
}

// Registry holds a node's own documents by name.
type Registry struct {
	mu     sync.RWMutex
	docs   map[string]*Document
	schema []string
	opts   []DocumentOption
}

// NewRegistry declares the document names every peer is expected to carry.
// opts apply to every document the registry creates.
func NewRegistry(names []string, opts ...DocumentOption) *Registry {
	r := &Registry{docs: make(map[string]*Document), opts: opts}
	for _, name := range names {
		if name != "" && !slices.Contains(r.schema, name) {
			r.schema = append(r.schema, name)
		}
	}
	return r
}

// Declared reports whether name is part of the schema.
func (r *Registry) Declared(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.schema, name)
}

// Names returns the schema in declaration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.schema)
}

// Own returns our document for name, creating it on first use. Names outside
// the schema are reported as absent.
func (r *Registry) Own(name string) (*Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.schema, name) {
		return nil, false
	}
	d, ok := r.docs[name]
	if !ok {
		d = NewDocument(name, r.opts...)
		r.docs[name] = d
	}
	return d, true
}

// NewPeerObjects creates one empty document per declared name. It makes the
// registry a synchronizer.Delegate.
func (r *Registry) NewPeerObjects() []synchronizer.Synchronizable {
	names := r.Names()
	out := make([]synchronizer.Synchronizable, len(names))
	for i, name := range names {
		out[i] = NewDocument(name, r.opts...)
	}
	return out
}
