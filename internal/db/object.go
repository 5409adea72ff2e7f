package db

import (
	"slices"

	"github.com/hylla/tt3/internal/domain"
)

// Object is one record of the database arena. Objects are created by the
// Database factories and are never copied; the pointer is the identity. Once
// destroyed, or once it vanishes during Refresh, an Object stays dead.
type Object struct {
	db    *Database
	oid   domain.OID
	kind  domain.Kind
	live  bool
	props map[string]any
	links map[string][]domain.OID
}

// OID returns the immutable object identifier.
func (o *Object) OID() domain.OID { return o.oid }

// Kind returns the concrete object kind.
func (o *Object) Kind() domain.Kind { return o.kind }

// Database returns the database the object belongs to.
func (o *Object) Database() *Database { return o.db }

// IsLive reports whether the object still corresponds to persisted data.
func (o *Object) IsLive() bool {
	d := o.db
	d.mu.Lock()
	defer d.mu.Unlock()
	return o.live && !d.closed
}

// objectState is a deep copy of the mutable part of an Object.
type objectState struct {
	live  bool
	props map[string]any
	links map[string][]domain.OID
}

// capture copies the mutable state of o.
func (o *Object) capture() objectState {
	st := objectState{
		live:  o.live,
		props: make(map[string]any, len(o.props)),
		links: make(map[string][]domain.OID, len(o.links)),
	}
	for _, p := range PropertiesOf(o.kind) {
		if v, ok := o.props[p.Name()]; ok {
			st.props[p.Name()] = p.cloneAny(v)
		}
	}
	for name, oids := range o.links {
		st.links[name] = slices.Clone(oids)
	}
	return st
}

// restore overwrites the mutable state of o.
func (o *Object) restore(st objectState) {
	o.live = st.live
	o.props = st.props
	o.links = st.links
}

// record converts o into its persisted form: properties and forward links only.
func (o *Object) record() Record {
	rec := Record{
		OID:   o.oid,
		Kind:  o.kind,
		Props: make(map[string]any, len(o.props)),
		Links: make(map[string][]domain.OID),
	}
	for _, p := range PropertiesOf(o.kind) {
		rec.Props[p.Name()] = p.cloneAny(o.props[p.Name()])
	}
	for _, l := range ForwardLinksOf(o.kind) {
		if oids := o.links[l.name]; len(oids) > 0 {
			rec.Links[l.name] = slices.Clone(oids)
		}
	}
	return rec
}

// linked returns the OIDs currently linked through l.
func (o *Object) linked(l *Link) []domain.OID {
	return o.links[l.name]
}

// hasLink reports whether target is linked through l.
func (o *Object) hasLink(l *Link, target domain.OID) bool {
	return slices.Contains(o.links[l.name], target)
}

// appendLink adds target through l, keeping the list sorted unless l is ordered.
func (o *Object) appendLink(l *Link, target domain.OID) {
	oids := append(o.links[l.name], target)
	if !l.ordered {
		slices.Sort(oids)
	}
	o.links[l.name] = oids
}

// dropLink removes target from l.
func (o *Object) dropLink(l *Link, target domain.OID) {
	oids := slices.DeleteFunc(slices.Clone(o.links[l.name]), func(oid domain.OID) bool { return oid == target })
	if len(oids) == 0 {
		delete(o.links, l.name)
		return
	}
	o.links[l.name] = oids
}

// newObject allocates an arena record carrying zero values for every property.
func newObject(d *Database, oid domain.OID, kind domain.Kind) *Object {
	o := &Object{
		db:    d,
		oid:   oid,
		kind:  kind,
		live:  true,
		props: make(map[string]any),
		links: make(map[string][]domain.OID),
	}
	for _, p := range PropertiesOf(kind) {
		o.props[p.Name()] = p.Zero()
	}
	return o
}

// Record is the persisted form of one object: property values keyed by
// property name and forward-link targets keyed by link name.
type Record struct {
	OID   domain.OID
	Kind  domain.Kind
	Props map[string]any
	Links map[string][]domain.OID
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := Record{OID: r.OID, Kind: r.Kind, Props: make(map[string]any, len(r.Props)), Links: make(map[string][]domain.OID, len(r.Links))}
	for _, p := range PropertiesOf(r.Kind) {
		if v, ok := r.Props[p.Name()]; ok {
			out.Props[p.Name()] = p.cloneAny(v)
		}
	}
	for name, oids := range r.Links {
		out.Links[name] = slices.Clone(oids)
	}
	return out
}
