package db

import (
	"github.com/hylla/tt3/internal/domain"
)

// txn is the undo log of one public operation. Every record is captured
// before its first mutation; rollback copies the captured state back into
// the same Object pointers so that outstanding handles stay valid.
type txn struct {
	d         *Database
	saved     map[domain.OID]*savedObject
	order     []*savedObject
	created   []*Object
	destroyed []*Object
	events    []Notification
	seen      map[eventKey]struct{}
}

// savedObject stores the state an object had before the operation.
type savedObject struct {
	obj     *Object
	existed bool
	state   objectState
}

// eventKey deduplicates ObjectModified notifications within one operation.
type eventKey struct {
	oid      domain.OID
	property string
}

func (d *Database) begin() *txn {
	return &txn{
		d:     d,
		saved: make(map[domain.OID]*savedObject),
		seen:  make(map[eventKey]struct{}),
	}
}

// touch captures o before its first mutation in this operation.
func (tx *txn) touch(o *Object) {
	if _, ok := tx.saved[o.oid]; ok {
		return
	}
	s := &savedObject{obj: o, existed: true, state: o.capture()}
	tx.saved[o.oid] = s
	tx.order = append(tx.order, s)
}

// create registers a freshly allocated object.
func (tx *txn) create(o *Object) {
	s := &savedObject{obj: o, existed: false}
	tx.saved[o.oid] = s
	tx.order = append(tx.order, s)
	tx.created = append(tx.created, o)
	tx.events = append(tx.events, Notification{Type: ObjectCreated, Database: tx.d, OID: o.oid, Kind: o.kind})
}

// isNew reports whether o was created by this operation.
func (tx *txn) isNew(o *Object) bool {
	s, ok := tx.saved[o.oid]
	return ok && !s.existed
}

// modified records that property changed on o.
func (tx *txn) modified(o *Object, property string) {
	if tx.isNew(o) {
		return
	}
	key := eventKey{oid: o.oid, property: property}
	if _, dup := tx.seen[key]; dup {
		return
	}
	tx.seen[key] = struct{}{}
	tx.events = append(tx.events, Notification{Type: ObjectModified, Database: tx.d, OID: o.oid, Kind: o.kind, Property: property})
}

// destroy records that o was destroyed.
func (tx *txn) destroy(o *Object) {
	tx.destroyed = append(tx.destroyed, o)
	if tx.isNew(o) {
		return
	}
	tx.events = append(tx.events, Notification{Type: ObjectDestroyed, Database: tx.d, OID: o.oid, Kind: o.kind})
}

// dirty reports whether the operation changed any record.
func (tx *txn) dirty() bool {
	return len(tx.order) > 0
}

// changeset converts the operation into backend form.
func (tx *txn) changeset() *Changeset {
	cs := &Changeset{NextOID: tx.d.nextOID}
	for _, o := range tx.created {
		if o.live {
			cs.Created = append(cs.Created, o.record())
		}
	}
	for _, s := range tx.order {
		if s.existed && s.obj.live {
			cs.Updated = append(cs.Updated, s.obj.record())
		}
	}
	for _, o := range tx.destroyed {
		if s := tx.saved[o.oid]; s != nil && s.existed {
			cs.Destroyed = append(cs.Destroyed, Record{OID: o.oid, Kind: o.kind})
		}
	}
	return cs
}

// rollback restores every captured object, newest first.
func (tx *txn) rollback() {
	for i := len(tx.order) - 1; i >= 0; i-- {
		s := tx.order[i]
		if !s.existed {
			s.obj.live = false
			s.obj.links = make(map[string][]domain.OID)
			delete(tx.d.objects, s.obj.oid)
			continue
		}
		s.obj.restore(s.state)
		if s.obj.live {
			tx.d.objects[s.obj.oid] = s.obj
		}
	}
	tx.events = nil
}
