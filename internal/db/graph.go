package db

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/hylla/tt3/internal/domain"
)

// build turns a persisted graph into arena objects owned by d, deriving the
// reverse side of every association, and validates the result.
func (d *Database) build(graph *Graph) (map[domain.OID]*Object, error) {
	if graph == nil {
		return nil, corruptf("missing graph")
	}
	records := slices.Clone(graph.Records)
	slices.SortFunc(records, func(a, b Record) int { return cmp.Compare(a.OID, b.OID) })

	objects := make(map[domain.OID]*Object, len(records))
	for _, rec := range records {
		if rec.OID <= domain.InvalidOID {
			return nil, corruptf("invalid oid %d", rec.OID)
		}
		if !rec.Kind.IsValid() {
			return nil, corruptf("object %d has unknown kind %q", rec.OID, rec.Kind)
		}
		if _, dup := objects[rec.OID]; dup {
			return nil, corruptf("duplicate oid %d", rec.OID)
		}
		o := newObject(d, rec.OID, rec.Kind)
		for name, v := range rec.Props {
			p, ok := PropertyByName(rec.Kind, name)
			if !ok {
				return nil, corruptf("%s %d has unknown property %q", rec.Kind, rec.OID, name)
			}
			o.props[name] = p.cloneAny(v)
		}
		for name, oids := range rec.Links {
			l, ok := LinkByName(rec.Kind, name)
			if !ok || !l.forward {
				return nil, corruptf("%s %d has unknown association %q", rec.Kind, rec.OID, name)
			}
			if len(oids) > 0 {
				o.links[name] = slices.Clone(oids)
			}
		}
		objects[rec.OID] = o
	}

	for _, rec := range records {
		o := objects[rec.OID]
		for _, l := range ForwardLinksOf(o.kind) {
			for _, target := range o.links[l.name] {
				t := objects[target]
				if t == nil {
					return nil, corruptf("%s %d.%s references missing object %d", o.kind, o.oid, l.name, target)
				}
				if !t.hasLink(l.inverse, o.oid) {
					t.appendLink(l.inverse, o.oid)
				}
			}
		}
	}

	if err := validateObjects(d.opts.Validator, objects); err != nil {
		return nil, err
	}
	return objects, nil
}

// validateLocked checks the whole arena.
func (d *Database) validateLocked() error {
	return validateObjects(d.opts.Validator, d.objects)
}

// validateObjects checks property validity, link cardinality and target
// kinds, bidirectional consistency and acyclic hierarchies.
func validateObjects(v domain.Validator, objects map[domain.OID]*Object) error {
	for _, o := range objects {
		if !o.live {
			return corruptf("dead %s %d in arena", o.kind, o.oid)
		}
		for _, p := range PropertiesOf(o.kind) {
			val := o.props[p.Name()]
			if !p.validAny(v, o.kind, val) {
				return corruptf("%s %d has invalid %s %v", o.kind, o.oid, p.Name(), maskValue(p, val))
			}
		}
		if o.kind == domain.KindWork {
			if !v.Work().IsValidInterval(StartedAt.value(o), FinishedAt.value(o)) {
				return corruptf("work %d has an empty interval", o.oid)
			}
		}
		for name := range o.links {
			if l, ok := LinkByName(o.kind, name); !ok || !l.AppliesTo(o.kind) {
				return corruptf("%s %d has unknown association %q", o.kind, o.oid, name)
			}
		}
		for _, l := range LinksOf(o.kind) {
			oids := o.links[l.name]
			if !l.many && len(oids) > 1 {
				return corruptf("%s %d.%s has %d targets", o.kind, o.oid, l.name, len(oids))
			}
			if l.required && len(oids) == 0 {
				return corruptf("%s %d.%s is required", o.kind, o.oid, l.name)
			}
			for _, target := range oids {
				t := objects[target]
				if t == nil {
					return corruptf("%s %d.%s references missing object %d", o.kind, o.oid, l.name, target)
				}
				if !l.AcceptsTarget(t.kind) {
					return corruptf("%s %d.%s cannot reference %s %d", o.kind, o.oid, l.name, t.kind, t.oid)
				}
				if !t.hasLink(l.inverse, o.oid) {
					return corruptf("%s %d.%s -> %d is missing its reverse %s", o.kind, o.oid, l.name, target, l.inverse.name)
				}
			}
		}
		if err := checkStructureIn(objects, o); err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}
	return nil
}

// checkStructureIn verifies the rules spanning several links of o.
func checkStructureIn(objects map[domain.OID]*Object, o *Object) error {
	get := func(oid domain.OID) *Object { return objects[oid] }
	switch {
	case o.kind.IsTask():
		if parents := o.linked(TaskParent); len(parents) == 1 {
			if err := checkParent(get, o, TaskParent, get(parents[0])); err != nil {
				return err
			}
		}
	case o.kind == domain.KindProject:
		if parents := o.linked(ProjectParent); len(parents) == 1 {
			if err := checkParent(get, o, ProjectParent, get(parents[0])); err != nil {
				return err
			}
		}
	case o.kind == domain.KindWork:
		if accounts, activities := o.linked(WorkAccount), o.linked(WorkActivity); len(accounts) == 1 && len(activities) == 1 {
			if !visibleTo(get, get(accounts[0]), get(activities[0])) {
				return &PropertyError{Kind: o.kind, Property: WorkActivity.name, Value: activities[0]}
			}
		}
	case o.kind == domain.KindEvent:
		if accounts := o.linked(EventAccount); len(accounts) == 1 {
			for _, a := range o.linked(EventActivities) {
				if !visibleTo(get, get(accounts[0]), get(a)) {
					return &PropertyError{Kind: o.kind, Property: EventActivities.name, Value: a}
				}
			}
		}
	case o.kind == domain.KindAccount:
		for _, a := range o.linked(AccountQuickPicks) {
			if !visibleTo(get, o, get(a)) {
				return &PropertyError{Kind: o.kind, Property: AccountQuickPicks.name, Value: a}
			}
		}
	}
	return nil
}

// checkParent rejects cycles and, for private tasks, parents of another owner.
func checkParent(get func(domain.OID) *Object, o *Object, parentLink *Link, parent *Object) error {
	if parent == nil {
		return nil
	}
	if parent.kind != o.kind {
		return &PropertyError{Kind: o.kind, Property: parentLink.name, Value: parent.oid}
	}
	if o.kind == domain.KindPrivateTask {
		if !slices.Equal(o.linked(PrivateOwner), parent.linked(PrivateOwner)) {
			return &PropertyError{Kind: o.kind, Property: parentLink.name, Value: parent.oid}
		}
	}
	seen := map[domain.OID]bool{o.oid: true}
	for cur := parent; cur != nil; {
		if seen[cur.oid] {
			return &PropertyError{Kind: o.kind, Property: parentLink.name, Value: parent.oid}
		}
		seen[cur.oid] = true
		next := cur.linked(parentLink)
		if len(next) == 0 {
			break
		}
		cur = get(next[0])
	}
	return nil
}

// visibleTo reports whether activity may be used by account: public
// activities are visible to everyone, private ones only to accounts of the
// owning user.
func visibleTo(get func(domain.OID) *Object, account, activity *Object) bool {
	if account == nil || activity == nil {
		return false
	}
	if !activity.kind.IsPrivate() {
		return true
	}
	return slices.Equal(activity.linked(PrivateOwner), account.linked(AccountUser))
}

// maskValue hides secrets in diagnostics.
func maskValue(p Property, v any) any {
	if p.Name() == PasswordHash.name {
		return hiddenValue
	}
	return v
}

// Refresh reloads the persisted graph and reconciles the arena with it.
// Objects that vanished die and post ObjectDestroyed, new ones post
// ObjectCreated, and every changed property or link side posts
// ObjectModified. Existing Object pointers are kept.
func (d *Database) Refresh(ctx context.Context) error {
	if !d.IsOpen() {
		return ErrClosed
	}
	graph, err := d.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload %s database %q: %w", d.Type(), d.Address(), err)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	fresh, err := d.build(graph)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	var events []Notification
	for oid, o := range d.objects {
		if _, ok := fresh[oid]; ok {
			continue
		}
		o.live = false
		delete(d.objects, oid)
		events = append(events, Notification{Type: ObjectDestroyed, Database: d, OID: oid, Kind: o.kind})
	}
	oids := make([]domain.OID, 0, len(fresh))
	for oid := range fresh {
		oids = append(oids, oid)
	}
	slices.Sort(oids)
	for _, oid := range oids {
		next := fresh[oid]
		cur, ok := d.objects[oid]
		if !ok || cur.kind != next.kind {
			if ok {
				cur.live = false
				events = append(events, Notification{Type: ObjectDestroyed, Database: d, OID: oid, Kind: cur.kind})
			}
			d.objects[oid] = next
			events = append(events, Notification{Type: ObjectCreated, Database: d, OID: oid, Kind: next.kind})
			continue
		}
		for _, p := range PropertiesOf(cur.kind) {
			if !p.equalAny(cur.props[p.Name()], next.props[p.Name()]) {
				events = append(events, Notification{Type: ObjectModified, Database: d, OID: oid, Kind: cur.kind, Property: p.Name()})
			}
		}
		for _, l := range LinksOf(cur.kind) {
			if !slices.Equal(cur.links[l.name], next.links[l.name]) {
				events = append(events, Notification{Type: ObjectModified, Database: d, OID: oid, Kind: cur.kind, Property: l.name})
			}
		}
		cur.props, cur.links = next.props, next.links
	}
	d.nextOID = max(d.nextOID, graph.NextOID, maxOID(fresh))
	d.notifier.post(events...)
	d.mu.Unlock()
	d.notifier.flush()
	d.logger.Debug("database refreshed", "objects", len(fresh), "changes", len(events))
	return nil
}
