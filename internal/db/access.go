package db

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hylla/tt3/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// Get reads property p of o.
func Get[T any](o *Object, p *Prop[T]) (T, error) {
	var zero T
	if o == nil {
		return zero, ErrDoesNotExist
	}
	d := o.db
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usableLocked(o); err != nil {
		return zero, err
	}
	if !p.AppliesTo(o.kind) {
		return zero, fmt.Errorf("%w: %s has no property %s", ErrIncompatibleInstance, o.kind, p.name)
	}
	return p.codec.clone(p.value(o)), nil
}

// Set writes property p of o. Setting the current value is a no-op that
// neither commits nor notifies.
func Set[T any](o *Object, p *Prop[T], v T) error {
	if o == nil {
		return ErrDoesNotExist
	}
	d := o.db
	return d.mutate(func(tx *txn) error {
		if err := d.usableLocked(o); err != nil {
			return err
		}
		return d.setLocked(tx, o, p, v)
	})
}

// setLocked validates and applies one property change.
func (d *Database) setLocked(tx *txn, o *Object, p Property, v any) error {
	if !p.AppliesTo(o.kind) {
		return fmt.Errorf("%w: %s has no property %s", ErrIncompatibleInstance, o.kind, p.Name())
	}
	if !p.validAny(d.opts.Validator, o.kind, v) {
		return &PropertyError{Kind: o.kind, Property: p.Name(), Value: maskValue(p, v)}
	}
	if p.equalAny(o.props[p.Name()], v) {
		return nil
	}
	if err := d.checkUniqueLocked(o, p, v); err != nil {
		return err
	}
	if err := d.checkIntervalLocked(o, p, v); err != nil {
		return err
	}
	tx.touch(o)
	o.props[p.Name()] = p.cloneAny(v)
	tx.modified(o, p.Name())
	return nil
}

// checkUniqueLocked rejects duplicate logins and activity type names.
func (d *Database) checkUniqueLocked(o *Object, p Property, v any) error {
	switch {
	case p == Login:
		login := v.(string)
		for _, other := range d.objects {
			if other != o && other.kind == domain.KindAccount && Login.value(other) == login {
				return &AlreadyExistsError{Kind: domain.KindAccount, Property: Login.name, Value: login}
			}
		}
	case p == DisplayName && o.kind == domain.KindActivityType:
		name := v.(string)
		for _, other := range d.objects {
			if other != o && other.kind == domain.KindActivityType && strings.EqualFold(DisplayName.value(other), name) {
				return &AlreadyExistsError{Kind: domain.KindActivityType, Property: DisplayName.name, Value: name}
			}
		}
	}
	return nil
}

// checkIntervalLocked keeps StartedAt before FinishedAt on a live Work.
func (d *Database) checkIntervalLocked(o *Object, p Property, v any) error {
	if o.kind != domain.KindWork {
		return nil
	}
	start, finish := StartedAt.value(o), FinishedAt.value(o)
	switch p {
	case StartedAt:
		start = v.(time.Time)
	case FinishedAt:
		finish = v.(time.Time)
	default:
		return nil
	}
	if !d.opts.Validator.Work().IsValidInterval(start, finish) {
		return &PropertyError{Kind: o.kind, Property: p.Name(), Value: v}
	}
	return nil
}

// SetInterval moves both ends of a Work at once.
func (o *Object) SetInterval(start, finish time.Time) error {
	d := o.db
	return d.mutate(func(tx *txn) error {
		if err := d.usableLocked(o); err != nil {
			return err
		}
		if o.kind != domain.KindWork {
			return fmt.Errorf("%w: %s has no interval", ErrIncompatibleInstance, o.kind)
		}
		if !d.opts.Validator.Work().IsValidInterval(start, finish) {
			return &PropertyError{Kind: o.kind, Property: FinishedAt.name, Value: finish}
		}
		if !start.Equal(StartedAt.value(o)) {
			tx.touch(o)
			o.props[StartedAt.name] = start.UTC()
			tx.modified(o, StartedAt.name)
		}
		if !finish.Equal(FinishedAt.value(o)) {
			tx.touch(o)
			o.props[FinishedAt.name] = finish.UTC()
			tx.modified(o, FinishedAt.name)
		}
		return nil
	})
}

// SetPassword replaces the password hash of an Account.
func (o *Object) SetPassword(password string) error {
	d := o.db
	if !d.opts.Validator.Account().IsValidPassword(password) {
		return &PropertyError{Kind: o.kind, Property: "Password", Value: hiddenValue}
	}
	if o.kind != domain.KindAccount {
		return fmt.Errorf("%w: %s has no password", ErrIncompatibleInstance, o.kind)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.opts.BcryptCost)
	if err != nil {
		return &StorageError{Op: "hash password", Err: err}
	}
	return d.mutate(func(tx *txn) error {
		if err := d.usableLocked(o); err != nil {
			return err
		}
		return d.setLocked(tx, o, PasswordHash, string(hash))
	})
}

// Linked returns the live targets of link l of o.
func (o *Object) Linked(l *Link) ([]*Object, error) {
	d := o.db
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usableLocked(o); err != nil {
		return nil, err
	}
	if !l.AppliesTo(o.kind) {
		return nil, fmt.Errorf("%w: %s has no association %s", ErrIncompatibleInstance, o.kind, l.name)
	}
	return d.resolveLocked(o.linked(l)), nil
}

// LinkedOne returns the single target of l, or nil when unset.
func (o *Object) LinkedOne(l *Link) (*Object, error) {
	targets, err := o.Linked(l)
	if err != nil || len(targets) == 0 {
		return nil, err
	}
	return targets[0], nil
}

// SetLink sets the single-valued forward link l of o. A nil target clears
// an optional link.
func (o *Object) SetLink(l *Link, target *Object) error {
	if l.many {
		return fmt.Errorf("%w: %s is multi-valued", ErrIncompatibleInstance, l.name)
	}
	var targets []*Object
	if target != nil {
		targets = []*Object{target}
	}
	return o.SetLinks(l, targets)
}

// AddLink adds target to the multi-valued forward link l of o.
func (o *Object) AddLink(l *Link, target *Object) error {
	d := o.db
	return d.mutate(func(tx *txn) error {
		if err := d.usableLocked(o); err != nil {
			return err
		}
		if err := d.checkTargetLocked(o, l, target); err != nil {
			return err
		}
		if o.hasLink(l, target.oid) {
			return nil
		}
		if !l.many && len(o.linked(l)) > 0 {
			return &PropertyError{Kind: o.kind, Property: l.name, Value: target.oid}
		}
		d.linkLocked(tx, o, l, target)
		return d.checkStructureLocked(o, l)
	})
}

// RemoveLink removes target from the forward link l of o.
func (o *Object) RemoveLink(l *Link, target *Object) error {
	d := o.db
	return d.mutate(func(tx *txn) error {
		if err := d.usableLocked(o); err != nil {
			return err
		}
		if !l.forward || !l.AppliesTo(o.kind) {
			return fmt.Errorf("%w: %s cannot change %s", ErrIncompatibleInstance, o.kind, l.name)
		}
		if target == nil || !o.hasLink(l, target.oid) {
			return nil
		}
		if l.required && len(o.linked(l)) == 1 {
			return &PropertyError{Kind: o.kind, Property: l.name, Value: nil}
		}
		d.unlinkLocked(tx, o, l, target.oid)
		return nil
	})
}

// SetLinks replaces the targets of the forward link l of o. For ordered
// links the order of targets is kept.
func (o *Object) SetLinks(l *Link, targets []*Object) error {
	d := o.db
	return d.mutate(func(tx *txn) error {
		if err := d.usableLocked(o); err != nil {
			return err
		}
		return d.setLinksLocked(tx, o, l, targets)
	})
}

func (d *Database) setLinksLocked(tx *txn, o *Object, l *Link, targets []*Object) error {
	if !l.forward || !l.AppliesTo(o.kind) {
		return fmt.Errorf("%w: %s cannot change %s", ErrIncompatibleInstance, o.kind, l.name)
	}
	if !l.many && len(targets) > 1 {
		return &PropertyError{Kind: o.kind, Property: l.name, Value: len(targets)}
	}
	if l.required && len(targets) == 0 {
		return &PropertyError{Kind: o.kind, Property: l.name, Value: nil}
	}
	want := make([]domain.OID, 0, len(targets))
	for _, t := range targets {
		if err := d.checkTargetLocked(o, l, t); err != nil {
			return err
		}
		if slices.Contains(want, t.oid) {
			return &PropertyError{Kind: o.kind, Property: l.name, Value: t.oid}
		}
		want = append(want, t.oid)
	}
	if !l.ordered {
		slices.Sort(want)
	}
	if slices.Equal(o.linked(l), want) {
		return nil
	}
	if l.required && l.container && len(o.linked(l)) > 0 && !tx.isNew(o) {
		return fmt.Errorf("%w: %s.%s cannot be moved", ErrIncompatibleInstance, o.kind, l.name)
	}
	for _, oid := range slices.Clone(o.linked(l)) {
		if !slices.Contains(want, oid) {
			d.unlinkLocked(tx, o, l, oid)
		}
	}
	for _, t := range targets {
		if !o.hasLink(l, t.oid) {
			d.linkLocked(tx, o, l, t)
		}
	}
	if l.ordered && !slices.Equal(o.linked(l), want) {
		tx.touch(o)
		o.links[l.name] = want
		tx.modified(o, l.name)
	}
	return d.checkStructureLocked(o, l)
}

// checkTargetLocked validates one prospective link target.
func (d *Database) checkTargetLocked(o *Object, l *Link, target *Object) error {
	if !l.forward || !l.AppliesTo(o.kind) {
		return fmt.Errorf("%w: %s cannot change %s", ErrIncompatibleInstance, o.kind, l.name)
	}
	if target == nil {
		return &PropertyError{Kind: o.kind, Property: l.name, Value: nil}
	}
	if target.db != d {
		return ErrIncompatibleInstance
	}
	if !target.live {
		return ErrInstanceDead
	}
	if !l.AcceptsTarget(target.kind) {
		return &PropertyError{Kind: o.kind, Property: l.name, Value: target.oid}
	}
	return nil
}

// checkStructureLocked verifies the cross-link rules after l of o changed.
func (d *Database) checkStructureLocked(o *Object, l *Link) error {
	get := func(oid domain.OID) *Object { return d.objects[oid] }
	switch l {
	case TaskParent, ProjectParent:
		if parents := o.linked(l); len(parents) == 1 {
			return checkParent(get, o, l, get(parents[0]))
		}
	case WorkActivity, EventActivities, AccountQuickPicks, PrivateOwner:
		return checkStructureIn(d.objects, o)
	}
	return nil
}

// linkLocked adds target to l of o and o to the reverse side of target.
func (d *Database) linkLocked(tx *txn, o *Object, l *Link, target *Object) {
	tx.touch(o)
	tx.touch(target)
	o.appendLink(l, target.oid)
	target.appendLink(l.inverse, o.oid)
	tx.modified(o, l.name)
	tx.modified(target, l.inverse.name)
}

// unlinkLocked removes target from l of o and o from the reverse side.
func (d *Database) unlinkLocked(tx *txn, o *Object, l *Link, oid domain.OID) {
	tx.touch(o)
	o.dropLink(l, oid)
	tx.modified(o, l.name)
	if target := d.objects[oid]; target != nil {
		tx.touch(target)
		target.dropLink(l.inverse, o.oid)
		tx.modified(target, l.inverse.name)
	}
}

// Destroy destroys o and, recursively, every object it aggregates.
func (o *Object) Destroy() error {
	d := o.db
	return d.mutate(func(tx *txn) error {
		if err := d.usableLocked(o); err != nil {
			return err
		}
		return d.destroyLocked(tx, o)
	})
}

// destroyLocked removes o from the arena: aggregated children first, then
// every remaining association on both sides, then the record itself.
func (d *Database) destroyLocked(tx *txn, o *Object) error {
	if !o.live {
		return nil
	}
	for _, l := range LinksOf(o.kind) {
		if !l.aggregates {
			continue
		}
		for _, oid := range slices.Clone(o.linked(l)) {
			if child := d.objects[oid]; child != nil {
				if err := d.destroyLocked(tx, child); err != nil {
					return err
				}
			}
		}
		if n := len(o.linked(l)); n != 0 {
			return corruptf("%s %d still aggregates %d %s after cascade", o.kind, o.oid, n, l.name)
		}
	}
	for _, l := range LinksOf(o.kind) {
		for _, oid := range slices.Clone(o.linked(l)) {
			target := d.objects[oid]
			if target == nil {
				continue
			}
			tx.touch(target)
			target.dropLink(l.inverse, o.oid)
			tx.modified(target, l.inverse.name)
		}
	}
	tx.touch(o)
	o.links = make(map[string][]domain.OID)
	o.live = false
	delete(d.objects, o.oid)
	tx.destroy(o)
	return nil
}
