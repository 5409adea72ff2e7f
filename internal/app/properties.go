package app

import (
	"fmt"
	"time"

	"github.com/hylla/tt3/internal/db"
	"github.com/hylla/tt3/internal/domain"
)

// Get reads property prop of the object behind p.
func Get[T any](p Proxy, creds domain.Credentials, prop *db.Prop[T]) (T, error) {
	var v T
	o := proxyOf(p)
	err := o.do(creds, func(c caller, obj *db.Object) error {
		if prop.Name() == db.PasswordHash.Name() {
			return errAccessDenied("password hashes cannot be read")
		}
		if !prop.AppliesTo(obj.Kind()) {
			return fmt.Errorf("%w: %s has no property %s", db.ErrIncompatibleInstance, obj.Kind(), prop.Name())
		}
		if !o.ws.canRead(c, obj) {
			return errAccessDenied(fmt.Sprintf("cannot read %s", o))
		}
		var err error
		v, err = db.Get(obj, prop)
		return err
	})
	return v, err
}

// Set writes property prop of the object behind p. Setting the current
// value is a no-op.
func Set[T any](p Proxy, creds domain.Credentials, prop *db.Prop[T], v T) error {
	o := proxyOf(p)
	return o.do(creds, func(c caller, obj *db.Object) error {
		ws := o.ws
		if prop.Name() == db.PasswordHash.Name() {
			return errAccessDenied("password hashes are set through SetPassword")
		}
		if !ws.canModify(c, obj, prop.Name()) {
			return errAccessDenied(fmt.Sprintf("cannot modify %s.%s", o, prop.Name()))
		}
		switch any(prop) {
		case any(db.Enabled):
			if enabled, _ := any(v).(bool); !enabled {
				if err := ws.guardAdministratorsLocked(losing(obj)); err != nil {
					return err
				}
			}
		case any(db.Capabilities):
			caps, _ := any(v).(domain.Capabilities)
			if caps.Contains(domain.CapAdministrator) && !c.isAdministrator() {
				return errAccessDenied("only administrators can grant Administrator")
			}
			if !caps.Contains(domain.CapAdministrator) {
				if err := ws.guardAdministratorsLocked(losing(obj)); err != nil {
					return err
				}
			}
		}
		return db.Set(obj, prop, v)
	})
}

// losing matches the administrator accounts that stop counting when obj,
// a User or an Account, is disabled, demoted or destroyed.
func losing(obj *db.Object) func(account, user *db.Object) bool {
	return func(account, user *db.Object) bool {
		return account == obj || user == obj
	}
}

func proxyOf(p Proxy) *Object {
	if p == nil {
		return nil
	}
	return p.proxy()
}

// Linked returns the targets of link l the caller may read.
func (o *Object) Linked(creds domain.Credentials, l *db.Link) ([]*Object, error) {
	var out []*Object
	err := o.do(creds, func(c caller, obj *db.Object) error {
		if !o.ws.canRead(c, obj) {
			return errAccessDenied(fmt.Sprintf("cannot read %s", o))
		}
		targets, err := obj.Linked(l)
		if err != nil {
			return err
		}
		out = wrapAll(o.ws, c, targets, func(p *Object) *Object { return p })
		return nil
	})
	return out, err
}

// SetLinks replaces the targets of the forward link l.
func (o *Object) SetLinks(creds domain.Credentials, l *db.Link, targets ...Proxy) error {
	return o.changeLink(creds, l, targets, func(obj *db.Object, objs []*db.Object) error {
		return obj.SetLinks(l, objs)
	})
}

// AddLink adds target to the forward link l.
func (o *Object) AddLink(creds domain.Credentials, l *db.Link, target Proxy) error {
	return o.changeLink(creds, l, []Proxy{target}, func(obj *db.Object, objs []*db.Object) error {
		if len(objs) == 0 {
			return fmt.Errorf("%w: nil link target", db.ErrDoesNotExist)
		}
		return obj.AddLink(l, objs[0])
	})
}

// RemoveLink removes target from the forward link l.
func (o *Object) RemoveLink(creds domain.Credentials, l *db.Link, target Proxy) error {
	return o.changeLink(creds, l, []Proxy{target}, func(obj *db.Object, objs []*db.Object) error {
		if len(objs) == 0 {
			return nil
		}
		return obj.RemoveLink(l, objs[0])
	})
}

// changeLink gates a link change: the caller must be allowed to modify the
// link and to read every new target.
func (o *Object) changeLink(creds domain.Credentials, l *db.Link, targets []Proxy, apply func(*db.Object, []*db.Object) error) error {
	return o.do(creds, func(c caller, obj *db.Object) error {
		ws := o.ws
		if !ws.canModify(c, obj, l.Name()) {
			return errAccessDenied(fmt.Sprintf("cannot modify %s.%s", o, l.Name()))
		}
		objs, err := unwrapAll(ws, targets)
		if err != nil {
			return err
		}
		for _, t := range objs {
			if !ws.canRead(c, t) {
				return errAccessDenied(fmt.Sprintf("cannot link %s to %s#%d", o, t.Kind(), t.OID()))
			}
		}
		return apply(obj, objs)
	})
}

// Destroy destroys the object and everything it aggregates.
func (o *Object) Destroy(creds domain.Credentials) error {
	return o.do(creds, func(c caller, obj *db.Object) error {
		ws := o.ws
		if !ws.canModify(c, obj, "") {
			return errAccessDenied(fmt.Sprintf("cannot destroy %s", o))
		}
		if obj.Kind().IsPrincipal() {
			if err := ws.guardAdministratorsLocked(losing(obj)); err != nil {
				return err
			}
		}
		return obj.Destroy()
	})
}

// SetPassword replaces the password of the account.
func (a Account) SetPassword(creds domain.Credentials, password string) error {
	return a.do(creds, func(c caller, obj *db.Object) error {
		if !a.ws.canModify(c, obj, db.PasswordHash.Name()) {
			return errAccessDenied(fmt.Sprintf("cannot change the password of %s", a.Object))
		}
		return obj.SetPassword(password)
	})
}

// SetInterval replaces the start and finish of the work together.
func (w Work) SetInterval(creds domain.Credentials, start, finish time.Time) error {
	return w.do(creds, func(c caller, obj *db.Object) error {
		if !w.ws.canModify(c, obj, db.StartedAt.Name()) {
			return errAccessDenied(fmt.Sprintf("cannot modify %s", w.Object))
		}
		return obj.SetInterval(start, finish)
	})
}

// SetCompleted marks the task completed or not. Both directions need the
// right to modify the task.
func (t Task) SetCompleted(creds domain.Credentials, completed bool) error {
	return Set(t, creds, db.Completed, completed)
}
