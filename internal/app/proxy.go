package app

import (
	"fmt"
	"runtime"
	"weak"

	"github.com/hylla/tt3/internal/db"
	"github.com/hylla/tt3/internal/domain"
)

// Object is the workspace proxy of one database object. A Workspace hands
// out at most one Object per OID while any caller still holds it, so
// proxies compare equal with ==.
type Object struct {
	ws  *Workspace
	obj *db.Object
}

// Proxy is implemented by *Object and by every typed proxy embedding it.
type Proxy interface {
	proxy() *Object
}

func (o *Object) proxy() *Object { return o }

// OID returns the object identifier.
func (o *Object) OID() domain.OID { return o.obj.OID() }

// Kind returns the concrete object kind.
func (o *Object) Kind() domain.Kind { return o.obj.Kind() }

// Workspace returns the workspace the proxy belongs to.
func (o *Object) Workspace() *Workspace { return o.ws }

// IsLive reports whether the object still exists in an open workspace.
// Once false it stays false.
func (o *Object) IsLive() bool {
	return o != nil && o.ws.IsOpen() && o.obj.IsLive()
}

// String renders the kind and OID.
func (o *Object) String() string {
	if o == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s#%d", o.obj.Kind(), o.obj.OID())
}

// Typed proxies. Each wraps the identity-mapped *Object, so two typed
// proxies of the same object compare equal.
type (
	User         struct{ *Object }
	Account      struct{ *Object }
	ActivityType struct{ *Object }
	// Activity is a public or private activity or task.
	Activity struct{ *Object }
	// Task is a public or private task.
	Task struct{ Activity }
	// Workload is a Project or a WorkStream.
	Workload    struct{ *Object }
	Beneficiary struct{ *Object }
	Work        struct{ *Object }
	Event       struct{ *Object }
)

func asUser(o *Object) User                 { return User{o} }
func asAccount(o *Object) Account           { return Account{o} }
func asActivityType(o *Object) ActivityType { return ActivityType{o} }
func asActivity(o *Object) Activity         { return Activity{o} }
func asTask(o *Object) Task                 { return Task{Activity{o}} }
func asWorkload(o *Object) Workload         { return Workload{o} }
func asBeneficiary(o *Object) Beneficiary   { return Beneficiary{o} }
func asWork(o *Object) Work                 { return Work{o} }
func asEvent(o *Object) Event               { return Event{o} }

// AsUser returns o as a User proxy.
func (o *Object) AsUser() (User, bool) {
	return as(o, asUser, domain.KindUser)
}

// AsAccount returns o as an Account proxy.
func (o *Object) AsAccount() (Account, bool) {
	return as(o, asAccount, domain.KindAccount)
}

// AsActivityType returns o as an ActivityType proxy.
func (o *Object) AsActivityType() (ActivityType, bool) {
	return as(o, asActivityType, domain.KindActivityType)
}

// AsActivity returns o as an Activity proxy.
func (o *Object) AsActivity() (Activity, bool) {
	return as(o, asActivity, domain.ActivityKinds...)
}

// AsTask returns o as a Task proxy.
func (o *Object) AsTask() (Task, bool) {
	return as(o, asTask, domain.TaskKinds...)
}

// AsWorkload returns o as a Workload proxy.
func (o *Object) AsWorkload() (Workload, bool) {
	return as(o, asWorkload, domain.WorkloadKinds...)
}

// AsBeneficiary returns o as a Beneficiary proxy.
func (o *Object) AsBeneficiary() (Beneficiary, bool) {
	return as(o, asBeneficiary, domain.KindBeneficiary)
}

// AsWork returns o as a Work proxy.
func (o *Object) AsWork() (Work, bool) {
	return as(o, asWork, domain.KindWork)
}

// AsEvent returns o as an Event proxy.
func (o *Object) AsEvent() (Event, bool) {
	return as(o, asEvent, domain.KindEvent)
}

func as[T any](o *Object, wrap func(*Object) T, kinds ...domain.Kind) (T, bool) {
	if o == nil || !o.obj.Kind().In(kinds...) {
		var zero T
		return zero, false
	}
	return wrap(o), true
}

// proxyKey identifies one identity-map entry for cleanup.
type proxyKey struct {
	oid domain.OID
	ref weak.Pointer[Object]
}

// proxyFor returns the proxy of obj, creating it on first use. Entries
// disappear once no caller holds the proxy.
func (ws *Workspace) proxyFor(obj *db.Object) *Object {
	if obj == nil {
		return nil
	}
	ws.stateMu.Lock()
	defer ws.stateMu.Unlock()
	if ref, ok := ws.proxies[obj.OID()]; ok {
		if p := ref.Value(); p != nil && p.obj == obj {
			return p
		}
	}
	p := &Object{ws: ws, obj: obj}
	ref := weak.Make(p)
	ws.proxies[obj.OID()] = ref
	runtime.AddCleanup(p, ws.forgetProxy, proxyKey{oid: obj.OID(), ref: ref})
	return p
}

func (ws *Workspace) forgetProxy(key proxyKey) {
	ws.stateMu.Lock()
	defer ws.stateMu.Unlock()
	if ws.proxies[key.oid] == key.ref {
		delete(ws.proxies, key.oid)
	}
}

// cachedProxies returns the number of identity-map entries.
func (ws *Workspace) cachedProxies() int {
	ws.stateMu.Lock()
	defer ws.stateMu.Unlock()
	return len(ws.proxies)
}

// unwrapLocked returns the database object behind p. A nil proxy yields a
// nil object; a proxy of another workspace is incompatible.
func (ws *Workspace) unwrapLocked(p Proxy) (*db.Object, error) {
	if p == nil {
		return nil, nil
	}
	o := p.proxy()
	if o == nil {
		return nil, nil
	}
	if o.ws != ws {
		return nil, errIncompatible(fmt.Sprintf("%s belongs to another workspace", o))
	}
	if !o.obj.IsLive() {
		return nil, fmt.Errorf("%w: %s", db.ErrInstanceDead, o)
	}
	return o.obj, nil
}

// unwrapAll unwraps every proxy of ps, skipping nil ones.
func unwrapAll[P Proxy](ws *Workspace, ps []P) ([]*db.Object, error) {
	out := make([]*db.Object, 0, len(ps))
	for _, p := range ps {
		obj, err := ws.unwrapLocked(p)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			out = append(out, obj)
		}
	}
	return out, nil
}

// wrapAll proxies objs, keeping those c may read.
func wrapAll[T any](ws *Workspace, c caller, objs []*db.Object, wrap func(*Object) T) []T {
	out := make([]T, 0, len(objs))
	for _, obj := range objs {
		if ws.canRead(c, obj) {
			out = append(out, wrap(ws.proxyFor(obj)))
		}
	}
	return out
}

// do runs fn for the object behind o under the workspace guard, after
// validating creds and liveness.
func (o *Object) do(creds domain.Credentials, fn func(c caller, obj *db.Object) error) error {
	if o == nil {
		return translateError(fmt.Errorf("%w: nil proxy", db.ErrDoesNotExist))
	}
	ws := o.ws
	return ws.run(func() error {
		c, err := ws.callerLocked(creds)
		if err != nil {
			return err
		}
		obj, err := ws.unwrapLocked(o)
		if err != nil {
			return err
		}
		return fn(c, obj)
	})
}
