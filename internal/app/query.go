package app

import (
	"fmt"

	"github.com/hylla/tt3/internal/db"
	"github.com/hylla/tt3/internal/domain"
)

// collection returns the proxies of load's result that the caller may read.
func collection[T any](ws *Workspace, creds domain.Credentials, load func() ([]*db.Object, error), wrap func(*Object) T) ([]T, error) {
	var out []T
	err := ws.run(func() error {
		c, err := ws.callerLocked(creds)
		if err != nil {
			return err
		}
		objs, err := load()
		if err != nil {
			return err
		}
		out = wrapAll(ws, c, objs, wrap)
		return nil
	})
	return out, err
}

// Users returns the users visible to the caller.
func (ws *Workspace) Users(creds domain.Credentials) ([]User, error) {
	return collection(ws, creds, ws.db.Users, asUser)
}

// Accounts returns the accounts visible to the caller.
func (ws *Workspace) Accounts(creds domain.Credentials) ([]Account, error) {
	return collection(ws, creds, ws.db.Accounts, asAccount)
}

// ActivityTypes returns every ActivityType.
func (ws *Workspace) ActivityTypes(creds domain.Credentials) ([]ActivityType, error) {
	return collection(ws, creds, ws.db.ActivityTypes, asActivityType)
}

// PublicActivities returns every PublicActivity.
func (ws *Workspace) PublicActivities(creds domain.Credentials) ([]Activity, error) {
	return collection(ws, creds, ws.db.PublicActivities, asActivity)
}

// PublicActivitiesAndTasks returns every public activity and task.
func (ws *Workspace) PublicActivitiesAndTasks(creds domain.Credentials) ([]Activity, error) {
	return collection(ws, creds, ws.db.PublicActivitiesAndTasks, asActivity)
}

// PublicTasks returns every PublicTask.
func (ws *Workspace) PublicTasks(creds domain.Credentials) ([]Task, error) {
	return collection(ws, creds, ws.db.PublicTasks, asTask)
}

// RootPublicTasks returns the public tasks without a parent.
func (ws *Workspace) RootPublicTasks(creds domain.Credentials) ([]Task, error) {
	return collection(ws, creds, ws.db.RootPublicTasks, asTask)
}

// Projects returns every Project.
func (ws *Workspace) Projects(creds domain.Credentials) ([]Workload, error) {
	return collection(ws, creds, ws.db.Projects, asWorkload)
}

// RootProjects returns the projects without a parent.
func (ws *Workspace) RootProjects(creds domain.Credentials) ([]Workload, error) {
	return collection(ws, creds, ws.db.RootProjects, asWorkload)
}

// WorkStreams returns every WorkStream.
func (ws *Workspace) WorkStreams(creds domain.Credentials) ([]Workload, error) {
	return collection(ws, creds, ws.db.WorkStreams, asWorkload)
}

// Beneficiaries returns every Beneficiary.
func (ws *Workspace) Beneficiaries(creds domain.Credentials) ([]Beneficiary, error) {
	return collection(ws, creds, ws.db.Beneficiaries, asBeneficiary)
}

// FindObjectByOID returns the proxy of oid, or nil when no such object
// exists. An object the caller may not read yields AccessDenied.
func (ws *Workspace) FindObjectByOID(creds domain.Credentials, oid domain.OID) (*Object, error) {
	var out *Object
	err := ws.run(func() error {
		c, err := ws.callerLocked(creds)
		if err != nil {
			return err
		}
		obj, err := ws.db.FindObjectByOID(oid)
		if err != nil || obj == nil {
			return err
		}
		if !ws.canRead(c, obj) {
			return errAccessDenied(fmt.Sprintf("cannot read %s#%d", obj.Kind(), oid))
		}
		out = ws.proxyFor(obj)
		return nil
	})
	return out, err
}

// FindAccount returns the account with login. The boolean is false when
// there is none; an account the caller may not read yields AccessDenied.
func (ws *Workspace) FindAccount(creds domain.Credentials, login string) (Account, bool, error) {
	var out Account
	err := ws.run(func() error {
		c, err := ws.callerLocked(creds)
		if err != nil {
			return err
		}
		obj, err := ws.db.FindAccount(login)
		if err != nil || obj == nil {
			return err
		}
		if !ws.canRead(c, obj) {
			return errAccessDenied(fmt.Sprintf("cannot read account %q", login))
		}
		out = Account{ws.proxyFor(obj)}
		return nil
	})
	return out, out.Object != nil, err
}

// linked returns the readable targets of l as typed proxies.
func linked[T any](o *Object, creds domain.Credentials, l *db.Link, wrap func(*Object) T) ([]T, error) {
	objs, err := o.Linked(creds, l)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(objs))
	for i, p := range objs {
		out[i] = wrap(p)
	}
	return out, nil
}

// linkedTo returns the single readable target of l, or the zero proxy.
func linkedTo[T any](o *Object, creds domain.Credentials, l *db.Link, wrap func(*Object) T) (T, error) {
	var zero T
	objs, err := o.Linked(creds, l)
	if err != nil || len(objs) == 0 {
		return zero, err
	}
	return wrap(objs[0]), nil
}

// Accounts returns the accounts of the user.
func (u User) Accounts(creds domain.Credentials) ([]Account, error) {
	return linked(u.Object, creds, db.UserAccounts, asAccount)
}

// PrivateActivities returns the private activities and tasks of the user.
func (u User) PrivateActivities(creds domain.Credentials) ([]Activity, error) {
	return linked(u.Object, creds, db.UserPrivateActivities, asActivity)
}

// PermittedWorkloads returns the workloads the user may contribute to.
func (u User) PermittedWorkloads(creds domain.Credentials) ([]Workload, error) {
	return linked(u.Object, creds, db.UserPermittedWorkloads, asWorkload)
}

// User returns the user owning the account.
func (a Account) User(creds domain.Credentials) (User, error) {
	return linkedTo(a.Object, creds, db.AccountUser, asUser)
}

// QuickPicks returns the quick-pick activities of the account in order.
func (a Account) QuickPicks(creds domain.Credentials) ([]Activity, error) {
	return linked(a.Object, creds, db.AccountQuickPicks, asActivity)
}

// SetQuickPicks replaces the quick-pick activities of the account.
func (a Account) SetQuickPicks(creds domain.Credentials, picks []Activity) error {
	targets := make([]Proxy, len(picks))
	for i, p := range picks {
		targets[i] = p
	}
	return a.SetLinks(creds, db.AccountQuickPicks, targets...)
}

// Works returns the works logged by the account.
func (a Account) Works(creds domain.Credentials) ([]Work, error) {
	return linked(a.Object, creds, db.AccountWorks, asWork)
}

// Events returns the events logged by the account.
func (a Account) Events(creds domain.Credentials) ([]Event, error) {
	return linked(a.Object, creds, db.AccountEvents, asEvent)
}

// ActivityType returns the type of the activity, if any.
func (a Activity) ActivityType(creds domain.Credentials) (ActivityType, error) {
	return linkedTo(a.Object, creds, db.ActivityActivityType, asActivityType)
}

// Workload returns the workload the activity contributes to, if any.
func (a Activity) Workload(creds domain.Credentials) (Workload, error) {
	return linkedTo(a.Object, creds, db.ActivityWorkload, asWorkload)
}

// Works returns the visible works logged against the activity.
func (a Activity) Works(creds domain.Credentials) ([]Work, error) {
	return linked(a.Object, creds, db.ActivityWorks, asWork)
}

// Parent returns the parent task, if any.
func (t Task) Parent(creds domain.Credentials) (Task, error) {
	return linkedTo(t.Object, creds, db.TaskParent, asTask)
}

// Children returns the direct subtasks.
func (t Task) Children(creds domain.Credentials) ([]Task, error) {
	return linked(t.Object, creds, db.TaskChildren, asTask)
}

// Beneficiaries returns the beneficiaries of the workload.
func (w Workload) Beneficiaries(creds domain.Credentials) ([]Beneficiary, error) {
	return linked(w.Object, creds, db.WorkloadBeneficiaries, asBeneficiary)
}

// ContributingActivities returns the activities contributing to the
// workload.
func (w Workload) ContributingActivities(creds domain.Credentials) ([]Activity, error) {
	return linked(w.Object, creds, db.WorkloadContributingActivities, asActivity)
}

// Children returns the direct subprojects of a project.
func (w Workload) Children(creds domain.Credentials) ([]Workload, error) {
	return linked(w.Object, creds, db.ProjectChildren, asWorkload)
}

// Workloads returns the workloads the beneficiary is attached to.
func (b Beneficiary) Workloads(creds domain.Credentials) ([]Workload, error) {
	return linked(b.Object, creds, db.BeneficiaryWorkloads, asWorkload)
}

// Account returns the account that logged the work.
func (w Work) Account(creds domain.Credentials) (Account, error) {
	return linkedTo(w.Object, creds, db.WorkAccount, asAccount)
}

// Activity returns the activity the work was logged against.
func (w Work) Activity(creds domain.Credentials) (Activity, error) {
	return linkedTo(w.Object, creds, db.WorkActivity, asActivity)
}

// Account returns the account that logged the event.
func (e Event) Account(creds domain.Credentials) (Account, error) {
	return linkedTo(e.Object, creds, db.EventAccount, asAccount)
}

// Activities returns the visible activities the event concerns.
func (e Event) Activities(creds domain.Credentials) ([]Activity, error) {
	return linked(e.Object, creds, db.EventActivities, asActivity)
}

// Activities returns the activities of the type.
func (t ActivityType) Activities(creds domain.Credentials) ([]Activity, error) {
	return linked(t.Object, creds, db.ActivityTypeActivities, asActivity)
}

// Events returns the visible events concerning the activity.
func (a Activity) Events(creds domain.Credentials) ([]Event, error) {
	return linked(a.Object, creds, db.ActivityEvents, asEvent)
}

// Parent returns the parent of a project, if any.
func (w Workload) Parent(creds domain.Credentials) (Workload, error) {
	return linkedTo(w.Object, creds, db.ProjectParent, asWorkload)
}

// AssignedUsers returns the visible users permitted on the workload.
func (w Workload) AssignedUsers(creds domain.Credentials) ([]User, error) {
	return linked(w.Object, creds, db.WorkloadAssignedUsers, asUser)
}
