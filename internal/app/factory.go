package app

import (
	"fmt"
	"time"

	"github.com/hylla/tt3/internal/db"
	"github.com/hylla/tt3/internal/domain"
)

// UserInput holds the initial values of a new User.
type UserInput struct {
	Enabled            bool
	EmailAddresses     []string
	RealName           string
	InactivityTimeout  time.Duration
	UILocale           string
	PermittedWorkloads []Workload
}

// AccountInput holds the initial values of a new Account.
type AccountInput struct {
	Enabled        bool
	EmailAddresses []string
	Login          string
	Password       string
	Capabilities   domain.Capabilities
	QuickPicks     []Activity
}

// ActivityTypeInput holds the initial values of a new ActivityType.
type ActivityTypeInput = db.ActivityTypeInput

// BeneficiaryInput holds the initial values of a new Beneficiary.
type BeneficiaryInput = db.BeneficiaryInput

// ActivityInput holds the initial values of a new activity.
type ActivityInput struct {
	DisplayName           string
	Description           string
	Timeout               time.Duration
	RequireCommentOnStart bool
	RequireCommentOnStop  bool
	FullScreenReminder    bool
	ActivityType          ActivityType
	Workload              Workload
}

// TaskInput holds the initial values of a new task.
type TaskInput struct {
	ActivityInput
	Completed                  bool
	RequireCommentOnCompletion bool
	EstimatedDuration          time.Duration
	Parent                     Task
}

// ProjectInput holds the initial values of a new Project.
type ProjectInput struct {
	DisplayName   string
	Description   string
	Completed     bool
	Parent        Workload
	Beneficiaries []Beneficiary
}

// WorkStreamInput holds the initial values of a new WorkStream.
type WorkStreamInput struct {
	DisplayName   string
	Description   string
	Beneficiaries []Beneficiary
}

// WorkInput holds the initial values of a new Work.
type WorkInput struct {
	Activity   Activity
	StartedAt  time.Time
	FinishedAt time.Time
	Comment    string
}

// EventInput holds the initial values of a new Event.
type EventInput struct {
	Activities []Activity
	OccurredAt time.Time
	Summary    string
}

// create gates and runs one factory call: the caller must be allowed to
// create kind under owner and to read every referenced object.
func create[T any](ws *Workspace, creds domain.Credentials, kind domain.Kind, owner Proxy, wrap func(*Object) T, build func(c caller, owner *db.Object) (*db.Object, error)) (T, error) {
	var out T
	err := ws.run(func() error {
		c, err := ws.callerLocked(creds)
		if err != nil {
			return err
		}
		ownerObj, err := ws.unwrapLocked(owner)
		if err != nil {
			return err
		}
		if !ws.canCreate(c, kind, ownerObj) {
			return errAccessDenied(fmt.Sprintf("cannot create %s", kind))
		}
		obj, err := build(c, ownerObj)
		if err != nil {
			return err
		}
		out = wrap(ws.proxyFor(obj))
		return nil
	})
	return out, err
}

// readableLocked unwraps ps and checks that c may read every one of them.
func readableLocked[P Proxy](ws *Workspace, c caller, ps ...P) ([]*db.Object, error) {
	objs, err := unwrapAll(ws, ps)
	if err != nil {
		return nil, err
	}
	for _, obj := range objs {
		if !ws.canRead(c, obj) {
			return nil, errAccessDenied(fmt.Sprintf("cannot reference %s#%d", obj.Kind(), obj.OID()))
		}
	}
	return objs, nil
}

func first(objs []*db.Object) *db.Object {
	if len(objs) == 0 {
		return nil
	}
	return objs[0]
}

// resolveActivityLocked converts the references of in.
func (ws *Workspace) resolveActivityLocked(c caller, in ActivityInput) (db.ActivityInput, error) {
	types, err := readableLocked(ws, c, in.ActivityType)
	if err != nil {
		return db.ActivityInput{}, err
	}
	workloads, err := readableLocked(ws, c, in.Workload)
	if err != nil {
		return db.ActivityInput{}, err
	}
	return db.ActivityInput{
		DisplayName:           in.DisplayName,
		Description:           in.Description,
		Timeout:               in.Timeout,
		RequireCommentOnStart: in.RequireCommentOnStart,
		RequireCommentOnStop:  in.RequireCommentOnStop,
		FullScreenReminder:    in.FullScreenReminder,
		ActivityType:          first(types),
		Workload:              first(workloads),
	}, nil
}

func (ws *Workspace) resolveTaskLocked(c caller, in TaskInput) (db.TaskInput, error) {
	activity, err := ws.resolveActivityLocked(c, in.ActivityInput)
	if err != nil {
		return db.TaskInput{}, err
	}
	parents, err := readableLocked(ws, c, in.Parent)
	if err != nil {
		return db.TaskInput{}, err
	}
	return db.TaskInput{
		ActivityInput:              activity,
		Completed:                  in.Completed,
		RequireCommentOnCompletion: in.RequireCommentOnCompletion,
		EstimatedDuration:          in.EstimatedDuration,
		Parent:                     first(parents),
	}, nil
}

// CreateUser creates a User.
func (ws *Workspace) CreateUser(creds domain.Credentials, in UserInput) (User, error) {
	return create(ws, creds, domain.KindUser, nil, asUser, func(c caller, _ *db.Object) (*db.Object, error) {
		workloads, err := readableLocked(ws, c, in.PermittedWorkloads...)
		if err != nil {
			return nil, err
		}
		return ws.db.CreateUser(db.UserInput{
			Enabled:            in.Enabled,
			EmailAddresses:     in.EmailAddresses,
			RealName:           in.RealName,
			InactivityTimeout:  in.InactivityTimeout,
			UILocale:           in.UILocale,
			PermittedWorkloads: workloads,
		})
	})
}

// CreateActivityType creates an ActivityType.
func (ws *Workspace) CreateActivityType(creds domain.Credentials, in ActivityTypeInput) (ActivityType, error) {
	return create(ws, creds, domain.KindActivityType, nil, asActivityType, func(caller, *db.Object) (*db.Object, error) {
		return ws.db.CreateActivityType(in)
	})
}

// CreateBeneficiary creates a Beneficiary.
func (ws *Workspace) CreateBeneficiary(creds domain.Credentials, in BeneficiaryInput) (Beneficiary, error) {
	return create(ws, creds, domain.KindBeneficiary, nil, asBeneficiary, func(caller, *db.Object) (*db.Object, error) {
		return ws.db.CreateBeneficiary(in)
	})
}

// CreatePublicActivity creates a PublicActivity.
func (ws *Workspace) CreatePublicActivity(creds domain.Credentials, in ActivityInput) (Activity, error) {
	return create(ws, creds, domain.KindPublicActivity, nil, asActivity, func(c caller, _ *db.Object) (*db.Object, error) {
		resolved, err := ws.resolveActivityLocked(c, in)
		if err != nil {
			return nil, err
		}
		return ws.db.CreatePublicActivity(resolved)
	})
}

// CreatePublicTask creates a PublicTask.
func (ws *Workspace) CreatePublicTask(creds domain.Credentials, in TaskInput) (Task, error) {
	return create(ws, creds, domain.KindPublicTask, nil, asTask, func(c caller, _ *db.Object) (*db.Object, error) {
		resolved, err := ws.resolveTaskLocked(c, in)
		if err != nil {
			return nil, err
		}
		return ws.db.CreatePublicTask(resolved)
	})
}

// CreateProject creates a Project.
func (ws *Workspace) CreateProject(creds domain.Credentials, in ProjectInput) (Workload, error) {
	return create(ws, creds, domain.KindProject, nil, asWorkload, func(c caller, _ *db.Object) (*db.Object, error) {
		parents, err := readableLocked(ws, c, in.Parent)
		if err != nil {
			return nil, err
		}
		beneficiaries, err := readableLocked(ws, c, in.Beneficiaries...)
		if err != nil {
			return nil, err
		}
		return ws.db.CreateProject(db.ProjectInput{
			DisplayName:   in.DisplayName,
			Description:   in.Description,
			Completed:     in.Completed,
			Parent:        first(parents),
			Beneficiaries: beneficiaries,
		})
	})
}

// CreateWorkStream creates a WorkStream.
func (ws *Workspace) CreateWorkStream(creds domain.Credentials, in WorkStreamInput) (Workload, error) {
	return create(ws, creds, domain.KindWorkStream, nil, asWorkload, func(c caller, _ *db.Object) (*db.Object, error) {
		beneficiaries, err := readableLocked(ws, c, in.Beneficiaries...)
		if err != nil {
			return nil, err
		}
		return ws.db.CreateWorkStream(db.WorkStreamInput{
			DisplayName:   in.DisplayName,
			Description:   in.Description,
			Beneficiaries: beneficiaries,
		})
	})
}

// CreateAccount creates an Account of the user. Only administrators may
// create Administrator accounts.
func (u User) CreateAccount(creds domain.Credentials, in AccountInput) (Account, error) {
	if u.Object == nil {
		return Account{}, translateError(db.ErrDoesNotExist)
	}
	ws := u.ws
	return create(ws, creds, domain.KindAccount, u, asAccount, func(c caller, owner *db.Object) (*db.Object, error) {
		if in.Capabilities.Contains(domain.CapAdministrator) && !c.isAdministrator() {
			return nil, errAccessDenied("only administrators can grant Administrator")
		}
		if !c.isAdministrator() && ws.touchesAdministrator(owner) {
			return nil, errAccessDenied(fmt.Sprintf("cannot add accounts to %s", u.Object))
		}
		picks, err := readableLocked(ws, c, in.QuickPicks...)
		if err != nil {
			return nil, err
		}
		return ws.db.CreateAccount(owner, db.AccountInput{
			Enabled:        in.Enabled,
			EmailAddresses: in.EmailAddresses,
			Login:          in.Login,
			Password:       in.Password,
			Capabilities:   in.Capabilities,
			QuickPicks:     picks,
		})
	})
}

// CreatePrivateActivity creates a PrivateActivity owned by the user.
func (u User) CreatePrivateActivity(creds domain.Credentials, in ActivityInput) (Activity, error) {
	if u.Object == nil {
		return Activity{}, translateError(db.ErrDoesNotExist)
	}
	ws := u.ws
	return create(ws, creds, domain.KindPrivateActivity, u, asActivity, func(c caller, owner *db.Object) (*db.Object, error) {
		resolved, err := ws.resolveActivityLocked(c, in)
		if err != nil {
			return nil, err
		}
		return ws.db.CreatePrivateActivity(owner, resolved)
	})
}

// CreatePrivateTask creates a PrivateTask owned by the user.
func (u User) CreatePrivateTask(creds domain.Credentials, in TaskInput) (Task, error) {
	if u.Object == nil {
		return Task{}, translateError(db.ErrDoesNotExist)
	}
	ws := u.ws
	return create(ws, creds, domain.KindPrivateTask, u, asTask, func(c caller, owner *db.Object) (*db.Object, error) {
		resolved, err := ws.resolveTaskLocked(c, in)
		if err != nil {
			return nil, err
		}
		return ws.db.CreatePrivateTask(owner, resolved)
	})
}

// CreateWork logs a Work on the account against an activity the caller can
// see.
func (a Account) CreateWork(creds domain.Credentials, in WorkInput) (Work, error) {
	if a.Object == nil {
		return Work{}, translateError(db.ErrDoesNotExist)
	}
	ws := a.ws
	return create(ws, creds, domain.KindWork, a, asWork, func(c caller, owner *db.Object) (*db.Object, error) {
		activities, err := readableLocked(ws, c, in.Activity)
		if err != nil {
			return nil, err
		}
		return ws.db.CreateWork(owner, db.WorkInput{
			Activity:   first(activities),
			StartedAt:  in.StartedAt,
			FinishedAt: in.FinishedAt,
			Comment:    in.Comment,
		})
	})
}

// CreateEvent logs an Event on the account against activities the caller
// can see.
func (a Account) CreateEvent(creds domain.Credentials, in EventInput) (Event, error) {
	if a.Object == nil {
		return Event{}, translateError(db.ErrDoesNotExist)
	}
	ws := a.ws
	return create(ws, creds, domain.KindEvent, a, asEvent, func(c caller, owner *db.Object) (*db.Object, error) {
		activities, err := readableLocked(ws, c, in.Activities...)
		if err != nil {
			return nil, err
		}
		return ws.db.CreateEvent(owner, db.EventInput{
			Activities: activities,
			OccurredAt: in.OccurredAt,
			Summary:    in.Summary,
		})
	})
}
