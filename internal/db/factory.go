package db

import (
	"time"

	"github.com/hylla/tt3/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// UserInput holds the initial values of a new User.
type UserInput struct {
	Enabled            bool
	EmailAddresses     []string
	RealName           string
	InactivityTimeout  time.Duration
	UILocale           string
	PermittedWorkloads []*Object
}

// AccountInput holds the initial values of a new Account.
type AccountInput struct {
	Enabled        bool
	EmailAddresses []string
	Login          string
	Password       string
	Capabilities   domain.Capabilities
	QuickPicks     []*Object
}

// ActivityTypeInput holds the initial values of a new ActivityType.
type ActivityTypeInput struct {
	DisplayName string
	Description string
}

// ActivityInput holds the initial values of a new activity.
type ActivityInput struct {
	DisplayName           string
	Description           string
	Timeout               time.Duration
	RequireCommentOnStart bool
	RequireCommentOnStop  bool
	FullScreenReminder    bool
	ActivityType          *Object
	Workload              *Object
}

// TaskInput holds the initial values of a new task.
type TaskInput struct {
	ActivityInput
	Completed                  bool
	RequireCommentOnCompletion bool
	EstimatedDuration          time.Duration
	Parent                     *Object
}

// ProjectInput holds the initial values of a new Project.
type ProjectInput struct {
	DisplayName   string
	Description   string
	Completed     bool
	Parent        *Object
	Beneficiaries []*Object
}

// WorkStreamInput holds the initial values of a new WorkStream.
type WorkStreamInput struct {
	DisplayName   string
	Description   string
	Beneficiaries []*Object
}

// BeneficiaryInput holds the initial values of a new Beneficiary.
type BeneficiaryInput struct {
	DisplayName string
	Description string
}

// WorkInput holds the initial values of a new Work.
type WorkInput struct {
	Activity   *Object
	StartedAt  time.Time
	FinishedAt time.Time
	Comment    string
}

// EventInput holds the initial values of a new Event.
type EventInput struct {
	Activities []*Object
	OccurredAt time.Time
	Summary    string
}

// propValue pairs a descriptor with an initial value.
type propValue struct {
	prop  Property
	value any
}

func pv[T any](p *Prop[T], v T) propValue {
	return propValue{prop: p, value: v}
}

// linkValue pairs a forward link with its initial targets.
type linkValue struct {
	link    *Link
	targets []*Object
}

func one(l *Link, target *Object) linkValue {
	if target == nil {
		return linkValue{link: l}
	}
	return linkValue{link: l, targets: []*Object{target}}
}

func many(l *Link, targets []*Object) linkValue {
	return linkValue{link: l, targets: targets}
}

// create runs one factory operation.
func (d *Database) create(kind domain.Kind, props []propValue, links []linkValue) (*Object, error) {
	var created *Object
	err := d.mutate(func(tx *txn) error {
		o, err := d.createLocked(tx, kind, props, links)
		created = o
		return err
	})
	if err != nil {
		return nil, err
	}
	d.logger.Debug("object created", "kind", kind, "oid", created.oid)
	return created, nil
}

// createLocked allocates, initialises and links a new object. Unique keys
// are checked here so duplicates surface as AlreadyExistsError before the
// backend sees them.
func (d *Database) createLocked(tx *txn, kind domain.Kind, props []propValue, links []linkValue) (*Object, error) {
	d.nextOID++
	o := newObject(d, d.nextOID, kind)
	d.objects[o.oid] = o
	tx.create(o)

	for _, p := range props {
		if !p.prop.validAny(d.opts.Validator, kind, p.value) {
			return nil, &PropertyError{Kind: kind, Property: p.prop.Name(), Value: maskValue(p.prop, p.value)}
		}
		if err := d.checkUniqueLocked(o, p.prop, p.value); err != nil {
			return nil, err
		}
		o.props[p.prop.Name()] = p.prop.cloneAny(p.value)
	}
	if kind == domain.KindWork && !d.opts.Validator.Work().IsValidInterval(StartedAt.value(o), FinishedAt.value(o)) {
		return nil, &PropertyError{Kind: kind, Property: FinishedAt.name, Value: FinishedAt.value(o)}
	}
	for _, lv := range links {
		if len(lv.targets) == 0 && !lv.link.required {
			continue
		}
		if err := d.setLinksLocked(tx, o, lv.link, lv.targets); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// CreateUser creates a User.
func (d *Database) CreateUser(in UserInput) (*Object, error) {
	return d.create(domain.KindUser, []propValue{
		pv(Enabled, in.Enabled),
		pv(EmailAddresses, nonNil(in.EmailAddresses)),
		pv(RealName, in.RealName),
		pv(InactivityTimeout, in.InactivityTimeout),
		pv(UILocale, in.UILocale),
	}, []linkValue{many(UserPermittedWorkloads, in.PermittedWorkloads)})
}

// CreateAccount creates an Account owned by user. The password is hashed
// before the database guard is taken.
func (d *Database) CreateAccount(user *Object, in AccountInput) (*Object, error) {
	if !d.opts.Validator.Account().IsValidPassword(in.Password) {
		return nil, &PropertyError{Kind: domain.KindAccount, Property: "Password", Value: hiddenValue}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), d.opts.BcryptCost)
	if err != nil {
		return nil, &StorageError{Op: "hash password", Err: err}
	}
	return d.create(domain.KindAccount, []propValue{
		pv(Enabled, in.Enabled),
		pv(EmailAddresses, nonNil(in.EmailAddresses)),
		pv(Login, in.Login),
		pv(PasswordHash, string(hash)),
		pv(Capabilities, in.Capabilities),
	}, []linkValue{
		one(AccountUser, user),
		many(AccountQuickPicks, in.QuickPicks),
	})
}

// CreateActivityType creates an ActivityType.
func (d *Database) CreateActivityType(in ActivityTypeInput) (*Object, error) {
	return d.create(domain.KindActivityType, []propValue{
		pv(DisplayName, in.DisplayName),
		pv(Description, in.Description),
	}, nil)
}

func activityProps(in ActivityInput) []propValue {
	return []propValue{
		pv(DisplayName, in.DisplayName),
		pv(Description, in.Description),
		pv(Timeout, in.Timeout),
		pv(RequireCommentOnStart, in.RequireCommentOnStart),
		pv(RequireCommentOnStop, in.RequireCommentOnStop),
		pv(FullScreenReminder, in.FullScreenReminder),
	}
}

func activityLinks(in ActivityInput) []linkValue {
	return []linkValue{
		one(ActivityActivityType, in.ActivityType),
		one(ActivityWorkload, in.Workload),
	}
}

func taskProps(in TaskInput) []propValue {
	return append(activityProps(in.ActivityInput),
		pv(Completed, in.Completed),
		pv(RequireCommentOnCompletion, in.RequireCommentOnCompletion),
		pv(EstimatedDuration, in.EstimatedDuration),
	)
}

// CreatePublicActivity creates a PublicActivity.
func (d *Database) CreatePublicActivity(in ActivityInput) (*Object, error) {
	return d.create(domain.KindPublicActivity, activityProps(in), activityLinks(in))
}

// CreatePrivateActivity creates a PrivateActivity owned by owner.
func (d *Database) CreatePrivateActivity(owner *Object, in ActivityInput) (*Object, error) {
	links := append([]linkValue{one(PrivateOwner, owner)}, activityLinks(in)...)
	return d.create(domain.KindPrivateActivity, activityProps(in), links)
}

// CreatePublicTask creates a PublicTask, optionally under a parent task.
func (d *Database) CreatePublicTask(in TaskInput) (*Object, error) {
	links := append(activityLinks(in.ActivityInput), one(TaskParent, in.Parent))
	return d.create(domain.KindPublicTask, taskProps(in), links)
}

// CreatePrivateTask creates a PrivateTask owned by owner, optionally under
// a parent task of the same owner.
func (d *Database) CreatePrivateTask(owner *Object, in TaskInput) (*Object, error) {
	links := append([]linkValue{one(PrivateOwner, owner)}, activityLinks(in.ActivityInput)...)
	links = append(links, one(TaskParent, in.Parent))
	return d.create(domain.KindPrivateTask, taskProps(in), links)
}

// CreateProject creates a Project, optionally under a parent project.
func (d *Database) CreateProject(in ProjectInput) (*Object, error) {
	return d.create(domain.KindProject, []propValue{
		pv(DisplayName, in.DisplayName),
		pv(Description, in.Description),
		pv(Completed, in.Completed),
	}, []linkValue{
		one(ProjectParent, in.Parent),
		many(WorkloadBeneficiaries, in.Beneficiaries),
	})
}

// CreateWorkStream creates a WorkStream.
func (d *Database) CreateWorkStream(in WorkStreamInput) (*Object, error) {
	return d.create(domain.KindWorkStream, []propValue{
		pv(DisplayName, in.DisplayName),
		pv(Description, in.Description),
	}, []linkValue{many(WorkloadBeneficiaries, in.Beneficiaries)})
}

// CreateBeneficiary creates a Beneficiary.
func (d *Database) CreateBeneficiary(in BeneficiaryInput) (*Object, error) {
	return d.create(domain.KindBeneficiary, []propValue{
		pv(DisplayName, in.DisplayName),
		pv(Description, in.Description),
	}, nil)
}

// CreateWork logs a Work by account against in.Activity.
func (d *Database) CreateWork(account *Object, in WorkInput) (*Object, error) {
	return d.create(domain.KindWork, []propValue{
		pv(StartedAt, in.StartedAt),
		pv(FinishedAt, in.FinishedAt),
		pv(Comment, in.Comment),
	}, []linkValue{
		one(WorkAccount, account),
		one(WorkActivity, in.Activity),
	})
}

// CreateEvent logs an Event by account against in.Activities.
func (d *Database) CreateEvent(account *Object, in EventInput) (*Object, error) {
	return d.create(domain.KindEvent, []propValue{
		pv(OccurredAt, in.OccurredAt),
		pv(Summary, in.Summary),
	}, []linkValue{
		one(EventAccount, account),
		many(EventActivities, in.Activities),
	})
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
