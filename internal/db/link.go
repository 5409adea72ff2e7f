package db

import (
	"slices"

	"github.com/hylla/tt3/internal/domain"
)

// Link describes one side of a bidirectional association. The forward side
// is the one backends persist; the reverse side is derived at load time.
type Link struct {
	name       string
	owners     []domain.Kind
	targets    []domain.Kind
	forward    bool
	many       bool
	ordered    bool
	required   bool
	container  bool
	aggregates bool
	inverse    *Link
}

func (l *Link) Name() string                     { return l.name }
func (l *Link) String() string                   { return l.name }
func (l *Link) Inverse() *Link                   { return l.inverse }
func (l *Link) IsForward() bool                  { return l.forward }
func (l *Link) IsMany() bool                     { return l.many }
func (l *Link) IsOrdered() bool                  { return l.ordered }
func (l *Link) IsRequired() bool                 { return l.required }
func (l *Link) AppliesTo(k domain.Kind) bool     { return slices.Contains(l.owners, k) }
func (l *Link) AcceptsTarget(k domain.Kind) bool { return slices.Contains(l.targets, k) }

// IsContainer reports whether the target of this forward link contains the
// owner in hierarchical document layouts.
func (l *Link) IsContainer() bool { return l.container }

// Aggregates reports whether destroying the owner destroys every target.
func (l *Link) Aggregates() bool { return l.aggregates }

// allLinks stores every link side in declaration order.
var allLinks []*Link

// pair wires two link sides together and registers them.
func pair(fwd, rev Link) (*Link, *Link) {
	f, r := &fwd, &rev
	f.forward, r.forward = true, false
	f.targets, r.targets = r.owners, f.owners
	f.inverse, r.inverse = r, f
	allLinks = append(allLinks, f, r)
	return f, r
}

// Associations. Parent links are declared before Owner so that private
// subtasks are contained by their parent task.
var (
	TaskParent, TaskChildren = pair(
		Link{name: "Parent", owners: domain.TaskKinds, container: true},
		Link{name: "Children", owners: domain.TaskKinds, many: true, aggregates: true},
	)
	ProjectParent, ProjectChildren = pair(
		Link{name: "Parent", owners: []domain.Kind{domain.KindProject}, container: true},
		Link{name: "Children", owners: []domain.Kind{domain.KindProject}, many: true, aggregates: true},
	)
	AccountUser, UserAccounts = pair(
		Link{name: "User", owners: []domain.Kind{domain.KindAccount}, required: true, container: true},
		Link{name: "Accounts", owners: []domain.Kind{domain.KindUser}, many: true, aggregates: true},
	)
	PrivateOwner, UserPrivateActivities = pair(
		Link{name: "Owner", owners: []domain.Kind{domain.KindPrivateActivity, domain.KindPrivateTask}, required: true, container: true},
		Link{name: "PrivateActivities", owners: []domain.Kind{domain.KindUser}, many: true, aggregates: true},
	)
	UserPermittedWorkloads, WorkloadAssignedUsers = pair(
		Link{name: "PermittedWorkloads", owners: []domain.Kind{domain.KindUser}, many: true},
		Link{name: "AssignedUsers", owners: domain.WorkloadKinds, many: true},
	)
	AccountQuickPicks, ActivityQuickPickedBy = pair(
		Link{name: "QuickPicks", owners: []domain.Kind{domain.KindAccount}, many: true, ordered: true},
		Link{name: "QuickPickedBy", owners: domain.ActivityKinds, many: true},
	)
	WorkAccount, AccountWorks = pair(
		Link{name: "Account", owners: []domain.Kind{domain.KindWork}, required: true, container: true},
		Link{name: "Works", owners: []domain.Kind{domain.KindAccount}, many: true, aggregates: true},
	)
	EventAccount, AccountEvents = pair(
		Link{name: "Account", owners: []domain.Kind{domain.KindEvent}, required: true, container: true},
		Link{name: "Events", owners: []domain.Kind{domain.KindAccount}, many: true, aggregates: true},
	)
	ActivityActivityType, ActivityTypeActivities = pair(
		Link{name: "ActivityType", owners: domain.ActivityKinds},
		Link{name: "Activities", owners: []domain.Kind{domain.KindActivityType}, many: true},
	)
	ActivityWorkload, WorkloadContributingActivities = pair(
		Link{name: "Workload", owners: domain.ActivityKinds},
		Link{name: "ContributingActivities", owners: domain.WorkloadKinds, many: true},
	)
	WorkActivity, ActivityWorks = pair(
		Link{name: "Activity", owners: []domain.Kind{domain.KindWork}, required: true},
		Link{name: "Works", owners: domain.ActivityKinds, many: true, aggregates: true},
	)
	EventActivities, ActivityEvents = pair(
		Link{name: "Activities", owners: []domain.Kind{domain.KindEvent}, many: true},
		Link{name: "Events", owners: domain.ActivityKinds, many: true},
	)
	WorkloadBeneficiaries, BeneficiaryWorkloads = pair(
		Link{name: "Beneficiaries", owners: domain.WorkloadKinds, many: true},
		Link{name: "Workloads", owners: []domain.Kind{domain.KindBeneficiary}, many: true},
	)
)

// LinksOf returns the link sides carried by kind in declaration order.
func LinksOf(kind domain.Kind) []*Link {
	out := make([]*Link, 0, 6)
	for _, l := range allLinks {
		if l.AppliesTo(kind) {
			out = append(out, l)
		}
	}
	return out
}

// ForwardLinksOf returns the persisted link sides carried by kind.
func ForwardLinksOf(kind domain.Kind) []*Link {
	out := make([]*Link, 0, 4)
	for _, l := range LinksOf(kind) {
		if l.forward {
			out = append(out, l)
		}
	}
	return out
}

// LinkByName resolves a link side carried by kind.
func LinkByName(kind domain.Kind, name string) (*Link, bool) {
	for _, l := range allLinks {
		if l.name == name && l.AppliesTo(kind) {
			return l, true
		}
	}
	return nil, false
}
