package domain

import (
	"slices"
	"strings"
)

// Kind identifies the concrete type of one persisted object.
type Kind string

// Kind values.
const (
	KindUser            Kind = "User"
	KindAccount         Kind = "Account"
	KindActivityType    Kind = "ActivityType"
	KindPublicActivity  Kind = "PublicActivity"
	KindPrivateActivity Kind = "PrivateActivity"
	KindPublicTask      Kind = "PublicTask"
	KindPrivateTask     Kind = "PrivateTask"
	KindWork            Kind = "Work"
	KindEvent           Kind = "Event"
	KindProject         Kind = "Project"
	KindWorkStream      Kind = "WorkStream"
	KindBeneficiary     Kind = "Beneficiary"
)

// allKinds stores every supported kind in declaration order.
var allKinds = []Kind{
	KindUser,
	KindAccount,
	KindActivityType,
	KindPublicActivity,
	KindPrivateActivity,
	KindPublicTask,
	KindPrivateTask,
	KindWork,
	KindEvent,
	KindProject,
	KindWorkStream,
	KindBeneficiary,
}

// Family groupings used by validators and access rules.
var (
	PrincipalKinds = []Kind{KindUser, KindAccount}
	ActivityKinds  = []Kind{KindPublicActivity, KindPrivateActivity, KindPublicTask, KindPrivateTask}
	TaskKinds      = []Kind{KindPublicTask, KindPrivateTask}
	WorkloadKinds  = []Kind{KindProject, KindWorkStream}
)

// AllKinds returns every supported kind.
func AllKinds() []Kind {
	return slices.Clone(allKinds)
}

// ParseKind resolves a kind name, case-insensitively.
func ParseKind(raw string) (Kind, bool) {
	raw = strings.TrimSpace(raw)
	for _, k := range allKinds {
		if strings.EqualFold(string(k), raw) {
			return k, true
		}
	}
	return "", false
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	return slices.Contains(allKinds, k)
}

// IsPrincipal reports whether k is a User or an Account.
func (k Kind) IsPrincipal() bool {
	return slices.Contains(PrincipalKinds, k)
}

// IsActivity reports whether k is any activity, tasks included.
func (k Kind) IsActivity() bool {
	return slices.Contains(ActivityKinds, k)
}

// IsTask reports whether k is a public or private task.
func (k Kind) IsTask() bool {
	return slices.Contains(TaskKinds, k)
}

// IsWorkload reports whether k is a Project or a WorkStream.
func (k Kind) IsWorkload() bool {
	return slices.Contains(WorkloadKinds, k)
}

// IsPrivate reports whether k is owned by a single User.
func (k Kind) IsPrivate() bool {
	return k == KindPrivateActivity || k == KindPrivateTask
}

// In reports whether k is one of kinds.
func (k Kind) In(kinds ...Kind) bool {
	return slices.Contains(kinds, k)
}
