package app

import (
	"slices"

	"github.com/hylla/tt3/internal/db"
	"github.com/hylla/tt3/internal/domain"
)

// caller is the principal behind one set of valid credentials.
type caller struct {
	account *db.Object
	user    *db.Object
	caps    domain.Capabilities
}

func (c caller) isAdministrator() bool {
	return c.caps.Contains(domain.CapAdministrator)
}

// grants reports whether the caller holds want; Administrator holds
// everything.
func (c caller) grants(want domain.Capabilities) bool {
	return c.isAdministrator() || c.caps.Contains(want)
}

// Properties principals may change on their own User and Account.
var (
	selfServiceUser    = []string{db.EmailAddresses.Name(), db.UILocale.Name(), db.InactivityTimeout.Name()}
	selfServiceAccount = []string{db.EmailAddresses.Name(), db.PasswordHash.Name(), db.AccountQuickPicks.Name()}
)

// managedBy maps each kind to the capability that creates, modifies and
// destroys it.
var managedBy = map[domain.Kind]domain.Capabilities{
	domain.KindUser:            domain.CapManageUsers,
	domain.KindAccount:         domain.CapManageUsers,
	domain.KindActivityType:    domain.CapManageActivityTypes,
	domain.KindBeneficiary:     domain.CapManageBeneficiaries,
	domain.KindProject:         domain.CapManageWorkloads,
	domain.KindWorkStream:      domain.CapManageWorkloads,
	domain.KindPublicActivity:  domain.CapManagePublicActivities,
	domain.KindPublicTask:      domain.CapManagePublicTasks,
	domain.KindPrivateActivity: domain.CapManagePrivateActivities,
	domain.KindPrivateTask:     domain.CapManagePrivateTasks,
	domain.KindWork:            domain.CapLogWork,
	domain.KindEvent:           domain.CapLogEvents,
}

// publicKinds lists the kinds any valid caller may read.
var publicKinds = []domain.Kind{
	domain.KindActivityType,
	domain.KindPublicActivity,
	domain.KindPublicTask,
	domain.KindProject,
	domain.KindWorkStream,
	domain.KindBeneficiary,
}

// CanAccess reports whether creds identify an enabled account of an
// enabled user.
func (ws *Workspace) CanAccess(creds domain.Credentials) (bool, error) {
	var ok bool
	err := ws.run(func() error {
		_, err := ws.callerLocked(creds)
		if IsKind(err, KindAccessDenied) {
			return nil
		}
		ok = err == nil
		return err
	})
	return ok, err
}

// Capabilities returns the capabilities of the account behind creds.
func (ws *Workspace) Capabilities(creds domain.Credentials) (domain.Capabilities, error) {
	var caps domain.Capabilities
	err := ws.run(func() error {
		c, err := ws.callerLocked(creds)
		caps = c.caps
		return err
	})
	return caps, err
}

// GrantsAny reports whether the caller holds at least one of want.
// Administrator grants every capability.
func (ws *Workspace) GrantsAny(creds domain.Credentials, want domain.Capabilities) (bool, error) {
	caps, err := ws.Capabilities(creds)
	if err != nil {
		return false, err
	}
	return caps.Contains(domain.CapAdministrator) || caps.ContainsAny(want), nil
}

// GrantsAll reports whether the caller holds every capability of want.
// Administrator grants every capability.
func (ws *Workspace) GrantsAll(creds domain.Credentials, want domain.Capabilities) (bool, error) {
	caps, err := ws.Capabilities(creds)
	if err != nil {
		return false, err
	}
	return caps.Contains(domain.CapAdministrator) || caps.Contains(want), nil
}

// TryLogin returns the account behind creds. The boolean is false when the
// credentials match no enabled account.
func (ws *Workspace) TryLogin(creds domain.Credentials) (Account, bool, error) {
	var out Account
	err := ws.run(func() error {
		c, err := ws.callerLocked(creds)
		if IsKind(err, KindAccessDenied) {
			return nil
		}
		if err != nil {
			return err
		}
		out = Account{ws.proxyFor(c.account)}
		return nil
	})
	return out, out.Object != nil, err
}

// Login is TryLogin that fails with AccessDenied when nothing matches.
func (ws *Workspace) Login(creds domain.Credentials) (Account, error) {
	var out Account
	err := ws.run(func() error {
		c, err := ws.callerLocked(creds)
		if err != nil {
			return err
		}
		out = Account{ws.proxyFor(c.account)}
		return nil
	})
	return out, err
}

// callerLocked validates creds, consulting the credentials caches before
// checking the password against the database.
func (ws *Workspace) callerLocked(creds domain.Credentials) (caller, error) {
	creds = domain.NewCredentials(creds.Login, creds.Password)
	ws.stateMu.Lock()
	oid, good := ws.goodCreds[creds]
	_, bad := ws.badCreds[creds]
	ws.stateMu.Unlock()
	if bad {
		return caller{}, errAccessDenied("invalid credentials")
	}

	var account *db.Object
	if good {
		found, err := ws.db.FindObjectByOID(oid)
		if err != nil {
			return caller{}, err
		}
		if found != nil && found.IsLive() {
			account = found
		}
	}
	if account == nil {
		found, err := ws.db.TryLogin(creds.Login, creds.Password)
		if err != nil {
			return caller{}, err
		}
		ws.rememberCredentials(creds, found)
		if found == nil {
			return caller{}, errAccessDenied("invalid credentials")
		}
		account = found
	}

	user, err := account.LinkedOne(db.AccountUser)
	if err != nil {
		return caller{}, err
	}
	caps, err := db.Get(account, db.Capabilities)
	if err != nil {
		return caller{}, err
	}
	return caller{account: account, user: user, caps: caps}, nil
}

// rememberCredentials records the outcome of a password check. A cache
// growing past its cap starts over.
func (ws *Workspace) rememberCredentials(creds domain.Credentials, account *db.Object) {
	ws.stateMu.Lock()
	defer ws.stateMu.Unlock()
	limit := ws.opts.CredentialsCacheSize
	if account == nil {
		if len(ws.badCreds) >= limit {
			clear(ws.badCreds)
			ws.logger.Debug("bad credentials cache reset", "limit", limit)
		}
		ws.badCreds[creds] = struct{}{}
		return
	}
	if len(ws.goodCreds) >= limit {
		clear(ws.goodCreds)
		ws.logger.Debug("good credentials cache reset", "limit", limit)
	}
	ws.goodCreds[creds] = account.OID()
}

// resetCredentialsLocked empties both caches. stateMu must be held.
func (ws *Workspace) resetCredentialsLocked(reason string) {
	if len(ws.goodCreds) == 0 && len(ws.badCreds) == 0 {
		return
	}
	clear(ws.goodCreds)
	clear(ws.badCreds)
	ws.logger.Debug("credentials caches cleared", "reason", reason)
}

// linkedOne returns the single target of l, or nil.
func linkedOne(o *db.Object, l *db.Link) *db.Object {
	target, err := o.LinkedOne(l)
	if err != nil {
		return nil
	}
	return target
}

// ownerOf returns the principal an object belongs to: the User of an
// Account or private activity, the Account of a Work or Event.
func ownerOf(o *db.Object) *db.Object {
	switch o.Kind() {
	case domain.KindAccount:
		return linkedOne(o, db.AccountUser)
	case domain.KindPrivateActivity, domain.KindPrivateTask:
		return linkedOne(o, db.PrivateOwner)
	case domain.KindWork:
		return linkedOne(o, db.WorkAccount)
	case domain.KindEvent:
		return linkedOne(o, db.EventAccount)
	default:
		return nil
	}
}

// canRead decides whether c may see o.
func (ws *Workspace) canRead(c caller, o *db.Object) bool {
	if c.isAdministrator() || c.caps.ContainsAny(domain.CapGenerateReports.With(domain.CapBackupAndRestore)) {
		return true
	}
	kind := o.Kind()
	switch {
	case kind.In(publicKinds...):
		return true
	case kind == domain.KindUser:
		return o == c.user || c.caps.Contains(domain.CapManageUsers)
	case kind == domain.KindAccount:
		return c.caps.Contains(domain.CapManageUsers) || ownerOf(o) == c.user
	case kind.IsPrivate():
		return ownerOf(o) == c.user
	case kind == domain.KindWork, kind == domain.KindEvent:
		return ownerOf(o) == c.account
	}
	return false
}

// canModify decides whether c may change member of o. An empty member
// stands for the whole object, as when destroying it.
func (ws *Workspace) canModify(c caller, o *db.Object, member string) bool {
	if c.isAdministrator() {
		return true
	}
	kind := o.Kind()
	switch {
	case kind == domain.KindUser:
		if o == c.user && member != "" && slices.Contains(selfServiceUser, member) {
			return true
		}
		return c.caps.Contains(domain.CapManageUsers) && !ws.touchesAdministrator(o)
	case kind == domain.KindAccount:
		if o == c.account && member != "" && slices.Contains(selfServiceAccount, member) {
			return true
		}
		return c.caps.Contains(domain.CapManageUsers) && !ws.touchesAdministrator(o)
	case kind.IsPrivate():
		return c.caps.Contains(managedBy[kind]) && ownerOf(o) == c.user
	case kind == domain.KindWork, kind == domain.KindEvent:
		return c.caps.Contains(managedBy[kind]) && ownerOf(o) == c.account
	}
	return c.caps.Contains(managedBy[kind])
}

// canCreate decides whether c may create an object of kind under owner,
// the User or Account the new object will belong to.
func (ws *Workspace) canCreate(c caller, kind domain.Kind, owner *db.Object) bool {
	if c.isAdministrator() {
		return true
	}
	if !c.caps.Contains(managedBy[kind]) {
		return false
	}
	switch {
	case kind.IsPrivate():
		return owner == c.user
	case kind == domain.KindWork, kind == domain.KindEvent:
		return owner == c.account
	}
	return true
}

// touchesAdministrator reports whether o is an Administrator account or a
// user owning one.
func (ws *Workspace) touchesAdministrator(o *db.Object) bool {
	switch o.Kind() {
	case domain.KindAccount:
		caps, err := db.Get(o, db.Capabilities)
		return err == nil && caps.Contains(domain.CapAdministrator)
	case domain.KindUser:
		accounts, err := o.Linked(db.UserAccounts)
		if err != nil {
			return false
		}
		return slices.ContainsFunc(accounts, ws.touchesAdministrator)
	}
	return false
}

// activeAdministrator reports whether account is an enabled Administrator
// account of an enabled user, and returns that user.
func activeAdministrator(account *db.Object) (*db.Object, bool) {
	enabled, err := db.Get(account, db.Enabled)
	if err != nil || !enabled {
		return nil, false
	}
	caps, err := db.Get(account, db.Capabilities)
	if err != nil || !caps.Contains(domain.CapAdministrator) {
		return nil, false
	}
	user := linkedOne(account, db.AccountUser)
	if user == nil {
		return nil, false
	}
	if enabled, err := db.Get(user, db.Enabled); err != nil || !enabled {
		return nil, false
	}
	return user, true
}

// guardAdministratorsLocked fails with AccessWouldBeLost when the workspace
// has an active Administrator account now but would have none once the
// accounts matched by lost stop counting.
func (ws *Workspace) guardAdministratorsLocked(lost func(account, user *db.Object) bool) error {
	accounts, err := ws.db.Accounts()
	if err != nil {
		return err
	}
	before, after := 0, 0
	for _, account := range accounts {
		user, ok := activeAdministrator(account)
		if !ok {
			continue
		}
		before++
		if !lost(account, user) {
			after++
		}
	}
	if before > 0 && after == 0 {
		return errAccessWouldBeLost("no enabled administrator account would remain")
	}
	return nil
}
