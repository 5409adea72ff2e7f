package db

import (
	"errors"
	"strings"

	"github.com/hylla/tt3/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

func (d *Database) collect(filter func(*Object) bool, kinds ...domain.Kind) ([]*Object, error) {
	var out []*Object
	err := d.view(func() error {
		out = d.collectLocked(filter, kinds...)
		return nil
	})
	return out, err
}

// isRoot reports whether o has no parent through l.
func isRoot(l *Link) func(*Object) bool {
	return func(o *Object) bool { return len(o.linked(l)) == 0 }
}

// Users returns every User ordered by OID.
func (d *Database) Users() ([]*Object, error) { return d.collect(nil, domain.KindUser) }

// Accounts returns every Account ordered by OID.
func (d *Database) Accounts() ([]*Object, error) { return d.collect(nil, domain.KindAccount) }

// ActivityTypes returns every ActivityType ordered by OID.
func (d *Database) ActivityTypes() ([]*Object, error) {
	return d.collect(nil, domain.KindActivityType)
}

// PublicActivities returns every PublicActivity, tasks excluded.
func (d *Database) PublicActivities() ([]*Object, error) {
	return d.collect(nil, domain.KindPublicActivity)
}

// PublicActivitiesAndTasks returns every public activity including tasks.
func (d *Database) PublicActivitiesAndTasks() ([]*Object, error) {
	return d.collect(nil, domain.KindPublicActivity, domain.KindPublicTask)
}

// PublicTasks returns every PublicTask.
func (d *Database) PublicTasks() ([]*Object, error) { return d.collect(nil, domain.KindPublicTask) }

// RootPublicTasks returns the PublicTasks without a parent.
func (d *Database) RootPublicTasks() ([]*Object, error) {
	return d.collect(isRoot(TaskParent), domain.KindPublicTask)
}

// Projects returns every Project.
func (d *Database) Projects() ([]*Object, error) { return d.collect(nil, domain.KindProject) }

// RootProjects returns the Projects without a parent.
func (d *Database) RootProjects() ([]*Object, error) {
	return d.collect(isRoot(ProjectParent), domain.KindProject)
}

// WorkStreams returns every WorkStream.
func (d *Database) WorkStreams() ([]*Object, error) { return d.collect(nil, domain.KindWorkStream) }

// Beneficiaries returns every Beneficiary.
func (d *Database) Beneficiaries() ([]*Object, error) {
	return d.collect(nil, domain.KindBeneficiary)
}

// FindAccount returns the Account with login, or nil when there is none.
func (d *Database) FindAccount(login string) (*Object, error) {
	var found *Object
	err := d.view(func() error {
		found = d.findAccountLocked(login)
		return nil
	})
	return found, err
}

func (d *Database) findAccountLocked(login string) *Object {
	login = strings.TrimSpace(login)
	for _, o := range d.objects {
		if o.kind == domain.KindAccount && Login.value(o) == login {
			return o
		}
	}
	return nil
}

// TryLogin returns the enabled Account of an enabled User matching login
// and password, or nil when nothing matches.
func (d *Database) TryLogin(login, password string) (*Object, error) {
	var (
		account *Object
		hash    string
	)
	err := d.view(func() error {
		account = d.findAccountLocked(login)
		if account == nil || !Enabled.value(account) {
			account = nil
			return nil
		}
		users := d.resolveLocked(account.linked(AccountUser))
		if len(users) != 1 || !Enabled.value(users[0]) {
			account = nil
			return nil
		}
		hash = PasswordHash.value(account)
		return nil
	})
	if err != nil || account == nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, nil
		}
		return nil, &StorageError{Op: "verify password", Err: err}
	}
	if !account.IsLive() {
		return nil, nil
	}
	return account, nil
}

// Login is TryLogin that fails with ErrAccessDenied when nothing matches.
func (d *Database) Login(login, password string) (*Object, error) {
	account, err := d.TryLogin(login, password)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccessDenied
	}
	return account, nil
}
