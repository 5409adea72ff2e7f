// Package app implements the workspace facade: capability-gated access to
// one tt3 database through identity-mapped object proxies.
package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/hylla/tt3/internal/adapters/storage"
	"github.com/hylla/tt3/internal/db"
	"github.com/hylla/tt3/internal/domain"
	"github.com/hylla/tt3/internal/notify"
)

// DefaultCredentialsCacheSize bounds each credentials cache.
const DefaultCredentialsCacheSize = 256

// Options configures a Workspace.
type Options struct {
	// CredentialsCacheSize caps the good and the bad credentials caches;
	// a cache growing past it is reset.
	CredentialsCacheSize int
	Logger               *log.Logger
}

// AdministratorInput describes the first administrator of a new workspace.
type AdministratorInput struct {
	RealName string
	Login    string
	Password string
}

// Workspace is the capability-gated facade over one database. Every
// operation takes the caller's credentials first.
type Workspace struct {
	mu      sync.Mutex
	db      *db.Database
	opts    Options
	logger  *log.Logger
	session string

	closed atomic.Bool
	inOp   atomic.Bool

	stateMu     sync.Mutex
	proxies     map[domain.OID]weak.Pointer[Object]
	goodCreds   map[domain.Credentials]domain.OID
	badCreds    map[domain.Credentials]struct{}
	unsubscribe func()

	hub notify.Hub[Notification]
}

// New wraps an opened database.
func New(d *db.Database, opts Options) *Workspace {
	if opts.CredentialsCacheSize <= 0 {
		opts.CredentialsCacheSize = DefaultCredentialsCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	session := uuid.NewString()
	ws := &Workspace{
		db:        d,
		opts:      opts,
		logger:    opts.Logger.With("workspace", d.Address(), "session", session),
		session:   session,
		proxies:   make(map[domain.OID]weak.Pointer[Object]),
		goodCreds: make(map[domain.Credentials]domain.OID),
		badCreds:  make(map[domain.Credentials]struct{}),
	}
	ws.unsubscribe = d.ChangeNotifier().AddListener(db.ListenerFuncs{
		DatabaseClosed:  ws.onDatabaseClosed,
		ObjectCreated:   ws.onObjectChanged,
		ObjectDestroyed: ws.onObjectChanged,
		ObjectModified:  ws.onObjectChanged,
	})
	if !d.IsOpen() {
		ws.closed.Store(true)
	}
	return ws
}

// Open opens an existing workspace.
func Open(ctx context.Context, sopts storage.Options, opts Options) (*Workspace, error) {
	d, err := storage.Open(ctx, sopts)
	if err != nil {
		return nil, translateError(err)
	}
	return New(d, opts), nil
}

// Create creates a workspace whose only principal is an enabled
// administrator with the given login and password.
func Create(ctx context.Context, sopts storage.Options, opts Options, admin AdministratorInput) (*Workspace, error) {
	d, err := storage.Create(ctx, sopts)
	if err != nil {
		return nil, translateError(err)
	}
	user, err := d.CreateUser(db.UserInput{Enabled: true, RealName: admin.RealName})
	if err == nil {
		_, err = d.CreateAccount(user, db.AccountInput{
			Enabled:      true,
			Login:        admin.Login,
			Password:     admin.Password,
			Capabilities: domain.CapAdministrator,
		})
	}
	if err != nil {
		_ = d.Close()
		return nil, translateError(err)
	}
	return New(d, opts), nil
}

// Session returns the identifier of this workspace handle.
func (ws *Workspace) Session() string { return ws.session }

// Type returns the storage type name.
func (ws *Workspace) Type() string { return ws.db.Type() }

// Address returns the storage address.
func (ws *Workspace) Address() string { return ws.db.Address() }

// Validator returns the property validator.
func (ws *Workspace) Validator() domain.Validator { return ws.db.Validator() }

// IsOpen reports whether the workspace can still be used.
func (ws *Workspace) IsOpen() bool { return !ws.closed.Load() && ws.db.IsOpen() }

// IsReadOnly reports whether mutations are rejected.
func (ws *Workspace) IsReadOnly() bool { return ws.db.IsReadOnly() }

// Close closes the underlying database. Subscribers receive
// WorkspaceClosed. Closing twice is a no-op.
func (ws *Workspace) Close() error {
	ws.mu.Lock()
	ws.inOp.Store(true)
	err := ws.db.Close()
	ws.closed.Store(true)
	ws.inOp.Store(false)
	ws.mu.Unlock()
	ws.hub.Flush()
	return translateError(err)
}

// ObjectCount returns the number of objects in the workspace.
func (ws *Workspace) ObjectCount(creds domain.Credentials) (int, error) {
	var n int
	err := ws.run(func() error {
		if _, err := ws.callerLocked(creds); err != nil {
			return err
		}
		var err error
		n, err = ws.db.ObjectCount()
		return err
	})
	return n, err
}

// Refresh reloads the database and reconciles proxies with it.
func (ws *Workspace) Refresh(ctx context.Context, creds domain.Credentials) error {
	return ws.run(func() error {
		if _, err := ws.callerLocked(creds); err != nil {
			return err
		}
		return ws.db.Refresh(ctx)
	})
}

// Lock takes an explicit database lock on behalf of the caller.
func (ws *Workspace) Lock(ctx context.Context, creds domain.Credentials, typ db.LockType, timeout time.Duration) (*db.Lock, error) {
	var lock *db.Lock
	err := ws.run(func() error {
		if _, err := ws.callerLocked(creds); err != nil {
			return err
		}
		var err error
		lock, err = ws.db.Lock(ctx, typ, timeout)
		return err
	})
	return lock, err
}

// run executes fn under the workspace guard, translates its error and
// delivers the notifications fn caused once the guard is released.
func (ws *Workspace) run(fn func() error) error {
	ws.mu.Lock()
	ws.inOp.Store(true)
	var err error
	if ws.closed.Load() {
		err = errClosed()
	} else {
		err = fn()
	}
	ws.inOp.Store(false)
	ws.mu.Unlock()
	ws.hub.Flush()
	return translateError(err)
}
