// Package db implements the in-process object store shared by every storage
// backend: an OID-keyed arena of objects, typed property and association
// access with validation, transactional commit to a Backend and ordered
// change notification.
package db

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/hylla/tt3/internal/domain"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// Options configures an opened Database.
type Options struct {
	// ReadOnly rejects every mutation with ErrReadOnly.
	ReadOnly bool
	// Paranoid validates the whole graph after every mutating operation.
	Paranoid bool
	// BcryptCost is the work factor for new password hashes.
	BcryptCost int
	Validator  domain.Validator
	Logger     *log.Logger
}

// Database is the access facade over one opened Backend.
type Database struct {
	mu        sync.Mutex
	backend   Backend
	opts      Options
	logger    *log.Logger
	objects   map[domain.OID]*Object
	nextOID   domain.OID
	closed    bool
	notifier  ChangeNotifier
	explicit  *semaphore.Weighted
	closeOnce sync.Once
}

// Open loads the graph of backend and validates it. On failure the backend
// is closed.
func Open(ctx context.Context, backend Backend, opts Options) (*Database, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidAddress)
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.BcryptCost < bcrypt.MinCost || opts.BcryptCost > bcrypt.MaxCost {
		_ = backend.Close()
		return nil, fmt.Errorf("bcrypt cost %d out of range", opts.BcryptCost)
	}
	d := &Database{
		backend:  backend,
		opts:     opts,
		logger:   opts.Logger.With("db", backend.Type(), "address", backend.Address()),
		objects:  make(map[domain.OID]*Object),
		explicit: semaphore.NewWeighted(exclusiveWeight),
	}
	graph, err := backend.Load(ctx)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("load %s database %q: %w", backend.Type(), backend.Address(), err)
	}
	objects, err := d.build(graph)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	d.objects = objects
	d.nextOID = max(graph.NextOID, maxOID(objects))
	d.logger.Info("database opened", "objects", len(objects), "read_only", opts.ReadOnly)
	return d, nil
}

// Type returns the backend type name.
func (d *Database) Type() string { return d.backend.Type() }

// Address returns the backend address.
func (d *Database) Address() string { return d.backend.Address() }

// Validator returns the property validator.
func (d *Database) Validator() domain.Validator { return d.opts.Validator }

// ChangeNotifier returns the notifier listeners register with.
func (d *Database) ChangeNotifier() *ChangeNotifier { return &d.notifier }

// IsOpen reports whether Close has not been called.
func (d *Database) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

// IsReadOnly reports whether mutations are rejected.
func (d *Database) IsReadOnly() bool {
	return d.opts.ReadOnly
}

// Close marks every object dead, releases the backend and posts
// DatabaseClosed. Closing twice is a no-op.
func (d *Database) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		for _, o := range d.objects {
			o.live = false
		}
		err = d.backend.Close()
		d.notifier.post(Notification{Type: DatabaseClosed, Database: d})
		d.mu.Unlock()
		d.notifier.flush()
		if err != nil {
			d.logger.Warn("database close failed", "err", err)
			err = &StorageError{Op: "close", Err: err}
			return
		}
		d.logger.Info("database closed")
	})
	return err
}

// ObjectCount returns the number of live objects.
func (d *Database) ObjectCount() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	return len(d.objects), nil
}

// FindObjectByOID returns the live object with oid, or nil when there is none.
func (d *Database) FindObjectByOID(oid domain.OID) (*Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	return d.objects[oid], nil
}

// view runs fn under the guard of an open database.
func (d *Database) view(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return fn()
}

// mutate runs fn as one atomic operation: fn mutates the arena through tx,
// the resulting changeset is committed to the backend, and on any failure
// the arena is rolled back. Notifications are delivered after the guard is
// released.
func (d *Database) mutate(fn func(tx *txn) error) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.opts.ReadOnly {
		d.mu.Unlock()
		return ErrReadOnly
	}
	tx := d.begin()
	err := fn(tx)
	if err == nil && d.opts.Paranoid && tx.dirty() {
		err = d.validateLocked()
	}
	if err == nil && tx.dirty() {
		if commitErr := d.backend.Commit(context.Background(), tx.changeset()); commitErr != nil {
			d.logger.Error("commit failed, rolling back", "err", commitErr)
			err = commitErr
			if !isDatabaseError(err) {
				err = &StorageError{Op: "commit", Err: commitErr}
			}
		}
	}
	if err != nil {
		tx.rollback()
		d.mu.Unlock()
		return err
	}
	d.notifier.post(tx.events...)
	d.mu.Unlock()
	d.notifier.flush()
	return nil
}

// usableLocked fails unless o belongs to d and is live.
func (d *Database) usableLocked(o *Object) error {
	if d.closed {
		return ErrClosed
	}
	if o == nil {
		return ErrDoesNotExist
	}
	if o.db != d {
		return ErrIncompatibleInstance
	}
	if !o.live {
		return ErrInstanceDead
	}
	return nil
}

// collectLocked returns the live objects of kinds ordered by OID.
func (d *Database) collectLocked(filter func(*Object) bool, kinds ...domain.Kind) []*Object {
	out := make([]*Object, 0)
	for _, o := range d.objects {
		if o.kind.In(kinds...) && (filter == nil || filter(o)) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b *Object) int { return cmp.Compare(a.oid, b.oid) })
	return out
}

// resolveLocked maps OIDs to live objects, skipping unknown ones.
func (d *Database) resolveLocked(oids []domain.OID) []*Object {
	out := make([]*Object, 0, len(oids))
	for _, oid := range oids {
		if o := d.objects[oid]; o != nil {
			out = append(out, o)
		}
	}
	return out
}

// isDatabaseError reports whether err already carries a database error kind.
func isDatabaseError(err error) bool {
	var pe *PropertyError
	var ae *AlreadyExistsError
	var se *StorageError
	switch {
	case errors.As(err, &pe), errors.As(err, &ae), errors.As(err, &se):
		return true
	}
	for _, target := range []error{ErrInvalidAddress, ErrInUse, ErrCorrupt, ErrClosed, ErrReadOnly, ErrAccessDenied, ErrDoesNotExist, ErrInstanceDead, ErrIncompatibleInstance, ErrLockTimeout} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func maxOID(objects map[domain.OID]*Object) domain.OID {
	var top domain.OID
	for oid := range objects {
		top = max(top, oid)
	}
	return top
}
