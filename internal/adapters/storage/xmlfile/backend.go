// Package xmlfile persists a tt3 database as one XML document. Objects nest
// inside their containers, other associations are stored as OID references,
// and the whole document is rewritten atomically after every commit. A
// companion lock file keeps other processes out while the document is open.
package xmlfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hylla/tt3/internal/db"
	"github.com/hylla/tt3/internal/domain"
)

// TypeName identifies the backend in configuration.
const TypeName = "xml"

// Defaults for Options.
const (
	DefaultLockRefreshInterval = time.Minute
	DefaultStaleLockAge        = 30 * time.Minute
)

// Options configures a Backend.
type Options struct {
	// ReadOnly opens the document without taking the lock file.
	ReadOnly            bool
	LockRefreshInterval time.Duration
	StaleLockAge        time.Duration
	Logger              *log.Logger
}

func (o Options) withDefaults() Options {
	if o.LockRefreshInterval <= 0 {
		o.LockRefreshInterval = DefaultLockRefreshInterval
	}
	if o.StaleLockAge <= 0 {
		o.StaleLockAge = DefaultStaleLockAge
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Backend implements db.Backend on an XML document.
type Backend struct {
	mu     sync.Mutex
	path   string
	opts   Options
	logger *log.Logger
	lock   *fileLock
	index  map[domain.OID]db.Record
}

var _ db.Backend = (*Backend)(nil)

// Create writes an empty document at path. The file must not exist.
func Create(_ context.Context, path string, opts Options) (*Backend, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %q already exists", db.ErrInvalidAddress, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &db.StorageError{Op: "create document dir", Err: err}
	}
	opts.ReadOnly = false
	b, err := newBackend(path, opts)
	if err != nil {
		return nil, err
	}
	if err := b.save(b.index, 0); err != nil {
		_ = b.lock.release()
		return nil, err
	}
	b.logger.Info("xml database created")
	return b, nil
}

// Open opens the document at path.
func Open(_ context.Context, path string, opts Options) (*Backend, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a document file", db.ErrInvalidAddress, path)
	}
	return newBackend(path, opts)
}

func cleanPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: xml path is required", db.ErrInvalidAddress)
	}
	return filepath.Clean(path), nil
}

func newBackend(path string, opts Options) (*Backend, error) {
	opts = opts.withDefaults()
	b := &Backend{
		path:   path,
		opts:   opts,
		logger: opts.Logger.With("backend", TypeName, "address", path),
		index:  make(map[domain.OID]db.Record),
	}
	if !opts.ReadOnly {
		lock, err := acquireLock(lockPath(path), opts.LockRefreshInterval, opts.StaleLockAge, b.logger)
		if err != nil {
			return nil, err
		}
		b.lock = lock
	}
	return b, nil
}

// Type implements db.Backend.
func (b *Backend) Type() string { return TypeName }

// Address implements db.Backend.
func (b *Backend) Address() string { return b.path }

// Load implements db.Backend. It reads the document from disk and makes it
// the baseline later commits apply to.
func (b *Backend) Load(_ context.Context) (*db.Graph, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q vanished", db.ErrInvalidAddress, b.path)
		}
		return nil, &db.StorageError{Op: "read document", Err: err}
	}
	graph, err := decode(data)
	if err != nil {
		return nil, err
	}
	index := make(map[domain.OID]db.Record, len(graph.Records))
	for _, rec := range graph.Records {
		index[rec.OID] = rec.Clone()
	}
	b.mu.Lock()
	b.index = index
	b.mu.Unlock()
	return graph, nil
}

// Commit implements db.Backend. The document is rewritten before the
// in-memory baseline moves, so a failed write leaves both unchanged.
func (b *Backend) Commit(_ context.Context, cs *db.Changeset) error {
	if b.opts.ReadOnly {
		return db.ErrReadOnly
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	next := maps.Clone(b.index)
	cs.Apply(next)
	if err := b.save(next, cs.NextOID); err != nil {
		b.logger.Warn("document save failed", "err", err)
		return err
	}
	b.index = next
	return nil
}

// save encodes index and atomically replaces the document.
func (b *Backend) save(index map[domain.OID]db.Record, nextOID domain.OID) error {
	data, err := encode(nextOID, index)
	if err != nil {
		return err
	}
	if err := writeAtomic(b.path, data); err != nil {
		return &db.StorageError{Op: "write document", Err: err}
	}
	b.logger.Debug("document saved", "objects", len(index), "bytes", len(data))
	return nil
}

// writeAtomic replaces path through a synced temp file in the same
// directory and a rename.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Close implements db.Backend. It stops the heartbeat and removes the lock.
func (b *Backend) Close() error {
	if b.lock == nil {
		return nil
	}
	return b.lock.release()
}
