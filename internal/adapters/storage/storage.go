// Package storage opens tt3 databases by backend type name and address.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hylla/tt3/internal/adapters/storage/sqlite"
	"github.com/hylla/tt3/internal/adapters/storage/xmlfile"
	"github.com/hylla/tt3/internal/db"
)

// Options selects and configures a backend.
type Options struct {
	Type     string
	Address  string
	ReadOnly bool
	Paranoid bool

	BcryptCost          int
	LockRefreshInterval time.Duration
	StaleLockAge        time.Duration
	Logger              *log.Logger
}

// Types lists the supported backend type names.
func Types() []string {
	return []string{sqlite.TypeName, xmlfile.TypeName}
}

// Open opens the existing database described by opts.
func Open(ctx context.Context, opts Options) (*db.Database, error) {
	return connect(ctx, opts, false)
}

// Create creates a new, empty database described by opts and opens it.
func Create(ctx context.Context, opts Options) (*db.Database, error) {
	if opts.ReadOnly {
		return nil, fmt.Errorf("%w: cannot create a read-only database", db.ErrInvalidAddress)
	}
	return connect(ctx, opts, true)
}

func connect(ctx context.Context, opts Options, create bool) (*db.Database, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	backend, err := newBackend(ctx, opts, create)
	if err != nil {
		return nil, err
	}
	return db.Open(ctx, backend, db.Options{
		ReadOnly:   opts.ReadOnly,
		Paranoid:   opts.Paranoid,
		BcryptCost: opts.BcryptCost,
		Logger:     opts.Logger,
	})
}

func newBackend(ctx context.Context, opts Options, create bool) (db.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Type)) {
	case sqlite.TypeName:
		sqlOpts := sqlite.Options{ReadOnly: opts.ReadOnly, Logger: opts.Logger}
		if strings.TrimSpace(opts.Address) == sqlite.MemoryAddress {
			return sqlite.OpenInMemory(ctx, sqlOpts)
		}
		if create {
			return sqlite.Create(ctx, opts.Address, sqlOpts)
		}
		return sqlite.Open(ctx, opts.Address, sqlOpts)
	case xmlfile.TypeName:
		xmlOpts := xmlfile.Options{
			ReadOnly:            opts.ReadOnly,
			LockRefreshInterval: opts.LockRefreshInterval,
			StaleLockAge:        opts.StaleLockAge,
			Logger:              opts.Logger,
		}
		if create {
			return xmlfile.Create(ctx, opts.Address, xmlOpts)
		}
		return xmlfile.Open(ctx, opts.Address, xmlOpts)
	default:
		return nil, fmt.Errorf("%w: unknown database type %q (want one of %s)", db.ErrInvalidAddress, opts.Type, strings.Join(Types(), ", "))
	}
}
