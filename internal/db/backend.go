package db

import (
	"context"

	"github.com/hylla/tt3/internal/domain"
)

// Backend is one storage technology. The Database owns the in-memory arena
// and hands every committed operation to the backend as a Changeset.
type Backend interface {
	// Type names the storage technology, such as "sqlite" or "xml".
	Type() string
	// Address is the location the backend was opened at.
	Address() string
	// Load reads the whole persisted graph.
	Load(ctx context.Context) (*Graph, error)
	// Commit persists one changeset atomically: either every change is
	// durable or none is.
	Commit(ctx context.Context, cs *Changeset) error
	// Close releases the storage. It is called exactly once.
	Close() error
}

// Graph is the persisted state of a database.
type Graph struct {
	NextOID domain.OID
	Records []Record
}

// Changeset lists the records one operation created, updated and destroyed.
// Created is in creation order; Destroyed is in destruction order, children
// before their containers. Updated records carry the full new state.
type Changeset struct {
	NextOID   domain.OID
	Created   []Record
	Updated   []Record
	Destroyed []Record
}

// IsEmpty reports whether the changeset carries no record change.
func (cs *Changeset) IsEmpty() bool {
	return len(cs.Created) == 0 && len(cs.Updated) == 0 && len(cs.Destroyed) == 0
}

// Apply folds the changeset into a record index keyed by OID. Backends that
// persist whole documents keep such an index.
func (cs *Changeset) Apply(index map[domain.OID]Record) {
	for _, rec := range cs.Created {
		index[rec.OID] = rec.Clone()
	}
	for _, rec := range cs.Updated {
		index[rec.OID] = rec.Clone()
	}
	for _, rec := range cs.Destroyed {
		delete(index, rec.OID)
	}
}
