package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/hylla/tt3/internal/db"
	"golang.org/x/crypto/bcrypt"
)

func TestCreateThenOpenEachType(t *testing.T) {
	ctx := context.Background()
	for _, typ := range Types() {
		t.Run(typ, func(t *testing.T) {
			opts := Options{
				Type:       typ,
				Address:    filepath.Join(t.TempDir(), "workspace."+typ),
				BcryptCost: bcrypt.MinCost,
				Logger:     log.New(io.Discard),
			}
			d, err := Create(ctx, opts)
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if d.Type() != typ {
				t.Fatalf("expected type %s, got %s", typ, d.Type())
			}
			if _, err := d.CreateBeneficiary(db.BeneficiaryInput{DisplayName: "Widgets Ltd"}); err != nil {
				t.Fatalf("CreateBeneficiary() error = %v", err)
			}
			if err := d.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			if _, err := Create(ctx, opts); !errors.Is(err, db.ErrInvalidAddress) {
				t.Fatalf("expected ErrInvalidAddress creating over an existing file, got %v", err)
			}

			opts.ReadOnly = true
			d, err = Open(ctx, opts)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer d.Close()
			if !d.IsReadOnly() {
				t.Fatal("expected read-only database")
			}
			bens, err := d.Beneficiaries()
			if err != nil {
				t.Fatalf("Beneficiaries() error = %v", err)
			}
			if len(bens) != 1 {
				t.Fatalf("expected 1 beneficiary, got %d", len(bens))
			}
		})
	}
}

func TestInMemorySQLite(t *testing.T) {
	d, err := Create(context.Background(), Options{Type: "SQLite", Address: ":memory:", Logger: log.New(io.Discard)})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer d.Close()
	if n, _ := d.ObjectCount(); n != 0 {
		t.Fatalf("expected empty database, got %d objects", n)
	}
}

func TestRejectsUnknownTypeAndReadOnlyCreate(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Options{Type: "csv", Address: "x"}); !errors.Is(err, db.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress for unknown type, got %v", err)
	}
	if _, err := Create(ctx, Options{Type: "xml", Address: "x", ReadOnly: true}); !errors.Is(err, db.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress for read-only create, got %v", err)
	}
}
