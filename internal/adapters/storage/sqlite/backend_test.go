package sqlite

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hylla/tt3/internal/db"
	"github.com/hylla/tt3/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

func quietLogger() *log.Logger { return log.New(io.Discard) }

func dbOptions() db.Options {
	return db.Options{BcryptCost: bcrypt.MinCost, Logger: quietLogger()}
}

func TestLayoutCoversEveryPropertyAndForwardLink(t *testing.T) {
	for _, kind := range domain.AllKinds() {
		tbl, err := tableFor(kind)
		if err != nil {
			t.Fatalf("tableFor(%s) error = %v", kind, err)
		}
		for _, p := range db.PropertiesOf(kind) {
			if p.IsList() {
				continue
			}
			if !slices.ContainsFunc(tbl.columns, func(c column) bool { return c.prop == p }) {
				t.Fatalf("%s property %s has no column in %s", kind, p.Name(), tbl.name)
			}
		}
		for _, l := range db.ForwardLinksOf(kind) {
			inTable := slices.ContainsFunc(tbl.columns, func(c column) bool { return c.link == l })
			inJoin := slices.ContainsFunc(joinsFor(kind), func(j joinTable) bool { return j.link == l })
			if inTable == inJoin {
				t.Fatalf("%s link %s must map to exactly one storage place", kind, l.Name())
			}
			if inTable && l.IsMany() {
				t.Fatalf("%s link %s is to-many but stored in a column", kind, l.Name())
			}
		}
	}
}

func TestRoundTripThroughDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tt3.db")
	backend, err := Create(ctx, path, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	d, err := db.Open(ctx, backend, dbOptions())
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}

	ben, err := d.CreateBeneficiary(db.BeneficiaryInput{DisplayName: "ACME"})
	if err != nil {
		t.Fatalf("CreateBeneficiary() error = %v", err)
	}
	proj, err := d.CreateProject(db.ProjectInput{DisplayName: "Apollo", Beneficiaries: []*db.Object{ben}})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	sub, err := d.CreateProject(db.ProjectInput{DisplayName: "Lander", Parent: proj, Completed: true})
	if err != nil {
		t.Fatalf("CreateProject(sub) error = %v", err)
	}
	user, err := d.CreateUser(db.UserInput{
		Enabled:            true,
		RealName:           "Ada",
		EmailAddresses:     []string{"ada@example.org", "ada@work.example"},
		InactivityTimeout:  15 * time.Minute,
		UILocale:           "en_GB",
		PermittedWorkloads: []*db.Object{proj},
	})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	first, err := d.CreatePublicTask(db.TaskInput{ActivityInput: db.ActivityInput{DisplayName: "Design", Workload: sub}, EstimatedDuration: 2 * time.Hour})
	if err != nil {
		t.Fatalf("CreatePublicTask() error = %v", err)
	}
	private, err := d.CreatePrivateActivity(user, db.ActivityInput{DisplayName: "Reading", Timeout: time.Minute})
	if err != nil {
		t.Fatalf("CreatePrivateActivity() error = %v", err)
	}
	account, err := d.CreateAccount(user, db.AccountInput{
		Enabled:      true,
		Login:        "ada",
		Password:     "secret",
		Capabilities: domain.CapLogWork.With(domain.CapLogEvents),
		QuickPicks:   []*db.Object{private, first},
	})
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	start := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	work, err := d.CreateWork(account, db.WorkInput{Activity: first, StartedAt: start, FinishedAt: start.Add(90 * time.Minute), Comment: "sketches"})
	if err != nil {
		t.Fatalf("CreateWork() error = %v", err)
	}
	if _, err := d.CreateEvent(account, db.EventInput{Activities: []*db.Object{first, private}, OccurredAt: start, Summary: "kickoff"}); err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	doomed, err := d.CreateActivityType(db.ActivityTypeInput{DisplayName: "Doomed"})
	if err != nil {
		t.Fatalf("CreateActivityType() error = %v", err)
	}
	if err := doomed.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	wantCount, _ := d.ObjectCount()
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(ctx, path, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	d2, err := db.Open(ctx, reopened, dbOptions())
	if err != nil {
		t.Fatalf("db.Open(reopened) error = %v", err)
	}
	defer d2.Close()

	if n, _ := d2.ObjectCount(); n != wantCount {
		t.Fatalf("expected %d objects, got %d", wantCount, n)
	}
	if gone, _ := d2.FindObjectByOID(doomed.OID()); gone != nil {
		t.Fatal("expected destroyed object to stay gone")
	}
	u2, _ := d2.FindObjectByOID(user.OID())
	emails, _ := db.Get(u2, db.EmailAddresses)
	if !slices.Equal(emails, []string{"ada@example.org", "ada@work.example"}) {
		t.Fatalf("unexpected email addresses %v", emails)
	}
	if tout, _ := db.Get(u2, db.InactivityTimeout); tout != 15*time.Minute {
		t.Fatalf("unexpected inactivity timeout %v", tout)
	}
	a2, _ := d2.FindAccount("ada")
	if a2 == nil || a2.OID() != account.OID() {
		t.Fatalf("expected account %d, got %v", account.OID(), a2)
	}
	picks, _ := a2.Linked(db.AccountQuickPicks)
	if len(picks) != 2 || picks[0].OID() != private.OID() || picks[1].OID() != first.OID() {
		t.Fatalf("expected quick pick order to survive, got %v", picks)
	}
	if got, err := d2.Login("ada", "secret"); err != nil || got != a2 {
		t.Fatalf("Login() = %v, %v", got, err)
	}
	w2, _ := d2.FindObjectByOID(work.OID())
	if started, _ := db.Get(w2, db.StartedAt); !started.Equal(start) {
		t.Fatalf("unexpected start %v", started)
	}
	task2, _ := d2.FindObjectByOID(first.OID())
	works, _ := task2.Linked(db.ActivityWorks)
	if len(works) != 1 || works[0] != w2 {
		t.Fatalf("expected reverse works link, got %v", works)
	}
	events, _ := task2.Linked(db.ActivityEvents)
	if len(events) != 1 {
		t.Fatalf("expected reverse events link, got %v", events)
	}
	sub2, _ := d2.FindObjectByOID(sub.OID())
	if done, _ := db.Get(sub2, db.Completed); !done {
		t.Fatal("expected completed flag to survive")
	}
	roots, _ := d2.RootProjects()
	if len(roots) != 1 || roots[0].OID() != proj.OID() {
		t.Fatalf("unexpected root projects %v", roots)
	}
	ben2, _ := d2.FindObjectByOID(ben.OID())
	if wl, _ := ben2.Linked(db.BeneficiaryWorkloads); len(wl) != 1 {
		t.Fatalf("expected beneficiary workloads, got %v", wl)
	}
	fresh, err := d2.CreateBeneficiary(db.BeneficiaryInput{DisplayName: "Next"})
	if err != nil {
		t.Fatalf("CreateBeneficiary() error = %v", err)
	}
	if fresh.OID() <= doomed.OID() {
		t.Fatalf("expected oid above %d, got %d", doomed.OID(), fresh.OID())
	}
}

func TestCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	backend, err := OpenInMemory(ctx, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer backend.Close()

	user := db.Record{OID: 1, Kind: domain.KindUser, Props: map[string]any{"Enabled": true, "RealName": "A", "EmailAddresses": []string{}}}
	account := func(oid domain.OID) db.Record {
		return db.Record{
			OID:   oid,
			Kind:  domain.KindAccount,
			Props: map[string]any{"Enabled": true, "Login": "same", "EmailAddresses": []string{}},
			Links: map[string][]domain.OID{"User": {1}},
		}
	}
	if err := backend.Commit(ctx, &db.Changeset{NextOID: 2, Created: []db.Record{user, account(2)}}); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	err = backend.Commit(ctx, &db.Changeset{NextOID: 4, Created: []db.Record{
		{OID: 3, Kind: domain.KindBeneficiary, Props: map[string]any{"DisplayName": "B"}},
		account(4),
	}})
	var exists *db.AlreadyExistsError
	if !errors.As(err, &exists) || exists.Property != "Login" || exists.Value != "same" {
		t.Fatalf("expected AlreadyExistsError on Login, got %v", err)
	}
	graph, err := backend.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(graph.Records) != 2 || graph.NextOID != 2 {
		t.Fatalf("expected failed commit to leave 2 records and next oid 2, got %d and %d", len(graph.Records), graph.NextOID)
	}
}

func TestOpenRejectsBadAddresses(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if _, err := Open(ctx, filepath.Join(dir, "missing.db"), Options{}); !errors.Is(err, db.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress for missing file, got %v", err)
	}
	if _, err := Open(ctx, "  ", Options{}); !errors.Is(err, db.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress for blank path, got %v", err)
	}
	junk := filepath.Join(dir, "junk.db")
	if err := os.WriteFile(junk, []byte("this is not a database file at all, just some text padding it out"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Open(ctx, junk, Options{Logger: quietLogger()}); !errors.Is(err, db.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for junk file, got %v", err)
	}
	if _, err := Create(ctx, junk, Options{}); !errors.Is(err, db.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress for existing file, got %v", err)
	}
}

func TestReadOnlyBackendRejectsCommit(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ro.db")
	b, err := Create(ctx, path, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_ = b.Close()

	ro, err := Open(ctx, path, Options{ReadOnly: true, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Open(read-only) error = %v", err)
	}
	defer ro.Close()
	if _, err := ro.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	err = ro.Commit(ctx, &db.Changeset{NextOID: 1, Created: []db.Record{{OID: 1, Kind: domain.KindBeneficiary, Props: map[string]any{"DisplayName": "X"}}}})
	if !errors.Is(err, db.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}
