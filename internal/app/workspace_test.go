package app

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hylla/tt3/internal/adapters/storage"
	"github.com/hylla/tt3/internal/adapters/storage/sqlite"
	"github.com/hylla/tt3/internal/db"
	"github.com/hylla/tt3/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

var adminCreds = domain.NewCredentials("admin", "admin-secret")

// testStorage describes a private in-memory SQLite database.
func testStorage() storage.Options {
	return storage.Options{
		Type:       sqlite.TypeName,
		Address:    sqlite.MemoryAddress,
		BcryptCost: bcrypt.MinCost,
		Logger:     log.New(io.Discard),
	}
}

// newTestWorkspace creates a workspace administered by adminCreds.
func newTestWorkspace(t *testing.T, opts Options) *Workspace {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	ws, err := Create(context.Background(), testStorage(), opts, AdministratorInput{
		RealName: "Administrator",
		Login:    adminCreds.Login,
		Password: adminCreds.Password,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// addPrincipal creates an enabled user with one account holding caps and
// returns the account and its credentials.
func addPrincipal(t *testing.T, ws *Workspace, login string, caps domain.Capabilities) (User, Account, domain.Credentials) {
	t.Helper()
	user, err := ws.CreateUser(adminCreds, UserInput{Enabled: true, RealName: "User " + login})
	if err != nil {
		t.Fatalf("CreateUser(%q) error = %v", login, err)
	}
	creds := domain.NewCredentials(login, login+"-secret")
	account, err := user.CreateAccount(adminCreds, AccountInput{
		Enabled:      true,
		Login:        creds.Login,
		Password:     creds.Password,
		Capabilities: caps,
	})
	if err != nil {
		t.Fatalf("CreateAccount(%q) error = %v", login, err)
	}
	return user, account, creds
}

func wantKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	if got := KindOf(err); got != want {
		t.Fatalf("error kind = %q (%v), want %q", got, err, want)
	}
}

func TestCreateSeedsAdministrator(t *testing.T) {
	ws := newTestWorkspace(t, Options{})

	account, err := ws.Login(adminCreds)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	caps, err := ws.Capabilities(adminCreds)
	if err != nil {
		t.Fatalf("Capabilities() error = %v", err)
	}
	if !caps.Contains(domain.CapAdministrator) {
		t.Fatalf("Capabilities() = %s, want Administrator", caps)
	}
	user, err := account.User(adminCreds)
	if err != nil || user.Object == nil {
		t.Fatalf("Account.User() = %v, %v", user.Object, err)
	}
	if n, err := ws.ObjectCount(adminCreds); err != nil || n != 2 {
		t.Fatalf("ObjectCount() = %d, %v, want 2", n, err)
	}
	if ws.Session() == "" || ws.Type() != sqlite.TypeName {
		t.Fatalf("Session() = %q, Type() = %q", ws.Session(), ws.Type())
	}
}

func TestLoginScenario(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	_, account, creds := addPrincipal(t, ws, "alice", domain.CapAdministrator)

	got, ok, err := ws.TryLogin(creds)
	if err != nil || !ok {
		t.Fatalf("TryLogin() = %v, %v, %v", got.Object, ok, err)
	}
	if got != account {
		t.Fatalf("TryLogin() = %v, want %v", got.Object, account.Object)
	}

	wrong := domain.NewCredentials(creds.Login, "nope")
	if _, ok, err := ws.TryLogin(wrong); err != nil || ok {
		t.Fatalf("TryLogin(wrong password) = %v, %v, want none", ok, err)
	}
	_, err = ws.Login(wrong)
	wantKind(t, err, KindAccessDenied)

	if ok, err := ws.CanAccess(wrong); err != nil || ok {
		t.Fatalf("CanAccess(wrong password) = %v, %v", ok, err)
	}
	if ok, err := ws.CanAccess(domain.NewCredentials("  alice ", creds.Password)); err != nil || !ok {
		t.Fatalf("CanAccess(padded login) = %v, %v", ok, err)
	}
}

func TestDisabledPrincipalCannotLogin(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	user, account, creds := addPrincipal(t, ws, "bob", domain.CapLogWork)

	if _, err := ws.Login(creds); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := Set(user, adminCreds, db.Enabled, false); err != nil {
		t.Fatalf("Set(User.Enabled) error = %v", err)
	}
	_, err := ws.Login(creds)
	wantKind(t, err, KindAccessDenied)

	if err := Set(user, adminCreds, db.Enabled, true); err != nil {
		t.Fatalf("Set(User.Enabled) error = %v", err)
	}
	if err := Set(account, adminCreds, db.Enabled, false); err != nil {
		t.Fatalf("Set(Account.Enabled) error = %v", err)
	}
	_, err = ws.Login(creds)
	wantKind(t, err, KindAccessDenied)
}

func TestProxiesAreIdentityMapped(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	created, err := ws.CreatePublicActivity(adminCreds, ActivityInput{DisplayName: "Meetings"})
	if err != nil {
		t.Fatalf("CreatePublicActivity() error = %v", err)
	}

	listed, err := ws.PublicActivities(adminCreds)
	if err != nil {
		t.Fatalf("PublicActivities() error = %v", err)
	}
	if len(listed) != 1 || listed[0] != created {
		t.Fatalf("PublicActivities() = %v, want [%v]", listed, created.Object)
	}
	found, err := ws.FindObjectByOID(adminCreds, created.OID())
	if err != nil {
		t.Fatalf("FindObjectByOID() error = %v", err)
	}
	if found != created.Object {
		t.Fatalf("FindObjectByOID() = %p, want %p", found, created.Object)
	}
	if _, ok := found.AsTask(); ok {
		t.Fatal("AsTask() on a PublicActivity ok = true")
	}
	if a, ok := found.AsActivity(); !ok || a != created {
		t.Fatalf("AsActivity() = %v, %v", a.Object, ok)
	}
	if ws.cachedProxies() == 0 {
		t.Fatal("cachedProxies() = 0 while a proxy is held")
	}
}

func TestFindObjectByOIDMissingAndForbidden(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	_, _, clerk := addPrincipal(t, ws, "clerk", domain.CapLogWork)
	admin, err := ws.Login(adminCreds)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	got, err := ws.FindObjectByOID(adminCreds, domain.OID(99999))
	if err != nil || got != nil {
		t.Fatalf("FindObjectByOID(missing) = %v, %v, want nil, nil", got, err)
	}
	_, err = ws.FindObjectByOID(clerk, admin.OID())
	wantKind(t, err, KindAccessDenied)

	if _, ok, err := ws.FindAccount(adminCreds, "ghost"); err != nil || ok {
		t.Fatalf("FindAccount(ghost) = %v, %v", ok, err)
	}
	_, _, err = ws.FindAccount(clerk, adminCreds.Login)
	wantKind(t, err, KindAccessDenied)
	if a, ok, err := ws.FindAccount(adminCreds, "clerk"); err != nil || !ok || a.Object == nil {
		t.Fatalf("FindAccount(clerk) = %v, %v, %v", a.Object, ok, err)
	}
}

func TestDestroyedProxyIsDead(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	activity, err := ws.CreatePublicActivity(adminCreds, ActivityInput{DisplayName: "Support"})
	if err != nil {
		t.Fatalf("CreatePublicActivity() error = %v", err)
	}
	if !activity.IsLive() {
		t.Fatal("IsLive() = false for a new object")
	}
	if err := activity.Destroy(adminCreds); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if activity.IsLive() {
		t.Fatal("IsLive() = true after Destroy()")
	}
	_, err = Get(activity, adminCreds, db.DisplayName)
	wantKind(t, err, KindInstanceDead)
}

func TestCloseKillsProxiesAndNotifies(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	activity, err := ws.CreatePublicActivity(adminCreds, ActivityInput{DisplayName: "Support"})
	if err != nil {
		t.Fatalf("CreatePublicActivity() error = %v", err)
	}
	var got []NotificationType
	ws.Subscribe(func(n Notification) { got = append(got, n.Type) })

	if err := ws.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if ws.IsOpen() || activity.IsLive() {
		t.Fatalf("IsOpen() = %v, IsLive() = %v after Close()", ws.IsOpen(), activity.IsLive())
	}
	if len(got) != 1 || got[0] != WorkspaceClosed {
		t.Fatalf("notifications = %v, want [%s]", got, WorkspaceClosed)
	}
	_, err = ws.ObjectCount(adminCreds)
	wantKind(t, err, KindClosed)
	_, err = Get(activity, adminCreds, db.DisplayName)
	wantKind(t, err, KindClosed)
}

func TestNotificationsAreRelayedAfterTheGuard(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	activity, err := ws.CreatePublicActivity(adminCreds, ActivityInput{DisplayName: "Support"})
	if err != nil {
		t.Fatalf("CreatePublicActivity() error = %v", err)
	}

	var got []Notification
	counts := 0
	unsubscribe := ws.Subscribe(func(n Notification) {
		got = append(got, n)
		// Re-entering the workspace from a handler must not deadlock.
		if _, err := ws.ObjectCount(adminCreds); err == nil {
			counts++
		}
	})
	if ws.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", ws.SubscriberCount())
	}

	if err := Set(activity, adminCreds, db.DisplayName, "Customer support"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := Set(activity, adminCreds, db.DisplayName, "Customer support"); err != nil {
		t.Fatalf("Set(same value) error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("notifications = %+v, want exactly one", got)
	}
	n := got[0]
	if n.Type != ObjectModified || n.OID != activity.OID() || n.Property != db.DisplayName.Name() || n.Workspace != ws {
		t.Fatalf("notification = %+v", n)
	}
	if counts != 1 {
		t.Fatalf("handler re-entry succeeded %d times, want 1", counts)
	}

	unsubscribe()
	if err := activity.Destroy(adminCreds); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("notifications after unsubscribe = %d, want 1", len(got))
	}
}

func TestCreationIsRelayed(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	var created []domain.Kind
	ws.Subscribe(func(n Notification) {
		if n.Type == ObjectCreated {
			created = append(created, n.Kind)
		}
	})
	if _, err := ws.CreateBeneficiary(adminCreds, BeneficiaryInput{DisplayName: "ACME"}); err != nil {
		t.Fatalf("CreateBeneficiary() error = %v", err)
	}
	if len(created) != 1 || created[0] != domain.KindBeneficiary {
		t.Fatalf("created = %v, want [Beneficiary]", created)
	}
}

func TestLogWorkCapabilityGatesWork(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	activity, err := ws.CreatePublicActivity(adminCreds, ActivityInput{
		DisplayName:           "Development",
		RequireCommentOnStart: true,
	})
	if err != nil {
		t.Fatalf("CreatePublicActivity() error = %v", err)
	}
	_, worker, workerCreds := addPrincipal(t, ws, "worker", domain.CapLogWork)
	_, logger, loggerCreds := addPrincipal(t, ws, "logger", domain.CapLogEvents)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	in := WorkInput{Activity: activity, StartedAt: start, FinishedAt: start.Add(time.Hour), Comment: "sprint"}

	work, err := worker.CreateWork(workerCreds, in)
	if err != nil {
		t.Fatalf("CreateWork(LogWork) error = %v", err)
	}
	if got, err := work.Activity(workerCreds); err != nil || got != activity {
		t.Fatalf("Work.Activity() = %v, %v", got.Object, err)
	}
	_, err = logger.CreateWork(loggerCreds, in)
	wantKind(t, err, KindAccessDenied)

	if _, err := logger.CreateEvent(loggerCreds, EventInput{
		Activities: []Activity{activity},
		OccurredAt: start,
		Summary:    "started",
	}); err != nil {
		t.Fatalf("CreateEvent(LogEvents) error = %v", err)
	}
	// Accounts log only on their own behalf.
	_, err = worker.CreateWork(loggerCreds, in)
	wantKind(t, err, KindAccessDenied)

	_, err = worker.Works(loggerCreds)
	wantKind(t, err, KindAccessDenied)
	works, err := activity.Works(loggerCreds)
	if err != nil {
		t.Fatalf("Activity.Works() error = %v", err)
	}
	if len(works) != 0 {
		t.Fatalf("Activity.Works() as another account = %d items, want 0", len(works))
	}
	_, err = Get(work, loggerCreds, db.Comment)
	wantKind(t, err, KindAccessDenied)
}

func TestCapabilityChangeTakesEffectImmediately(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	activity, err := ws.CreatePublicActivity(adminCreds, ActivityInput{DisplayName: "Ops"})
	if err != nil {
		t.Fatalf("CreatePublicActivity() error = %v", err)
	}
	_, account, creds := addPrincipal(t, ws, "clerk", domain.CapLogEvents)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	in := WorkInput{Activity: activity, StartedAt: start, FinishedAt: start.Add(time.Hour)}

	_, err = account.CreateWork(creds, in)
	wantKind(t, err, KindAccessDenied)

	if err := Set(account, adminCreds, db.Capabilities, domain.CapLogWork); err != nil {
		t.Fatalf("Set(Capabilities) error = %v", err)
	}
	if _, err := account.CreateWork(creds, in); err != nil {
		t.Fatalf("CreateWork() after grant error = %v", err)
	}
	ok, err := ws.GrantsAny(creds, domain.CapLogWork.With(domain.CapManageUsers))
	if err != nil || !ok {
		t.Fatalf("GrantsAny() = %v, %v", ok, err)
	}
	ok, err = ws.GrantsAll(creds, domain.CapLogWork.With(domain.CapManageUsers))
	if err != nil || ok {
		t.Fatalf("GrantsAll() = %v, %v", ok, err)
	}
	ok, err = ws.GrantsAll(adminCreds, domain.CapLogWork.With(domain.CapManageUsers))
	if err != nil || !ok {
		t.Fatalf("GrantsAll(administrator) = %v, %v", ok, err)
	}
}

func TestLastAdministratorIsProtected(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	admin, err := ws.Login(adminCreds)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	adminUser, err := admin.User(adminCreds)
	if err != nil {
		t.Fatalf("Account.User() error = %v", err)
	}

	wantKind(t, adminUser.Destroy(adminCreds), KindAccessWouldBeLost)
	wantKind(t, admin.Destroy(adminCreds), KindAccessWouldBeLost)
	wantKind(t, Set(admin, adminCreds, db.Enabled, false), KindAccessWouldBeLost)
	wantKind(t, Set(adminUser, adminCreds, db.Enabled, false), KindAccessWouldBeLost)
	wantKind(t, Set(admin, adminCreds, db.Capabilities, domain.CapManageUsers), KindAccessWouldBeLost)

	_, _, second := addPrincipal(t, ws, "root2", domain.CapAdministrator)
	if err := Set(admin, second, db.Capabilities, domain.CapManageUsers); err != nil {
		t.Fatalf("Set(Capabilities) with another administrator error = %v", err)
	}
	if _, err := ws.Login(adminCreds); err != nil {
		t.Fatalf("Login() after demotion error = %v", err)
	}
	ok, err := ws.GrantsAny(adminCreds, domain.CapAdministrator)
	if err != nil || ok {
		t.Fatalf("GrantsAny(Administrator) after demotion = %v, %v", ok, err)
	}
}

func TestUserManagersCannotTouchAdministrators(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	_, _, manager := addPrincipal(t, ws, "manager", domain.CapManageUsers)
	admin, err := ws.Login(adminCreds)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	user, err := ws.CreateUser(manager, UserInput{Enabled: true, RealName: "Carol"})
	if err != nil {
		t.Fatalf("CreateUser() as manager error = %v", err)
	}
	_, err = user.CreateAccount(manager, AccountInput{Enabled: true, Login: "carol", Password: "x", Capabilities: domain.CapAdministrator})
	wantKind(t, err, KindAccessDenied)

	carol, err := user.CreateAccount(manager, AccountInput{Enabled: true, Login: "carol", Password: "x", Capabilities: domain.CapLogWork})
	if err != nil {
		t.Fatalf("CreateAccount() as manager error = %v", err)
	}
	wantKind(t, Set(carol, manager, db.Capabilities, domain.CapAdministrator), KindAccessDenied)
	wantKind(t, Set(admin, manager, db.Enabled, false), KindAccessDenied)
	wantKind(t, admin.SetPassword(manager, "stolen"), KindAccessDenied)

	if err := Set(carol, manager, db.Capabilities, domain.CapLogWork.With(domain.CapLogEvents)); err != nil {
		t.Fatalf("Set(Capabilities) as manager error = %v", err)
	}
}

func TestSelfServiceProperties(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	user, account, creds := addPrincipal(t, ws, "dora", domain.CapLogWork)

	if err := Set(user, creds, db.UILocale, "de_DE"); err != nil {
		t.Fatalf("Set(UILocale) on self error = %v", err)
	}
	wantKind(t, Set(user, creds, db.RealName, "Someone Else"), KindAccessDenied)
	wantKind(t, Set(account, creds, db.Capabilities, domain.CapLogWork.With(domain.CapLogEvents)), KindAccessDenied)
	wantKind(t, Set(account, creds, db.Login, "dora2"), KindAccessDenied)

	_, err := Get(account, creds, db.PasswordHash)
	wantKind(t, err, KindAccessDenied)

	if err := account.SetPassword(creds, "rotated"); err != nil {
		t.Fatalf("SetPassword() on self error = %v", err)
	}
	_, err = ws.Login(creds)
	wantKind(t, err, KindAccessDenied)
	if _, err := ws.Login(domain.NewCredentials("dora", "rotated")); err != nil {
		t.Fatalf("Login() with new password error = %v", err)
	}

	users, err := ws.Users(domain.NewCredentials("dora", "rotated"))
	if err != nil {
		t.Fatalf("Users() error = %v", err)
	}
	if len(users) != 1 || users[0] != user {
		t.Fatalf("Users() as self = %d items, want only self", len(users))
	}
}

func TestPrivateActivitiesBelongToTheirOwner(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	caps := domain.CapManagePrivateActivities.With(domain.CapManagePrivateTasks)
	eve, _, eveCreds := addPrincipal(t, ws, "eve", caps)
	frank, _, frankCreds := addPrincipal(t, ws, "frank", caps)

	private, err := eve.CreatePrivateActivity(eveCreds, ActivityInput{DisplayName: "Reading"})
	if err != nil {
		t.Fatalf("CreatePrivateActivity() error = %v", err)
	}
	_, err = eve.CreatePrivateActivity(frankCreds, ActivityInput{DisplayName: "Sneaky"})
	wantKind(t, err, KindAccessDenied)

	parent, err := frank.CreatePrivateTask(frankCreds, TaskInput{ActivityInput: ActivityInput{DisplayName: "Thesis"}})
	if err != nil {
		t.Fatalf("CreatePrivateTask() error = %v", err)
	}
	child, err := frank.CreatePrivateTask(frankCreds, TaskInput{ActivityInput: ActivityInput{DisplayName: "Chapter 1"}, Parent: parent})
	if err != nil {
		t.Fatalf("CreatePrivateTask(child) error = %v", err)
	}
	children, err := parent.Children(frankCreds)
	if err != nil || len(children) != 1 || children[0] != child {
		t.Fatalf("Children() = %v, %v", children, err)
	}

	_, err = Get(private, frankCreds, db.DisplayName)
	wantKind(t, err, KindAccessDenied)
	wantKind(t, Set(private, frankCreds, db.DisplayName, "Mine"), KindAccessDenied)
	mine, err := eve.PrivateActivities(eveCreds)
	if err != nil || len(mine) != 1 || mine[0] != private {
		t.Fatalf("PrivateActivities() = %v, %v", mine, err)
	}
}

func TestTaskCompletionNeedsModifyRight(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	task, err := ws.CreatePublicTask(adminCreds, TaskInput{ActivityInput: ActivityInput{DisplayName: "Release"}})
	if err != nil {
		t.Fatalf("CreatePublicTask() error = %v", err)
	}
	_, _, worker := addPrincipal(t, ws, "worker", domain.CapLogWork)
	_, _, lead := addPrincipal(t, ws, "lead", domain.CapManagePublicTasks)

	wantKind(t, task.SetCompleted(worker, true), KindAccessDenied)
	if err := task.SetCompleted(lead, true); err != nil {
		t.Fatalf("SetCompleted(true) error = %v", err)
	}
	if done, err := Get(task, worker, db.Completed); err != nil || !done {
		t.Fatalf("Get(Completed) = %v, %v", done, err)
	}
	wantKind(t, task.SetCompleted(worker, false), KindAccessDenied)
	if err := task.SetCompleted(lead, false); err != nil {
		t.Fatalf("SetCompleted(false) error = %v", err)
	}
}

func TestQuickPicksAreOrderedAndSelfService(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	a, err := ws.CreatePublicActivity(adminCreds, ActivityInput{DisplayName: "A"})
	if err != nil {
		t.Fatalf("CreatePublicActivity(A) error = %v", err)
	}
	b, err := ws.CreatePublicActivity(adminCreds, ActivityInput{DisplayName: "B"})
	if err != nil {
		t.Fatalf("CreatePublicActivity(B) error = %v", err)
	}
	_, account, creds := addPrincipal(t, ws, "gina", domain.CapLogWork)

	if err := account.SetQuickPicks(creds, []Activity{b, a}); err != nil {
		t.Fatalf("SetQuickPicks() error = %v", err)
	}
	picks, err := account.QuickPicks(creds)
	if err != nil {
		t.Fatalf("QuickPicks() error = %v", err)
	}
	if len(picks) != 2 || picks[0] != b || picks[1] != a {
		t.Fatalf("QuickPicks() = %v, want [B A]", picks)
	}
	if err := account.RemoveLink(creds, db.AccountQuickPicks, b); err != nil {
		t.Fatalf("RemoveLink() error = %v", err)
	}
	picks, err = account.QuickPicks(creds)
	if err != nil || len(picks) != 1 || picks[0] != a {
		t.Fatalf("QuickPicks() after remove = %v, %v", picks, err)
	}
}

func TestProxiesFromAnotherWorkspaceAreIncompatible(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	other := newTestWorkspace(t, Options{})
	foreign, err := other.CreatePublicActivity(adminCreds, ActivityInput{DisplayName: "Elsewhere"})
	if err != nil {
		t.Fatalf("CreatePublicActivity() error = %v", err)
	}
	account, err := ws.Login(adminCreds)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	wantKind(t, account.SetQuickPicks(adminCreds, []Activity{foreign}), KindIncompatibleInstance)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	_, err = account.CreateWork(adminCreds, WorkInput{Activity: foreign, StartedAt: start, FinishedAt: start})
	wantKind(t, err, KindIncompatibleInstance)
}

func TestErrorsCarryKindAndDetails(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	user, err := ws.CreateUser(adminCreds, UserInput{Enabled: true, RealName: "Hank"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	_, err = user.CreateAccount(adminCreds, AccountInput{Enabled: true, Login: adminCreds.Login, Password: "x"})
	wantKind(t, err, KindAlreadyExists)
	if got, ok := ErrorDetail(err, DetailProperty); !ok || got != db.Login.Name() {
		t.Fatalf("ErrorDetail(property) = %q, %v", got, ok)
	}
	if got, ok := ErrorDetail(err, DetailValue); !ok || got != adminCreds.Login {
		t.Fatalf("ErrorDetail(value) = %q, %v", got, ok)
	}

	activity, err := ws.CreatePublicActivity(adminCreds, ActivityInput{DisplayName: "Valid"})
	if err != nil {
		t.Fatalf("CreatePublicActivity() error = %v", err)
	}
	err = Set(activity, adminCreds, db.DisplayName, "")
	wantKind(t, err, KindInvalidPropertyValue)
	if got, ok := ErrorDetail(err, DetailObjectType); !ok || got != string(domain.KindPublicActivity) {
		t.Fatalf("ErrorDetail(objectType) = %q, %v", got, ok)
	}

	_, err = Get(activity, adminCreds, db.Login)
	wantKind(t, err, KindIncompatibleInstance)

	var missing User
	_, err = missing.CreateAccount(adminCreds, AccountInput{Login: "nobody"})
	wantKind(t, err, KindDoesNotExist)

	if KindOf(nil) != "" || IsKind(io.EOF, KindCustom) {
		t.Fatal("KindOf() classified a foreign error")
	}
}

func TestCredentialsCachesResetAtCapacity(t *testing.T) {
	ws := newTestWorkspace(t, Options{CredentialsCacheSize: 2})
	for _, login := range []string{"x1", "x2", "x3"} {
		if _, ok, err := ws.TryLogin(domain.NewCredentials(login, "bad")); err != nil || ok {
			t.Fatalf("TryLogin(%q) = %v, %v", login, ok, err)
		}
	}
	ws.stateMu.Lock()
	bad := len(ws.badCreds)
	ws.stateMu.Unlock()
	if bad != 1 {
		t.Fatalf("bad credentials cached = %d, want 1 after reset", bad)
	}

	if _, err := ws.Login(adminCreds); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := ws.CreateBeneficiary(adminCreds, BeneficiaryInput{DisplayName: "Cache"}); err != nil {
		t.Fatalf("CreateBeneficiary() error = %v", err)
	}
	ws.stateMu.Lock()
	good := len(ws.goodCreds)
	ws.stateMu.Unlock()
	if good != 1 {
		t.Fatalf("good credentials cached = %d, want 1", good)
	}
}

func TestReadOnlyWorkspaceDeniesMutations(t *testing.T) {
	dir := t.TempDir()
	sopts := testStorage()
	sopts.Type = "xml"
	sopts.Address = dir + "/ws.tt3"
	ws, err := Create(context.Background(), sopts, Options{Logger: log.New(io.Discard)}, AdministratorInput{
		RealName: "Administrator", Login: adminCreds.Login, Password: adminCreds.Password,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	sopts.ReadOnly = true
	ro, err := Open(context.Background(), sopts, Options{Logger: log.New(io.Discard)})
	if err != nil {
		t.Fatalf("Open(read-only) error = %v", err)
	}
	defer ro.Close()
	if !ro.IsReadOnly() {
		t.Fatal("IsReadOnly() = false")
	}
	_, err = ro.CreateBeneficiary(adminCreds, BeneficiaryInput{DisplayName: "Nope"})
	wantKind(t, err, KindAccessDenied)
}

func TestOpenMissingWorkspace(t *testing.T) {
	sopts := testStorage()
	sopts.Type = "bogus"
	_, err := Open(context.Background(), sopts, Options{})
	wantKind(t, err, KindInvalidAddress)
}

func TestSettingTheCurrentValueIsSilent(t *testing.T) {
	ws := newTestWorkspace(t, Options{})
	activity, err := ws.CreatePublicActivity(adminCreds, ActivityInput{DisplayName: "Support"})
	if err != nil {
		t.Fatalf("CreatePublicActivity() error = %v", err)
	}
	user, _, creds := addPrincipal(t, ws, "riley", domain.CapLogWork)

	var modified []Notification
	ws.Subscribe(func(n Notification) {
		if n.Type == ObjectModified {
			modified = append(modified, n)
		}
	})

	for range 2 {
		if err := Set(activity, adminCreds, db.DisplayName, "Help desk"); err != nil {
			t.Fatalf("Set(DisplayName) error = %v", err)
		}
	}
	for range 2 {
		if err := Set(user, creds, db.UILocale, "de_DE"); err != nil {
			t.Fatalf("Set(UILocale) error = %v", err)
		}
	}
	if err := Set(activity, adminCreds, db.DisplayName, "Help desk"); err != nil {
		t.Fatalf("Set(DisplayName) error = %v", err)
	}

	if len(modified) != 2 {
		t.Fatalf("ObjectModified notifications = %+v, want 2", modified)
	}
	if modified[0].OID != activity.OID() || modified[0].Property != db.DisplayName.Name() {
		t.Fatalf("first notification = %+v", modified[0])
	}
	if modified[1].OID != user.OID() || modified[1].Property != db.UILocale.Name() {
		t.Fatalf("second notification = %+v", modified[1])
	}
	if name, err := Get(activity, adminCreds, db.DisplayName); err != nil || name != "Help desk" {
		t.Fatalf("Get(DisplayName) = %q, %v", name, err)
	}
}

func TestRefreshKillsObjectsDeletedElsewhere(t *testing.T) {
	ctx := context.Background()
	sopts := testStorage()
	sopts.Address = t.TempDir() + "/shared.db"
	quiet := Options{Logger: log.New(io.Discard)}

	first, err := Create(ctx, sopts, quiet, AdministratorInput{
		RealName: "Administrator", Login: adminCreds.Login, Password: adminCreds.Password,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })
	doomed, err := first.CreatePublicActivity(adminCreds, ActivityInput{DisplayName: "Doomed"})
	if err != nil {
		t.Fatalf("CreatePublicActivity() error = %v", err)
	}
	kept, err := first.CreatePublicActivity(adminCreds, ActivityInput{DisplayName: "Kept"})
	if err != nil {
		t.Fatalf("CreatePublicActivity() error = %v", err)
	}

	second, err := Open(ctx, sopts, quiet)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	other, err := second.FindObjectByOID(adminCreds, doomed.OID())
	if err != nil || other == nil {
		t.Fatalf("FindObjectByOID() = %v, %v", other, err)
	}
	if err := other.Destroy(adminCreds); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}

	var got []Notification
	first.Subscribe(func(n Notification) { got = append(got, n) })
	if err := first.Refresh(ctx, adminCreds); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	var destroyed []domain.OID
	for _, n := range got {
		if n.Workspace != first {
			t.Fatalf("notification from another workspace: %+v", n)
		}
		if n.Type == ObjectDestroyed {
			destroyed = append(destroyed, n.OID)
		}
	}
	if len(destroyed) != 1 || destroyed[0] != doomed.OID() {
		t.Fatalf("destroyed = %v, want [%d]", destroyed, doomed.OID())
	}
	if doomed.IsLive() {
		t.Fatal("IsLive() = true after the object was deleted elsewhere")
	}
	if !kept.IsLive() {
		t.Fatal("IsLive() = false for an untouched object")
	}
	_, err = Get(doomed, adminCreds, db.DisplayName)
	wantKind(t, err, KindInstanceDead)

	if err := first.Refresh(ctx, adminCreds); err != nil {
		t.Fatalf("second Refresh() error = %v", err)
	}
	if doomed.IsLive() {
		t.Fatal("IsLive() = true after a second Refresh()")
	}
	if found, err := first.FindObjectByOID(adminCreds, doomed.OID()); err != nil || found != nil {
		t.Fatalf("FindObjectByOID(deleted) = %v, %v, want nil", found, err)
	}
}
