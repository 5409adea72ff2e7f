package app

import (
	"github.com/hylla/tt3/internal/db"
	"github.com/hylla/tt3/internal/domain"
)

// NotificationType identifies one workspace notification.
type NotificationType string

// NotificationType values.
const (
	WorkspaceClosed NotificationType = "workspace-closed"
	ObjectCreated   NotificationType = "object-created"
	ObjectDestroyed NotificationType = "object-destroyed"
	ObjectModified  NotificationType = "object-modified"
)

// Notification is a database change re-emitted by a Workspace.
type Notification struct {
	Type      NotificationType
	Workspace *Workspace
	Kind      domain.Kind
	OID       domain.OID
	Property  string
}

// Subscribe registers handler for workspace notifications. Delivery is
// synchronous, FIFO and in registration order, after the workspace guard is
// released. Handlers that re-query the workspace should guard themselves
// with a notify.RefreshGuard.
func (ws *Workspace) Subscribe(handler func(Notification)) (unsubscribe func()) {
	return ws.hub.Subscribe(handler)
}

// SubscriberCount returns the number of registered handlers.
func (ws *Workspace) SubscriberCount() int {
	return ws.hub.Len()
}

func (ws *Workspace) onDatabaseClosed(db.Notification) {
	ws.closed.Store(true)
	ws.stateMu.Lock()
	clear(ws.goodCreds)
	clear(ws.badCreds)
	clear(ws.proxies)
	ws.stateMu.Unlock()
	ws.relay(Notification{Type: WorkspaceClosed, Workspace: ws})
}

func (ws *Workspace) onObjectChanged(n db.Notification) {
	ws.stateMu.Lock()
	if n.Kind.IsPrincipal() {
		ws.resetCredentialsLocked("principal changed")
	}
	if n.Type == db.ObjectDestroyed {
		delete(ws.proxies, n.OID)
	}
	ws.stateMu.Unlock()

	out := Notification{Workspace: ws, Kind: n.Kind, OID: n.OID, Property: n.Property}
	switch n.Type {
	case db.ObjectCreated:
		out.Type = ObjectCreated
	case db.ObjectDestroyed:
		out.Type = ObjectDestroyed
	default:
		out.Type = ObjectModified
	}
	ws.relay(out)
}

// relay queues n. Inside a workspace operation delivery waits for the guard
// to be released; otherwise it happens now.
func (ws *Workspace) relay(n Notification) {
	ws.hub.Post(n)
	if !ws.inOp.Load() {
		ws.hub.Flush()
	}
}
