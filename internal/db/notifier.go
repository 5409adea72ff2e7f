package db

import (
	"github.com/hylla/tt3/internal/domain"
	"github.com/hylla/tt3/internal/notify"
)

// NotificationType identifies one change notification.
type NotificationType string

// NotificationType values.
const (
	DatabaseClosed  NotificationType = "database-closed"
	ObjectCreated   NotificationType = "object-created"
	ObjectDestroyed NotificationType = "object-destroyed"
	ObjectModified  NotificationType = "object-modified"
)

// Notification describes one change. Property names the changed property or
// link side for ObjectModified and is empty otherwise.
type Notification struct {
	Type     NotificationType
	Database *Database
	OID      domain.OID
	Kind     domain.Kind
	Property string
}

// Listener receives database change notifications.
type Listener interface {
	OnDatabaseClosed(n Notification)
	OnObjectCreated(n Notification)
	OnObjectDestroyed(n Notification)
	OnObjectModified(n Notification)
}

// ListenerFuncs adapts optional functions to Listener.
type ListenerFuncs struct {
	DatabaseClosed  func(Notification)
	ObjectCreated   func(Notification)
	ObjectDestroyed func(Notification)
	ObjectModified  func(Notification)
}

func (f ListenerFuncs) OnDatabaseClosed(n Notification)  { call(f.DatabaseClosed, n) }
func (f ListenerFuncs) OnObjectCreated(n Notification)   { call(f.ObjectCreated, n) }
func (f ListenerFuncs) OnObjectDestroyed(n Notification) { call(f.ObjectDestroyed, n) }
func (f ListenerFuncs) OnObjectModified(n Notification)  { call(f.ObjectModified, n) }

func call(fn func(Notification), n Notification) {
	if fn != nil {
		fn(n)
	}
}

// ChangeNotifier fans database notifications out to listeners, FIFO and in
// registration order, after the database guard has been released.
type ChangeNotifier struct {
	hub notify.Hub[Notification]
}

// AddListener registers l and returns a function that removes it.
func (c *ChangeNotifier) AddListener(l Listener) (remove func()) {
	return c.hub.Subscribe(func(n Notification) {
		switch n.Type {
		case DatabaseClosed:
			l.OnDatabaseClosed(n)
		case ObjectCreated:
			l.OnObjectCreated(n)
		case ObjectDestroyed:
			l.OnObjectDestroyed(n)
		case ObjectModified:
			l.OnObjectModified(n)
		}
	})
}

// ListenerCount returns the number of registered listeners.
func (c *ChangeNotifier) ListenerCount() int {
	return c.hub.Len()
}

func (c *ChangeNotifier) post(events ...Notification) {
	c.hub.Post(events...)
}

func (c *ChangeNotifier) flush() {
	c.hub.Flush()
}
