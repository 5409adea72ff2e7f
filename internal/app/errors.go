package app

import (
	"errors"
	"fmt"

	"github.com/hylla/tt3/internal/db"
	"github.com/serum-errors/go-serum"
)

// ErrorKind is the code of a workspace error.
type ErrorKind string

// ErrorKind values. Every error returned by a Workspace carries exactly one.
const (
	KindInvalidAddress       ErrorKind = "tt3-error-invalid-address"
	KindInUse                ErrorKind = "tt3-error-in-use"
	KindCorrupt              ErrorKind = "tt3-error-corrupt"
	KindClosed               ErrorKind = "tt3-error-closed"
	KindAccessDenied         ErrorKind = "tt3-error-access-denied"
	KindInvalidPropertyValue ErrorKind = "tt3-error-invalid-property-value"
	KindAlreadyExists        ErrorKind = "tt3-error-already-exists"
	KindDoesNotExist         ErrorKind = "tt3-error-does-not-exist"
	KindInstanceDead         ErrorKind = "tt3-error-instance-dead"
	KindAccessWouldBeLost    ErrorKind = "tt3-error-access-would-be-lost"
	KindIncompatibleInstance ErrorKind = "tt3-error-incompatible-instance"
	KindCustom               ErrorKind = "tt3-error-custom"
)

// Detail keys attached to workspace errors.
const (
	DetailObjectType = "objectType"
	DetailProperty   = "property"
	DetailValue      = "value"
	DetailAddress    = "address"
)

// KindOf returns the workspace error kind of err, or "" when err is nil or
// did not come from a Workspace.
func KindOf(err error) ErrorKind {
	var se serum.ErrorInterface
	if err == nil || !errors.As(err, &se) {
		return ""
	}
	return ErrorKind(serum.Code(se))
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// ErrorDetail returns the value of the detail named key, if err has one.
func ErrorDetail(err error, key string) (string, bool) {
	for _, d := range serum.Details(err) {
		if d[0] == key {
			return d[1], true
		}
	}
	return "", false
}

func errAccessDenied(msg string) error {
	return serum.Error(string(KindAccessDenied), serum.WithMessageLiteral(msg))
}

func errAccessWouldBeLost(msg string) error {
	return serum.Error(string(KindAccessWouldBeLost), serum.WithMessageLiteral(msg))
}

func errClosed() error {
	return serum.Error(string(KindClosed), serum.WithMessageLiteral("workspace is closed"))
}

func errIncompatible(msg string) error {
	return serum.Error(string(KindIncompatibleInstance), serum.WithMessageLiteral(msg))
}

// translateError maps any error crossing the workspace boundary onto the
// closed set of workspace error kinds. Errors that already carry a kind pass
// through unchanged.
func translateError(err error) error {
	if err == nil || KindOf(err) != "" {
		return err
	}

	var propErr *db.PropertyError
	if errors.As(err, &propErr) {
		return serum.Error(string(KindInvalidPropertyValue),
			serum.WithMessageLiteral(propErr.Error()),
			serum.WithDetail(DetailObjectType, string(propErr.Kind)),
			serum.WithDetail(DetailProperty, propErr.Property),
			serum.WithDetail(DetailValue, fmt.Sprint(propErr.Value)),
		)
	}
	var existsErr *db.AlreadyExistsError
	if errors.As(err, &existsErr) {
		return serum.Error(string(KindAlreadyExists),
			serum.WithMessageLiteral(existsErr.Error()),
			serum.WithDetail(DetailObjectType, string(existsErr.Kind)),
			serum.WithDetail(DetailProperty, existsErr.Property),
			serum.WithDetail(DetailValue, fmt.Sprint(existsErr.Value)),
		)
	}

	kind := KindCustom
	switch {
	case errors.Is(err, db.ErrInvalidAddress):
		kind = KindInvalidAddress
	case errors.Is(err, db.ErrInUse), errors.Is(err, db.ErrLockTimeout):
		kind = KindInUse
	case errors.Is(err, db.ErrCorrupt):
		kind = KindCorrupt
	case errors.Is(err, db.ErrClosed):
		kind = KindClosed
	case errors.Is(err, db.ErrAccessDenied), errors.Is(err, db.ErrReadOnly):
		kind = KindAccessDenied
	case errors.Is(err, db.ErrDoesNotExist):
		kind = KindDoesNotExist
	case errors.Is(err, db.ErrInstanceDead):
		kind = KindInstanceDead
	case errors.Is(err, db.ErrIncompatibleInstance):
		kind = KindIncompatibleInstance
	}
	return serum.Errorf(string(kind), "%w", err)
}
