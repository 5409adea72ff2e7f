package domain

import "errors"

var (
	ErrInvalidCapability = errors.New("invalid capability")
	ErrInvalidKind       = errors.New("invalid kind")
	ErrInvalidOID        = errors.New("invalid oid")
)
