package domain

import (
	"strconv"
	"strings"
)

// OID identifies one object within a single database. Zero is never assigned.
type OID int64

// InvalidOID is the zero identifier.
const InvalidOID OID = 0

// String renders the identifier in decimal.
func (o OID) String() string {
	return strconv.FormatInt(int64(o), 10)
}

// ParseOID parses a decimal identifier.
func ParseOID(raw string) (OID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return InvalidOID, ErrInvalidOID
	}
	return OID(n), nil
}

// Credentials is the login and password pair presented by a caller.
type Credentials struct {
	Login    string
	Password string
}

// NewCredentials builds credentials, trimming the login.
func NewCredentials(login, password string) Credentials {
	return Credentials{Login: strings.TrimSpace(login), Password: password}
}

// IsZero reports whether no login was supplied.
func (c Credentials) IsZero() bool {
	return c.Login == ""
}

// String renders the login only; the password never appears in logs.
func (c Credentials) String() string {
	return c.Login
}
