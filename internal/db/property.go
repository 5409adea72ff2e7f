package db

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hylla/tt3/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// Property is the type-erased view of a property descriptor used by
// backends to persist values.
type Property interface {
	Name() string
	AppliesTo(k domain.Kind) bool
	Zero() any
	// Format renders a value in its document text form.
	Format(v any) string
	// Parse reads the document text form.
	Parse(raw string) (any, error)
	// SQLValue renders a value as a driver argument.
	SQLValue(v any) any
	// ScanSQL converts a scanned column value.
	ScanSQL(raw any) (any, error)
	// IsList reports whether values are string lists stored one item per row.
	IsList() bool

	validAny(v domain.Validator, k domain.Kind, val any) bool
	equalAny(a, b any) bool
	cloneAny(v any) any
}

// codec describes how one Go value type is compared, copied and encoded.
type codec[T any] struct {
	format  func(T) string
	parse   func(string) (T, error)
	toSQL   func(T) any
	fromSQL func(any) (T, error)
	equal   func(a, b T) bool
	clone   func(T) T
}

// Prop describes one typed property carried by a set of kinds.
type Prop[T any] struct {
	name  string
	kinds []domain.Kind
	codec codec[T]
	valid func(v domain.Validator, k domain.Kind, val T) bool
	list  bool
}

func (p *Prop[T]) Name() string                 { return p.name }
func (p *Prop[T]) AppliesTo(k domain.Kind) bool { return slices.Contains(p.kinds, k) }
func (p *Prop[T]) IsList() bool                 { return p.list }
func (p *Prop[T]) String() string               { return p.name }

// Zero returns the value a freshly created object carries.
func (p *Prop[T]) Zero() any {
	var zero T
	return p.codec.clone(zero)
}

func (p *Prop[T]) Format(v any) string {
	return p.codec.format(p.as(v))
}

func (p *Prop[T]) Parse(raw string) (any, error) {
	v, err := p.codec.parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.name, err)
	}
	return v, nil
}

func (p *Prop[T]) SQLValue(v any) any {
	return p.codec.toSQL(p.as(v))
}

func (p *Prop[T]) ScanSQL(raw any) (any, error) {
	v, err := p.codec.fromSQL(raw)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p.name, err)
	}
	return v, nil
}

func (p *Prop[T]) validAny(v domain.Validator, k domain.Kind, val any) bool {
	typed, ok := val.(T)
	if !ok {
		return false
	}
	return p.valid(v, k, typed)
}

func (p *Prop[T]) equalAny(a, b any) bool {
	return p.codec.equal(p.as(a), p.as(b))
}

func (p *Prop[T]) cloneAny(v any) any {
	return p.codec.clone(p.as(v))
}

// as converts a stored value, mapping a missing value to the zero value.
func (p *Prop[T]) as(v any) T {
	typed, _ := v.(T)
	return typed
}

// value reads the current value of p from o. Callers hold the database lock.
func (p *Prop[T]) value(o *Object) T {
	return p.as(o.props[p.name])
}

var boolCodec = codec[bool]{
	format: strconv.FormatBool,
	parse:  strconv.ParseBool,
	toSQL: func(b bool) any {
		if b {
			return int64(1)
		}
		return int64(0)
	},
	fromSQL: func(raw any) (bool, error) {
		n, err := sqlInt(raw)
		return n != 0, err
	},
	equal: func(a, b bool) bool { return a == b },
	clone: func(b bool) bool { return b },
}

var stringCodec = codec[string]{
	format: func(s string) string { return s },
	parse:  func(s string) (string, error) { return s, nil },
	toSQL:  func(s string) any { return s },
	fromSQL: func(raw any) (string, error) {
		return sqlString(raw)
	},
	equal: func(a, b string) bool { return a == b },
	clone: func(s string) string { return s },
}

// stringListCodec joins items with newlines in document form. Backends with
// relational storage keep one row per item instead and never call toSQL.
var stringListCodec = codec[[]string]{
	format: func(items []string) string { return strings.Join(items, "\n") },
	parse: func(raw string) ([]string, error) {
		if raw == "" {
			return []string{}, nil
		}
		return strings.Split(raw, "\n"), nil
	},
	toSQL: func(items []string) any { return strings.Join(items, "\n") },
	fromSQL: func(raw any) ([]string, error) {
		s, err := sqlString(raw)
		if err != nil || s == "" {
			return []string{}, err
		}
		return strings.Split(s, "\n"), nil
	},
	equal: func(a, b []string) bool { return slices.Equal(a, b) },
	clone: func(items []string) []string {
		if items == nil {
			return []string{}
		}
		return slices.Clone(items)
	},
}

var durationCodec = codec[time.Duration]{
	format: func(d time.Duration) string { return d.String() },
	parse:  time.ParseDuration,
	toSQL:  func(d time.Duration) any { return int64(d) },
	fromSQL: func(raw any) (time.Duration, error) {
		n, err := sqlInt(raw)
		return time.Duration(n), err
	},
	equal: func(a, b time.Duration) bool { return a == b },
	clone: func(d time.Duration) time.Duration { return d },
}

var timeCodec = codec[time.Time]{
	format: formatTime,
	parse:  parseTime,
	toSQL:  func(t time.Time) any { return formatTime(t) },
	fromSQL: func(raw any) (time.Time, error) {
		s, err := sqlString(raw)
		if err != nil {
			return time.Time{}, err
		}
		return parseTime(s)
	},
	equal: func(a, b time.Time) bool { return a.Equal(b) },
	clone: func(t time.Time) time.Time { return t.UTC() },
}

var capabilitiesCodec = codec[domain.Capabilities]{
	format: domain.Capabilities.String,
	parse:  domain.ParseCapabilities,
	toSQL:  func(c domain.Capabilities) any { return int64(c) },
	fromSQL: func(raw any) (domain.Capabilities, error) {
		n, err := sqlInt(raw)
		return domain.Capabilities(n), err
	},
	equal: func(a, b domain.Capabilities) bool { return a == b },
	clone: func(c domain.Capabilities) domain.Capabilities { return c },
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func sqlInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected integer column type %T", raw)
	}
}

func sqlString(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("unexpected text column type %T", raw)
	}
}

func newProp[T any](name string, c codec[T], valid func(domain.Validator, domain.Kind, T) bool, kinds ...domain.Kind) *Prop[T] {
	p := &Prop[T]{name: name, kinds: kinds, codec: c, valid: valid}
	allProperties = append(allProperties, p)
	return p
}

// allProperties stores every property descriptor in declaration order.
var allProperties []Property

func always[T any](domain.Validator, domain.Kind, T) bool { return true }

// Principal properties.
var (
	Enabled        = newProp("Enabled", boolCodec, always[bool], domain.PrincipalKinds...)
	EmailAddresses = func() *Prop[[]string] {
		p := newProp("EmailAddresses", stringListCodec, func(v domain.Validator, _ domain.Kind, addrs []string) bool {
			return v.Principal().IsValidEmailAddresses(addrs)
		}, domain.PrincipalKinds...)
		p.list = true
		return p
	}()
)

// User properties.
var (
	RealName = newProp("RealName", stringCodec, func(v domain.Validator, _ domain.Kind, s string) bool {
		return v.User().IsValidRealName(s)
	}, domain.KindUser)
	InactivityTimeout = newProp("InactivityTimeout", durationCodec, func(v domain.Validator, _ domain.Kind, d time.Duration) bool {
		return v.User().IsValidInactivityTimeout(d)
	}, domain.KindUser)
	UILocale = newProp("UILocale", stringCodec, func(v domain.Validator, _ domain.Kind, s string) bool {
		return v.User().IsValidUILocale(s)
	}, domain.KindUser)
)

// Account properties.
var (
	Login = newProp("Login", stringCodec, func(v domain.Validator, _ domain.Kind, s string) bool {
		return v.Account().IsValidLogin(s)
	}, domain.KindAccount)
	PasswordHash = newProp("PasswordHash", stringCodec, func(_ domain.Validator, _ domain.Kind, hash string) bool {
		_, err := bcrypt.Cost([]byte(hash))
		return err == nil
	}, domain.KindAccount)
	Capabilities = newProp("Capabilities", capabilitiesCodec, func(v domain.Validator, _ domain.Kind, c domain.Capabilities) bool {
		return v.Account().IsValidCapabilities(c)
	}, domain.KindAccount)
)

// namedKinds lists every kind carrying a display name and a description.
var namedKinds = append(append([]domain.Kind{domain.KindActivityType, domain.KindBeneficiary}, domain.ActivityKinds...), domain.WorkloadKinds...)

// Properties shared by named objects.
var (
	DisplayName = newProp("DisplayName", stringCodec, func(v domain.Validator, k domain.Kind, s string) bool {
		switch {
		case k == domain.KindActivityType:
			return v.ActivityType().IsValidDisplayName(s)
		case k == domain.KindBeneficiary:
			return v.Beneficiary().IsValidDisplayName(s)
		case k.IsWorkload():
			return v.Workload().IsValidDisplayName(s)
		default:
			return v.Activity().IsValidDisplayName(s)
		}
	}, namedKinds...)
	Description = newProp("Description", stringCodec, func(v domain.Validator, k domain.Kind, s string) bool {
		switch {
		case k == domain.KindActivityType:
			return v.ActivityType().IsValidDescription(s)
		case k == domain.KindBeneficiary:
			return v.Beneficiary().IsValidDescription(s)
		case k.IsWorkload():
			return v.Workload().IsValidDescription(s)
		default:
			return v.Activity().IsValidDescription(s)
		}
	}, namedKinds...)
)

// Activity properties.
var (
	Timeout = newProp("Timeout", durationCodec, func(v domain.Validator, _ domain.Kind, d time.Duration) bool {
		return v.Activity().IsValidTimeout(d)
	}, domain.ActivityKinds...)
	RequireCommentOnStart = newProp("RequireCommentOnStart", boolCodec, always[bool], domain.ActivityKinds...)
	RequireCommentOnStop  = newProp("RequireCommentOnStop", boolCodec, always[bool], domain.ActivityKinds...)
	FullScreenReminder    = newProp("FullScreenReminder", boolCodec, always[bool], domain.ActivityKinds...)
)

// Task and Project properties.
var (
	Completed                  = newProp("Completed", boolCodec, always[bool], domain.KindPublicTask, domain.KindPrivateTask, domain.KindProject)
	RequireCommentOnCompletion = newProp("RequireCommentOnCompletion", boolCodec, always[bool], domain.TaskKinds...)
	EstimatedDuration          = newProp("EstimatedDuration", durationCodec, func(v domain.Validator, _ domain.Kind, d time.Duration) bool {
		return v.Task().IsValidEstimatedDuration(d)
	}, domain.TaskKinds...)
)

// Work properties.
var (
	StartedAt = newProp("StartedAt", timeCodec, func(v domain.Validator, _ domain.Kind, t time.Time) bool {
		return v.Work().IsValidStartedAt(t)
	}, domain.KindWork)
	FinishedAt = newProp("FinishedAt", timeCodec, func(v domain.Validator, _ domain.Kind, t time.Time) bool {
		return v.Work().IsValidFinishedAt(t)
	}, domain.KindWork)
	Comment = newProp("Comment", stringCodec, func(v domain.Validator, _ domain.Kind, s string) bool {
		return v.Work().IsValidComment(s)
	}, domain.KindWork)
)

// Event properties.
var (
	OccurredAt = newProp("OccurredAt", timeCodec, func(v domain.Validator, _ domain.Kind, t time.Time) bool {
		return v.Event().IsValidOccurredAt(t)
	}, domain.KindEvent)
	Summary = newProp("Summary", stringCodec, func(v domain.Validator, _ domain.Kind, s string) bool {
		return v.Event().IsValidSummary(s)
	}, domain.KindEvent)
)

// PropertiesOf returns the descriptors carried by kind in declaration order.
func PropertiesOf(kind domain.Kind) []Property {
	out := make([]Property, 0, 8)
	for _, p := range allProperties {
		if p.AppliesTo(kind) {
			out = append(out, p)
		}
	}
	return out
}

// PropertyByName resolves a descriptor carried by kind.
func PropertyByName(kind domain.Kind, name string) (Property, bool) {
	for _, p := range allProperties {
		if p.Name() == name && p.AppliesTo(kind) {
			return p, true
		}
	}
	return nil, false
}
