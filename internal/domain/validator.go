package domain

import (
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Length and range limits enforced by the Validator.
const (
	MaxNameLength        = 128
	MaxDescriptionLength = 32 * 1024
	MaxPasswordBytes     = 72
	MaxEmailLength       = 254
	MinTimeout           = time.Minute
	MaxTimeout           = 24 * time.Hour
	MaxEstimatedDuration = 10000 * time.Hour
)

// Validator groups the per-family property predicates. It is stateless and
// performs no I/O; the zero value is ready to use.
type Validator struct{}

// PrincipalValidator checks properties shared by Users and Accounts.
type PrincipalValidator struct{}

// UserValidator checks User properties.
type UserValidator struct{ PrincipalValidator }

// AccountValidator checks Account properties.
type AccountValidator struct{ PrincipalValidator }

// ActivityTypeValidator checks ActivityType properties.
type ActivityTypeValidator struct{}

// ActivityValidator checks properties shared by every activity.
type ActivityValidator struct{}

// TaskValidator checks task properties.
type TaskValidator struct{ ActivityValidator }

// WorkValidator checks Work properties.
type WorkValidator struct{}

// EventValidator checks Event properties.
type EventValidator struct{}

// WorkloadValidator checks Project and WorkStream properties.
type WorkloadValidator struct{}

// BeneficiaryValidator checks Beneficiary properties.
type BeneficiaryValidator struct{}

func (Validator) Principal() PrincipalValidator       { return PrincipalValidator{} }
func (Validator) User() UserValidator                 { return UserValidator{} }
func (Validator) Account() AccountValidator           { return AccountValidator{} }
func (Validator) ActivityType() ActivityTypeValidator { return ActivityTypeValidator{} }
func (Validator) Activity() ActivityValidator         { return ActivityValidator{} }
func (Validator) Task() TaskValidator                 { return TaskValidator{} }
func (Validator) Work() WorkValidator                 { return WorkValidator{} }
func (Validator) Event() EventValidator               { return EventValidator{} }
func (Validator) Workload() WorkloadValidator         { return WorkloadValidator{} }
func (Validator) Beneficiary() BeneficiaryValidator   { return BeneficiaryValidator{} }

// IsValidEnabled accepts either flag value.
func (PrincipalValidator) IsValidEnabled(bool) bool { return true }

// IsValidEmailAddress accepts one bare address such as "a@b.org".
func (PrincipalValidator) IsValidEmailAddress(addr string) bool {
	if addr == "" || len(addr) > MaxEmailLength || addr != strings.TrimSpace(addr) {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return false
	}
	return parsed.Address == addr && parsed.Name == ""
}

// IsValidEmailAddresses accepts a list of valid, case-insensitively unique addresses.
func (v PrincipalValidator) IsValidEmailAddresses(addrs []string) bool {
	seen := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		if !v.IsValidEmailAddress(addr) {
			return false
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
	}
	return true
}

// IsValidRealName accepts a trimmed, non-empty, single-line name.
func (UserValidator) IsValidRealName(name string) bool {
	return isValidName(name)
}

// IsValidInactivityTimeout accepts zero (no timeout) or a bounded duration.
func (UserValidator) IsValidInactivityTimeout(d time.Duration) bool {
	return isValidTimeout(d)
}

// IsValidUILocale accepts "" (system default), "ll" or "ll_CC".
func (UserValidator) IsValidUILocale(locale string) bool {
	if locale == "" {
		return true
	}
	lang, region, hasRegion := strings.Cut(locale, "_")
	if !isLowerAlpha(lang, 2, 3) {
		return false
	}
	if !hasRegion {
		return true
	}
	return isUpperAlpha(region, 2)
}

// IsValidLogin accepts a non-empty login without whitespace or control characters.
func (AccountValidator) IsValidLogin(login string) bool {
	if login == "" || utf8.RuneCountInString(login) > MaxNameLength {
		return false
	}
	for _, r := range login {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// IsValidPassword accepts passwords the hash function can represent.
func (AccountValidator) IsValidPassword(password string) bool {
	if len(password) > MaxPasswordBytes || !utf8.ValidString(password) {
		return false
	}
	return !strings.ContainsFunc(password, unicode.IsControl)
}

// IsValidCapabilities accepts sets made of known bits only.
func (AccountValidator) IsValidCapabilities(c Capabilities) bool {
	return c.IsKnown()
}

func (ActivityTypeValidator) IsValidDisplayName(name string) bool { return isValidName(name) }
func (ActivityTypeValidator) IsValidDescription(text string) bool { return isValidText(text) }

func (ActivityValidator) IsValidDisplayName(name string) bool { return isValidName(name) }
func (ActivityValidator) IsValidDescription(text string) bool { return isValidText(text) }

// IsValidTimeout accepts zero (no timeout) or a bounded duration.
func (ActivityValidator) IsValidTimeout(d time.Duration) bool {
	return isValidTimeout(d)
}

// IsValidEstimatedDuration accepts zero (no estimate) or a bounded positive duration.
func (TaskValidator) IsValidEstimatedDuration(d time.Duration) bool {
	return d >= 0 && d <= MaxEstimatedDuration
}

func (WorkValidator) IsValidStartedAt(t time.Time) bool  { return !t.IsZero() }
func (WorkValidator) IsValidFinishedAt(t time.Time) bool { return !t.IsZero() }
func (WorkValidator) IsValidComment(text string) bool    { return isValidText(text) }

// IsValidInterval accepts a non-empty [start, finish) interval.
func (v WorkValidator) IsValidInterval(start, finish time.Time) bool {
	return v.IsValidStartedAt(start) && v.IsValidFinishedAt(finish) && start.Before(finish)
}

func (EventValidator) IsValidOccurredAt(t time.Time) bool { return !t.IsZero() }
func (EventValidator) IsValidSummary(text string) bool    { return isValidText(text) }

func (WorkloadValidator) IsValidDisplayName(name string) bool { return isValidName(name) }
func (WorkloadValidator) IsValidDescription(text string) bool { return isValidText(text) }

func (BeneficiaryValidator) IsValidDisplayName(name string) bool { return isValidName(name) }
func (BeneficiaryValidator) IsValidDescription(text string) bool { return isValidText(text) }

// isValidName accepts trimmed, non-empty, single-line text of bounded length.
func isValidName(name string) bool {
	if name == "" || name != strings.TrimSpace(name) {
		return false
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return false
	}
	return !strings.ContainsFunc(name, unicode.IsControl)
}

// isValidText accepts multi-line free text of bounded length.
func isValidText(text string) bool {
	if !utf8.ValidString(text) || utf8.RuneCountInString(text) > MaxDescriptionLength {
		return false
	}
	return !strings.ContainsFunc(text, func(r rune) bool {
		return unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r'
	})
}

func isValidTimeout(d time.Duration) bool {
	return d == 0 || (d >= MinTimeout && d <= MaxTimeout)
}

func isLowerAlpha(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

func isUpperAlpha(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
