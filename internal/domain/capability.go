package domain

import (
	"fmt"
	"math/bits"
	"strings"
)

// Capabilities is the permission bitset carried by an Account.
type Capabilities uint32

// Capability bits.
const (
	CapAdministrator Capabilities = 1 << iota
	CapManageUsers
	CapManageActivityTypes
	CapManageBeneficiaries
	CapManageWorkloads
	CapManagePublicActivities
	CapManagePublicTasks
	CapManagePrivateActivities
	CapManagePrivateTasks
	CapLogWork
	CapLogEvents
	CapGenerateReports
	CapBackupAndRestore

	// CapNone is the empty capability set.
	CapNone Capabilities = 0
)

// capabilityNames stores the canonical name of every known bit.
var capabilityNames = []struct {
	bit  Capabilities
	name string
}{
	{CapAdministrator, "Administrator"},
	{CapManageUsers, "ManageUsers"},
	{CapManageActivityTypes, "ManageActivityTypes"},
	{CapManageBeneficiaries, "ManageBeneficiaries"},
	{CapManageWorkloads, "ManageWorkloads"},
	{CapManagePublicActivities, "ManagePublicActivities"},
	{CapManagePublicTasks, "ManagePublicTasks"},
	{CapManagePrivateActivities, "ManagePrivateActivities"},
	{CapManagePrivateTasks, "ManagePrivateTasks"},
	{CapLogWork, "LogWork"},
	{CapLogEvents, "LogEvents"},
	{CapGenerateReports, "GenerateReports"},
	{CapBackupAndRestore, "BackupAndRestore"},
}

// CapAll contains every known capability bit.
var CapAll = func() Capabilities {
	var all Capabilities
	for _, c := range capabilityNames {
		all |= c.bit
	}
	return all
}()

// Contains reports whether every bit of want is present.
func (c Capabilities) Contains(want Capabilities) bool {
	return c&want == want
}

// ContainsAny reports whether at least one bit of want is present.
func (c Capabilities) ContainsAny(want Capabilities) bool {
	return c&want != 0
}

// With returns c with the bits of add set.
func (c Capabilities) With(add Capabilities) Capabilities {
	return c | add
}

// Without returns c with the bits of drop cleared.
func (c Capabilities) Without(drop Capabilities) Capabilities {
	return c &^ drop
}

// IsKnown reports whether c only uses defined bits.
func (c Capabilities) IsKnown() bool {
	return c&^CapAll == 0
}

// Len returns the number of bits set.
func (c Capabilities) Len() int {
	return bits.OnesCount32(uint32(c))
}

// Names returns the canonical names of the set bits in declaration order.
func (c Capabilities) Names() []string {
	out := make([]string, 0, c.Len())
	for _, entry := range capabilityNames {
		if c.Contains(entry.bit) {
			out = append(out, entry.name)
		}
	}
	return out
}

// String renders the set as a comma-separated name list.
func (c Capabilities) String() string {
	if c == CapNone {
		return ""
	}
	return strings.Join(c.Names(), ",")
}

// ParseCapabilities parses a comma-separated capability name list.
func ParseCapabilities(raw string) (Capabilities, error) {
	var out Capabilities
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bit, ok := lookupCapability(part)
		if !ok {
			return CapNone, fmt.Errorf("%w: %q", ErrInvalidCapability, part)
		}
		out |= bit
	}
	return out, nil
}

// lookupCapability resolves one capability name case-insensitively.
func lookupCapability(name string) (Capabilities, bool) {
	for _, entry := range capabilityNames {
		if strings.EqualFold(entry.name, name) {
			return entry.bit, true
		}
	}
	return CapNone, false
}
