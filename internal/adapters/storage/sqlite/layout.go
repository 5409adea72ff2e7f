package sqlite

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hylla/tt3/internal/db"
	"github.com/hylla/tt3/internal/domain"
)

// column maps one table column to a scalar property or a to-one link.
type column struct {
	name string
	prop db.Property
	link *db.Link
}

func propColumn(name string, p db.Property) column { return column{name: name, prop: p} }
func linkColumn(name string, l *db.Link) column    { return column{name: name, link: l} }

// applies reports whether the column carries data for kind.
func (c column) applies(kind domain.Kind) bool {
	if c.link != nil {
		return c.link.AppliesTo(kind)
	}
	return c.prop.AppliesTo(kind)
}

// table stores the scalar state of a family of kinds, one row per object.
type table struct {
	name    string
	kinds   []domain.Kind
	columns []column
}

// joinTable stores one to-many forward link, one row per target.
type joinTable struct {
	name   string
	link   *db.Link
	owner  string
	target string
	order  string
}

var tables = []table{
	{name: "users", kinds: []domain.Kind{domain.KindUser}, columns: []column{
		propColumn("enabled", db.Enabled),
		propColumn("real_name", db.RealName),
		propColumn("inactivity_timeout", db.InactivityTimeout),
		propColumn("ui_locale", db.UILocale),
	}},
	{name: "accounts", kinds: []domain.Kind{domain.KindAccount}, columns: []column{
		linkColumn("user_oid", db.AccountUser),
		propColumn("enabled", db.Enabled),
		propColumn("login", db.Login),
		propColumn("password_hash", db.PasswordHash),
		propColumn("capabilities", db.Capabilities),
	}},
	{name: "activity_types", kinds: []domain.Kind{domain.KindActivityType}, columns: []column{
		propColumn("display_name", db.DisplayName),
		propColumn("description", db.Description),
	}},
	{name: "workloads", kinds: domain.WorkloadKinds, columns: []column{
		linkColumn("parent_oid", db.ProjectParent),
		propColumn("display_name", db.DisplayName),
		propColumn("description", db.Description),
		propColumn("completed", db.Completed),
	}},
	{name: "beneficiaries", kinds: []domain.Kind{domain.KindBeneficiary}, columns: []column{
		propColumn("display_name", db.DisplayName),
		propColumn("description", db.Description),
	}},
	{name: "activities", kinds: domain.ActivityKinds, columns: []column{
		linkColumn("owner_oid", db.PrivateOwner),
		linkColumn("activity_type_oid", db.ActivityActivityType),
		linkColumn("workload_oid", db.ActivityWorkload),
		linkColumn("parent_oid", db.TaskParent),
		propColumn("display_name", db.DisplayName),
		propColumn("description", db.Description),
		propColumn("timeout", db.Timeout),
		propColumn("require_comment_on_start", db.RequireCommentOnStart),
		propColumn("require_comment_on_stop", db.RequireCommentOnStop),
		propColumn("full_screen_reminder", db.FullScreenReminder),
		propColumn("completed", db.Completed),
		propColumn("require_comment_on_completion", db.RequireCommentOnCompletion),
		propColumn("estimated_duration", db.EstimatedDuration),
	}},
	{name: "works", kinds: []domain.Kind{domain.KindWork}, columns: []column{
		linkColumn("account_oid", db.WorkAccount),
		linkColumn("activity_oid", db.WorkActivity),
		propColumn("started_at", db.StartedAt),
		propColumn("finished_at", db.FinishedAt),
		propColumn("comment", db.Comment),
	}},
	{name: "events", kinds: []domain.Kind{domain.KindEvent}, columns: []column{
		linkColumn("account_oid", db.EventAccount),
		propColumn("occurred_at", db.OccurredAt),
		propColumn("summary", db.Summary),
	}},
}

var joinTables = []joinTable{
	{name: "user_permitted_workloads", link: db.UserPermittedWorkloads, owner: "user_oid", target: "workload_oid"},
	{name: "account_quick_picks", link: db.AccountQuickPicks, owner: "account_oid", target: "activity_oid", order: "order"},
	{name: "event_activities", link: db.EventActivities, owner: "event_oid", target: "activity_oid"},
	{name: "workload_beneficiaries", link: db.WorkloadBeneficiaries, owner: "workload_oid", target: "beneficiary_oid"},
}

// emailTable keeps the EmailAddresses list of principals.
const emailTable = "principal_email_addresses"

// tableFor returns the table holding kind.
func tableFor(kind domain.Kind) (*table, error) {
	for i := range tables {
		if slices.Contains(tables[i].kinds, kind) {
			return &tables[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no table for kind %q", db.ErrCorrupt, kind)
}

// joinsFor returns the join tables whose link kind owns.
func joinsFor(kind domain.Kind) []joinTable {
	var out []joinTable
	for _, j := range joinTables {
		if j.link.AppliesTo(kind) {
			out = append(out, j)
		}
	}
	return out
}

// Templates rendered from the layout; the catalog parses them on first use.

func (t *table) selectTemplate() string {
	names := []string{"{oid}"}
	for _, c := range t.columns {
		names = append(names, "{"+c.name+"}")
	}
	return fmt.Sprintf("SELECT %s FROM {%s} ORDER BY {oid}", strings.Join(names, ", "), t.name)
}

func (t *table) insertTemplate() string {
	names := []string{"{oid}"}
	marks := []string{"?"}
	for _, c := range t.columns {
		names = append(names, "{"+c.name+"}")
		marks = append(marks, "?")
	}
	return fmt.Sprintf("INSERT INTO {%s}(%s) VALUES (%s)", t.name, strings.Join(names, ", "), strings.Join(marks, ", "))
}

func (t *table) updateTemplate() string {
	sets := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		sets = append(sets, "{"+c.name+"} = ?")
	}
	return fmt.Sprintf("UPDATE {%s} SET %s WHERE {oid} = ?", t.name, strings.Join(sets, ", "))
}

func (t *table) deleteTemplate() string {
	return fmt.Sprintf("DELETE FROM {%s} WHERE {oid} = ?", t.name)
}

func (j joinTable) selectTemplate() string {
	sortBy := j.target
	if j.order != "" {
		sortBy = j.order
	}
	return fmt.Sprintf("SELECT {%s}, {%s} FROM {%s} ORDER BY {%s}, {%s}", j.owner, j.target, j.name, j.owner, sortBy)
}

func (j joinTable) insertTemplate() string {
	if j.order != "" {
		return fmt.Sprintf("INSERT INTO {%s}({%s}, {%s}, {%s}) VALUES (?, ?, ?)", j.name, j.owner, j.target, j.order)
	}
	return fmt.Sprintf("INSERT INTO {%s}({%s}, {%s}) VALUES (?, ?)", j.name, j.owner, j.target)
}

func (j joinTable) deleteTemplate(col string) string {
	return fmt.Sprintf("DELETE FROM {%s} WHERE {%s} = ?", j.name, col)
}
