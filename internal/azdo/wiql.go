package azdo

import (
	"fmt"
	"strings"
	"time"
)

// WorkItemFilter is a structured work item query. Empty fields are ignored.
type WorkItemFilter struct {
	Project       string
	AreaPath      string
	IterationPath string

	CreatedFrom  string
	CreatedTo    string
	ModifiedFrom string
	ModifiedTo   string

	IncludeBoardColumns []string
	IncludeBoardRows    []string
	IncludeTypes        []string
	IncludeStates       []string
	ExcludeBoardColumns []string
	ExcludeBoardRows    []string
	ExcludeTypes        []string
	ExcludeStates       []string
	IncludeAssignedTo   []string
	ExcludeAssignedTo   []string
	IncludeTags         []string
	ExcludeTags         []string
}

// Quote renders s as a WIQL string literal.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteList(vs []string) string {
	q := make([]string, len(vs))
	for i, v := range vs {
		q[i] = Quote(v)
	}
	return strings.Join(q, ", ")
}

// ValidDate reports whether s is YYYY-MM-DD or RFC 3339.
func ValidDate(s string) bool {
	if _, err := time.Parse(time.DateOnly, s); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

// WIQL builds the query text. The project condition always comes first and
// results are ordered by most recently changed.
func (f *WorkItemFilter) WIQL() (string, error) {
	conds := []string{"[System.TeamProject] = " + Quote(f.Project)}

	if f.AreaPath != "" {
		conds = append(conds, "[System.AreaPath] UNDER "+Quote(f.AreaPath))
	}
	if f.IterationPath != "" {
		conds = append(conds, "[System.IterationPath] UNDER "+Quote(f.IterationPath))
	}

	dates := []struct {
		name, field, op, value string
	}{
		{"created_date_from", "System.CreatedDate", ">=", f.CreatedFrom},
		{"created_date_to", "System.CreatedDate", "<=", f.CreatedTo},
		{"modified_date_from", "System.ChangedDate", ">=", f.ModifiedFrom},
		{"modified_date_to", "System.ChangedDate", "<=", f.ModifiedTo},
	}
	for _, d := range dates {
		if d.value == "" {
			continue
		}
		if !ValidDate(d.value) {
			return "", fmt.Errorf("parameter %q must be a date in YYYY-MM-DD or RFC 3339 format", d.name)
		}
		conds = append(conds, fmt.Sprintf("[%s] %s %s", d.field, d.op, Quote(d.value)))
	}

	lists := []struct {
		field  string
		not    bool
		values []string
	}{
		{"System.BoardColumn", false, f.IncludeBoardColumns},
		{"System.BoardLane", false, f.IncludeBoardRows},
		{"System.WorkItemType", false, f.IncludeTypes},
		{"System.State", false, f.IncludeStates},
		{"System.BoardColumn", true, f.ExcludeBoardColumns},
		{"System.BoardLane", true, f.ExcludeBoardRows},
		{"System.WorkItemType", true, f.ExcludeTypes},
		{"System.State", true, f.ExcludeStates},
		{"System.AssignedTo", false, f.IncludeAssignedTo},
		{"System.AssignedTo", true, f.ExcludeAssignedTo},
	}
	for _, l := range lists {
		if len(l.values) == 0 {
			continue
		}
		op := "IN"
		if l.not {
			op = "NOT IN"
		}
		conds = append(conds, fmt.Sprintf("[%s] %s (%s)", l.field, op, quoteList(l.values)))
	}

	for _, tag := range f.IncludeTags {
		conds = append(conds, "[System.Tags] CONTAINS "+Quote(tag))
	}
	for _, tag := range f.ExcludeTags {
		conds = append(conds, "NOT [System.Tags] CONTAINS "+Quote(tag))
	}

	return "SELECT [System.Id] FROM WorkItems WHERE " + strings.Join(conds, " AND ") +
		" ORDER BY [System.ChangedDate] DESC", nil
}
