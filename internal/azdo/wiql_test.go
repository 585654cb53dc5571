package azdo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/azdo-boards-mcp/internal/azdo"
)

func TestWIQL_ProjectOnly(t *testing.T) {
	q, err := (&azdo.WorkItemFilter{Project: "P"}).WIQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = 'P' ORDER BY [System.ChangedDate] DESC", q)
}

func TestWIQL_ConditionOrder(t *testing.T) {
	f := &azdo.WorkItemFilter{
		Project:             "P",
		AreaPath:            `P\Web`,
		IterationPath:       `P\Sprint 1`,
		CreatedFrom:         "2024-01-01",
		ModifiedTo:          "2024-02-01T00:00:00Z",
		IncludeBoardColumns: []string{"Active"},
		IncludeTypes:        []string{"Bug", "Task"},
		ExcludeStates:       []string{"Closed", "Removed"},
		IncludeAssignedTo:   []string{"jane@example.com"},
		IncludeTags:         []string{"backend"},
		ExcludeTags:         []string{"wontfix"},
	}
	q, err := f.WIQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT [System.Id] FROM WorkItems WHERE "+
		"[System.TeamProject] = 'P'"+
		` AND [System.AreaPath] UNDER 'P\Web'`+
		` AND [System.IterationPath] UNDER 'P\Sprint 1'`+
		" AND [System.CreatedDate] >= '2024-01-01'"+
		" AND [System.ChangedDate] <= '2024-02-01T00:00:00Z'"+
		" AND [System.BoardColumn] IN ('Active')"+
		" AND [System.WorkItemType] IN ('Bug', 'Task')"+
		" AND [System.State] NOT IN ('Closed', 'Removed')"+
		" AND [System.AssignedTo] IN ('jane@example.com')"+
		" AND [System.Tags] CONTAINS 'backend'"+
		" AND NOT [System.Tags] CONTAINS 'wontfix'"+
		" ORDER BY [System.ChangedDate] DESC", q)
}

func TestWIQL_QuotesLiterals(t *testing.T) {
	q, err := (&azdo.WorkItemFilter{Project: "O'Brien's", IncludeStates: []string{"Won't Fix"}}).WIQL()
	require.NoError(t, err)
	assert.Contains(t, q, "[System.TeamProject] = 'O''Brien''s'")
	assert.Contains(t, q, "[System.State] IN ('Won''t Fix')")
}

func TestWIQL_InvalidDate(t *testing.T) {
	_, err := (&azdo.WorkItemFilter{Project: "P", ModifiedFrom: "last week"}).WIQL()
	require.EqualError(t, err, `parameter "modified_date_from" must be a date in YYYY-MM-DD or RFC 3339 format`)
}

func TestValidDate(t *testing.T) {
	assert.True(t, azdo.ValidDate("2024-03-01"))
	assert.True(t, azdo.ValidDate("2024-03-01T10:00:00Z"))
	assert.False(t, azdo.ValidDate("03/01/2024"))
	assert.False(t, azdo.ValidDate(""))
}
