package boards_test

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/azdo-boards-mcp/internal/azdo"
	"github.com/ggoodman/azdo-boards-mcp/internal/azdo/azdotest"
	"github.com/ggoodman/azdo-boards-mcp/internal/boards"
	"github.com/ggoodman/azdo-boards-mcp/mcp"
	"github.com/ggoodman/azdo-boards-mcp/mcpservice"
)

const (
	org     = "contoso"
	project = "Fabrikam Fiber"
	team    = project + " Team"
)

type fixture struct {
	srv   *azdotest.Server
	tools *mcpservice.ToolsContainer
}

func newFixture(t *testing.T, opts ...boards.Option) *fixture {
	t.Helper()
	srv := azdotest.New(t, org, project)
	client := azdo.New(azdo.StaticToken("test-token"),
		azdo.WithBaseURL(srv.URL),
		azdo.WithVSSPSURL(srv.URL),
		azdo.WithRetryBase(time.Millisecond),
	)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]boards.Option{boards.WithLogger(log)}, opts...)
	return &fixture{srv: srv, tools: boards.New(client, opts...).Container()}
}

func (f *fixture) call(t *testing.T, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	res, err := f.tools.CallTool(context.Background(), &mcp.CallToolRequestReceived{Name: name, Arguments: raw})
	require.NoError(t, err)
	return res
}

// ok calls a tool that must succeed and returns its text.
func (f *fixture) ok(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	res := f.call(t, name, args)
	require.False(t, res.IsError, "tool error: %s", text(res))
	return text(res)
}

func text(res *mcp.CallToolResult) string {
	var b strings.Builder
	for _, c := range res.Content {
		b.WriteString(c.Text)
	}
	return b.String()
}

func scoped(kv ...any) map[string]any {
	m := map[string]any{"organization": org, "project": project}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

func decodeObject(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m), s)
	return m
}

// rows parses CSV output into one map per record keyed by header.
func rows(t *testing.T, s string) []map[string]string {
	t.Helper()
	recs, err := csv.NewReader(strings.NewReader(s)).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	var out []map[string]string
	for _, rec := range recs[1:] {
		m := make(map[string]string, len(rec))
		for i, col := range recs[0] {
			m[col] = rec[i]
		}
		out = append(out, m)
	}
	return out
}

func (f *fixture) create(t *testing.T, typ, title string, kv ...any) int {
	t.Helper()
	out := f.ok(t, "azdo_create_work_item", scoped(append([]any{"work_item_type", typ, "title", title}, kv...)...))
	return int(decodeObject(t, out)["id"].(float64))
}

func TestCatalogue(t *testing.T) {
	f := newFixture(t)
	tools := f.tools.Snapshot()
	require.Len(t, tools, 25)

	byName := map[string]mcp.Tool{}
	for _, tool := range tools {
		assert.True(t, strings.HasPrefix(tool.Name, "azdo_"), tool.Name)
		assert.NotEmpty(t, tool.Description, tool.Name)
		assert.False(t, tool.InputSchema.AdditionalProperties, tool.Name)
		byName[tool.Name] = tool
	}
	require.Len(t, byName, 25)

	required := map[string][]string{
		"azdo_list_organizations":         nil,
		"azdo_get_current_user":           nil,
		"azdo_list_projects":              {"organization"},
		"azdo_list_teams":                 {"organization", "project"},
		"azdo_list_iteration_paths":       {"organization", "project"},
		"azdo_list_board_columns":         {"organization", "project", "team_id", "board_id"},
		"azdo_get_work_item":              {"organization", "project", "id"},
		"azdo_get_work_items":             {"organization", "project", "ids"},
		"azdo_query_work_items_by_wiql":   {"organization", "project", "query"},
		"azdo_query_work_items":           {"organization", "project"},
		"azdo_create_work_item":           {"organization", "project", "work_item_type", "title"},
		"azdo_update_work_item":           {"organization", "project", "id"},
		"azdo_add_comment":                {"organization", "project", "work_item_id", "text"},
		"azdo_link_work_items":            {"organization", "project", "source_id", "target_id", "link_type"},
		"azdo_upload_attachment":          {"organization", "project", "file_name", "content_base64"},
		"azdo_download_attachment":        {"organization", "project", "id"},
		"azdo_get_team_current_iteration": {"organization", "project", "team_id"},
	}
	for name, want := range required {
		tool, ok := byName[name]
		require.True(t, ok, name)
		assert.ElementsMatch(t, want, tool.InputSchema.Required, name)
	}

	tf := byName["azdo_list_iteration_paths"].InputSchema.Properties["timeframe"]
	assert.ElementsMatch(t, []any{"current", "past", "future"}, tf.Enum)
}

func TestDefaults(t *testing.T) {
	f := newFixture(t, boards.WithDefaults(org, project))
	for _, tool := range f.tools.Snapshot() {
		assert.NotContains(t, tool.InputSchema.Required, "organization", tool.Name)
		assert.NotContains(t, tool.InputSchema.Required, "project", tool.Name)
	}

	out := f.ok(t, "azdo_list_teams", map[string]any{})
	assert.Equal(t, `["`+team+`"]`, out)

	// Explicit values win over the defaults.
	res := f.call(t, "azdo_list_teams", map[string]any{"project": "Nope"})
	assert.True(t, res.IsError)
}

func TestValidationMakesNoRequests(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"azdo_get_work_item", map[string]any{}, "invalid arguments: missing required parameter(s): organization, project, id"},
		{"azdo_list_teams", map[string]any{"organization": "  ", "project": project}, "invalid arguments: missing required parameter(s): organization"},
		{"azdo_get_work_item", scoped("id", "seven"), `invalid arguments: parameter "id" must be an integer`},
		{"azdo_get_work_item", scoped("id", 0), `invalid arguments: parameter "id" must be a positive integer`},
		{"azdo_get_work_item", scoped("id", 1, "bogus", true), `invalid arguments: unknown parameter "bogus"`},
		{"azdo_list_iteration_paths", scoped("team_id", team, "timeframe", "Current"), `invalid arguments: invalid timeframe "Current"; valid values are current, past, future`},
		{"azdo_create_work_item", scoped("work_item_type", "Task", "title", "x", "fields", "{not json"), "invalid arguments: invalid JSON in extra fields"},
		{"azdo_update_work_item", scoped("id", 1), "invalid arguments: no fields to update"},
		{"azdo_upload_attachment", scoped("file_name", "a.txt", "content_base64", "%%%"), `invalid arguments: parameter "content_base64" must be valid base64`},
		{"azdo_query_work_items", scoped("created_date_from", "yesterday"), "invalid arguments:"},
		{"azdo_get_work_items", scoped("ids", []int{1}, "include_latest_n_comments", -2), `invalid arguments: parameter "include_latest_n_comments" must be -1 or greater`},
	}
	for _, tc := range cases {
		t.Run(tc.tool, func(t *testing.T) {
			res := f.call(t, tc.tool, tc.args)
			require.True(t, res.IsError)
			assert.Contains(t, text(res), tc.want)
		})
	}
	assert.Empty(t, f.srv.Requests())
}

func TestUnknownTool(t *testing.T) {
	f := newFixture(t)
	_, err := f.tools.CallTool(context.Background(), &mcp.CallToolRequestReceived{Name: "azdo_nope"})
	require.ErrorIs(t, err, mcpservice.ErrToolNotFound)
}

func TestOrganizationTools(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, `["contoso","fabrikam"]`, f.ok(t, "azdo_list_organizations", nil))
	assert.Equal(t, "Test User,test.user@example.com", f.ok(t, "azdo_get_current_user", nil))
	assert.Equal(t, `["Fabrikam Fiber","Other"]`, f.ok(t, "azdo_list_projects", map[string]any{"organization": org}))
	assert.Equal(t, `["Bug","Task","User Story","Feature","Epic"]`, f.ok(t, "azdo_list_work_item_types", scoped()))
	assert.Equal(t, `["backend","frontend"]`, f.ok(t, "azdo_list_tags", scoped()))

	assert.Equal(t, "Test User,test.user@example.com\nJane Doe,jane@example.com\n",
		f.ok(t, "azdo_list_team_members", scoped("team_id", team)))
	assert.Equal(t, "Sprint 2,2024-01-15,2024-01-28", f.ok(t, "azdo_get_team_current_iteration", scoped("team_id", team)))

	teamJSON := decodeObject(t, f.ok(t, "azdo_get_team", scoped("team_id", team)))
	assert.Equal(t, team, teamJSON["name"])

	assert.Equal(t,
		`\Fabrikam Fiber\Area,\Fabrikam Fiber\Area\Platform,\Fabrikam Fiber\Area\Platform\API,\Fabrikam Fiber\Area\Web`,
		f.ok(t, "azdo_list_area_paths", scoped()))
}

func TestTeamWithoutCurrentIteration(t *testing.T) {
	f := newFixture(t)
	f.srv.Teams = append(f.srv.Teams, azdotest.Team{
		ID:   "team-2",
		Name: "Ops",
		Iterations: []azdotest.Iteration{
			{Name: "Sprint 1", Path: project + `\Sprint 1`, TimeFrame: "past", StartDate: "2024-01-01T00:00:00Z", FinishDate: "2024-01-14T00:00:00Z"},
		},
	})

	assert.Equal(t, "No current iteration found", f.ok(t, "azdo_get_team_current_iteration", scoped("team_id", "Ops")))
	assert.Equal(t, "Sprint 1,past,2024-01-01,2024-01-14", f.ok(t, "azdo_list_iteration_paths", scoped("team_id", "Ops")))
}

func TestListIterationPaths(t *testing.T) {
	f := newFixture(t)

	all := f.ok(t, "azdo_list_iteration_paths", scoped("team_id", team))
	assert.Equal(t, "Sprint 1,past,2024-01-01,2024-01-14\nSprint 2,current,2024-01-15,2024-01-28\nSprint 3,future,N/A,N/A", all)

	past := f.ok(t, "azdo_list_iteration_paths", scoped("team_id", team, "timeframe", "past"))
	assert.Equal(t, "Sprint 1,past,2024-01-01,2024-01-14", past)

	// Without a team the timeframe is ignored and project paths are listed.
	paths := f.ok(t, "azdo_list_iteration_paths", scoped("timeframe", "future"))
	assert.Equal(t, `\Fabrikam Fiber\Iteration,\Fabrikam Fiber\Iteration\Sprint 1,\Fabrikam Fiber\Iteration\Sprint 2`, paths)
}

func TestBoardTools(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, `["Stories"]`, f.ok(t, "azdo_list_team_boards", scoped("team_id", team)))
	cols := f.ok(t, "azdo_list_board_columns", scoped("team_id", team, "board_id", "Stories"))
	assert.Equal(t, "name,item_limit,is_split,column_type\nNew,0,false,incoming\nActive,5,true,inProgress\nClosed,0,false,outgoing\n", cols)
	assert.Equal(t, `["","Expedite"]`, f.ok(t, "azdo_list_board_rows", scoped("team_id", team, "board_id", "Stories")))

	board := f.ok(t, "azdo_get_team_board", scoped("team_id", team, "board_id", "Stories"))
	assert.NotContains(t, board, "_links")
	assert.Equal(t, "Stories", decodeObject(t, board)["name"])
}

func TestCreateAndGetWorkItem(t *testing.T) {
	f := newFixture(t)

	out := f.ok(t, "azdo_create_work_item", scoped(
		"work_item_type", "User Story",
		"title", "Checkout flow",
		"description", "<p>Pay with <b>card</b></p>",
		"assigned_to", "jane@example.com",
		"priority", 2,
		"story_points", 3.5,
		"tags", "backend; payments",
		"fields", `{"Custom.Team":"Blue","System.Title":"Checkout v2"}`,
	))
	created := decodeObject(t, out)
	assert.NotContains(t, created, "fields")
	assert.NotContains(t, created, "url")
	assert.Equal(t, "Checkout v2", created["Title"])
	assert.Equal(t, "U", created["Type"])
	assert.Equal(t, "Blue", created["Custom.Team"])
	assert.Equal(t, "Pay with card", created["Description"])
	assert.Equal(t, "backend;payments", created["Tags"])
	assert.EqualValues(t, 2, created["Priority"])

	id := int(created["id"].(float64))
	stored := f.srv.Fields(id)
	assert.EqualValues(t, 3.5, stored["Microsoft.VSTS.Scheduling.StoryPoints"])

	got := rows(t, f.ok(t, "azdo_get_work_item", scoped("id", id)))
	require.Len(t, got, 1)
	assert.Equal(t, strconv.Itoa(id), got[0]["id"])
	assert.Equal(t, "Checkout v2", got[0]["Title"])
	assert.Equal(t, "jane@example.com <jane@example.com>", got[0]["AssignedTo"])
	assert.NotContains(t, got[0], "State")

	res := f.call(t, "azdo_get_work_item", scoped("id", 999))
	require.True(t, res.IsError)
	assert.Contains(t, text(res), "work item 999 not found")
}

func TestCreateWithParentAndLink(t *testing.T) {
	f := newFixture(t)
	parent := f.create(t, "Feature", "Payments")

	out := f.ok(t, "azdo_create_work_item", scoped("work_item_type", "Task", "title", "Wire card API", "parent_id", parent))
	child := decodeObject(t, out)
	assert.Equal(t, []any{"Hierarchy-Reverse:" + strconv.Itoa(parent)}, child["relations"])

	other := f.create(t, "Bug", "Card declined")
	out = f.ok(t, "azdo_link_work_items", scoped("source_id", other, "target_id", parent, "link_type", "Related"))
	assert.Equal(t, []any{"Related:" + strconv.Itoa(parent)}, decodeObject(t, out)["relations"])

	got := rows(t, f.ok(t, "azdo_get_work_items", scoped("ids", []int{other})))
	require.Len(t, got, 1)
	assert.Equal(t, "Related:"+strconv.Itoa(parent), got[0]["relations"])

	res := f.call(t, "azdo_link_work_items", scoped("source_id", other, "target_id", 999, "link_type", "parent"))
	assert.True(t, res.IsError)
}

func TestUpdateAndComments(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "Task", "Write docs")

	out := f.ok(t, "azdo_update_work_item", scoped("id", id, "title", "Write more docs", "state", "Active", "remaining_work", 4))
	updated := decodeObject(t, out)
	assert.Equal(t, "Write more docs", updated["Title"])
	assert.Equal(t, "Active", f.srv.Fields(id)["System.State"])
	assert.EqualValues(t, 4, f.srv.Fields(id)["Microsoft.VSTS.Scheduling.RemainingWork"])

	for _, c := range []string{"first", "second"} {
		out := f.ok(t, "azdo_add_comment", scoped("work_item_id", id, "text", c))
		assert.Equal(t, c, decodeObject(t, out)["text"])
	}

	got := rows(t, f.ok(t, "azdo_get_work_item", scoped("id", id, "include_latest_n_comments", 1)))
	require.Len(t, got, 1)
	assert.Contains(t, got[0]["comments"], "second")
	assert.NotContains(t, got[0]["comments"], "first")
}

func TestQueryWorkItems(t *testing.T) {
	f := newFixture(t)
	story := f.create(t, "User Story", "Search")
	bug := f.create(t, "Bug", "Crash", "tags", "backend")
	closed := f.create(t, "Bug", "Old crash", "state", "Closed")

	ids := func(out string) []string {
		var got []string
		for _, r := range rows(t, out) {
			got = append(got, r["id"])
		}
		return got
	}

	out := f.ok(t, "azdo_query_work_items", scoped("exclude_state", []string{"Closed"}))
	assert.Equal(t, []string{strconv.Itoa(bug), strconv.Itoa(story)}, ids(out))
	assert.NotContains(t, ids(out), strconv.Itoa(closed))

	out = f.ok(t, "azdo_query_work_items", scoped("include_work_item_type", []string{"Bug"}, "include_tags", []string{"backend"}))
	assert.Equal(t, []string{strconv.Itoa(bug)}, ids(out))

	out = f.ok(t, "azdo_query_work_items_by_wiql", scoped("query", "SELECT [System.Id] FROM WorkItems WHERE [System.State] = 'Closed'"))
	assert.Equal(t, []string{strconv.Itoa(closed)}, ids(out))

	assert.Equal(t, "No work items found", f.ok(t, "azdo_query_work_items", scoped("include_state", []string{"Resolved"})))
	assert.Equal(t, "No work items found", f.ok(t, "azdo_get_work_items", scoped("ids", []int{})))
}

func TestAttachments(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "Bug", "Broken image")
	content := []byte{0x89, 'P', 'N', 'G', 0x00, '\r', '\n', 0xff}

	out := f.ok(t, "azdo_upload_attachment", scoped(
		"file_name", "shot.png",
		"content_base64", base64.StdEncoding.EncodeToString(content),
		"work_item_id", id,
		"comment", "screenshot",
	))
	ref := decodeObject(t, out)
	attID, _ := ref["id"].(string)
	require.NotEmpty(t, attID)
	assert.Contains(t, ref["url"], attID)

	got := rows(t, f.ok(t, "azdo_get_work_item", scoped("id", id)))
	assert.Equal(t, "AttachedFile:"+attID, got[0]["relations"])

	b64 := f.ok(t, "azdo_download_attachment", scoped("id", attID, "file_name", "shot.png"))
	decoded, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	assert.Equal(t, content, decoded)
}

func TestUploadAttachmentLinkFailure(t *testing.T) {
	f := newFixture(t)

	res := f.call(t, "azdo_upload_attachment", scoped(
		"file_name", "log.txt",
		"content_base64", base64.StdEncoding.EncodeToString([]byte("boom")),
		"work_item_id", 999,
	))
	require.True(t, res.IsError)

	stored := f.srv.AttachmentIDs()
	require.Len(t, stored, 1)
	msg := text(res)
	assert.Contains(t, msg, "attachment "+stored[0]+" uploaded but linking to work item 999 failed")
}

func TestThrottledCallSucceeds(t *testing.T) {
	f := newFixture(t)
	f.srv.FailNext(1, http.StatusTooManyRequests, "")

	assert.Equal(t, `["`+team+`"]`, f.ok(t, "azdo_list_teams", scoped()))
	assert.Len(t, f.srv.Requests(), 2)
}

func TestLinkType(t *testing.T) {
	assert.Equal(t, "System.LinkTypes.Hierarchy-Forward", boards.LinkType("Parent"))
	assert.Equal(t, "System.LinkTypes.Hierarchy-Reverse", boards.LinkType(" child "))
	assert.Equal(t, "System.LinkTypes.Dependency-Forward", boards.LinkType("dependency"))
	assert.Equal(t, "Microsoft.VSTS.Common.TestedBy-Forward", boards.LinkType("Microsoft.VSTS.Common.TestedBy-Forward"))
}
