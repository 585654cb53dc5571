package azdo_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/azdo-boards-mcp/internal/azdo"
	"github.com/ggoodman/azdo-boards-mcp/internal/azdo/azdotest"
)

const (
	org     = "contoso"
	project = "Fabrikam Fiber"
)

func newClient(t *testing.T, opts ...azdo.Option) (*azdotest.Server, *azdo.Client) {
	t.Helper()
	srv := azdotest.New(t, org, project)
	opts = append([]azdo.Option{
		azdo.WithBaseURL(srv.URL),
		azdo.WithVSSPSURL(srv.URL),
		azdo.WithRetryBase(time.Millisecond),
	}, opts...)
	return srv, azdo.New(azdo.StaticToken("test-token"), opts...)
}

func intPtr(n int) *int { return &n }

func TestClient_RetriesThrottledRequests(t *testing.T) {
	srv, c := newClient(t)
	srv.FailNext(2, http.StatusTooManyRequests, "")

	projects, err := c.ListProjects(context.Background(), org)
	require.NoError(t, err)
	assert.Equal(t, []string{project, "Other"}, projects)
	assert.Len(t, srv.Requests(), 3)
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	srv, c := newClient(t, azdo.WithMaxRetries(1))
	srv.FailNext(5, http.StatusServiceUnavailable, "")

	_, err := c.ListProjects(context.Background(), org)
	var apiErr *azdo.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "InjectedFailure", apiErr.TypeKey)
	assert.Len(t, srv.Requests(), 2)
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	srv, c := newClient(t)

	_, err := c.GetWorkItem(context.Background(), org, project, 999, nil)
	require.Error(t, err)
	assert.True(t, azdo.IsNotFound(err))
	assert.Contains(t, err.Error(), "work item 999 not found")
	assert.Len(t, srv.Requests(), 1)
}

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) {
	return "", errors.Join(azdo.ErrAuth, errors.New("az login required"))
}

func TestClient_TokenFailure(t *testing.T) {
	srv := azdotest.New(t, org, project)
	c := azdo.New(failingTokens{}, azdo.WithBaseURL(srv.URL))

	_, err := c.ListProjects(context.Background(), org)
	require.ErrorIs(t, err, azdo.ErrAuth)
	assert.Empty(t, srv.Requests())
}

func TestClient_CancelledContext(t *testing.T) {
	srv, c := newClient(t, azdo.WithRetryBase(time.Hour))
	srv.FailNext(1, http.StatusInternalServerError, "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.ListProjects(ctx, org)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_HonorsRetryAfter(t *testing.T) {
	srv, c := newClient(t, azdo.WithRetryBase(time.Hour))
	srv.FailNext(1, http.StatusTooManyRequests, "1")

	// The exponential delay alone would outlast the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	projects, err := c.ListProjects(ctx, org)
	require.NoError(t, err)
	assert.Equal(t, []string{project, "Other"}, projects)
	assert.Len(t, srv.Requests(), 2)
}

func itemIDs(items []map[string]any) []int {
	ids := make([]int, 0, len(items))
	for _, it := range items {
		ids = append(ids, int(it["id"].(float64)))
	}
	return ids
}

func TestWorkItems_GetInBatches(t *testing.T) {
	srv, c := newClient(t)
	ids := srv.Seed("Task", 401)

	items, err := c.GetWorkItems(context.Background(), org, project, ids, nil)
	require.NoError(t, err)
	assert.Equal(t, ids, itemIDs(items))

	batch := "GET /" + org + "/" + project + "/_apis/wit/workitems"
	assert.Equal(t, []string{batch, batch, batch}, srv.Requests())
}

func TestWorkItems_GetTruncatesLongIDLists(t *testing.T) {
	srv, c := newClient(t)
	ids := srv.Seed("Bug", 1001)

	items, err := c.GetWorkItems(context.Background(), org, project, ids, nil)
	require.NoError(t, err)
	assert.Len(t, items, 1000)
	assert.Equal(t, ids[:1000], itemIDs(items))
	assert.Len(t, srv.Requests(), 5)
}

func TestWorkItems_CreateGetUpdate(t *testing.T) {
	_, c := newClient(t)
	ctx := context.Background()

	created, err := c.CreateWorkItem(ctx, org, project, "User Story", map[string]any{
		"System.Title":       "Checkout flow",
		"System.Description": "<p>Pay with <b>card</b></p>",
		"System.AssignedTo":  "jane@example.com",
	})
	require.NoError(t, err)
	id := int(created["id"].(float64))

	got, err := c.GetWorkItem(ctx, org, project, id, nil)
	require.NoError(t, err)
	fields := got["fields"].(map[string]any)
	assert.Equal(t, "Checkout flow", fields["System.Title"])
	assert.Equal(t, "User Story", fields["System.WorkItemType"])
	assert.Equal(t, "New", fields["System.State"])
	assert.NotContains(t, got, "comments")

	updated, err := c.UpdateWorkItem(ctx, org, project, id, map[string]any{"System.State": "Active"})
	require.NoError(t, err)
	assert.Equal(t, "Active", updated["fields"].(map[string]any)["System.State"])

	_, err = c.UpdateWorkItem(ctx, org, project, id, nil)
	require.EqualError(t, err, "no fields to update")
}

func TestWorkItems_Comments(t *testing.T) {
	srv, c := newClient(t)
	srv.CommentPageSize = 2
	ctx := context.Background()

	created, err := c.CreateWorkItem(ctx, org, project, "Task", map[string]any{"System.Title": "Write docs"})
	require.NoError(t, err)
	id := int(created["id"].(float64))

	for _, text := range []string{"first", "second", "third"} {
		_, err := c.AddComment(ctx, org, project, id, text)
		require.NoError(t, err)
	}

	all, err := c.GetComments(ctx, org, project, id, azdo.AllComments)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].(map[string]any)["text"])
	assert.Equal(t, "first", all[2].(map[string]any)["text"])

	latest, err := c.GetComments(ctx, org, project, id, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "third", latest[0].(map[string]any)["text"])

	items, err := c.GetWorkItems(ctx, org, project, []int{id}, intPtr(2))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Len(t, items[0]["comments"], 2)
}

func TestWorkItems_LinkAndQuery(t *testing.T) {
	_, c := newClient(t)
	ctx := context.Background()

	mk := func(typ, title string) int {
		wi, err := c.CreateWorkItem(ctx, org, project, typ, map[string]any{"System.Title": title})
		require.NoError(t, err)
		return int(wi["id"].(float64))
	}
	parent := mk("Feature", "Payments")
	child := mk("User Story", "Card payments")
	done := mk("Bug", "Old bug")
	_, err := c.UpdateWorkItem(ctx, org, project, done, map[string]any{"System.State": "Closed"})
	require.NoError(t, err)

	_, err = c.LinkWorkItems(ctx, org, project, child, parent, "System.LinkTypes.Hierarchy-Reverse")
	require.NoError(t, err)

	got, err := c.GetWorkItem(ctx, org, project, child, nil)
	require.NoError(t, err)
	rels := got["relations"].([]any)
	require.Len(t, rels, 1)
	rel := rels[0].(map[string]any)
	assert.Equal(t, "System.LinkTypes.Hierarchy-Reverse", rel["rel"])
	assert.Equal(t, c.WorkItemURL(parent), rel["url"])

	filter := &azdo.WorkItemFilter{Project: project, ExcludeStates: []string{"Closed"}}
	q, err := filter.WIQL()
	require.NoError(t, err)
	items, err := c.QueryByWIQL(ctx, org, project, q, nil)
	require.NoError(t, err)

	var ids []int
	for _, it := range items {
		ids = append(ids, int(it["id"].(float64)))
	}
	assert.ElementsMatch(t, []int{parent, child}, ids)
	assert.NotContains(t, ids, done)
}

func TestWorkItems_QueryNoMatches(t *testing.T) {
	_, c := newClient(t)
	items, err := c.QueryByWIQL(context.Background(), org, project, "SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = 'Fabrikam Fiber'", nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAttachments_RoundTrip(t *testing.T) {
	_, c := newClient(t)
	ctx := context.Background()
	content := []byte{0x00, 0xff, 'P', 'N', 'G', '\r', '\n'}

	ref, err := c.UploadAttachment(ctx, org, project, "shot.png", content)
	require.NoError(t, err)
	require.NotEmpty(t, ref.ID)
	assert.Contains(t, ref.URL, ref.ID)

	got, err := c.DownloadAttachment(ctx, org, project, ref.ID, "shot.png")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestOrg_TeamsBoardsIterations(t *testing.T) {
	srv, c := newClient(t)
	ctx := context.Background()
	team := project + " Team"

	teams, err := c.ListTeams(ctx, org, project)
	require.NoError(t, err)
	assert.Equal(t, []string{team}, teams)

	members, err := c.ListTeamMembers(ctx, org, project, team)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "Jane Doe", members[1].DisplayName)

	boards, err := c.ListBoards(ctx, org, project, team)
	require.NoError(t, err)
	assert.Equal(t, []string{"Stories"}, boards)

	cols, err := c.ListBoardColumns(ctx, org, project, team, "Stories")
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, azdo.BoardColumn{Name: "Active", ItemLimit: 5, IsSplit: true, ColumnType: "inProgress"}, cols[1])

	rows, err := c.ListBoardRows(ctx, org, project, team, "Stories")
	require.NoError(t, err)
	assert.Equal(t, []string{"", "Expedite"}, rows)

	past, err := c.TeamIterations(ctx, org, project, team, "PAST")
	require.NoError(t, err)
	require.Len(t, past, 1)
	assert.Equal(t, "Sprint 1", past[0].Name)

	cur, err := c.CurrentIteration(ctx, org, project, team)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "Sprint 2", cur.Name)

	srv.Teams[0].Iterations = srv.Teams[0].Iterations[:1]
	cur, err = c.CurrentIteration(ctx, org, project, team)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestOrg_NoCurrentIteration(t *testing.T) {
	srv, c := newClient(t)
	srv.Teams = append(srv.Teams, azdotest.Team{ID: "team-2", Name: "Ops"})

	it, err := c.CurrentIteration(context.Background(), org, project, "ops")
	require.NoError(t, err)
	assert.Nil(t, it)
}

func TestOrg_ClassificationNodes(t *testing.T) {
	_, c := newClient(t)
	ctx := context.Background()

	root, err := c.ClassificationNodes(ctx, org, project, azdo.Areas, "", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`\Fabrikam Fiber\Area`,
		`\Fabrikam Fiber\Area\Platform`,
		`\Fabrikam Fiber\Area\Platform\API`,
		`\Fabrikam Fiber\Area\Web`,
	}, root.Paths())

	sub, err := c.ClassificationNodes(ctx, org, project, azdo.Areas, `Platform`, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{`\Fabrikam Fiber\Area\Platform`, `\Fabrikam Fiber\Area\Platform\API`}, sub.Paths())
}

func TestProfileAndAccounts(t *testing.T) {
	srv, c := newClient(t)
	ctx := context.Background()

	p, err := c.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.ProfileID, p.ID)
	assert.Equal(t, azdotest.UserEmail, p.EmailAddress)

	accounts, err := c.Accounts(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{org, "fabrikam"}, accounts)
}
