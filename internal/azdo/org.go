package azdo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ListProjects returns project names in the organization.
func (c *Client) ListProjects(ctx context.Context, org string) ([]string, error) {
	body, err := c.doRaw(ctx, request{method: http.MethodGet, url: c.orgURL(org, "projects")})
	if err != nil {
		return nil, err
	}
	return names(body, "name"), nil
}

// ListTeams returns team names in the project.
func (c *Client) ListTeams(ctx context.Context, org, project string) ([]string, error) {
	body, err := c.doRaw(ctx, request{method: http.MethodGet, url: c.orgURL(org, "projects/"+esc(project)+"/teams")})
	if err != nil {
		return nil, err
	}
	return names(body, "name"), nil
}

// GetTeam returns a team by id or name.
func (c *Client) GetTeam(ctx context.Context, org, project, team string) (map[string]any, error) {
	return c.doJSON(ctx, request{method: http.MethodGet, url: c.orgURL(org, "projects/"+esc(project)+"/teams/"+esc(team))})
}

// TeamMember is a member identity.
type TeamMember struct {
	DisplayName string
	UniqueName  string
}

// ListTeamMembers returns the members of a team.
func (c *Client) ListTeamMembers(ctx context.Context, org, project, team string) ([]TeamMember, error) {
	body, err := c.doRaw(ctx, request{method: http.MethodGet, url: c.orgURL(org, "projects/"+esc(project)+"/teams/"+esc(team)+"/members")})
	if err != nil {
		return nil, err
	}
	var res struct {
		Value []struct {
			Identity struct {
				DisplayName string `json:"displayName"`
				UniqueName  string `json:"uniqueName"`
			} `json:"identity"`
		} `json:"value"`
	}
	if err := decodeInto(body, &res); err != nil {
		return nil, err
	}
	out := make([]TeamMember, 0, len(res.Value))
	for _, m := range res.Value {
		out = append(out, TeamMember{DisplayName: m.Identity.DisplayName, UniqueName: m.Identity.UniqueName})
	}
	return out, nil
}

// ListWorkItemTypes returns work item type names defined in the project.
func (c *Client) ListWorkItemTypes(ctx context.Context, org, project string) ([]string, error) {
	body, err := c.doRaw(ctx, request{method: http.MethodGet, url: c.projectURL(org, project, "wit/workitemtypes")})
	if err != nil {
		return nil, err
	}
	return names(body, "name"), nil
}

// ListTags returns the work item tags used in the project.
func (c *Client) ListTags(ctx context.Context, org, project string) ([]string, error) {
	body, err := c.doRaw(ctx, request{method: http.MethodGet, url: c.projectURL(org, project, "wit/tags")})
	if err != nil {
		return nil, err
	}
	return names(body, "name"), nil
}

// ListBoards returns the board names of a team.
func (c *Client) ListBoards(ctx context.Context, org, project, team string) ([]string, error) {
	body, err := c.doRaw(ctx, request{method: http.MethodGet, url: c.teamURL(org, project, team, "work/boards")})
	if err != nil {
		return nil, err
	}
	return names(body, "name"), nil
}

// GetBoard returns a team board by id or name.
func (c *Client) GetBoard(ctx context.Context, org, project, team, board string) (map[string]any, error) {
	return c.doJSON(ctx, request{method: http.MethodGet, url: c.teamURL(org, project, team, "work/boards/"+esc(board))})
}

// BoardColumn is a board column definition.
type BoardColumn struct {
	Name       string `json:"name"`
	ItemLimit  int    `json:"itemLimit"`
	IsSplit    bool   `json:"isSplit"`
	ColumnType string `json:"columnType"`
}

// ListBoardColumns returns the columns of a board in display order.
func (c *Client) ListBoardColumns(ctx context.Context, org, project, team, board string) ([]BoardColumn, error) {
	body, err := c.doRaw(ctx, request{method: http.MethodGet, url: c.teamURL(org, project, team, "work/boards/"+esc(board)+"/columns")})
	if err != nil {
		return nil, err
	}
	var res struct {
		Value []BoardColumn `json:"value"`
	}
	if err := decodeInto(body, &res); err != nil {
		return nil, err
	}
	return res.Value, nil
}

// ListBoardRows returns swimlane names. The default lane has an empty name.
func (c *Client) ListBoardRows(ctx context.Context, org, project, team, board string) ([]string, error) {
	body, err := c.doRaw(ctx, request{method: http.MethodGet, url: c.teamURL(org, project, team, "work/boards/"+esc(board)+"/rows")})
	if err != nil {
		return nil, err
	}
	return names(body, "name"), nil
}

// Iteration is a team iteration.
type Iteration struct {
	Name       string
	Path       string
	TimeFrame  string
	StartDate  string
	FinishDate string
}

func (c *Client) teamIterations(ctx context.Context, org, project, team, timeframe string) ([]Iteration, error) {
	req := request{method: http.MethodGet, url: c.teamURL(org, project, team, "work/teamsettings/iterations")}
	if timeframe != "" {
		req.query = url.Values{"$timeframe": {timeframe}}
	}
	body, err := c.doRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	var res struct {
		Value []struct {
			Name       string `json:"name"`
			Path       string `json:"path"`
			Attributes struct {
				StartDate  string `json:"startDate"`
				FinishDate string `json:"finishDate"`
				TimeFrame  string `json:"timeFrame"`
			} `json:"attributes"`
		} `json:"value"`
	}
	if err := decodeInto(body, &res); err != nil {
		return nil, err
	}
	out := make([]Iteration, 0, len(res.Value))
	for _, it := range res.Value {
		out = append(out, Iteration{
			Name:       it.Name,
			Path:       it.Path,
			TimeFrame:  it.Attributes.TimeFrame,
			StartDate:  it.Attributes.StartDate,
			FinishDate: it.Attributes.FinishDate,
		})
	}
	return out, nil
}

// TeamIterations returns the iterations a team subscribes to, optionally
// filtered by timeframe (current, past, future), compared case-insensitively.
func (c *Client) TeamIterations(ctx context.Context, org, project, team, timeframe string) ([]Iteration, error) {
	all, err := c.teamIterations(ctx, org, project, team, "")
	if err != nil {
		return nil, err
	}
	if timeframe == "" {
		return all, nil
	}
	out := all[:0]
	for _, it := range all {
		if strings.EqualFold(it.TimeFrame, timeframe) {
			out = append(out, it)
		}
	}
	return out, nil
}

// CurrentIteration returns the team's current iteration, or nil when the
// team has none.
func (c *Client) CurrentIteration(ctx context.Context, org, project, team string) (*Iteration, error) {
	its, err := c.teamIterations(ctx, org, project, team, "current")
	if err != nil {
		if HasTypeKey(err, "CurrentIterationDoesNotExistException") {
			return nil, nil
		}
		return nil, err
	}
	if len(its) == 0 {
		return nil, nil
	}
	return &its[0], nil
}

// ClassificationNode is an area or iteration tree node.
type ClassificationNode struct {
	Name     string                `json:"name"`
	Path     string                `json:"path"`
	Children []*ClassificationNode `json:"children"`
}

// Paths lists the path of n and every descendant, depth first.
func (n *ClassificationNode) Paths() []string {
	if n == nil {
		return nil
	}
	out := []string{n.Path}
	for _, ch := range n.Children {
		out = append(out, ch.Paths()...)
	}
	return out
}

// Classification node groups.
const (
	Areas      = "areas"
	Iterations = "iterations"
)

// ClassificationNodes fetches the areas or iterations tree below parentPath
// (the root when empty) to the given depth.
func (c *Client) ClassificationNodes(ctx context.Context, org, project, group, parentPath string, depth int) (*ClassificationNode, error) {
	path := "wit/classificationnodes/" + group
	for _, seg := range strings.FieldsFunc(parentPath, func(r rune) bool { return r == '\\' || r == '/' }) {
		path += "/" + esc(seg)
	}
	body, err := c.doRaw(ctx, request{
		method: http.MethodGet,
		url:    c.projectURL(org, project, path),
		query:  url.Values{"$depth": {strconv.Itoa(depth)}},
	})
	if err != nil {
		return nil, err
	}
	var node ClassificationNode
	if err := decodeInto(body, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// Profile is the signed-in user's profile.
type Profile struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// Profile returns the signed-in user's profile.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	body, err := c.doRaw(ctx, request{method: http.MethodGet, url: c.profileURL("profile/profiles/me")})
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := decodeInto(body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Accounts returns the names of organizations memberID belongs to.
func (c *Client) Accounts(ctx context.Context, memberID string) ([]string, error) {
	body, err := c.doRaw(ctx, request{
		method: http.MethodGet,
		url:    c.profileURL("accounts"),
		query:  url.Values{"memberId": {memberID}},
	})
	if err != nil {
		return nil, err
	}
	return names(body, "accountName"), nil
}

// AttachmentRef identifies an uploaded attachment.
type AttachmentRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// UploadAttachment stores content in the project's attachment store.
func (c *Client) UploadAttachment(ctx context.Context, org, project, fileName string, content []byte) (*AttachmentRef, error) {
	body, err := c.doRaw(ctx, request{
		method:      http.MethodPost,
		url:         c.projectURL(org, project, "wit/attachments"),
		query:       url.Values{"fileName": {fileName}},
		body:        content,
		contentType: "application/octet-stream",
	})
	if err != nil {
		return nil, err
	}
	var ref AttachmentRef
	if err := decodeInto(body, &ref); err != nil {
		return nil, err
	}
	if ref.ID == "" {
		return nil, fmt.Errorf("upload attachment: response has no id")
	}
	return &ref, nil
}

// DownloadAttachment returns the attachment bytes.
func (c *Client) DownloadAttachment(ctx context.Context, org, project, id, fileName string) ([]byte, error) {
	req := request{method: http.MethodGet, url: c.projectURL(org, project, "wit/attachments/"+esc(id)), accept: "application/octet-stream"}
	if fileName != "" {
		req.query = url.Values{"fileName": {fileName}}
	}
	return c.doRaw(ctx, req)
}
