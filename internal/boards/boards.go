// Package boards defines the azdo_* tool set: typed argument structs,
// handlers that call the Azure DevOps client, and the shaping of results
// into compact text.
package boards

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ggoodman/azdo-boards-mcp/internal/azdo"
	"github.com/ggoodman/azdo-boards-mcp/internal/shape"
	"github.com/ggoodman/azdo-boards-mcp/mcpservice"
)

// Instructions is advertised to clients during initialize.
const Instructions = "Use this tool to interact with Azure DevOps Boards and Work Items"

// Client is the subset of the Azure DevOps client the tools use.
type Client interface {
	ListProjects(ctx context.Context, org string) ([]string, error)
	ListTeams(ctx context.Context, org, project string) ([]string, error)
	GetTeam(ctx context.Context, org, project, team string) (map[string]any, error)
	ListTeamMembers(ctx context.Context, org, project, team string) ([]azdo.TeamMember, error)
	ListWorkItemTypes(ctx context.Context, org, project string) ([]string, error)
	ListTags(ctx context.Context, org, project string) ([]string, error)
	ListBoards(ctx context.Context, org, project, team string) ([]string, error)
	GetBoard(ctx context.Context, org, project, team, board string) (map[string]any, error)
	ListBoardColumns(ctx context.Context, org, project, team, board string) ([]azdo.BoardColumn, error)
	ListBoardRows(ctx context.Context, org, project, team, board string) ([]string, error)
	TeamIterations(ctx context.Context, org, project, team, timeframe string) ([]azdo.Iteration, error)
	CurrentIteration(ctx context.Context, org, project, team string) (*azdo.Iteration, error)
	ClassificationNodes(ctx context.Context, org, project, group, parentPath string, depth int) (*azdo.ClassificationNode, error)
	Profile(ctx context.Context) (*azdo.Profile, error)
	Accounts(ctx context.Context, memberID string) ([]string, error)

	GetWorkItems(ctx context.Context, org, project string, ids []int, comments *int) ([]map[string]any, error)
	GetWorkItem(ctx context.Context, org, project string, id int, comments *int) (map[string]any, error)
	QueryByWIQL(ctx context.Context, org, project, query string, comments *int) ([]map[string]any, error)
	CreateWorkItem(ctx context.Context, org, project, workItemType string, fields map[string]any) (map[string]any, error)
	UpdateWorkItem(ctx context.Context, org, project string, id int, fields map[string]any) (map[string]any, error)
	AddComment(ctx context.Context, org, project string, id int, text string) (map[string]any, error)
	LinkWorkItems(ctx context.Context, org, project string, source, target int, rel string) (map[string]any, error)
	AddRelation(ctx context.Context, org, project string, id int, rel, targetURL string, attributes map[string]any) (map[string]any, error)
	UploadAttachment(ctx context.Context, org, project, fileName string, content []byte) (*azdo.AttachmentRef, error)
	DownloadAttachment(ctx context.Context, org, project, id, fileName string) ([]byte, error)
}

var _ Client = (*azdo.Client)(nil)

// Tools builds the azdo_* tools around a Client.
type Tools struct {
	client  Client
	org     string
	project string
	log     *slog.Logger
}

// Option configures New.
type Option func(*Tools)

// WithDefaults sets the organization and project used when a call omits
// them. Defaulted keys are not advertised as required.
func WithDefaults(org, project string) Option {
	return func(t *Tools) {
		t.org = strings.TrimSpace(org)
		t.project = strings.TrimSpace(project)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tools) {
		if l != nil {
			t.log = l
		}
	}
}

// New returns the tool set.
func New(client Client, opts ...Option) *Tools {
	t := &Tools{client: client, log: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Container returns every tool, ready to serve.
func (t *Tools) Container() *mcpservice.ToolsContainer {
	return mcpservice.NewToolsContainer(t.All()...)
}

// All returns every tool in listing order.
func (t *Tools) All() []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		t.listOrganizations(),
		t.getCurrentUser(),
		t.listProjects(),
		t.listTeams(),
		t.getTeam(),
		t.listTeamMembers(),
		t.getTeamCurrentIteration(),
		t.listIterationPaths(),
		t.listAreaPaths(),
		t.listWorkItemTypes(),
		t.listTags(),
		t.listTeamBoards(),
		t.getTeamBoard(),
		t.listBoardColumns(),
		t.listBoardRows(),
		t.getWorkItem(),
		t.getWorkItems(),
		t.queryWorkItemsByWIQL(),
		t.queryWorkItems(),
		t.createWorkItem(),
		t.updateWorkItem(),
		t.addComment(),
		t.linkWorkItems(),
		t.uploadAttachment(),
		t.downloadAttachment(),
	}
}

// Scope names the organization and project a tool acts on.
type Scope struct {
	Organization string `json:"organization" jsonschema_description:"AzDO org name"`
	Project      string `json:"project" jsonschema_description:"AzDO project name"`
}

// OrgScope names only the organization.
type OrgScope struct {
	Organization string `json:"organization" jsonschema_description:"AzDO org name"`
}

// opts returns the tool options for a tool taking a Scope.
func (t *Tools) opts(desc string) []mcpservice.ToolOption {
	opts := []mcpservice.ToolOption{mcpservice.WithToolDescription(desc)}
	var optional []string
	if t.org != "" {
		optional = append(optional, "organization")
	}
	if t.project != "" {
		optional = append(optional, "project")
	}
	if len(optional) > 0 {
		opts = append(opts, mcpservice.WithToolOptionalParams(optional...))
	}
	return opts
}

// orgOpts returns the tool options for a tool taking an OrgScope.
func (t *Tools) orgOpts(desc string) []mcpservice.ToolOption {
	opts := []mcpservice.ToolOption{mcpservice.WithToolDescription(desc)}
	if t.org != "" {
		opts = append(opts, mcpservice.WithToolOptionalParams("organization"))
	}
	return opts
}

func missing(keys []string) error {
	return fmt.Errorf("missing required parameter(s): %s", strings.Join(keys, ", "))
}

// resolve trims the scope and fills blanks from the configured defaults.
func (t *Tools) resolve(s *Scope) error {
	s.Organization = strings.TrimSpace(s.Organization)
	s.Project = strings.TrimSpace(s.Project)
	if s.Organization == "" {
		s.Organization = t.org
	}
	if s.Project == "" {
		s.Project = t.project
	}
	var keys []string
	if s.Organization == "" {
		keys = append(keys, "organization")
	}
	if s.Project == "" {
		keys = append(keys, "project")
	}
	if len(keys) > 0 {
		return missing(keys)
	}
	return nil
}

func (t *Tools) resolveOrg(s *OrgScope) error {
	s.Organization = strings.TrimSpace(s.Organization)
	if s.Organization == "" {
		s.Organization = t.org
	}
	if s.Organization == "" {
		return missing([]string{"organization"})
	}
	return nil
}

func invalid(w mcpservice.ToolResponseWriter, err error) error {
	return w.Fail("invalid arguments: %v", err)
}

// fail reports an upstream error as a tool error result. A cancelled call
// is returned as an error instead so the caller sees it as cancelled.
func (t *Tools) fail(ctx context.Context, w mcpservice.ToolResponseWriter, tool string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	t.log.WarnContext(ctx, "tool."+tool+".fail", slog.String("err", err.Error()))
	return w.Fail("%v", err)
}

func (t *Tools) start(ctx context.Context, tool string, attrs ...any) {
	t.log.InfoContext(ctx, "tool."+tool+".start", attrs...)
}

func writeCompact(w mcpservice.ToolResponseWriter, v any) error {
	s, err := shape.Compact(v)
	if err != nil {
		return w.Fail("encode result: %v", err)
	}
	return w.AppendText(s)
}

func writeNames(w mcpservice.ToolResponseWriter, names []string) error {
	if names == nil {
		names = []string{}
	}
	return writeCompact(w, names)
}
