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

const classificationDepth = 10

// datePart keeps the date of an ISO timestamp, or "N/A" when unset.
func datePart(s string) string {
	if s == "" {
		return "N/A"
	}
	d, _, _ := strings.Cut(s, "T")
	return d
}

func (t *Tools) listOrganizations() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_list_organizations", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
		t.start(ctx, "list_organizations")
		p, err := t.client.Profile(ctx)
		if err != nil {
			return t.fail(ctx, w, "list_organizations", err)
		}
		names, err := t.client.Accounts(ctx, p.ID)
		if err != nil {
			return t.fail(ctx, w, "list_organizations", err)
		}
		return writeNames(w, names)
	}, mcpservice.WithToolDescription("List organizations the signed-in user belongs to"))
}

func (t *Tools) getCurrentUser() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_get_current_user", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
		t.start(ctx, "get_current_user")
		p, err := t.client.Profile(ctx)
		if err != nil {
			return t.fail(ctx, w, "get_current_user", err)
		}
		out, err := shape.Records([][]string{{p.DisplayName, p.EmailAddress}})
		if err != nil {
			return t.fail(ctx, w, "get_current_user", err)
		}
		return w.AppendText(strings.TrimSuffix(out, "\n"))
	}, mcpservice.WithToolDescription("Get the signed-in user's display name and email"))
}

func (t *Tools) listProjects() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_list_projects", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[OrgScope]) error {
		a := r.Args()
		if err := t.resolveOrg(&a); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "list_projects", slog.String("organization", a.Organization))
		names, err := t.client.ListProjects(ctx, a.Organization)
		if err != nil {
			return t.fail(ctx, w, "list_projects", err)
		}
		return writeNames(w, names)
	}, t.orgOpts("List projects in an organization")...)
}

func (t *Tools) listTeams() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_list_teams", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[Scope]) error {
		a := r.Args()
		if err := t.resolve(&a); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "list_teams", slog.String("project", a.Project))
		names, err := t.client.ListTeams(ctx, a.Organization, a.Project)
		if err != nil {
			return t.fail(ctx, w, "list_teams", err)
		}
		return writeNames(w, names)
	}, t.opts("List teams in a project")...)
}

// TeamArgs selects a team.
type TeamArgs struct {
	Scope
	TeamID string `json:"team_id" jsonschema_description:"Team ID or name"`
}

func (t *Tools) getTeam() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_get_team", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[TeamArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "get_team", slog.String("team_id", a.TeamID))
		team, err := t.client.GetTeam(ctx, a.Organization, a.Project, a.TeamID)
		if err != nil {
			return t.fail(ctx, w, "get_team", err)
		}
		return writeCompact(w, team)
	}, t.opts("Get team details")...)
}

func (t *Tools) listTeamMembers() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_list_team_members", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[TeamArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "list_team_members", slog.String("team_id", a.TeamID))
		members, err := t.client.ListTeamMembers(ctx, a.Organization, a.Project, a.TeamID)
		if err != nil {
			return t.fail(ctx, w, "list_team_members", err)
		}
		rows := make([][]string, 0, len(members))
		for _, m := range members {
			rows = append(rows, []string{m.DisplayName, m.UniqueName})
		}
		out, err := shape.Records(rows)
		if err != nil {
			return t.fail(ctx, w, "list_team_members", err)
		}
		if out == "" {
			return w.AppendText("No team members found")
		}
		return w.AppendText(out)
	}, t.opts("List team members as CSV rows of display name and unique name")...)
}

func (t *Tools) getTeamCurrentIteration() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_get_team_current_iteration", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[TeamArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "get_team_current_iteration", slog.String("team_id", a.TeamID))
		it, err := t.client.CurrentIteration(ctx, a.Organization, a.Project, a.TeamID)
		if err != nil {
			return t.fail(ctx, w, "get_team_current_iteration", err)
		}
		if it == nil {
			return w.AppendText("No current iteration found")
		}
		out, err := shape.Records([][]string{{it.Name, datePart(it.StartDate), datePart(it.FinishDate)}})
		if err != nil {
			return t.fail(ctx, w, "get_team_current_iteration", err)
		}
		return w.AppendText(strings.TrimSuffix(out, "\n"))
	}, t.opts("Get current iteration/sprint for team as name,start,finish")...)
}

var timeframes = []string{"current", "past", "future"}

// IterationPathsArgs lists project iteration paths, or a team's iterations
// when TeamID is set.
type IterationPathsArgs struct {
	Scope
	TeamID    string `json:"team_id,omitempty" jsonschema_description:"Team ID or name; lists the team's iterations with dates"`
	Timeframe string `json:"timeframe,omitempty" jsonschema:"enum=current,enum=past,enum=future" jsonschema_description:"Filter team iterations by timeframe"`
}

func (a *IterationPathsArgs) Validate() error {
	if a.Timeframe == "" {
		return nil
	}
	for _, tf := range timeframes {
		if a.Timeframe == tf {
			return nil
		}
	}
	return fmt.Errorf("invalid timeframe %q; valid values are %s", a.Timeframe, strings.Join(timeframes, ", "))
}

func (t *Tools) listIterationPaths() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_list_iteration_paths", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[IterationPathsArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "list_iteration_paths", slog.String("team_id", a.TeamID), slog.String("timeframe", a.Timeframe))

		if strings.TrimSpace(a.TeamID) == "" {
			root, err := t.client.ClassificationNodes(ctx, a.Organization, a.Project, azdo.Iterations, "", classificationDepth)
			if err != nil {
				return t.fail(ctx, w, "list_iteration_paths", err)
			}
			paths := root.Paths()
			if len(paths) == 0 {
				return w.AppendText("No iterations found")
			}
			return w.AppendText(strings.Join(paths, ","))
		}

		its, err := t.client.TeamIterations(ctx, a.Organization, a.Project, a.TeamID, a.Timeframe)
		if err != nil {
			return t.fail(ctx, w, "list_iteration_paths", err)
		}
		if len(its) == 0 {
			return w.AppendText("No iterations found")
		}
		rows := make([][]string, 0, len(its))
		for _, it := range its {
			tf := it.TimeFrame
			if tf == "" {
				tf = "N/A"
			}
			rows = append(rows, []string{it.Name, tf, datePart(it.StartDate), datePart(it.FinishDate)})
		}
		out, err := shape.Records(rows)
		if err != nil {
			return t.fail(ctx, w, "list_iteration_paths", err)
		}
		return w.AppendText(strings.TrimSuffix(out, "\n"))
	}, t.opts("List iteration paths for a project, or a team's iterations as name,timeframe,start,finish lines")...)
}

// AreaPathsArgs lists area paths below an optional parent.
type AreaPathsArgs struct {
	Scope
	ParentPath string `json:"parent_path,omitempty" jsonschema_description:"Area path to start from, relative to the project root"`
}

func (t *Tools) listAreaPaths() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_list_area_paths", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[AreaPathsArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "list_area_paths", slog.String("parent_path", a.ParentPath))
		root, err := t.client.ClassificationNodes(ctx, a.Organization, a.Project, azdo.Areas, a.ParentPath, classificationDepth)
		if err != nil {
			return t.fail(ctx, w, "list_area_paths", err)
		}
		return w.AppendText(strings.Join(root.Paths(), ","))
	}, t.opts("List area paths for a project")...)
}

func (t *Tools) listWorkItemTypes() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_list_work_item_types", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[Scope]) error {
		a := r.Args()
		if err := t.resolve(&a); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "list_work_item_types", slog.String("project", a.Project))
		names, err := t.client.ListWorkItemTypes(ctx, a.Organization, a.Project)
		if err != nil {
			return t.fail(ctx, w, "list_work_item_types", err)
		}
		return writeNames(w, names)
	}, t.opts("List work item types in a project")...)
}

func (t *Tools) listTags() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_list_tags", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[Scope]) error {
		a := r.Args()
		if err := t.resolve(&a); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "list_tags", slog.String("project", a.Project))
		names, err := t.client.ListTags(ctx, a.Organization, a.Project)
		if err != nil {
			return t.fail(ctx, w, "list_tags", err)
		}
		return writeNames(w, names)
	}, t.opts("List work item tags in a project")...)
}
