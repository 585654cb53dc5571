package boards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ggoodman/azdo-boards-mcp/internal/azdo"
	"github.com/ggoodman/azdo-boards-mcp/internal/shape"
	"github.com/ggoodman/azdo-boards-mcp/mcpservice"
)

const noWorkItems = "No work items found"

// Relation reference names for the friendly link kinds.
var linkKinds = map[string]string{
	"parent":     "System.LinkTypes.Hierarchy-Forward",
	"child":      "System.LinkTypes.Hierarchy-Reverse",
	"related":    "System.LinkTypes.Related",
	"duplicate":  "System.LinkTypes.Duplicate-Forward",
	"dependency": "System.LinkTypes.Dependency-Forward",
}

// LinkType maps a friendly link kind to its relation reference name. Other
// values are returned unchanged.
func LinkType(kind string) string {
	if rel, ok := linkKinds[strings.ToLower(strings.TrimSpace(kind))]; ok {
		return rel
	}
	return kind
}

func positive(name string, v int) error {
	if v <= 0 {
		return fmt.Errorf("parameter %q must be a positive integer", name)
	}
	return nil
}

// Comments selects how many comments to include with each work item.
type Comments struct {
	IncludeLatestNComments *int `json:"include_latest_n_comments,omitempty" jsonschema_description:"Include the latest N comments (optional). Set to -1 for all comments."`
}

func (c Comments) validate() error {
	if n := c.IncludeLatestNComments; n != nil && *n < azdo.AllComments {
		return errors.New(`parameter "include_latest_n_comments" must be -1 or greater`)
	}
	return nil
}

func (t *Tools) writeWorkItems(ctx context.Context, w mcpservice.ToolResponseWriter, tool string, items []map[string]any) error {
	if len(items) == 0 {
		return w.AppendText(noWorkItems)
	}
	shape.Simplify(items)
	out, err := shape.WorkItemsCSV(items)
	if err != nil {
		return t.fail(ctx, w, tool, err)
	}
	return w.AppendText(out)
}

// GetWorkItemArgs fetches one work item.
type GetWorkItemArgs struct {
	Scope
	ID int `json:"id" jsonschema_description:"Work item ID"`
	Comments
}

func (a *GetWorkItemArgs) Validate() error {
	if err := positive("id", a.ID); err != nil {
		return err
	}
	return a.Comments.validate()
}

func (t *Tools) getWorkItem() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_get_work_item", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[GetWorkItemArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "get_work_item", slog.Int("id", a.ID))
		item, err := t.client.GetWorkItem(ctx, a.Organization, a.Project, a.ID, a.IncludeLatestNComments)
		if err != nil {
			return t.fail(ctx, w, "get_work_item", err)
		}
		return t.writeWorkItems(ctx, w, "get_work_item", []map[string]any{item})
	}, t.opts("Get work item by ID as CSV")...)
}

// GetWorkItemsArgs fetches several work items.
type GetWorkItemsArgs struct {
	Scope
	IDs []int `json:"ids" jsonschema_description:"Work item IDs (at most 1000 are returned)"`
	Comments
}

func (a *GetWorkItemsArgs) Validate() error {
	for _, id := range a.IDs {
		if err := positive("ids", id); err != nil {
			return err
		}
	}
	return a.Comments.validate()
}

func (t *Tools) getWorkItems() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_get_work_items", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[GetWorkItemsArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "get_work_items", slog.Int("count", len(a.IDs)))
		if len(a.IDs) == 0 {
			return w.AppendText(noWorkItems)
		}
		items, err := t.client.GetWorkItems(ctx, a.Organization, a.Project, a.IDs, a.IncludeLatestNComments)
		if err != nil {
			return t.fail(ctx, w, "get_work_items", err)
		}
		return t.writeWorkItems(ctx, w, "get_work_items", items)
	}, t.opts("Get work items by IDs as CSV")...)
}

// WIQLArgs runs a raw WIQL query.
type WIQLArgs struct {
	Scope
	Query string `json:"query" jsonschema_description:"WIQL query, e.g. SELECT [System.Id] FROM WorkItems WHERE [System.State] = 'Active'"`
	Comments
}

func (a *WIQLArgs) Validate() error { return a.Comments.validate() }

func (t *Tools) queryWorkItemsByWIQL() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_query_work_items_by_wiql", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[WIQLArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "query_work_items_by_wiql", slog.String("query", a.Query))
		items, err := t.client.QueryByWIQL(ctx, a.Organization, a.Project, a.Query, a.IncludeLatestNComments)
		if err != nil {
			return t.fail(ctx, w, "query_work_items_by_wiql", err)
		}
		return t.writeWorkItems(ctx, w, "query_work_items_by_wiql", items)
	}, t.opts("Query work items with WIQL; results as CSV")...)
}

// QueryArgs is a structured work item query.
type QueryArgs struct {
	Scope
	AreaPath         string `json:"area_path,omitempty" jsonschema_description:"Only items under this area path"`
	IterationPath    string `json:"iteration_path,omitempty" jsonschema_description:"Only items under this iteration path"`
	CreatedDateFrom  string `json:"created_date_from,omitempty" jsonschema_description:"Created on or after (YYYY-MM-DD or RFC 3339)"`
	CreatedDateTo    string `json:"created_date_to,omitempty" jsonschema_description:"Created on or before (YYYY-MM-DD or RFC 3339)"`
	ModifiedDateFrom string `json:"modified_date_from,omitempty" jsonschema_description:"Changed on or after (YYYY-MM-DD or RFC 3339)"`
	ModifiedDateTo   string `json:"modified_date_to,omitempty" jsonschema_description:"Changed on or before (YYYY-MM-DD or RFC 3339)"`

	IncludeBoardColumns []string `json:"include_board_column,omitempty" jsonschema_description:"Only items in these board columns"`
	IncludeBoardRows    []string `json:"include_board_row,omitempty" jsonschema_description:"Only items in these board rows"`
	IncludeTypes        []string `json:"include_work_item_type,omitempty" jsonschema_description:"Only items of these types"`
	IncludeStates       []string `json:"include_state,omitempty" jsonschema_description:"Only items in these states"`
	IncludeAssignedTo   []string `json:"include_assigned_to,omitempty" jsonschema_description:"Only items assigned to these users"`
	IncludeTags         []string `json:"include_tags,omitempty" jsonschema_description:"Only items carrying all of these tags"`
	ExcludeBoardColumns []string `json:"exclude_board_column,omitempty" jsonschema_description:"Skip items in these board columns"`
	ExcludeBoardRows    []string `json:"exclude_board_row,omitempty" jsonschema_description:"Skip items in these board rows"`
	ExcludeTypes        []string `json:"exclude_work_item_type,omitempty" jsonschema_description:"Skip items of these types"`
	ExcludeStates       []string `json:"exclude_state,omitempty" jsonschema_description:"Skip items in these states"`
	ExcludeAssignedTo   []string `json:"exclude_assigned_to,omitempty" jsonschema_description:"Skip items assigned to these users"`
	ExcludeTags         []string `json:"exclude_tags,omitempty" jsonschema_description:"Skip items carrying any of these tags"`
	Comments
}

func (a *QueryArgs) Validate() error { return a.Comments.validate() }

// Filter converts the arguments to a WorkItemFilter.
func (a *QueryArgs) Filter() *azdo.WorkItemFilter {
	return &azdo.WorkItemFilter{
		Project:             a.Project,
		AreaPath:            a.AreaPath,
		IterationPath:       a.IterationPath,
		CreatedFrom:         a.CreatedDateFrom,
		CreatedTo:           a.CreatedDateTo,
		ModifiedFrom:        a.ModifiedDateFrom,
		ModifiedTo:          a.ModifiedDateTo,
		IncludeBoardColumns: a.IncludeBoardColumns,
		IncludeBoardRows:    a.IncludeBoardRows,
		IncludeTypes:        a.IncludeTypes,
		IncludeStates:       a.IncludeStates,
		IncludeAssignedTo:   a.IncludeAssignedTo,
		IncludeTags:         a.IncludeTags,
		ExcludeBoardColumns: a.ExcludeBoardColumns,
		ExcludeBoardRows:    a.ExcludeBoardRows,
		ExcludeTypes:        a.ExcludeTypes,
		ExcludeStates:       a.ExcludeStates,
		ExcludeAssignedTo:   a.ExcludeAssignedTo,
		ExcludeTags:         a.ExcludeTags,
	}
}

func (t *Tools) queryWorkItems() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_query_work_items", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[QueryArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		query, err := a.Filter().WIQL()
		if err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "query_work_items", slog.String("query", query))
		items, err := t.client.QueryByWIQL(ctx, a.Organization, a.Project, query, a.IncludeLatestNComments)
		if err != nil {
			return t.fail(ctx, w, "query_work_items", err)
		}
		return t.writeWorkItems(ctx, w, "query_work_items", items)
	}, t.opts("Query work items with include/exclude filters; results as CSV, most recently changed first")...)
}

// WorkItemFields are the optional fields shared by create and update.
type WorkItemFields struct {
	Description        *string  `json:"description,omitempty" jsonschema_description:"Work item description (Basic HTML supported)"`
	AssignedTo         *string  `json:"assigned_to,omitempty" jsonschema_description:"User to assign the work item to (email or display name)"`
	AreaPath           *string  `json:"area_path,omitempty" jsonschema_description:"Area path, e.g. MyProject\\Team1"`
	IterationPath      *string  `json:"iteration_path,omitempty" jsonschema_description:"Iteration path, e.g. MyProject\\Sprint 1; use azdo_get_team_current_iteration to find the current one"`
	State              *string  `json:"state,omitempty" jsonschema_description:"State (New, Active, Resolved, etc.)"`
	BoardColumn        *string  `json:"board_column,omitempty" jsonschema_description:"Board column"`
	BoardRow           *string  `json:"board_row,omitempty" jsonschema_description:"Board row/swimlane"`
	Priority           *int     `json:"priority,omitempty" jsonschema_description:"Priority (1-4, where 1 is highest)"`
	Severity           *string  `json:"severity,omitempty" jsonschema_description:"Severity for bugs"`
	StoryPoints        *float64 `json:"story_points,omitempty" jsonschema_description:"Story points"`
	Effort             *float64 `json:"effort,omitempty" jsonschema_description:"Effort estimate in hours"`
	RemainingWork      *float64 `json:"remaining_work,omitempty" jsonschema_description:"Remaining work in hours"`
	Tags               *string  `json:"tags,omitempty" jsonschema_description:"Semicolon-separated tags"`
	Activity           *string  `json:"activity,omitempty" jsonschema_description:"Activity (Development, Testing, Documentation, etc.)"`
	StartDate          *string  `json:"start_date,omitempty" jsonschema_description:"Start date (YYYY-MM-DD)"`
	TargetDate         *string  `json:"target_date,omitempty" jsonschema_description:"Target/due date (YYYY-MM-DD)"`
	AcceptanceCriteria *string  `json:"acceptance_criteria,omitempty" jsonschema_description:"Acceptance criteria"`
	ReproSteps         *string  `json:"repro_steps,omitempty" jsonschema_description:"Reproduction steps"`
	Fields             string   `json:"fields,omitempty" jsonschema_description:"Extra fields as a JSON object string keyed by reference name, e.g. {\"Custom.Team\":\"Blue\"}"`
}

func (f *WorkItemFields) extra() (map[string]any, error) {
	if strings.TrimSpace(f.Fields) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(f.Fields), &m); err != nil || m == nil {
		return nil, errors.New("invalid JSON in extra fields")
	}
	return m, nil
}

// FieldMap returns the fields keyed by reference name, with the extra
// fields merged over the named ones.
func (f *WorkItemFields) FieldMap() (map[string]any, error) {
	m := map[string]any{}
	set := func(ref string, v any) { m[ref] = v }
	str := func(ref string, v *string) {
		if v != nil {
			set(ref, *v)
		}
	}
	num := func(ref string, v *float64) {
		if v != nil {
			set(ref, *v)
		}
	}

	str("System.Description", f.Description)
	str("System.AssignedTo", f.AssignedTo)
	str("System.AreaPath", f.AreaPath)
	str("System.IterationPath", f.IterationPath)
	str("System.State", f.State)
	str("System.BoardColumn", f.BoardColumn)
	str("System.BoardLane", f.BoardRow)
	if f.Priority != nil {
		set("Microsoft.VSTS.Common.Priority", *f.Priority)
	}
	str("Microsoft.VSTS.Common.Severity", f.Severity)
	num("Microsoft.VSTS.Scheduling.StoryPoints", f.StoryPoints)
	num("Microsoft.VSTS.Scheduling.Effort", f.Effort)
	num("Microsoft.VSTS.Scheduling.RemainingWork", f.RemainingWork)
	str("System.Tags", f.Tags)
	str("Microsoft.VSTS.Common.Activity", f.Activity)
	str("Microsoft.VSTS.Scheduling.StartDate", f.StartDate)
	str("Microsoft.VSTS.Scheduling.TargetDate", f.TargetDate)
	str("Microsoft.VSTS.Common.AcceptanceCriteria", f.AcceptanceCriteria)
	str("Microsoft.VSTS.TCM.ReproSteps", f.ReproSteps)

	extra, err := f.extra()
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		m[k] = v
	}
	return m, nil
}

// CreateWorkItemArgs creates a work item.
type CreateWorkItemArgs struct {
	Scope
	WorkItemType string `json:"work_item_type" jsonschema_description:"Type of work item (User Story, Bug, Task, Feature, Epic, etc.)"`
	Title        string `json:"title" jsonschema_description:"Work item title"`
	ParentID     *int   `json:"parent_id,omitempty" jsonschema_description:"ID of the parent work item"`
	WorkItemFields
}

func (a *CreateWorkItemArgs) Validate() error {
	if a.ParentID != nil {
		if err := positive("parent_id", *a.ParentID); err != nil {
			return err
		}
	}
	_, err := a.extra()
	return err
}

func (t *Tools) createWorkItem() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_create_work_item", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[CreateWorkItemArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		named := map[string]any{"System.Title": a.Title}
		fields, err := a.FieldMap()
		if err != nil {
			return invalid(w, err)
		}
		for k, v := range fields {
			named[k] = v
		}
		t.start(ctx, "create_work_item",
			slog.String("work_item_type", a.WorkItemType),
			slog.String("title", a.Title),
			slog.Int("fields", len(named)),
		)

		item, err := t.client.CreateWorkItem(ctx, a.Organization, a.Project, a.WorkItemType, named)
		if err != nil {
			return t.fail(ctx, w, "create_work_item", err)
		}

		if a.ParentID != nil {
			id, _ := item["id"].(float64)
			t.log.InfoContext(ctx, "tool.create_work_item.link_parent", slog.Int("id", int(id)), slog.Int("parent_id", *a.ParentID))
			linked, err := t.client.LinkWorkItems(ctx, a.Organization, a.Project, int(id), *a.ParentID, linkKinds["child"])
			if err != nil {
				return t.fail(ctx, w, "create_work_item", fmt.Errorf("work item %d created but linking to parent %d failed: %w", int(id), *a.ParentID, err))
			}
			item = linked
		}
		return writeCompact(w, shape.Simplify(item))
	}, t.opts("Create a work item")...)
}

// UpdateWorkItemArgs updates fields of a work item.
type UpdateWorkItemArgs struct {
	Scope
	ID    int     `json:"id" jsonschema_description:"Work item ID"`
	Title *string `json:"title,omitempty" jsonschema_description:"New title"`
	WorkItemFields
}

func (a *UpdateWorkItemArgs) Validate() error {
	if err := positive("id", a.ID); err != nil {
		return err
	}
	_, err := a.extra()
	return err
}

func (t *Tools) updateWorkItem() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_update_work_item", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[UpdateWorkItemArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		fields, err := a.FieldMap()
		if err != nil {
			return invalid(w, err)
		}
		if a.Title != nil {
			if _, ok := fields["System.Title"]; !ok {
				fields["System.Title"] = *a.Title
			}
		}
		if len(fields) == 0 {
			return invalid(w, errors.New("no fields to update"))
		}
		t.start(ctx, "update_work_item", slog.Int("id", a.ID), slog.Int("fields", len(fields)))

		item, err := t.client.UpdateWorkItem(ctx, a.Organization, a.Project, a.ID, fields)
		if err != nil {
			return t.fail(ctx, w, "update_work_item", err)
		}
		return writeCompact(w, shape.Simplify(item))
	}, t.opts("Update a work item")...)
}

// AddCommentArgs posts a comment.
type AddCommentArgs struct {
	Scope
	WorkItemID int    `json:"work_item_id" jsonschema_description:"Work item ID"`
	Text       string `json:"text" jsonschema_description:"Comment text (Basic HTML supported)"`
}

func (a *AddCommentArgs) Validate() error { return positive("work_item_id", a.WorkItemID) }

func (t *Tools) addComment() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_add_comment", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[AddCommentArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "add_comment", slog.Int("work_item_id", a.WorkItemID), slog.Int("text_length", len(a.Text)))
		c, err := t.client.AddComment(ctx, a.Organization, a.Project, a.WorkItemID, a.Text)
		if err != nil {
			return t.fail(ctx, w, "add_comment", err)
		}
		return writeCompact(w, c)
	}, t.opts("Add a comment to a work item")...)
}

// LinkWorkItemsArgs links two work items.
type LinkWorkItemsArgs struct {
	Scope
	SourceID int    `json:"source_id" jsonschema_description:"Work item the link is added to"`
	TargetID int    `json:"target_id" jsonschema_description:"Work item the link points at"`
	LinkType string `json:"link_type" jsonschema_description:"parent, child, related, duplicate, dependency, or a relation reference name"`
}

func (a *LinkWorkItemsArgs) Validate() error {
	if err := positive("source_id", a.SourceID); err != nil {
		return err
	}
	return positive("target_id", a.TargetID)
}

func (t *Tools) linkWorkItems() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_link_work_items", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[LinkWorkItemsArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		rel := LinkType(a.LinkType)
		t.start(ctx, "link_work_items", slog.Int("source_id", a.SourceID), slog.Int("target_id", a.TargetID), slog.String("rel", rel))
		item, err := t.client.LinkWorkItems(ctx, a.Organization, a.Project, a.SourceID, a.TargetID, rel)
		if err != nil {
			return t.fail(ctx, w, "link_work_items", err)
		}
		return writeCompact(w, shape.Simplify(item))
	}, t.opts("Link two work items")...)
}
