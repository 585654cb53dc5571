package boards

import (
	"context"
	"log/slog"

	"github.com/ggoodman/azdo-boards-mcp/internal/shape"
	"github.com/ggoodman/azdo-boards-mcp/mcpservice"
)

// BoardArgs selects a team board.
type BoardArgs struct {
	Scope
	TeamID  string `json:"team_id" jsonschema_description:"Team ID or name"`
	BoardID string `json:"board_id" jsonschema_description:"Board ID or name"`
}

func (t *Tools) listTeamBoards() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_list_team_boards", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[TeamArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "list_team_boards", slog.String("team_id", a.TeamID))
		names, err := t.client.ListBoards(ctx, a.Organization, a.Project, a.TeamID)
		if err != nil {
			return t.fail(ctx, w, "list_team_boards", err)
		}
		return writeNames(w, names)
	}, t.opts("List boards of a team")...)
}

func (t *Tools) getTeamBoard() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_get_team_board", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[BoardArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "get_team_board", slog.String("team_id", a.TeamID), slog.String("board_id", a.BoardID))
		board, err := t.client.GetBoard(ctx, a.Organization, a.Project, a.TeamID, a.BoardID)
		if err != nil {
			return t.fail(ctx, w, "get_team_board", err)
		}
		return writeCompact(w, shape.Simplify(board))
	}, t.opts("Get a team board with its columns and rows")...)
}

func (t *Tools) listBoardColumns() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_list_board_columns", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[BoardArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "list_board_columns", slog.String("team_id", a.TeamID), slog.String("board_id", a.BoardID))
		cols, err := t.client.ListBoardColumns(ctx, a.Organization, a.Project, a.TeamID, a.BoardID)
		if err != nil {
			return t.fail(ctx, w, "list_board_columns", err)
		}
		out, err := shape.BoardColumnsCSV(cols)
		if err != nil {
			return t.fail(ctx, w, "list_board_columns", err)
		}
		return w.AppendText(out)
	}, t.opts("List board columns as CSV: name,item_limit,is_split,column_type")...)
}

func (t *Tools) listBoardRows() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_list_board_rows", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[BoardArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "list_board_rows", slog.String("team_id", a.TeamID), slog.String("board_id", a.BoardID))
		names, err := t.client.ListBoardRows(ctx, a.Organization, a.Project, a.TeamID, a.BoardID)
		if err != nil {
			return t.fail(ctx, w, "list_board_rows", err)
		}
		return writeNames(w, names)
	}, t.opts("List board rows (swimlanes); the default lane has an empty name")...)
}
