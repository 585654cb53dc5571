package shape

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ggoodman/azdo-boards-mcp/internal/azdo"
)

// WorkItemColumns is the preferred column order of WorkItemsCSV.
var WorkItemColumns = []string{
	"id", "Type", "Title", "Description", "Acceptance", "Column", "Lane",
	"Priority", "AssignedTo", "CreatedBy", "CreatedDate", "ChangedBy",
	"ChangedDate", "AreaPath", "Iteration", "Project", "Tags", "StartDate",
	"TargetDate", "Effort", "Risk", "Justification", "ValueArea", "StackRank",
	"History", "relations", "comments",
}

// CSV renders a header and rows.
func CSV(header []string, rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("write csv rows: %w", err)
	}
	return buf.String(), nil
}

// WorkItemsCSV renders simplified work items as CSV. Only columns with a
// value in at least one item are emitted.
func WorkItemsCSV(items []map[string]any) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	var cols []string
	for _, col := range WorkItemColumns {
		for _, it := range items {
			if !isEmpty(it[col]) {
				cols = append(cols, col)
				break
			}
		}
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		row := make([]string, len(cols))
		for i, col := range cols {
			cell, err := cellText(col, it[col])
			if err != nil {
				return "", fmt.Errorf("work item %v column %s: %w", it["id"], col, err)
			}
			row[i] = cell
		}
		rows = append(rows, row)
	}
	return CSV(cols, rows)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	}
	return false
}

func cellText(col string, v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		t = strings.ReplaceAll(t, "\n", `\n`)
		t = strings.ReplaceAll(t, "\t", `\t`)
		return strings.ReplaceAll(t, "\r", ""), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case []any:
		switch col {
		case "comments":
			return Compact(t)
		case "relations":
			parts := make([]string, 0, len(t))
			for _, r := range t {
				parts = append(parts, fmt.Sprint(r))
			}
			return strings.Join(parts, ";"), nil
		}
	}
	return "", nil
}

// BoardColumnsCSV renders board columns with their WIP limits.
func BoardColumnsCSV(cols []azdo.BoardColumn) (string, error) {
	rows := make([][]string, 0, len(cols))
	for _, c := range cols {
		rows = append(rows, []string{c.Name, strconv.Itoa(c.ItemLimit), strconv.FormatBool(c.IsSplit), c.ColumnType})
	}
	return CSV([]string{"name", "item_limit", "is_split", "column_type"}, rows)
}

// Records renders rows without a header.
func Records(rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("write csv rows: %w", err)
	}
	return buf.String(), nil
}
