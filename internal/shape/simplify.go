// Package shape turns raw Azure DevOps JSON into compact text for LLM
// consumers: simplified work item objects, CSV tables and compact JSON.
package shape

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

var droppedKeys = []string{"url", "_links", "descriptor", "imageUrl", "avatar"}

var fieldPrefixes = []string{
	"System.",
	"Microsoft.VSTS.Common.",
	"Microsoft.VSTS.Scheduling.",
	"Microsoft.VSTS.CMMI.",
}

var skippedFields = map[string]bool{
	"ActivatedBy":     true,
	"ActivatedDate":   true,
	"BoardColumnDone": true,
	"ClosedBy":        true,
	"ClosedDate":      true,
	"Column.Done":     true,
	"CommentCount":    true,
	"Reason":          true,
	"ResolvedBy":      true,
	"ResolvedDate":    true,
	"State":           true,
	"StateChangeDate": true,
}

var renamedFields = map[string]string{
	"BoardColumn":        "Column",
	"BoardLane":          "Lane",
	"AcceptanceCriteria": "Acceptance",
	"TeamProject":        "Project",
	"WorkItemType":       "Type",
	"IterationPath":      "Iteration",
}

var htmlFields = map[string]bool{"Acceptance": true, "Description": true, "Justification": true}

// Simplify rewrites v in place and returns it. Work item "fields" are
// flattened into their parent under short names, identities become
// "Name <unique>", relations become "<rel>:<target>" strings, and link
// noise (url, _links, avatars) is removed at every depth.
func Simplify(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if rels, ok := t["relations"].([]any); ok {
			t["relations"] = simplifyRelations(rels)
		}
		for _, k := range droppedKeys {
			delete(t, k)
		}
		if fields, ok := t["fields"].(map[string]any); ok {
			delete(t, "fields")
			for k, fv := range simplifyFields(fields) {
				t[k] = fv
			}
		}
		for k, child := range t {
			t[k] = Simplify(child)
		}
		return t
	case []any:
		for i := range t {
			t[i] = Simplify(t[i])
		}
		return t
	case []map[string]any:
		for _, m := range t {
			Simplify(m)
		}
		return t
	default:
		return v
	}
}

func fieldName(key string) string {
	for _, p := range fieldPrefixes {
		if rest, ok := strings.CutPrefix(key, p); ok {
			return rest
		}
	}
	switch {
	case strings.Contains(key, "_Kanban.Column"):
		return "Column"
	case strings.Contains(key, "_Kanban.Lane"):
		return "Lane"
	}
	return key
}

func simplifyFields(fields map[string]any) map[string]any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(keys))
	for _, key := range keys {
		name := fieldName(key)
		if skippedFields[name] {
			continue
		}
		if r, ok := renamedFields[name]; ok {
			name = r
		}
		if _, seen := out[name]; seen {
			continue
		}

		val := fields[key]
		if id, ok := identityString(val); ok {
			val = id
		}
		if s, ok := val.(string); ok {
			switch {
			case htmlFields[name]:
				val = HTMLToText(s)
			case name == "Tags":
				val = strings.ReplaceAll(s, "; ", ";")
			case name == "Type" && s != "":
				val = string([]rune(s)[:1])
			}
		}
		out[name] = val
	}
	return out
}

func identityString(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	name, ok := m["displayName"].(string)
	if !ok {
		return "", false
	}
	if unique, _ := m["uniqueName"].(string); unique != "" {
		return name + " <" + unique + ">", true
	}
	return name, true
}

func simplifyRelations(rels []any) []any {
	out := make([]any, 0, len(rels))
	for _, r := range rels {
		m, ok := r.(map[string]any)
		if !ok {
			out = append(out, r)
			continue
		}
		rel, _ := m["rel"].(string)
		target, _ := m["url"].(string)
		out = append(out, strings.TrimPrefix(rel, "System.LinkTypes.")+":"+lastSegment(target))
	}
	return out
}

func lastSegment(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimRight(u, "/")
	return u[strings.LastIndex(u, "/")+1:]
}

// Compact renders v as single-line JSON without HTML escaping.
func Compact(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
