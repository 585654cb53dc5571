// Package azdotest provides an in-memory Azure DevOps REST server for tests.
// It stores work items, comments, relations and attachments, evaluates the
// subset of WIQL produced by azdo.WorkItemFilter, and serves fixed fixtures
// for teams, boards, iterations and classification nodes.
package azdotest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Team is a team fixture.
type Team struct {
	ID         string
	Name       string
	Members    []Member
	Boards     []Board
	Iterations []Iteration
}

// Member is a team member fixture.
type Member struct {
	DisplayName string
	UniqueName  string
}

// Board is a board fixture.
type Board struct {
	ID      string
	Name    string
	Columns []Column
	Rows    []string
}

// Column is a board column fixture.
type Column struct {
	Name       string
	ItemLimit  int
	IsSplit    bool
	ColumnType string
}

// Iteration is a team iteration fixture.
type Iteration struct {
	Name       string
	Path       string
	TimeFrame  string
	StartDate  string
	FinishDate string
}

// Node is a classification node fixture.
type Node struct {
	Name     string
	Children []*Node
}

type comment struct {
	ID          int
	Text        string
	CreatedDate string
}

type workItem struct {
	ID        int
	Rev       int
	Fields    map[string]any
	Relations []map[string]any
	Comments  []comment
}

// Server is a fake Azure DevOps organization with a single project.
type Server struct {
	*httptest.Server

	Org     string
	Project string

	Projects      []string
	Teams         []Team
	WorkItemTypes []string
	Tags          []string
	Areas         *Node
	IterationTree *Node
	ProfileID     string
	DisplayName   string
	Email         string
	Accounts      []string

	// CommentPageSize bounds comments per page; more pages are linked with
	// x-ms-continuationtoken.
	CommentPageSize int

	mu          sync.Mutex
	nextID      int
	nextComment int
	items       map[int]*workItem
	attachments map[string][]byte
	requests    []string
	failures    []failure
	clock       time.Time
}

type failure struct {
	status     int
	retryAfter string
}

// UserName and UserEmail identify the user every write is attributed to.
const (
	UserName  = "Test User"
	UserEmail = "test.user@example.com"
)

// New starts a server for org/project and registers cleanup on t.
func New(t testing.TB, org, project string) *Server {
	s := &Server{
		Org:           org,
		Project:       project,
		Projects:      []string{project, "Other"},
		WorkItemTypes: []string{"Bug", "Task", "User Story", "Feature", "Epic"},
		Tags:          []string{"backend", "frontend"},
		Areas: &Node{Name: project, Children: []*Node{
			{Name: "Platform", Children: []*Node{{Name: "API"}}},
			{Name: "Web"},
		}},
		IterationTree: &Node{Name: project, Children: []*Node{
			{Name: "Sprint 1"}, {Name: "Sprint 2"},
		}},
		ProfileID:   "11111111-2222-3333-4444-555555555555",
		DisplayName: UserName,
		Email:       UserEmail,
		Accounts:    []string{org, "fabrikam"},
		Teams: []Team{{
			ID:   "team-1",
			Name: project + " Team",
			Members: []Member{
				{DisplayName: UserName, UniqueName: UserEmail},
				{DisplayName: "Jane Doe", UniqueName: "jane@example.com"},
			},
			Boards: []Board{{
				ID:   "board-1",
				Name: "Stories",
				Columns: []Column{
					{Name: "New", ColumnType: "incoming"},
					{Name: "Active", ItemLimit: 5, IsSplit: true, ColumnType: "inProgress"},
					{Name: "Closed", ColumnType: "outgoing"},
				},
				Rows: []string{"", "Expedite"},
			}},
			Iterations: []Iteration{
				{Name: "Sprint 1", Path: project + `\Sprint 1`, TimeFrame: "past", StartDate: "2024-01-01T00:00:00Z", FinishDate: "2024-01-14T00:00:00Z"},
				{Name: "Sprint 2", Path: project + `\Sprint 2`, TimeFrame: "current", StartDate: "2024-01-15T00:00:00Z", FinishDate: "2024-01-28T00:00:00Z"},
				{Name: "Sprint 3", Path: project + `\Sprint 3`, TimeFrame: "future"},
			},
		}},
		CommentPageSize: 200,
		nextID:          1,
		nextComment:     1,
		items:           make(map[int]*workItem),
		attachments:     make(map[string][]byte),
		clock:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// FailNext makes the next n requests fail with status. A non-empty
// retryAfter is sent as the Retry-After header.
func (s *Server) FailNext(n, status int, retryAfter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		s.failures = append(s.failures, failure{status: status, retryAfter: retryAfter})
	}
}

// Requests returns "METHOD /path" for every request received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Fields returns a copy of a stored work item's fields.
func (s *Server) Fields(id int) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	wi, ok := s.items[id]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(wi.Fields))
	for k, v := range wi.Fields {
		out[k] = v
	}
	return out
}

// Seed stores n work items of typ directly, titled "<typ> <i>", and returns
// their ids in creation order.
func (s *Server) Seed(typ string, n int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, n)
	for i := range n {
		wi := s.newWorkItem(typ)
		wi.Fields["System.Title"] = fmt.Sprintf("%s %d", typ, i+1)
		s.items[wi.ID] = wi
		ids = append(ids, wi.ID)
		s.nextID++
	}
	return ids
}

// AttachmentIDs returns the ids of every stored attachment.
func (s *Server) AttachmentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.attachments))
	for id := range s.attachments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typeKey, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"$id":     "1",
		"message": fmt.Sprintf(format, args...),
		"typeKey": typeKey,
	})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, r.Method+" "+r.URL.Path)

	if len(s.failures) > 0 {
		f := s.failures[0]
		s.failures = s.failures[1:]
		if f.retryAfter != "" {
			w.Header().Set("Retry-After", f.retryAfter)
		}
		writeError(w, f.status, "InjectedFailure", "injected failure %d", f.status)
		return
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeError(w, http.StatusUnauthorized, "UnauthorizedRequestException", "missing bearer token")
		return
	}
	if r.URL.Query().Get("api-version") == "" {
		writeError(w, http.StatusBadRequest, "VssVersionNotSpecifiedException", "no api-version was supplied")
		return
	}

	prefix, rest, ok := strings.Cut(r.URL.EscapedPath(), "/_apis/")
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "no route for %s", r.URL.Path)
		return
	}
	scope := splitUnescape(prefix)
	parts := splitUnescape(rest)

	switch len(scope) {
	case 0:
		s.serveProfile(w, r, parts)
	case 1:
		s.serveOrg(w, r, scope[0], parts)
	case 2:
		s.serveProject(w, r, scope[0], scope[1], parts)
	case 3:
		s.serveTeam(w, r, scope[0], scope[1], scope[2], parts)
	default:
		writeError(w, http.StatusNotFound, "NotFound", "no route for %s", r.URL.Path)
	}
}

func splitUnescape(p string) []string {
	var out []string
	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		if seg == "" {
			continue
		}
		if u, err := unescape(seg); err == nil {
			seg = u
		}
		out = append(out, seg)
	}
	return out
}

func route(parts []string, pattern ...string) bool {
	if len(parts) != len(pattern) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && !strings.EqualFold(p, parts[i]) {
			return false
		}
	}
	return true
}

func (s *Server) serveProfile(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case r.Method == http.MethodGet && route(parts, "profile", "profiles", "me"):
		writeJSON(w, http.StatusOK, map[string]any{
			"id":           s.ProfileID,
			"displayName":  s.DisplayName,
			"emailAddress": s.Email,
			"publicAlias":  s.ProfileID,
		})
	case r.Method == http.MethodGet && route(parts, "accounts"):
		if r.URL.Query().Get("memberId") != s.ProfileID {
			writeJSON(w, http.StatusOK, list(nil))
			return
		}
		var out []any
		for _, a := range s.Accounts {
			out = append(out, map[string]any{"accountId": uuid.NewString(), "accountName": a, "accountUri": "https://vssps.example/" + a})
		}
		writeJSON(w, http.StatusOK, list(out))
	default:
		writeError(w, http.StatusNotFound, "NotFound", "no route for %s", r.URL.Path)
	}
}

func list(v []any) map[string]any {
	if v == nil {
		v = []any{}
	}
	return map[string]any{"count": len(v), "value": v}
}

func (s *Server) checkOrg(w http.ResponseWriter, org string) bool {
	if !strings.EqualFold(org, s.Org) {
		writeError(w, http.StatusNotFound, "AccountNotFoundException", "organization %s not found", org)
		return false
	}
	return true
}

func (s *Server) checkProject(w http.ResponseWriter, org, project string) bool {
	if !s.checkOrg(w, org) {
		return false
	}
	if !strings.EqualFold(project, s.Project) {
		writeError(w, http.StatusNotFound, "ProjectDoesNotExistWithNameException", "TF200016: The following project does not exist: %s.", project)
		return false
	}
	return true
}

func (s *Server) findTeam(team string) *Team {
	for i := range s.Teams {
		if strings.EqualFold(s.Teams[i].Name, team) || strings.EqualFold(s.Teams[i].ID, team) {
			return &s.Teams[i]
		}
	}
	return nil
}

func (s *Server) serveOrg(w http.ResponseWriter, r *http.Request, org string, parts []string) {
	if !s.checkOrg(w, org) {
		return
	}
	if r.Method == http.MethodGet && route(parts, "projects") {
		var out []any
		for _, p := range s.Projects {
			out = append(out, map[string]any{"id": uuid.NewString(), "name": p, "state": "wellFormed", "url": s.URL + "/" + org + "/_apis/projects/" + p})
		}
		writeJSON(w, http.StatusOK, list(out))
		return
	}
	if len(parts) < 3 || !route(parts[:1], "projects") || !strings.EqualFold(parts[2], "teams") || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NotFound", "no route for %s", r.URL.Path)
		return
	}
	if !s.checkProject(w, org, parts[1]) {
		return
	}
	switch len(parts) {
	case 3:
		var out []any
		for _, t := range s.Teams {
			out = append(out, s.teamJSON(org, &t))
		}
		writeJSON(w, http.StatusOK, list(out))
	case 4, 5:
		t := s.findTeam(parts[3])
		if t == nil {
			writeError(w, http.StatusNotFound, "TeamNotFoundException", "team %s not found", parts[3])
			return
		}
		if len(parts) == 4 {
			writeJSON(w, http.StatusOK, s.teamJSON(org, t))
			return
		}
		var out []any
		for _, m := range t.Members {
			out = append(out, map[string]any{"identity": map[string]any{"id": uuid.NewString(), "displayName": m.DisplayName, "uniqueName": m.UniqueName, "url": s.URL + "/identities"}})
		}
		writeJSON(w, http.StatusOK, list(out))
	default:
		writeError(w, http.StatusNotFound, "NotFound", "no route for %s", r.URL.Path)
	}
}

func (s *Server) teamJSON(org string, t *Team) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"name":        t.Name,
		"description": "The default project team.",
		"url":         s.URL + "/" + org + "/_apis/projects/" + s.Project + "/teams/" + t.ID,
		"identityUrl": s.URL + "/identities/" + t.ID,
		"projectName": s.Project,
	}
}

func (s *Server) serveTeam(w http.ResponseWriter, r *http.Request, org, project, team string, parts []string) {
	if !s.checkProject(w, org, project) {
		return
	}
	t := s.findTeam(team)
	if t == nil {
		writeError(w, http.StatusNotFound, "TeamNotFoundException", "team %s not found", team)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "NotSupported", "method not allowed")
		return
	}

	switch {
	case route(parts, "work", "teamsettings", "iterations"):
		tf := r.URL.Query().Get("$timeframe")
		var out []any
		for _, it := range t.Iterations {
			if tf != "" && !strings.EqualFold(tf, it.TimeFrame) {
				continue
			}
			attrs := map[string]any{"timeFrame": it.TimeFrame}
			if it.StartDate != "" {
				attrs["startDate"] = it.StartDate
				attrs["finishDate"] = it.FinishDate
			}
			out = append(out, map[string]any{"id": uuid.NewString(), "name": it.Name, "path": it.Path, "attributes": attrs, "url": s.URL + "/iterations"})
		}
		if tf == "current" && len(out) == 0 {
			writeError(w, http.StatusNotFound, "CurrentIterationDoesNotExistException", "The current iteration does not exist.")
			return
		}
		writeJSON(w, http.StatusOK, list(out))
	case route(parts, "work", "boards"):
		var out []any
		for _, b := range t.Boards {
			out = append(out, map[string]any{"id": b.ID, "name": b.Name, "url": s.URL + "/boards/" + b.ID})
		}
		writeJSON(w, http.StatusOK, list(out))
	case len(parts) >= 3 && route(parts[:2], "work", "boards"):
		var b *Board
		for i := range t.Boards {
			if strings.EqualFold(t.Boards[i].ID, parts[2]) || strings.EqualFold(t.Boards[i].Name, parts[2]) {
				b = &t.Boards[i]
			}
		}
		if b == nil {
			writeError(w, http.StatusNotFound, "BoardDoesNotExistException", "board %s does not exist", parts[2])
			return
		}
		switch {
		case len(parts) == 3:
			writeJSON(w, http.StatusOK, map[string]any{
				"id": b.ID, "name": b.Name, "url": s.URL + "/boards/" + b.ID,
				"columns": columnsJSON(b.Columns), "rows": rowsJSON(b.Rows),
				"isValid": true, "canEdit": true,
				"_links": map[string]any{"self": map[string]any{"href": s.URL + "/boards/" + b.ID}},
			})
		case route(parts[3:], "columns"):
			writeJSON(w, http.StatusOK, list(columnsJSON(b.Columns)))
		case route(parts[3:], "rows"):
			writeJSON(w, http.StatusOK, list(rowsJSON(b.Rows)))
		default:
			writeError(w, http.StatusNotFound, "NotFound", "no route for %s", r.URL.Path)
		}
	default:
		writeError(w, http.StatusNotFound, "NotFound", "no route for %s", r.URL.Path)
	}
}

func columnsJSON(cols []Column) []any {
	var out []any
	for i, c := range cols {
		out = append(out, map[string]any{
			"id": strconv.Itoa(i + 1), "name": c.Name, "itemLimit": c.ItemLimit,
			"isSplit": c.IsSplit, "columnType": c.ColumnType, "stateMappings": map[string]any{},
		})
	}
	return out
}

func rowsJSON(rows []string) []any {
	var out []any
	for i, name := range rows {
		row := map[string]any{"id": strconv.Itoa(i + 1)}
		if name == "" {
			row["name"] = nil
		} else {
			row["name"] = name
		}
		out = append(out, row)
	}
	return out
}

func (s *Server) serveProject(w http.ResponseWriter, r *http.Request, org, project string, parts []string) {
	if !s.checkProject(w, org, project) {
		return
	}
	switch {
	case r.Method == http.MethodGet && route(parts, "wit", "workitemtypes"):
		var out []any
		for _, n := range s.WorkItemTypes {
			out = append(out, map[string]any{"name": n, "referenceName": "Microsoft.VSTS.WorkItemTypes." + strings.ReplaceAll(n, " ", "")})
		}
		writeJSON(w, http.StatusOK, list(out))
	case r.Method == http.MethodGet && route(parts, "wit", "tags"):
		var out []any
		for _, n := range s.Tags {
			out = append(out, map[string]any{"id": uuid.NewString(), "name": n})
		}
		writeJSON(w, http.StatusOK, list(out))
	case r.Method == http.MethodGet && len(parts) >= 3 && route(parts[:2], "wit", "classificationnodes"):
		s.serveClassification(w, r, parts[2], parts[3:])
	case r.Method == http.MethodGet && route(parts, "wit", "workitems"):
		s.getWorkItems(w, r)
	case r.Method == http.MethodPost && len(parts) == 3 && route(parts[:2], "wit", "workitems") && strings.HasPrefix(parts[2], "$"):
		s.createWorkItem(w, r, strings.TrimPrefix(parts[2], "$"))
	case r.Method == http.MethodPatch && route(parts, "wit", "workitems", "*"):
		s.updateWorkItem(w, r, parts[2])
	case route(parts, "wit", "workitems", "*", "comments"):
		s.serveComments(w, r, parts[2])
	case r.Method == http.MethodPost && route(parts, "wit", "wiql"):
		s.runWIQL(w, r)
	case r.Method == http.MethodPost && route(parts, "wit", "attachments"):
		s.uploadAttachment(w, r)
	case r.Method == http.MethodGet && route(parts, "wit", "attachments", "*"):
		b, ok := s.attachments[parts[2]]
		if !ok {
			writeError(w, http.StatusNotFound, "AttachmentNotFoundException", "attachment %s not found", parts[2])
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(b)
	default:
		writeError(w, http.StatusNotFound, "NotFound", "no route for %s %s", r.Method, r.URL.Path)
	}
}

func (s *Server) serveClassification(w http.ResponseWriter, r *http.Request, group string, path []string) {
	var root *Node
	var structure string
	switch strings.ToLower(group) {
	case "areas":
		root, structure = s.Areas, "Area"
	case "iterations":
		root, structure = s.IterationTree, "Iteration"
	default:
		writeError(w, http.StatusBadRequest, "InvalidStructureType", "unknown structure group %s", group)
		return
	}
	node, nodePath := root, `\`+s.Project+`\`+structure
	for _, seg := range path {
		var next *Node
		for _, ch := range node.Children {
			if strings.EqualFold(ch.Name, seg) {
				next = ch
			}
		}
		if next == nil {
			writeError(w, http.StatusNotFound, "WorkItemTrackingTreeNodeNotFoundException", "node %s not found", seg)
			return
		}
		node, nodePath = next, nodePath+`\`+next.Name
	}
	depth, _ := strconv.Atoi(r.URL.Query().Get("$depth"))
	writeJSON(w, http.StatusOK, nodeJSON(node, nodePath, depth))
}

func nodeJSON(n *Node, path string, depth int) map[string]any {
	out := map[string]any{"id": len(path), "identifier": uuid.NewString(), "name": n.Name, "path": path, "hasChildren": len(n.Children) > 0}
	if depth > 0 && len(n.Children) > 0 {
		var children []any
		for _, ch := range n.Children {
			children = append(children, nodeJSON(ch, path+`\`+ch.Name, depth-1))
		}
		out["children"] = children
	}
	return out
}

func identity(name, email string) map[string]any {
	return map[string]any{
		"displayName": name,
		"uniqueName":  email,
		"id":          uuid.NewString(),
		"url":         "https://vssps.example/identities",
		"imageUrl":    "https://vssps.example/avatar",
		"descriptor":  "aad.x",
		"_links":      map[string]any{"avatar": map[string]any{"href": "https://vssps.example/avatar"}},
	}
}

func (s *Server) now() string {
	s.clock = s.clock.Add(time.Minute)
	return s.clock.Format(time.RFC3339)
}

func (s *Server) itemJSON(wi *workItem) map[string]any {
	fields := make(map[string]any, len(wi.Fields))
	for k, v := range wi.Fields {
		fields[k] = v
	}
	out := map[string]any{
		"id":     wi.ID,
		"rev":    wi.Rev,
		"fields": fields,
		"url":    fmt.Sprintf("%s/%s/%s/_apis/wit/workItems/%d", s.URL, s.Org, s.Project, wi.ID),
		"_links": map[string]any{"self": map[string]any{"href": fmt.Sprintf("%s/_apis/wit/workItems/%d", s.URL, wi.ID)}},
	}
	if len(wi.Relations) > 0 {
		rels := make([]any, len(wi.Relations))
		for i, r := range wi.Relations {
			rels[i] = r
		}
		out["relations"] = rels
	}
	return out
}

// maxBatchIDs is the most ids the service accepts in one batch read.
const maxBatchIDs = 200

func (s *Server) getWorkItems(w http.ResponseWriter, r *http.Request) {
	ids := strings.Split(r.URL.Query().Get("ids"), ",")
	if len(ids) > maxBatchIDs {
		writeError(w, http.StatusBadRequest, "ArgumentException", "VS402337: The number of work items requested exceeds the limit of %d.", maxBatchIDs)
		return
	}
	var out []any
	for _, raw := range ids {
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			writeError(w, http.StatusBadRequest, "ArgumentException", "invalid id %q", raw)
			return
		}
		wi, ok := s.items[id]
		if !ok {
			writeError(w, http.StatusNotFound, "WorkItemUnauthorizedAccessException", "TF401232: Work item %d does not exist, or you do not have permissions to read it.", id)
			return
		}
		item := s.itemJSON(wi)
		if r.URL.Query().Get("$expand") == "" {
			delete(item, "relations")
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, list(out))
}

type patchOp struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

func decodePatch(w http.ResponseWriter, r *http.Request) ([]patchOp, bool) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json-patch+json") {
		writeError(w, http.StatusUnsupportedMediaType, "UnsupportedMediaType", "expected application/json-patch+json, got %q", ct)
		return nil, false
	}
	var ops []patchOp
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidPatch", "invalid patch document: %v", err)
		return nil, false
	}
	return ops, true
}

var identityFields = map[string]bool{"System.AssignedTo": true, "System.CreatedBy": true, "System.ChangedBy": true}

func (s *Server) applyOps(w http.ResponseWriter, wi *workItem, ops []patchOp) bool {
	for _, op := range ops {
		if op.Op != "add" && op.Op != "replace" {
			writeError(w, http.StatusBadRequest, "InvalidPatch", "unsupported op %q", op.Op)
			return false
		}
		switch {
		case strings.HasPrefix(op.Path, "/fields/"):
			var v any
			if err := json.Unmarshal(op.Value, &v); err != nil {
				writeError(w, http.StatusBadRequest, "InvalidPatch", "invalid value for %s", op.Path)
				return false
			}
			name := strings.TrimPrefix(op.Path, "/fields/")
			if str, ok := v.(string); ok && identityFields[name] {
				v = identity(str, str)
			}
			wi.Fields[name] = v
		case op.Path == "/relations/-":
			var rel map[string]any
			if err := json.Unmarshal(op.Value, &rel); err != nil || rel["rel"] == nil || rel["url"] == nil {
				writeError(w, http.StatusBadRequest, "InvalidPatch", "invalid relation")
				return false
			}
			if strings.HasPrefix(fmt.Sprint(rel["rel"]), "System.LinkTypes.") {
				target, err := strconv.Atoi(lastSegment(fmt.Sprint(rel["url"])))
				if _, ok := s.items[target]; err != nil || !ok {
					writeError(w, http.StatusBadRequest, "WorkItemLinkInvalidException", "link target %v does not exist", rel["url"])
					return false
				}
			}
			if _, ok := rel["attributes"]; !ok {
				rel["attributes"] = map[string]any{"isLocked": false}
			}
			wi.Relations = append(wi.Relations, rel)
		default:
			writeError(w, http.StatusBadRequest, "InvalidPatch", "unsupported path %q", op.Path)
			return false
		}
	}
	return true
}

func lastSegment(u string) string {
	u = strings.TrimRight(u, "/")
	return u[strings.LastIndex(u, "/")+1:]
}

func (s *Server) newWorkItem(typ string) *workItem {
	now := s.now()
	return &workItem{ID: s.nextID, Rev: 1, Fields: map[string]any{
		"System.Id":            s.nextID,
		"System.WorkItemType":  typ,
		"System.TeamProject":   s.Project,
		"System.AreaPath":      s.Project,
		"System.IterationPath": s.Project,
		"System.State":         "New",
		"System.Reason":        "New",
		"System.CreatedDate":   now,
		"System.ChangedDate":   now,
		"System.CreatedBy":     identity(UserName, UserEmail),
		"System.ChangedBy":     identity(UserName, UserEmail),
		"System.CommentCount":  0,
	}}
}

func (s *Server) createWorkItem(w http.ResponseWriter, r *http.Request, typ string) {
	known := false
	for _, t := range s.WorkItemTypes {
		if strings.EqualFold(t, typ) {
			typ, known = t, true
		}
	}
	if !known {
		writeError(w, http.StatusNotFound, "WorkItemTypeNotFoundException", "TF51535: Cannot find work item type %s.", typ)
		return
	}
	ops, ok := decodePatch(w, r)
	if !ok {
		return
	}
	wi := s.newWorkItem(typ)
	if !s.applyOps(w, wi, ops) {
		return
	}
	if title, _ := wi.Fields["System.Title"].(string); strings.TrimSpace(title) == "" {
		writeError(w, http.StatusBadRequest, "RuleValidationException", "TF401320: Rule Error for field Title. Error code: Required.")
		return
	}
	s.nextID++
	s.items[wi.ID] = wi
	writeJSON(w, http.StatusOK, s.itemJSON(wi))
}

func (s *Server) lookup(w http.ResponseWriter, rawID string) *workItem {
	id, err := strconv.Atoi(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ArgumentException", "invalid id %q", rawID)
		return nil
	}
	wi, ok := s.items[id]
	if !ok {
		writeError(w, http.StatusNotFound, "WorkItemUnauthorizedAccessException", "TF401232: Work item %d does not exist, or you do not have permissions to read it.", id)
		return nil
	}
	return wi
}

func (s *Server) updateWorkItem(w http.ResponseWriter, r *http.Request, rawID string) {
	wi := s.lookup(w, rawID)
	if wi == nil {
		return
	}
	ops, ok := decodePatch(w, r)
	if !ok {
		return
	}
	staged := &workItem{ID: wi.ID, Rev: wi.Rev, Fields: make(map[string]any, len(wi.Fields)), Relations: append([]map[string]any(nil), wi.Relations...), Comments: wi.Comments}
	for k, v := range wi.Fields {
		staged.Fields[k] = v
	}
	if !s.applyOps(w, staged, ops) {
		return
	}
	staged.Rev++
	staged.Fields["System.ChangedDate"] = s.now()
	s.items[wi.ID] = staged
	writeJSON(w, http.StatusOK, s.itemJSON(staged))
}

func (s *Server) serveComments(w http.ResponseWriter, r *http.Request, rawID string) {
	wi := s.lookup(w, rawID)
	if wi == nil {
		return
	}
	if !strings.HasPrefix(r.URL.Query().Get("api-version"), "7.1-preview") {
		writeError(w, http.StatusBadRequest, "VssInvalidPreviewVersionException", "comments require a preview api-version")
		return
	}

	switch r.Method {
	case http.MethodPost:
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
			writeError(w, http.StatusBadRequest, "ArgumentException", "comment text is required")
			return
		}
		c := comment{ID: s.nextComment, Text: body.Text, CreatedDate: s.now()}
		s.nextComment++
		wi.Comments = append(wi.Comments, c)
		wi.Fields["System.CommentCount"] = len(wi.Comments)
		writeJSON(w, http.StatusOK, s.commentJSON(wi.ID, c))
	case http.MethodGet:
		offset, _ := strconv.Atoi(r.URL.Query().Get("continuationToken"))
		size := s.CommentPageSize
		if top, err := strconv.Atoi(r.URL.Query().Get("$top")); err == nil && top > 0 && top < size {
			size = top
		}
		// Newest first.
		all := make([]comment, len(wi.Comments))
		for i, c := range wi.Comments {
			all[len(all)-1-i] = c
		}
		var page []any
		end := min(offset+size, len(all))
		for _, c := range all[min(offset, len(all)):end] {
			page = append(page, s.commentJSON(wi.ID, c))
		}
		if end < len(all) {
			w.Header().Set("x-ms-continuationtoken", strconv.Itoa(end))
		}
		if page == nil {
			page = []any{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"totalCount": len(all), "count": len(page), "comments": page})
	default:
		writeError(w, http.StatusMethodNotAllowed, "NotSupported", "method not allowed")
	}
}

func (s *Server) commentJSON(itemID int, c comment) map[string]any {
	return map[string]any{
		"workItemId":  itemID,
		"id":          c.ID,
		"version":     1,
		"text":        c.Text,
		"createdDate": c.CreatedDate,
		"createdBy":   identity(UserName, UserEmail),
		"url":         fmt.Sprintf("%s/_apis/wit/workItems/%d/comments/%d", s.URL, itemID, c.ID),
	}
}

func (s *Server) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "application/octet-stream" {
		writeError(w, http.StatusUnsupportedMediaType, "UnsupportedMediaType", "expected application/octet-stream, got %q", ct)
		return
	}
	name := r.URL.Query().Get("fileName")
	if name == "" {
		writeError(w, http.StatusBadRequest, "ArgumentException", "fileName is required")
		return
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ArgumentException", "read body: %v", err)
		return
	}
	id := uuid.NewString()
	s.attachments[id] = b
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":  id,
		"url": fmt.Sprintf("%s/%s/%s/_apis/wit/attachments/%s?fileName=%s", s.URL, s.Org, s.Project, id, name),
	})
}

func (s *Server) runWIQL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == "" {
		writeError(w, http.StatusBadRequest, "ArgumentException", "query is required")
		return
	}
	conds, err := parseWIQL(body.Query)
	if err != nil {
		writeError(w, http.StatusBadRequest, "WiqlSyntaxException", "TF51005: %v", err)
		return
	}

	var matched []*workItem
	for _, wi := range s.items {
		ok := true
		for _, c := range conds {
			if !c.match(wi) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, wi)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		ci, cj := fmt.Sprint(matched[i].Fields["System.ChangedDate"]), fmt.Sprint(matched[j].Fields["System.ChangedDate"])
		if ci != cj {
			return ci > cj
		}
		return matched[i].ID > matched[j].ID
	})

	refs := []any{}
	for _, wi := range matched {
		refs = append(refs, map[string]any{"id": wi.ID, "url": fmt.Sprintf("%s/_apis/wit/workItems/%d", s.URL, wi.ID)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queryType":       "flat",
		"queryResultType": "workItem",
		"asOf":            s.clock.Format(time.RFC3339),
		"workItems":       refs,
	})
}
