package azdo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const (
	maxWorkItems       = 1000
	workItemBatchSize  = 200
	commentConcurrency = 4
)

// AllComments requests every comment on a work item.
const AllComments = -1

// PatchOp is one JSON Patch operation against a work item.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// FieldOps builds add operations for fields in sorted key order so request
// bodies are deterministic.
func FieldOps(fields map[string]any) []PatchOp {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ops := make([]PatchOp, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, PatchOp{Op: "add", Path: "/fields/" + k, Value: fields[k]})
	}
	return ops
}

func joinIDs(ids []int) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = strconv.Itoa(id)
	}
	return strings.Join(s, ",")
}

// GetWorkItems fetches work items with their relations, in the order of ids.
// At most 1000 ids are honored. When comments is non-nil each item gains a
// "comments" array holding the latest *comments comments (AllComments for
// every comment).
func (c *Client) GetWorkItems(ctx context.Context, org, project string, ids []int, comments *int) ([]map[string]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > maxWorkItems {
		c.log.WarnContext(ctx, "azdo.get_work_items.truncated", slog.Int("requested", len(ids)), slog.Int("limit", maxWorkItems))
		ids = ids[:maxWorkItems]
	}

	items := make([]map[string]any, 0, len(ids))
	for start := 0; start < len(ids); start += workItemBatchSize {
		batch := ids[start:min(start+workItemBatchSize, len(ids))]
		res, err := c.do(ctx, request{
			method: http.MethodGet,
			url:    c.projectURL(org, project, "wit/workitems"),
			query:  url.Values{"ids": {joinIDs(batch)}, "$expand": {"relations"}},
		})
		if err != nil {
			return nil, err
		}
		var page struct {
			Value []map[string]any `json:"value"`
		}
		if err := decodeInto(res.body, &page); err != nil {
			return nil, err
		}
		items = append(items, page.Value...)
	}

	if comments != nil {
		if err := c.attachComments(ctx, org, project, items, *comments); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (c *Client) attachComments(ctx context.Context, org, project string, items []map[string]any, n int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(commentConcurrency)
	fetched := make([][]any, len(items))
	for i, item := range items {
		id, ok := itemID(item)
		if !ok {
			continue
		}
		g.Go(func() error {
			cs, err := c.GetComments(gctx, org, project, id, n)
			if err != nil {
				return fmt.Errorf("comments for work item %d: %w", id, err)
			}
			fetched[i] = cs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, item := range items {
		if fetched[i] == nil {
			fetched[i] = []any{}
		}
		item["comments"] = fetched[i]
	}
	return nil
}

func itemID(item map[string]any) (int, bool) {
	switch v := item["id"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// GetWorkItem fetches one work item.
func (c *Client) GetWorkItem(ctx context.Context, org, project string, id int, comments *int) (map[string]any, error) {
	items, err := c.GetWorkItems(ctx, org, project, []int{id}, comments)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("work item %d not found: %w", id, err)
		}
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("work item %d not found", id)
	}
	return items[0], nil
}

// GetComments returns comments newest first. n > 0 limits the count,
// AllComments follows continuation tokens to the end, and 0 returns the
// first page.
func (c *Client) GetComments(ctx context.Context, org, project string, id, n int) ([]any, error) {
	var all []any
	token := ""
	for {
		q := url.Values{"order": {"desc"}}
		if n > 0 {
			q.Set("$top", strconv.Itoa(n))
		}
		if token != "" {
			q.Set("continuationToken", token)
		}
		res, err := c.do(ctx, request{
			method:     http.MethodGet,
			url:        c.projectURL(org, project, fmt.Sprintf("wit/workitems/%d/comments", id)),
			query:      q,
			apiVersion: commentsAPIVersion,
		})
		if err != nil {
			return nil, err
		}
		var page struct {
			Comments []any `json:"comments"`
		}
		if err := decodeInto(res.body, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Comments...)

		token = res.header.Get("x-ms-continuationtoken")
		if token == "" || (n != AllComments && len(all) >= n) {
			break
		}
	}
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// CreateWorkItem creates a work item of the given type.
func (c *Client) CreateWorkItem(ctx context.Context, org, project, workItemType string, fields map[string]any) (map[string]any, error) {
	req, err := jsonRequest(http.MethodPost, c.projectURL(org, project, "wit/workitems/$"+esc(workItemType)), FieldOps(fields))
	if err != nil {
		return nil, err
	}
	req.contentType = "application/json-patch+json"
	return c.doJSON(ctx, req)
}

// UpdateWorkItem sets fields on an existing work item.
func (c *Client) UpdateWorkItem(ctx context.Context, org, project string, id int, fields map[string]any) (map[string]any, error) {
	if len(fields) == 0 {
		return nil, errors.New("no fields to update")
	}
	return c.patchWorkItem(ctx, org, project, id, FieldOps(fields))
}

func (c *Client) patchWorkItem(ctx context.Context, org, project string, id int, ops []PatchOp) (map[string]any, error) {
	req, err := jsonRequest(http.MethodPatch, c.projectURL(org, project, fmt.Sprintf("wit/workitems/%d", id)), ops)
	if err != nil {
		return nil, err
	}
	req.contentType = "application/json-patch+json"
	return c.doJSON(ctx, req)
}

// AddComment posts a comment on a work item.
func (c *Client) AddComment(ctx context.Context, org, project string, id int, text string) (map[string]any, error) {
	req, err := jsonRequest(http.MethodPost, c.projectURL(org, project, fmt.Sprintf("wit/workitems/%d/comments", id)), map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req.apiVersion = commentsAPIVersion
	return c.doJSON(ctx, req)
}

// WorkItemURL is the relation target URL for a work item.
func (c *Client) WorkItemURL(id int) string {
	return fmt.Sprintf("%s/_apis/wit/workitems/%d", c.baseURL, id)
}

// AddRelation appends a relation to a work item.
func (c *Client) AddRelation(ctx context.Context, org, project string, id int, rel, targetURL string, attributes map[string]any) (map[string]any, error) {
	value := map[string]any{"rel": rel, "url": targetURL}
	if len(attributes) > 0 {
		value["attributes"] = attributes
	}
	return c.patchWorkItem(ctx, org, project, id, []PatchOp{{Op: "add", Path: "/relations/-", Value: value}})
}

// LinkWorkItems adds a rel link from source to target.
func (c *Client) LinkWorkItems(ctx context.Context, org, project string, source, target int, rel string) (map[string]any, error) {
	return c.AddRelation(ctx, org, project, source, rel, c.WorkItemURL(target), nil)
}

// QueryByWIQL runs a WIQL query and fetches the matching work items in
// query order.
func (c *Client) QueryByWIQL(ctx context.Context, org, project, query string, comments *int) ([]map[string]any, error) {
	req, err := jsonRequest(http.MethodPost, c.projectURL(org, project, "wit/wiql"), map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	body, err := c.doRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, v := range gjson.GetBytes(body, "workItems.#.id").Array() {
		ids = append(ids, int(v.Int()))
	}
	return c.GetWorkItems(ctx, org, project, ids, comments)
}
