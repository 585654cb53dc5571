package boards

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ggoodman/azdo-boards-mcp/mcpservice"
)

// UploadAttachmentArgs uploads a file, optionally attaching it to a work
// item.
type UploadAttachmentArgs struct {
	Scope
	FileName      string `json:"file_name" jsonschema_description:"Name of the file, e.g. screenshot.png"`
	ContentBase64 string `json:"content_base64" jsonschema_description:"File content, base64 encoded"`
	WorkItemID    *int   `json:"work_item_id,omitempty" jsonschema_description:"Work item to attach the file to"`
	Comment       string `json:"comment,omitempty" jsonschema_description:"Comment on the attachment link"`
}

func (a *UploadAttachmentArgs) content() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(a.ContentBase64))
	if err != nil {
		return nil, errors.New(`parameter "content_base64" must be valid base64`)
	}
	return b, nil
}

func (a *UploadAttachmentArgs) Validate() error {
	if a.WorkItemID != nil {
		if err := positive("work_item_id", *a.WorkItemID); err != nil {
			return err
		}
	}
	_, err := a.content()
	return err
}

func (t *Tools) uploadAttachment() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_upload_attachment", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[UploadAttachmentArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		content, err := a.content()
		if err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "upload_attachment", slog.String("file_name", a.FileName), slog.Int("size", len(content)))

		ref, err := t.client.UploadAttachment(ctx, a.Organization, a.Project, a.FileName, content)
		if err != nil {
			return t.fail(ctx, w, "upload_attachment", err)
		}
		if a.WorkItemID != nil {
			var attrs map[string]any
			if a.Comment != "" {
				attrs = map[string]any{"comment": a.Comment}
			}
			if _, err := t.client.AddRelation(ctx, a.Organization, a.Project, *a.WorkItemID, "AttachedFile", ref.URL, attrs); err != nil {
				return t.fail(ctx, w, "upload_attachment", fmt.Errorf("attachment %s uploaded but linking to work item %d failed: %w", ref.ID, *a.WorkItemID, err))
			}
		}
		return writeCompact(w, map[string]string{"id": ref.ID, "url": ref.URL})
	}, t.opts("Upload a file attachment and optionally attach it to a work item")...)
}

// DownloadAttachmentArgs fetches an attachment.
type DownloadAttachmentArgs struct {
	Scope
	ID       string `json:"id" jsonschema_description:"Attachment ID"`
	FileName string `json:"file_name,omitempty" jsonschema_description:"File name to request the attachment as"`
}

func (t *Tools) downloadAttachment() mcpservice.StaticTool {
	return mcpservice.NewTool("azdo_download_attachment", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[DownloadAttachmentArgs]) error {
		a := r.Args()
		if err := t.resolve(&a.Scope); err != nil {
			return invalid(w, err)
		}
		t.start(ctx, "download_attachment", slog.String("id", a.ID))
		b, err := t.client.DownloadAttachment(ctx, a.Organization, a.Project, strings.TrimSpace(a.ID), a.FileName)
		if err != nil {
			return t.fail(ctx, w, "download_attachment", err)
		}
		return w.AppendText(base64.StdEncoding.EncodeToString(b))
	}, t.opts("Download an attachment; returns its content base64 encoded")...)
}
