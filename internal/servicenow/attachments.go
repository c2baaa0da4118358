package servicenow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	attachmentPath     = "/api/now/attachment"
	attachmentFilePath = "/api/now/attachment/file"
	metadataHeader     = "X-Attachment-Metadata"
)

// ErrMissingMetadata is returned when a download response lacks a usable
// X-Attachment-Metadata header, so no file name can be derived.
var ErrMissingMetadata = errors.New("servicenow: download response has no attachment metadata")

// ListAttachments returns the attachments of one record. No attachments is an
// empty, non-nil slice and a nil error.
func (c *Client) ListAttachments(ctx context.Context, table, recordSysID string) ([]Attachment, error) {
	c.logger.Info("listing attachments",
		slog.String("table", table),
		slog.String("record", recordSysID),
	)

	resp, err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   attachmentPath,
		Query:  url.Values{"table_name": {table}, "table_sys_id": {recordSysID}},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env attachmentListEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("servicenow: decoding attachment list: %w", err)
	}

	atts := make([]Attachment, 0, len(env.Result))
	for i := range env.Result {
		atts = append(atts, env.Result[i].toAttachment(c.logger))
	}

	c.logger.Debug("listed attachments", slog.Int("count", len(atts)))

	return atts, nil
}

// UploadAttachment posts content as a new attachment on table/recordSysID.
// content is read twice at most: once normally and once more if the access
// token has to be refreshed.
func (c *Client) UploadAttachment(
	ctx context.Context, table, recordSysID, fileName, contentType string, content io.ReadSeeker, size int64,
) (*Attachment, error) {
	c.logger.Info("uploading attachment",
		slog.String("table", table),
		slog.String("record", recordSysID),
		slog.String("file_name", fileName),
		slog.String("content_type", contentType),
		slog.Int64("size", size),
	)

	header := http.Header{}
	header.Set("Content-Type", contentType)

	resp, err := c.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   attachmentFilePath,
		Query: url.Values{
			"table_name":   {table},
			"table_sys_id": {recordSysID},
			"file_name":    {fileName},
		},
		Header:        header,
		Body:          content,
		ContentLength: size,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env attachmentEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("servicenow: decoding upload response: %w", err)
	}

	att := env.Result.toAttachment(c.logger)

	c.logger.Info("upload complete", slog.String("sys_id", att.SysID))

	return &att, nil
}

// DownloadStream is an open attachment download. The caller must close Body.
type DownloadStream struct {
	Metadata Attachment
	Body     io.ReadCloser
}

// Download opens the content of the attachment sysID. The file name and
// owning record come from the X-Attachment-Metadata response header.
func (c *Client) Download(ctx context.Context, sysID string) (*DownloadStream, error) {
	sysID = strings.TrimSpace(sysID)
	if sysID == "" {
		return nil, fmt.Errorf("servicenow: attachment sys_id is empty")
	}

	c.logger.Info("downloading attachment", slog.String("sys_id", sysID))

	header := http.Header{}
	header.Set("Accept", "*/*")

	resp, err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   attachmentPath + "/" + url.PathEscape(sysID) + "/file",
		Header: header,
	})
	if err != nil {
		return nil, err
	}

	raw := resp.Header.Get(metadataHeader)
	if raw == "" {
		resp.Body.Close()

		return nil, ErrMissingMetadata
	}

	var meta attachmentResponse
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		resp.Body.Close()

		return nil, fmt.Errorf("%w: %w", ErrMissingMetadata, err)
	}

	att := meta.toAttachment(c.logger)
	if att.FileName == "" {
		resp.Body.Close()

		return nil, fmt.Errorf("%w: file_name is empty", ErrMissingMetadata)
	}

	if att.SysID == "" {
		att.SysID = sysID
	}

	if att.SizeBytes == 0 && resp.ContentLength > 0 {
		att.SizeBytes = resp.ContentLength
	}

	c.logger.Debug("download metadata",
		slog.String("file_name", att.FileName),
		slog.String("table", att.TableName),
		slog.String("record", att.TableSysID),
		slog.Int64("size", att.SizeBytes),
	)

	return &DownloadStream{Metadata: att, Body: resp.Body}, nil
}
