package servicenow

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// createdOnLayout is the format of sys_created_on in Table and Attachment API
// responses. Values are in UTC.
const createdOnLayout = "2006-01-02 15:04:05"

// Attachment is a file attached to a record.
type Attachment struct {
	SysID        string
	FileName     string
	ContentType  string
	SizeBytes    int64
	TableName    string
	TableSysID   string
	DownloadLink string
	CreatedOn    time.Time // zero when the response omits sys_created_on
}

// attachmentResponse mirrors the attachment record JSON. The same shape is
// used by the X-Attachment-Metadata download header.
// Unexported: callers use Attachment via toAttachment().
type attachmentResponse struct {
	SysID        string          `json:"sys_id"`
	FileName     string          `json:"file_name"`
	ContentType  string          `json:"content_type"`
	SizeBytes    json.RawMessage `json:"size_bytes"`
	TableName    string          `json:"table_name"`
	TableSysID   string          `json:"table_sys_id"`
	DownloadLink string          `json:"download_link"`
	CreatedOn    string          `json:"sys_created_on"`
}

type attachmentEnvelope struct {
	Result attachmentResponse `json:"result"`
}

type attachmentListEnvelope struct {
	Result []attachmentResponse `json:"result"`
}

type recordRef struct {
	SysID string `json:"sys_id"`
}

type recordListEnvelope struct {
	Result []recordRef `json:"result"`
}

func (a *attachmentResponse) toAttachment(logger *slog.Logger) Attachment {
	att := Attachment{
		SysID:        a.SysID,
		FileName:     a.FileName,
		ContentType:  a.ContentType,
		SizeBytes:    parseSize(a.SizeBytes, a.SysID, logger),
		TableName:    a.TableName,
		TableSysID:   a.TableSysID,
		DownloadLink: a.DownloadLink,
	}

	if a.CreatedOn != "" {
		t, err := time.Parse(createdOnLayout, a.CreatedOn)
		if err != nil {
			logger.Warn("invalid sys_created_on",
				slog.String("sys_id", a.SysID),
				slog.String("raw", a.CreatedOn),
			)
		} else {
			att.CreatedOn = t.UTC()
		}
	}

	return att
}

// parseSize accepts size_bytes as a JSON string ("1024") or number (1024).
// Anything else yields 0.
func parseSize(raw json.RawMessage, sysID string, logger *slog.Logger) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		logger.Warn("unparsable size_bytes",
			slog.String("sys_id", sysID),
			slog.String("raw", string(raw)),
		)

		return 0
	}

	return n
}
