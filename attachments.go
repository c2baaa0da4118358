package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/snattach/internal/servicenow"
)

// recordArgHelp describes how <record> is resolved. Anything that is not a
// 32-character hex sys_id is looked up by number in the task table.
const recordArgHelp = "<record> is a 32-character sys_id or a task number such as INC0010001.\n" +
	"Numbers are looked up in the task table, so records of tables that do not\n" +
	"extend task (sys_user, cmdb_ci, ...) must be given by sys_id."

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file> <table> <record>",
		Short: "Upload a file and attach it to a record",
		Long:  "Upload a file and attach it to a record.\n\n" + recordArgHelp,
		Args:  cobra.ExactArgs(3),
		RunE:  runUpload,
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <table> <record>",
		Short: "List the attachments of a record",
		Long:  "List the attachments of a record.\n\n" + recordArgHelp,
		Args:  cobra.ExactArgs(2),
		RunE:  runList,
	}
}

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <attachment_sys_id> [destination_dir]",
		Short: "Download an attachment by its sys_id",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runDownload,
	}
}

// attachmentJSON is the JSON output schema for one attachment.
type attachmentJSON struct {
	SysID        string `json:"sys_id"`
	FileName     string `json:"file_name"`
	ContentType  string `json:"content_type"`
	SizeBytes    int64  `json:"size_bytes"`
	TableName    string `json:"table_name,omitempty"`
	TableSysID   string `json:"table_sys_id,omitempty"`
	DownloadLink string `json:"download_link,omitempty"`
	CreatedOn    string `json:"created_on,omitempty"`
}

func toAttachmentJSON(a *servicenow.Attachment) attachmentJSON {
	out := attachmentJSON{
		SysID:        a.SysID,
		FileName:     a.FileName,
		ContentType:  a.ContentType,
		SizeBytes:    a.SizeBytes,
		TableName:    a.TableName,
		TableSysID:   a.TableSysID,
		DownloadLink: a.DownloadLink,
	}

	if !a.CreatedOn.IsZero() {
		out.CreatedOn = a.CreatedOn.Format(time.RFC3339)
	}

	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func runUpload(cmd *cobra.Command, args []string) error {
	localPath, table, record := args[0], args[1], args[2]
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	fi, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stating local file: %w", err)
	}

	if fi.IsDir() {
		return fmt.Errorf("%q is a directory, not a file", localPath)
	}

	contentType := detectContentType(localPath, cc.Logger)

	sess, err := NewSession(cc)
	if err != nil {
		return err
	}

	recordID, err := sess.Client.ResolveRecord(ctx, record)
	if err != nil {
		return fmt.Errorf("resolving record %q: %w", record, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening local file: %w", err)
	}
	defer f.Close()

	name := filepath.Base(localPath)

	cc.Logger.Debug("upload",
		slog.String("local_path", localPath),
		slog.String("table", table),
		slog.String("record", recordID),
		slog.Int64("size", fi.Size()),
	)

	spin := startActivity(cc, fmt.Sprintf("Uploading %s (%s)...", name, formatSize(fi.Size())))
	att, err := sess.Client.UploadAttachment(ctx, table, recordID, name, contentType, f, fi.Size())
	spin.Stop()

	if err != nil {
		return fmt.Errorf("uploading %q: %w", localPath, err)
	}

	if cc.Flags.JSON {
		return writeJSON(cc.Out, toAttachmentJSON(att))
	}

	fmt.Fprintln(cc.Out, "File uploaded successfully")
	fmt.Fprintf(cc.Out, "  File URL:      %s\n", att.DownloadLink)
	fmt.Fprintf(cc.Out, "  Attachment ID: %s\n", att.SysID)

	return nil
}

// detectContentType guesses from the file extension and falls back to
// sniffing the file content.
func detectContentType(path string, logger *slog.Logger) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		logger.Warn("content type detection failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return "application/octet-stream"
	}

	return mt.String()
}

func runList(cmd *cobra.Command, args []string) error {
	table, record := args[0], args[1]
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	sess, err := NewSession(cc)
	if err != nil {
		return err
	}

	recordID, err := sess.Client.ResolveRecord(ctx, record)
	if err != nil {
		return fmt.Errorf("resolving record %q: %w", record, err)
	}

	spin := startActivity(cc, "Fetching attachments...")
	atts, err := sess.Client.ListAttachments(ctx, table, recordID)
	spin.Stop()

	if err != nil {
		return fmt.Errorf("listing attachments of %s.%s: %w", table, recordID, err)
	}

	if cc.Flags.JSON {
		out := make([]attachmentJSON, 0, len(atts))
		for i := range atts {
			out = append(out, toAttachmentJSON(&atts[i]))
		}

		return writeJSON(cc.Out, out)
	}

	if len(atts) == 0 {
		cc.Statusf("No attachments found for the specified record\n")

		return nil
	}

	printAttachmentsTable(cc.Out, atts)

	return nil
}

func printAttachmentsTable(w io.Writer, atts []servicenow.Attachment) {
	headers := []string{"SYS_ID", "FILE NAME", "CONTENT TYPE", "SIZE"}
	rows := make([][]string, 0, len(atts))

	for i := range atts {
		rows = append(rows, []string{
			atts[i].SysID,
			atts[i].FileName,
			atts[i].ContentType,
			formatSize(atts[i].SizeBytes),
		})
	}

	printTable(w, headers, rows)
}

func runDownload(cmd *cobra.Command, args []string) error {
	sysID := args[0]
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)

	destDir := "."
	if len(args) > 1 {
		destDir = args[1]
	}

	if err := checkDir(destDir); err != nil {
		return err
	}

	sess, err := NewSession(cc)
	if err != nil {
		return err
	}

	spin := startActivity(cc, "Downloading attachment...")
	defer spin.Stop()

	stream, err := sess.Client.Download(ctx, sysID)
	if err != nil {
		return fmt.Errorf("downloading attachment %s: %w", sysID, err)
	}
	defer stream.Body.Close()

	name, err := localFileName(stream.Metadata.FileName)
	if err != nil {
		return err
	}

	localPath := filepath.Join(destDir, name)
	partialPath := localPath + ".partial"

	n, err := writePartial(partialPath, stream.Body)
	if err != nil {
		return err
	}

	// Atomic rename: .partial -> target.
	if err := os.Rename(partialPath, localPath); err != nil {
		os.Remove(partialPath)

		return fmt.Errorf("renaming download to %q: %w", localPath, err)
	}

	spin.Stop()

	cc.Logger.Debug("download complete",
		slog.String("local_path", localPath),
		slog.Int64("bytes", n),
	)

	if cc.Flags.JSON {
		out := toAttachmentJSON(&stream.Metadata)
		out.SizeBytes = n

		return writeJSON(cc.Out, struct {
			Path string `json:"path"`
			attachmentJSON
		}{Path: localPath, attachmentJSON: out})
	}

	fmt.Fprintf(cc.Out, "Downloaded '%s' from record %s.%s\n",
		localPath, stream.Metadata.TableName, stream.Metadata.TableSysID)

	return nil
}

// writePartial streams body into path, removing the file on failure.
func writePartial(path string, body io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) //nolint:mnd // standard file perms
	if err != nil {
		return 0, fmt.Errorf("creating partial file for download: %w", err)
	}

	n, err := io.Copy(f, body)
	if err != nil {
		f.Close()
		os.Remove(path)

		return 0, fmt.Errorf("writing download: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)

		return 0, fmt.Errorf("closing download: %w", err)
	}

	return n, nil
}

// localFileName turns a server-supplied file name into a safe local base
// name in NFC form.
func localFileName(remote string) (string, error) {
	name := norm.NFC.String(strings.TrimSpace(remote))
	name = filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))

	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("attachment has an unusable file name %q", remote)
	}

	return name, nil
}

func checkDir(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("destination directory %q does not exist", dir)
		}

		return fmt.Errorf("stating destination directory: %w", err)
	}

	if !fi.IsDir() {
		return fmt.Errorf("destination %q is not a directory", dir)
	}

	return nil
}
