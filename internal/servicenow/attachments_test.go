package servicenow

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/snattach/internal/auth"
	"github.com/tonimelisma/snattach/internal/credstore"
)

const testRecord = "a1b2c3d4e5f60718293a4b5c6d7e8f90"

func TestListAttachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/now/attachment", r.URL.Path)
		assert.Equal(t, "incident", r.URL.Query().Get("table_name"))
		assert.Equal(t, testRecord, r.URL.Query().Get("table_sys_id"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":[
			{"sys_id":"s1","file_name":"report.pdf","content_type":"application/pdf","size_bytes":"2048",
			 "table_name":"incident","table_sys_id":"` + testRecord + `",
			 "download_link":"https://inst/api/now/attachment/s1/file","sys_created_on":"2024-03-05 10:20:30"},
			{"sys_id":"s2","file_name":"notes.txt","content_type":"text/plain","size_bytes":17}
		]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, oauthCreds(), &fakeSaver{}, &fakeTokens{})
	atts, err := client.ListAttachments(context.Background(), "incident", testRecord)
	require.NoError(t, err)
	require.Len(t, atts, 2)

	assert.Equal(t, "s1", atts[0].SysID)
	assert.Equal(t, "report.pdf", atts[0].FileName)
	assert.Equal(t, "application/pdf", atts[0].ContentType)
	assert.Equal(t, int64(2048), atts[0].SizeBytes)
	assert.Equal(t, "incident", atts[0].TableName)
	assert.Equal(t, testRecord, atts[0].TableSysID)
	assert.Equal(t, "https://inst/api/now/attachment/s1/file", atts[0].DownloadLink)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC), atts[0].CreatedOn)

	assert.Equal(t, int64(17), atts[1].SizeBytes, "numeric size_bytes accepted")
	assert.True(t, atts[1].CreatedOn.IsZero())
}

func TestListAttachments_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, oauthCreds(), &fakeSaver{}, &fakeTokens{})
	atts, err := client.ListAttachments(context.Background(), "incident", testRecord)
	require.NoError(t, err)
	assert.NotNil(t, atts)
	assert.Empty(t, atts)
}

func TestListAttachments_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, oauthCreds(), &fakeSaver{}, &fakeTokens{})
	_, err := client.ListAttachments(context.Background(), "incident", testRecord)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding attachment list")
}

func TestUploadAttachment(t *testing.T) {
	content := []byte("%PDF-1.4 fake")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/now/attachment/file", r.URL.Path)
		assert.Equal(t, "incident", r.URL.Query().Get("table_name"))
		assert.Equal(t, testRecord, r.URL.Query().Get("table_sys_id"))
		assert.Equal(t, "report.pdf", r.URL.Query().Get("file_name"))
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, content, body)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":{"sys_id":"X","download_link":"http://inst/api/now/attachment/X/file",
			"file_name":"report.pdf","size_bytes":"13"}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, oauthCreds(), &fakeSaver{}, &fakeTokens{})
	att, err := client.UploadAttachment(context.Background(), "incident", testRecord,
		"report.pdf", "application/pdf", bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	assert.Equal(t, "X", att.SysID)
	assert.Equal(t, "http://inst/api/now/attachment/X/file", att.DownloadLink)
	assert.Equal(t, int64(13), att.SizeBytes)
}

func TestUploadAttachment_RetryResendsContent(t *testing.T) {
	content := []byte("hello attachment")
	var received []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = append(received, string(body))

		if r.Header.Get("Authorization") != "Bearer AT1" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":{"sys_id":"X"}}`))
	}))
	defer srv.Close()

	tokens := &fakeTokens{pair: auth.TokenPair{AccessToken: "AT1", RefreshToken: "RT1"}}
	client := newTestClient(t, srv.URL, oauthCreds(), &fakeSaver{}, tokens)

	att, err := client.UploadAttachment(context.Background(), "incident", testRecord,
		"a.txt", "text/plain", bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, "X", att.SysID)
	assert.Equal(t, []string{string(content), string(content)}, received)
}

func TestDownload(t *testing.T) {
	body := []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff, 0x10}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/now/attachment/abc123/file", r.URL.Path)
		assert.Equal(t, "*/*", r.Header.Get("Accept"))

		w.Header().Set("X-Attachment-Metadata",
			`{"file_name":"report.pdf","table_name":"incident","table_sys_id":"r1","content_type":"application/pdf","size_bytes":"7","sys_id":"abc123"}`)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, oauthCreds(), &fakeSaver{}, &fakeTokens{})
	stream, err := client.Download(context.Background(), "abc123")
	require.NoError(t, err)
	defer stream.Body.Close()

	assert.Equal(t, "report.pdf", stream.Metadata.FileName)
	assert.Equal(t, "incident", stream.Metadata.TableName)
	assert.Equal(t, "r1", stream.Metadata.TableSysID)
	assert.Equal(t, "abc123", stream.Metadata.SysID)
	assert.Equal(t, int64(7), stream.Metadata.SizeBytes)

	got, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDownload_MetadataProblems(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"malformed header", `{"file_name":`},
		{"no file name", `{"table_name":"incident","table_sys_id":"r1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.header != "" {
					w.Header().Set("X-Attachment-Metadata", tt.header)
				}

				_, _ = w.Write([]byte("data"))
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL, oauthCreds(), &fakeSaver{}, &fakeTokens{})
			_, err := client.Download(context.Background(), "abc123")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingMetadata)
		})
	}
}

func TestDownload_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"Record doesn't exist or ACL restricts the record retrieval"}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, credstore.Credentials{Username: "u", Password: "p"}, &fakeSaver{}, &fakeTokens{})
	_, err := client.Download(context.Background(), "deadbeef")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "Record doesn't exist")
}

func TestDownload_EmptySysID(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:0", oauthCreds(), &fakeSaver{}, &fakeTokens{})
	_, err := client.Download(context.Background(), "  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sys_id is empty")
}

func TestParseSize(t *testing.T) {
	logger := testLogger(t)

	tests := []struct {
		raw  string
		want int64
	}{
		{`"1024"`, 1024},
		{`1024`, 1024},
		{`""`, 0},
		{`null`, 0},
		{``, 0},
		{`"abc"`, 0},
		{`"-5"`, 0},
	}

	for _, tt := range tests {
		t.Run(strings.Trim(tt.raw, `"`), func(t *testing.T) {
			assert.Equal(t, tt.want, parseSize([]byte(tt.raw), "s", logger))
		})
	}
}
