package drive

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/dansasser/ftp-winmount/pkg/remote"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestNewDefaults(t *testing.T) {
	s := New(Options{}, testLogger())
	assert.Equal(t, 2*time.Minute, s.opt.PathIDTTL)
	assert.Equal(t, 3, s.opt.RetryAttempts)
	assert.Equal(t, time.Second, s.opt.RetryDelay)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want remote.Kind
	}{
		{"not found", &googleapi.Error{Code: 404}, remote.KindNotFound},
		{"unauthorized", &googleapi.Error{Code: 401}, remote.KindAuthenticationFailed},
		{"forbidden", &googleapi.Error{Code: 403}, remote.KindAccessDenied},
		{"rate limited 403", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}, remote.KindUnavailable},
		{"too many requests", &googleapi.Error{Code: 429}, remote.KindUnavailable},
		{"conflict", &googleapi.Error{Code: 409}, remote.KindAlreadyExists},
		{"server error", &googleapi.Error{Code: 503}, remote.KindUnavailable},
		{"bad request", &googleapi.Error{Code: 400}, remote.KindFatal},
		{"network error", errors.New("dial tcp: timeout"), remote.KindUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.err))
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"429", &googleapi.Error{Code: 429}, true},
		{"403 quota", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}, true},
		{"403 plain", &googleapi.Error{Code: 403}, false},
		{"404", &googleapi.Error{Code: 404}, false},
		{"non-google error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRateLimited(tc.err))
		})
	}
}

func TestEscapeName(t *testing.T) {
	cases := map[string]string{
		"report":        "report",
		"o'brien notes": `o\'brien notes`,
		`back\slash`:    `back\\slash`,
	}
	for in, want := range cases {
		assert.Equal(t, want, escapeName(in))
	}
}

func TestStripExportExtension(t *testing.T) {
	cases := []struct {
		leaf     string
		stripped string
		ok       bool
	}{
		{"Report.docx", "Report", true},
		{"Budget.xlsx", "Budget", true},
		{"Deck.pptx", "Deck", true},
		{"Diagram.pdf", "Diagram", true},
		{"notes.txt", "", false},
	}
	for _, tc := range cases {
		stripped, ok := stripExportExtension(tc.leaf)
		assert.Equal(t, tc.ok, ok)
		assert.Equal(t, tc.stripped, stripped)
	}
}

func TestToFileStatsWorkspaceDocument(t *testing.T) {
	st, ok := toFileStats(&drive.File{Name: "Report", MimeType: "application/vnd.google-apps.document"})
	assert.True(t, ok, "expected a listable entry for an exportable Workspace document")
	assert.Equal(t, "Report.docx", st.Name)
	assert.False(t, st.IsDirectory, "exported Workspace document must not be reported as a directory")
	assert.Zero(t, st.Size)
}

func TestToFileStatsHiddenNativeType(t *testing.T) {
	_, ok := toFileStats(&drive.File{Name: "Untitled form", MimeType: "application/vnd.google-apps.form"})
	assert.False(t, ok, "a Workspace native type with no export mapping must be hidden from listings")
}

func TestToFileStatsFolder(t *testing.T) {
	st, ok := toFileStats(&drive.File{Name: "docs", MimeType: mimeFolder})
	assert.True(t, ok)
	assert.True(t, st.IsDirectory)
}

func TestSliceRange(t *testing.T) {
	data := []byte("Hello World")
	assert.Equal(t, "Hello World", string(sliceRange(data, 0, nil)))
	length := int64(5)
	assert.Equal(t, "World", string(sliceRange(data, 6, &length)))
	assert.Empty(t, sliceRange(data, 100, nil), "past-EOF read should be empty")
}
