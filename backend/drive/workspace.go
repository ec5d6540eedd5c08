package drive

import "strings"

// exportInfo names the synthetic extension and export MIME type a
// Workspace document's native type projects to.
type exportInfo struct {
	ext  string
	mime string
}

// exportFormats is the fixed mapping named in spec.md §4.3: the four
// Workspace document types that project to a downloadable format by
// appending a synthetic extension.
var exportFormats = map[string]exportInfo{
	"application/vnd.google-apps.document":     {".docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	"application/vnd.google-apps.spreadsheet":  {".xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	"application/vnd.google-apps.presentation": {".pptx", "application/vnd.openxmlformats-officedocument.presentationml.presentation"},
	"application/vnd.google-apps.drawing":      {".pdf", "application/pdf"},
}

// hiddenNativeTypes are Workspace-native MIME types with no export
// mapping; they are filtered out of directory listings entirely, per the
// original's WORKSPACE_MIMES set (supplemented into SPEC_FULL.md from
// original_source since the distilled spec only said "other native types
// are hidden").
var hiddenNativeTypes = map[string]bool{
	"application/vnd.google-apps.form":   true,
	"application/vnd.google-apps.map":    true,
	"application/vnd.google-apps.site":   true,
	"application/vnd.google-apps.jam":    true,
	"application/vnd.google-apps.script": true,
}

// stripExportExtension reports whether leaf ends in one of the four
// synthetic export extensions and, if so, returns the name with the
// extension removed.
func stripExportExtension(leaf string) (stripped string, ok bool) {
	for _, exp := range exportFormats {
		if strings.HasSuffix(leaf, exp.ext) {
			return strings.TrimSuffix(leaf, exp.ext), true
		}
	}
	return "", false
}
