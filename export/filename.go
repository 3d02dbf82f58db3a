package export

import (
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"
)

// DefaultFilenamePattern names printed output when no pattern is configured.
const DefaultFilenamePattern = "export_{{ timestamp }}"

// RenderFilename expands a pongo2 filename pattern with the export id and
// time, appending ext when the result lacks it. Available variables are id,
// timestamp and date.
func RenderFilename(pattern, id string, now time.Time, ext string) (string, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultFilenamePattern
	}

	tpl, err := pongo2.FromString(pattern)
	if err != nil {
		return "", NewError(KindValidation, "invalid filename pattern", err)
	}
	out, err := tpl.Execute(pongo2.Context{
		"id":        id,
		"timestamp": now.UTC().Format("20060102T150405Z"),
		"date":      now.UTC().Format("20060102"),
	})
	if err != nil {
		return "", NewError(KindValidation, "render filename", err)
	}

	name := strings.TrimSpace(out)
	if name == "" {
		return "", NewError(KindValidation, "empty filename", nil)
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext != "" && !strings.HasSuffix(strings.ToLower(name), "."+strings.ToLower(ext)) {
		name += "." + ext
	}
	return name, nil
}
