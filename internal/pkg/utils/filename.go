package utils

import (
	"path"
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._\-]`)

// SanitizeFilename strips directory components and replaces characters that
// are unsafe in upload paths.
func SanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	cleaned := unsafeFilenameChars.ReplaceAllString(base, "_")
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "upload.gcode"
	}
	return cleaned
}
