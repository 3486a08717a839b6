package textutil

import (
	"regexp"
	"strings"
)

// disallowed filename characters, anything but ascii alphanumerics,
// '_', '-' and CJK unified ideographs.
var unsafeFilenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\x{4e00}-\x{9fa5}]`)

// SanitizeFilename replaces every disallowed character in name with '_'.
func SanitizeFilename(name string) string {
	return unsafeFilenameRegex.ReplaceAllString(name, "_")
}

// StripBOM removes a leading UTF-8 byte order mark.
func StripBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
