package util

import (
	"regexp"
	"strings"
)

// maxLogValue bounds how much of a single user-supplied value reaches the logs.
const maxLogValue = 256

var controlChars = regexp.MustCompile(`[\x00-\x1F\x7F]+`)

// SanitizeForLog removes control characters and newlines from user content
// before logging and clips it to a fixed length.
func SanitizeForLog(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = controlChars.ReplaceAllString(s, " ")
	if len(s) > maxLogValue {
		s = s[:maxLogValue] + "..."
	}
	return s
}
