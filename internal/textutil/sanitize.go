package textutil

import "strings"

var keyReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	" ", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeKey makes a document id safe to use as one path segment of an
// object key or file name. Empty input yields "unknown".
func SanitizeKey(value string) string {
	value = strings.TrimSpace(value)
	out := strings.Trim(keyReplacer.Replace(value), ".")
	if out == "" {
		return "unknown"
	}
	return out
}
