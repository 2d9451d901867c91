package transcript

import (
	"strings"
)

// FormatText renders one "SPEAKER: text" line per entry
func FormatText(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(strings.ToUpper(string(e.Speaker)))
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
