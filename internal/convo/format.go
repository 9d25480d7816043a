package convo

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Titusvirous/ToxicInfoBot/internal/numinfo"
)

const placeholder = "N/A"

var repeatedSeparator = regexp.MustCompile(`!+`)

// FormatRecord renders one lookup record as a Markdown message. index is
// zero based.
func FormatRecord(r numinfo.Record, index, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Record %d of %d*\n", index+1, total)
	b.WriteString("➖➖➖➖➖➖➖➖➖➖\n")
	fmt.Fprintf(&b, "👤 *Name:* `%s`\n", code(r.Name))
	fmt.Fprintf(&b, "👨 *Father's Name:* `%s`\n", code(r.FatherName))
	fmt.Fprintf(&b, "📱 *Mobile:* `%s`\n", code(r.Mobile))
	fmt.Fprintf(&b, "🏠 *Address:* `%s`\n", code(FormatAddress(r.Address)))
	fmt.Fprintf(&b, "📡 *Circle:* `%s`", code(r.Circle))
	return b.String()
}

// FormatAddress turns a "!"-separated address into comma-separated parts.
// Runs of separators count as one and blank parts are dropped.
func FormatAddress(raw string) string {
	collapsed := repeatedSeparator.ReplaceAllString(raw, "!")
	parts := strings.Split(collapsed, "!")
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return placeholder
	}
	return strings.Join(kept, ", ")
}

// code prepares a value for a Markdown code span.
func code(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "`", "'"))
	if s == "" {
		return placeholder
	}
	return s
}
