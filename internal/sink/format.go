package sink

import (
	"bytes"
	"fmt"
	"time"
)

// TimestampLayout is the local-time layout of the third column.
const TimestampLayout = "01/02/2006 03:04:05.000 PM"

// FormatTimestamp renders t in local time. A zero time renders empty.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(TimestampLayout)
}

// FormatValue renders a value the way it appears in the output file.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return fmt.Sprintf("%x", x)
	case time.Time:
		return FormatTimestamp(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// appendLine writes "<point-id>,<value>,<timestamp>\n" to buf.
func appendLine(buf *bytes.Buffer, pointID string, value any, ts time.Time) {
	buf.WriteString(pointID)
	buf.WriteByte(',')
	buf.WriteString(FormatValue(value))
	buf.WriteByte(',')
	buf.WriteString(FormatTimestamp(ts))
	buf.WriteByte('\n')
}
