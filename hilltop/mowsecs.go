package hilltop

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// mowsecsOffset is the distance between the Mowsecs epoch (1940-01-01)
// and the Unix epoch, in seconds.
const mowsecsOffset int64 = 946771200

// calendarLayout is the timestamp layout servers use when DateFormat is
// Calendar instead of mowsecs.
const calendarLayout = "2006-01-02T15:04:05"

// requestLayout is the From/To layout GetData requests expect.
const requestLayout = "2006-01-02 15:04"

// FromMowsecs converts a Mowsecs timestamp to UTC time.
func FromMowsecs(m int64) time.Time {
	return time.Unix(m-mowsecsOffset, 0).UTC()
}

// ToMowsecs converts a time to Mowsecs.
func ToMowsecs(t time.Time) int64 {
	return t.Unix() + mowsecsOffset
}

// parseEventTime decodes one <T> element under the response's declared
// date format.
func parseEventTime(dateFormat, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("hilltop: empty timestamp")
	}
	if strings.EqualFold(dateFormat, "mowsecs") {
		m, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("hilltop: bad mowsecs timestamp %q", raw)
		}
		return FromMowsecs(m), nil
	}
	t, err := time.Parse(calendarLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("hilltop: bad timestamp %q", raw)
	}
	return t.UTC(), nil
}
