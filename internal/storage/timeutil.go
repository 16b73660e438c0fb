package storage

import "time"

// authTimeLayout is the timestamp format used by auth rows. Stored in UTC.
const authTimeLayout = "2006-01-02T15:04:05"

func secondsToTime(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}

func timeToSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func formatAuthTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(authTimeLayout)
}

func parseAuthTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(authTimeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
