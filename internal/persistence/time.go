package persistence

import "time"

func msToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nowMillis() int64 { return time.Now().UTC().UnixMilli() }
