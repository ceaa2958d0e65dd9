// Package convo groups flat message lists into conversation units and
// renders them for storage or prompting.
package convo

import (
	"fmt"
	"time"
)

// BucketKind selects the calendar granularity of time bucketing.
type BucketKind string

const (
	BucketNone  BucketKind = ""
	BucketDay   BucketKind = "day"
	BucketWeek  BucketKind = "week"
	BucketMonth BucketKind = "month"
)

// ParseBucketKind validates a configured bucket name.
func ParseBucketKind(s string) (BucketKind, error) {
	switch BucketKind(s) {
	case BucketNone, BucketDay, BucketWeek, BucketMonth:
		return BucketKind(s), nil
	}
	return BucketNone, fmt.Errorf("unknown time bucket %q", s)
}

// BucketKey formats the bucket label for an instant. Weeks are ISO
// weeks, Monday start. The zero time yields "unknown" so messages with
// unparseable timestamps still land somewhere inspectable.
func BucketKey(kind BucketKind, at time.Time, loc *time.Location) string {
	if kind == BucketNone {
		return ""
	}
	if at.IsZero() {
		return "unknown"
	}
	if loc != nil {
		at = at.In(loc)
	}
	switch kind {
	case BucketDay:
		return at.Format("2006-01-02")
	case BucketWeek:
		year, week := at.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case BucketMonth:
		return at.Format("2006-01")
	}
	return ""
}
