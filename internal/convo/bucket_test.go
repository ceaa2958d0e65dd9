package convo

import (
	"testing"
	"time"
)

func TestBucketKey(t *testing.T) {
	// 2024-03-31 is a Sunday, the last day of ISO week 13.
	sunday := time.Date(2024, 3, 31, 23, 30, 0, 0, time.UTC)
	monday := time.Date(2024, 4, 1, 0, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		kind BucketKind
		at   time.Time
		loc  *time.Location
		want string
	}{
		{name: "none", kind: BucketNone, at: sunday, want: ""},
		{name: "day", kind: BucketDay, at: sunday, want: "2024-03-31"},
		{name: "week end of iso week", kind: BucketWeek, at: sunday, want: "2024-W13"},
		{name: "week monday rolls over", kind: BucketWeek, at: monday, want: "2024-W14"},
		{name: "month", kind: BucketMonth, at: sunday, want: "2024-03"},
		{name: "zero time", kind: BucketDay, at: time.Time{}, want: "unknown"},
		{
			name: "location shifts the day",
			kind: BucketDay,
			at:   sunday,
			loc:  time.FixedZone("UTC+1", 3600),
			want: "2024-04-01",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BucketKey(tt.kind, tt.at, tt.loc); got != tt.want {
				t.Errorf("BucketKey(%v, %v) = %q, want %q", tt.kind, tt.at, got, tt.want)
			}
		})
	}
}

func TestParseBucketKind(t *testing.T) {
	if _, err := ParseBucketKind("week"); err != nil {
		t.Errorf("ParseBucketKind(week) error = %v", err)
	}
	if _, err := ParseBucketKind("fortnight"); err == nil {
		t.Error("ParseBucketKind(fortnight) = nil error, want error")
	}
}
