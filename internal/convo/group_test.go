package convo

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"slackbridge/internal/slack"
)

// ts builds a platform timestamp from a base instant and an offset.
func ts(offset int) string {
	return fmt.Sprintf("%d.000000", 1700000000+offset)
}

func msg(channel, user, t, text string) slack.Message {
	return slack.Message{Channel: channel, User: user, Timestamp: t, Text: text}
}

func threaded(channel, user, t, root, text string) slack.Message {
	m := msg(channel, user, t, text)
	m.ThreadRoot = root
	return m
}

func TestGroupThreadsMergeReplies(t *testing.T) {
	msgs := []slack.Message{
		threaded("C1", "U2", ts(30), ts(10), "second reply"),
		threaded("C1", "U1", ts(10), ts(10), "root"),
		msg("C1", "U3", ts(20), "standalone"),
		threaded("C1", "U3", ts(15), ts(10), "first reply"),
	}

	units := Group(context.Background(), msgs, Spec{Threads: true, Exclude: []slack.Subtype{}})
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	thread := units[0]
	if thread.Key.Thread != ts(10) {
		t.Fatalf("units[0].Key.Thread = %q, want %q", thread.Key.Thread, ts(10))
	}
	wantTexts := []string{"root", "first reply", "second reply"}
	var gotTexts []string
	for _, m := range thread.Messages {
		gotTexts = append(gotTexts, m.Text)
	}
	if !reflect.DeepEqual(gotTexts, wantTexts) {
		t.Errorf("thread texts = %v, want %v", gotTexts, wantTexts)
	}
	if thread.Orphaned {
		t.Error("Orphaned = true, want false when the root is present")
	}
	if units[1].Messages[0].Text != "standalone" {
		t.Errorf("units[1] = %q, want the standalone message", units[1].Messages[0].Text)
	}
}

func TestGroupThreadsDisabledPerMessageUnits(t *testing.T) {
	msgs := []slack.Message{
		threaded("C1", "U1", ts(10), ts(10), "root"),
		threaded("C1", "U2", ts(15), ts(10), "reply"),
	}
	units := Group(context.Background(), msgs, Spec{})
	if len(units) != 2 {
		t.Fatalf("got %d units, want one per message", len(units))
	}
}

func TestGroupRootWithoutThreadTS(t *testing.T) {
	// A root's own event may carry no thread_ts when it was posted
	// before the first reply existed. Its replies still merge into it.
	msgs := []slack.Message{
		msg("C1", "U1", ts(10), "root without thread_ts"),
		threaded("C1", "U2", ts(90000), ts(10), "much later reply"),
	}

	units := Group(context.Background(), msgs, Spec{
		Threads: true,
		Bucket:  BucketDay,
		Exclude: []slack.Subtype{},
	})
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	u := units[0]
	if u.Orphaned {
		t.Error("Orphaned = true, want false when the root is in the input")
	}
	if len(u.Messages) != 2 || u.Messages[0].Text != "root without thread_ts" {
		t.Fatalf("messages = %+v, want root then reply", u.Messages)
	}
	want := BucketKey(BucketDay, slack.Message{Timestamp: ts(10)}.Time(), nil)
	if u.Key.Bucket != want {
		t.Errorf("reply bucketed at %q, want the root's bucket %q", u.Key.Bucket, want)
	}
}

func TestGroupOrphanedThread(t *testing.T) {
	msgs := []slack.Message{
		threaded("C1", "U2", ts(15), ts(10), "reply without root"),
	}
	units := Group(context.Background(), msgs, Spec{Threads: true})
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	if !units[0].Orphaned {
		t.Error("Orphaned = false, want true when the root is missing")
	}
	if units[0].Key.Thread != ts(10) {
		t.Errorf("Key.Thread = %q, want the missing root %q", units[0].Key.Thread, ts(10))
	}
}

func TestGroupDefaultExclusions(t *testing.T) {
	msgs := []slack.Message{
		msg("C1", "U1", ts(10), "keep me"),
		{Channel: "C1", User: "U2", Timestamp: ts(20), Text: "joined", Subtype: slack.SubtypeJoin},
		{Channel: "C1", BotID: "B1", Timestamp: ts(30), Text: "bot spam", Subtype: slack.SubtypeBot},
	}

	units := Group(context.Background(), msgs, Spec{ByChannel: true})
	if len(units) != 1 || len(units[0].Messages) != 1 {
		t.Fatalf("units = %+v, want one unit with one message", units)
	}
	if units[0].Messages[0].Text != "keep me" {
		t.Errorf("kept %q, want %q", units[0].Messages[0].Text, "keep me")
	}

	// An explicit empty exclusion list keeps everything.
	units = Group(context.Background(), msgs, Spec{ByChannel: true, Exclude: []slack.Subtype{}})
	if len(units) != 1 || len(units[0].Messages) != 3 {
		t.Fatalf("with empty exclusions got %d messages, want 3", len(units[0].Messages))
	}
}

func TestGroupCapKeepsMostRecent(t *testing.T) {
	var msgs []slack.Message
	for i := 0; i < 15; i++ {
		msgs = append(msgs, msg("C1", "U1", ts(i), fmt.Sprintf("m%d", i)))
	}
	units := Group(context.Background(), msgs, Spec{ByChannel: true, MaxPerUnit: 10})
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	u := units[0]
	if u.Truncated != 5 {
		t.Errorf("Truncated = %d, want 5", u.Truncated)
	}
	if len(u.Messages) != 10 {
		t.Fatalf("got %d messages, want 10", len(u.Messages))
	}
	if u.Messages[0].Text != "m5" || u.Messages[9].Text != "m14" {
		t.Errorf("kept %q..%q, want the 10 most recent m5..m14", u.Messages[0].Text, u.Messages[9].Text)
	}
}

func TestGroupOrderInsensitive(t *testing.T) {
	msgs := []slack.Message{
		msg("C1", "U1", ts(10), "a"),
		msg("C2", "U2", ts(20), "b"),
		threaded("C1", "U2", ts(30), ts(10), "r"),
		msg("C1", "U3", ts(40), "c"),
	}
	shuffled := []slack.Message{msgs[3], msgs[1], msgs[2], msgs[0]}

	spec := Spec{ByChannel: true, Threads: true, Bucket: BucketDay}
	a := Group(context.Background(), msgs, spec)
	b := Group(context.Background(), shuffled, spec)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("grouping depends on input order:\n%+v\nvs\n%+v", a, b)
	}
}

func TestGroupRepliesInheritRootBucket(t *testing.T) {
	// Root just before midnight, reply just after. With threading on,
	// both land in the root's day.
	root := time.Date(2024, 3, 31, 23, 50, 0, 0, time.UTC).Unix()
	reply := time.Date(2024, 4, 1, 0, 10, 0, 0, time.UTC).Unix()
	rootTS := fmt.Sprintf("%d.000000", root)
	msgs := []slack.Message{
		{Channel: "C1", User: "U1", Timestamp: rootTS, ThreadRoot: rootTS, Text: "root"},
		{Channel: "C1", User: "U2", Timestamp: fmt.Sprintf("%d.000000", reply), ThreadRoot: rootTS, Text: "reply"},
	}

	units := Group(context.Background(), msgs, Spec{Bucket: BucketDay, Threads: true})
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1; thread must not straddle buckets", len(units))
	}
	if units[0].Key.Bucket != "2024-03-31" {
		t.Errorf("Bucket = %q, want the root's day", units[0].Key.Bucket)
	}
}

type fakeResolver struct {
	users map[string]slack.User
}

func (r *fakeResolver) User(_ context.Context, id string) (slack.User, slack.Lookup) {
	u, ok := r.users[id]
	if !ok {
		return slack.User{}, slack.Lookup{Status: slack.LookupNotFound}
	}
	return u, slack.Lookup{Status: slack.LookupFound}
}

func TestGroupEnrichment(t *testing.T) {
	r := &fakeResolver{users: map[string]slack.User{
		"U1": {ID: "U1", DisplayName: "ada", Email: "ada@example.com"},
	}}
	msgs := []slack.Message{
		msg("C1", "U1", ts(10), "ping <@U1> and <@UGONE>"),
		msg("C1", "UGONE", ts(20), "hi"),
	}

	units := Group(context.Background(), msgs, Spec{ByChannel: true, Resolve: true, Resolver: r})
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	got := units[0].Messages
	if got[0].UserName != "ada" || got[0].UserEmail != "ada@example.com" {
		t.Errorf("enriched author = %q/%q, want ada/ada@example.com", got[0].UserName, got[0].UserEmail)
	}
	if want := "ping @ada and <@UGONE>"; got[0].Text != want {
		t.Errorf("Text = %q, want %q; unknown mentions stay raw", got[0].Text, want)
	}
	// A miss degrades to the raw ID, never fails the run.
	if got[1].UserName != "" {
		t.Errorf("unknown author UserName = %q, want empty", got[1].UserName)
	}
}
