package slack

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

type fakeDirectory struct {
	users    []User
	channels []Channel
	err      error
	capped   bool
	rebuilds int
}

func (d *fakeDirectory) ListUsers(context.Context) ([]User, PageResult, error) {
	d.rebuilds++
	if d.err != nil {
		return nil, PageResult{}, d.err
	}
	return d.users, PageResult{Pages: 1, Partial: d.capped}, nil
}

func (d *fakeDirectory) ListChannels(context.Context, bool, string) ([]Channel, PageResult, error) {
	if d.err != nil {
		return nil, PageResult{}, d.err
	}
	return d.channels, PageResult{Pages: 1}, nil
}

func testDirectory() *fakeDirectory {
	return &fakeDirectory{
		users: []User{
			{ID: "U1", Name: "Ada Lovelace", DisplayName: "ada", Email: "ada@example.com"},
			{ID: "U2", Name: "Grace Hopper"},
		},
		channels: []Channel{
			{ID: "C1", Name: "general", Member: true},
			{ID: "C2", Name: "random"},
		},
	}
}

func TestCacheRebuildOnFirstAccess(t *testing.T) {
	dir := testDirectory()
	now := time.Unix(5000, 0)
	c := NewEntityCache(dir, time.Hour, false, discardLogger()).
		WithClock(func() time.Time { return now })

	u, lk := c.User(context.Background(), "U1")
	if lk.Status != LookupFound || lk.Stale {
		t.Fatalf("User() lookup = %+v, want found and fresh", lk)
	}
	if u.Email != "ada@example.com" {
		t.Errorf("User().Email = %q, want %q", u.Email, "ada@example.com")
	}
	if dir.rebuilds != 1 {
		t.Errorf("rebuilds = %d, want 1", dir.rebuilds)
	}

	// A second lookup within the TTL must not refetch.
	if _, lk := c.User(context.Background(), "U2"); lk.Status != LookupFound {
		t.Errorf("User(U2) lookup = %+v, want found", lk)
	}
	if dir.rebuilds != 1 {
		t.Errorf("rebuilds after fresh lookup = %d, want 1", dir.rebuilds)
	}
}

func TestCacheMarksCappedBuildPartial(t *testing.T) {
	dir := testDirectory()
	dir.capped = true
	now := time.Unix(5000, 0)
	c := NewEntityCache(dir, time.Hour, false, discardLogger()).
		WithClock(func() time.Time { return now })

	// A miss against a capped listing is not authoritative.
	if _, lk := c.User(context.Background(), "U-past-the-cap"); lk.Status != LookupNotFound || !lk.Partial {
		t.Errorf("User() lookup = %+v, want not-found and partial", lk)
	}
	if _, lk := c.User(context.Background(), "U1"); lk.Status != LookupFound || !lk.Partial {
		t.Errorf("User(U1) lookup = %+v, want found and partial", lk)
	}
	if _, lk := c.ChannelByName(context.Background(), "general"); !lk.Partial {
		t.Errorf("ChannelByName() lookup = %+v, want partial", lk)
	}

	// A later complete rebuild clears the flag.
	dir.capped = false
	now = now.Add(2 * time.Hour)
	if _, lk := c.User(context.Background(), "U1"); lk.Partial {
		t.Errorf("User(U1) after full rebuild = %+v, want not partial", lk)
	}
}

func TestCacheExpiryTriggersRebuild(t *testing.T) {
	dir := testDirectory()
	now := time.Unix(5000, 0)
	c := NewEntityCache(dir, time.Hour, false, discardLogger()).
		WithClock(func() time.Time { return now })

	c.User(context.Background(), "U1")
	dir.users = append(dir.users, User{ID: "U3", Name: "New Hire"})

	now = now.Add(2 * time.Hour)
	u, lk := c.User(context.Background(), "U3")
	if lk.Status != LookupFound || lk.Stale {
		t.Fatalf("User(U3) lookup = %+v, want found after rebuild", lk)
	}
	if u.Name != "New Hire" {
		t.Errorf("User(U3).Name = %q, want %q", u.Name, "New Hire")
	}
	if dir.rebuilds != 2 {
		t.Errorf("rebuilds = %d, want 2", dir.rebuilds)
	}
}

func TestCacheServesStaleOnRebuildFailure(t *testing.T) {
	dir := testDirectory()
	now := time.Unix(5000, 0)
	c := NewEntityCache(dir, time.Hour, false, discardLogger()).
		WithClock(func() time.Time { return now })

	c.User(context.Background(), "U1")

	dir.err = errors.New("slack outage")
	now = now.Add(2 * time.Hour)

	u, lk := c.User(context.Background(), "U1")
	if lk.Status != LookupFound {
		t.Fatalf("User() lookup = %+v, want found from stale data", lk)
	}
	if !lk.Stale {
		t.Error("Stale = false, want true when rebuild failed")
	}
	if u.ID != "U1" {
		t.Errorf("User().ID = %q, want U1", u.ID)
	}

	// Misses on stale data are still reported as not found.
	if _, lk := c.User(context.Background(), "U9"); lk.Status != LookupNotFound || !lk.Stale {
		t.Errorf("User(U9) lookup = %+v, want not found and stale", lk)
	}
}

func TestCacheChannelByName(t *testing.T) {
	dir := testDirectory()
	dir.channels = append(dir.channels, Channel{ID: "C3", Name: "General"}) // duplicate after normalization
	c := NewEntityCache(dir, time.Hour, false, discardLogger())

	tests := []struct {
		name       string
		query      string
		wantStatus LookupStatus
		wantID     string
	}{
		{name: "exact", query: "random", wantStatus: LookupFound, wantID: "C2"},
		{name: "hash prefix stripped", query: "#random", wantStatus: LookupFound, wantID: "C2"},
		{name: "case insensitive", query: "RANDOM", wantStatus: LookupFound, wantID: "C2"},
		{name: "ambiguous", query: "general", wantStatus: LookupAmbiguous},
		{name: "missing", query: "nope", wantStatus: LookupNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, lk := c.ChannelByName(context.Background(), tt.query)
			if lk.Status != tt.wantStatus {
				t.Fatalf("ChannelByName(%q) status = %v, want %v", tt.query, lk.Status, tt.wantStatus)
			}
			if tt.wantID != "" && ch.ID != tt.wantID {
				t.Errorf("ChannelByName(%q).ID = %q, want %q", tt.query, ch.ID, tt.wantID)
			}
		})
	}
}

func TestCacheSaveLoad(t *testing.T) {
	dir := testDirectory()
	now := time.Unix(5000, 0)
	c := NewEntityCache(dir, time.Hour, false, discardLogger()).
		WithClock(func() time.Time { return now })
	if err := c.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "cache.json")
	if err := c.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// A fresh cache loaded from the snapshot serves lookups without
	// touching the directory.
	cold := &fakeDirectory{}
	c2 := NewEntityCache(cold, time.Hour, false, discardLogger()).
		WithClock(func() time.Time { return now })
	if err := c2.Load(path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, lk := c2.User(context.Background(), "U1"); lk.Status != LookupFound {
		t.Errorf("User(U1) after Load = %+v, want found", lk)
	}
	if ch, lk := c2.ChannelByName(context.Background(), "#general"); lk.Status != LookupFound || ch.ID != "C1" {
		t.Errorf("ChannelByName after Load = %+v/%+v, want C1 found", ch, lk)
	}
	if cold.rebuilds != 0 {
		t.Errorf("rebuilds = %d, want 0 when snapshot is fresh", cold.rebuilds)
	}
}

func TestCacheLoadMissingFile(t *testing.T) {
	c := NewEntityCache(testDirectory(), time.Hour, false, discardLogger())
	if err := c.Load(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Errorf("Load() on missing file = %v, want nil", err)
	}
}
