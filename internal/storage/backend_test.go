package storage

import (
	"context"
	"reflect"
	"testing"
)

func TestNormalizePrefix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/", ""},
		{"meals/generated", "meals/generated/"},
		{"/meals/generated/", "meals/generated/"},
		{"//avatars", "avatars/"},
		{"  users/  ", "users/"},
	}
	for _, tt := range tests {
		if got := NormalizePrefix(tt.in); got != tt.want {
			t.Errorf("NormalizePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChildEntries(t *testing.T) {
	keys := []string{"a/x.png", "a/b/y.png", "a/b/z.png", "a/c/", "b/q.png", "a/"}
	got := childEntries(keys, "a/")
	want := []Entry{
		{Path: "a/b/", IsPrefix: true},
		{Path: "a/c/", IsPrefix: true},
		{Path: "a/x.png"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("childEntries = %+v, want %+v", got, want)
	}
}

func TestPaginateFullPagesOnly(t *testing.T) {
	entries := make([]Entry, 5)
	for i := range entries {
		entries[i] = Entry{Path: string(rune('a' + i))}
	}

	page, err := paginate(entries, "", 2)
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(page.Entries) != 2 || page.NextPageToken != "2" {
		t.Fatalf("first page = %d entries, token %q", len(page.Entries), page.NextPageToken)
	}

	page, err = paginate(entries, "4", 2)
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(page.Entries) != 1 || page.NextPageToken != "" {
		t.Errorf("short page = %d entries, token %q; want 1, empty", len(page.Entries), page.NextPageToken)
	}

	// Exactly full final page issues no token because nothing remains.
	page, err = paginate(entries[:4], "2", 2)
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if page.NextPageToken != "" {
		t.Errorf("token on exhausted page = %q, want empty", page.NextPageToken)
	}

	if _, err := paginate(entries, "bogus", 2); err == nil {
		t.Error("expected error for invalid token")
	}
}

func TestMemoryBackendListAndRemove(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	b.Put("assets", "meals/generated/a.png", []byte("a"))
	b.Put("assets", "meals/generated/b.png", []byte("b"))
	b.Put("assets", "meals/raw/c.png", []byte("c"))

	page, err := b.List(ctx, "assets", "meals/", "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []Entry{
		{Path: "meals/generated/", IsPrefix: true},
		{Path: "meals/raw/", IsPrefix: true},
	}
	if !reflect.DeepEqual(page.Entries, want) {
		t.Errorf("List entries = %+v, want %+v", page.Entries, want)
	}

	removed, err := b.Remove(ctx, "assets", []string{"meals/generated/a.png", "missing.png"})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !reflect.DeepEqual(removed, []string{"meals/generated/a.png"}) {
		t.Errorf("removed = %v", removed)
	}
	if b.Exists("assets", "meals/generated/a.png") {
		t.Error("object still exists after Remove")
	}

	// Removing again is idempotent.
	removed, err = b.Remove(ctx, "assets", []string{"meals/generated/a.png"})
	if err != nil || len(removed) != 0 {
		t.Errorf("second Remove = %v, %v; want empty, nil", removed, err)
	}
}

func TestMemoryBackendCancelledContext(t *testing.T) {
	b := NewMemoryBackend()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.List(ctx, "assets", "", "", 0); err == nil {
		t.Error("expected error listing with cancelled context")
	}
	if _, err := b.Remove(ctx, "assets", []string{"x"}); err == nil {
		t.Error("expected error removing with cancelled context")
	}
}
