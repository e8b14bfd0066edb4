package metadata

import (
	"context"
	"database/sql"
	"path/filepath"
	"sort"
	"testing"
)

// newTestSource creates a SQLiteSource over a temporary database seeded
// with a meals table. The database is cleaned up when the test finishes.
func newTestSource(t *testing.T) *SQLiteSource {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "refs.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	stmts := []string{
		`CREATE TABLE meals (id INTEGER PRIMARY KEY, user_id TEXT, image_url TEXT)`,
		`INSERT INTO meals (user_id, image_url) VALUES
			('u1', 'meals/generated/a.png'),
			('u1', NULL),
			('u2', 'https://x.supabase.co/storage/v1/object/public/assets/meals/generated/c.png'),
			('u3', 'meals/generated/d.png')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seeding %q failed: %v", s, err)
		}
	}
	db.Close()

	src, err := NewSQLiteSource(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteSource(%q) failed: %v", dbPath, err)
	}
	t.Cleanup(func() { src.Close() })
	return src
}

// collect gathers scanned values, sorted. Opaque values are prefixed with
// "opaque:".
func collect(t *testing.T, run func(fn func(Value) error) error) []string {
	t.Helper()
	var out []string
	if err := run(func(v Value) error {
		if v.Opaque {
			out = append(out, "opaque:"+v.Raw)
			return nil
		}
		out = append(out, v.Raw)
		return nil
	}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	sort.Strings(out)
	return out
}

var mealsDesc = Descriptor{Table: "meals", Column: "image_url", BucketHint: "assets", OwnerColumn: "user_id"}

func TestSQLiteValuesSkipsNull(t *testing.T) {
	src := newTestSource(t)
	ctx := context.Background()

	got := collect(t, func(fn func(Value) error) error { return src.Values(ctx, mealsDesc, fn) })
	if len(got) != 3 {
		t.Fatalf("Values = %v, want 3 non-null values", got)
	}
	if got[0] != "https://x.supabase.co/storage/v1/object/public/assets/meals/generated/c.png" {
		t.Errorf("first value = %q", got[0])
	}
}

func TestSQLiteOwnedValues(t *testing.T) {
	src := newTestSource(t)
	ctx := context.Background()

	got := collect(t, func(fn func(Value) error) error {
		return src.OwnedValues(ctx, mealsDesc, []string{"u1", "u3", "nobody"}, fn)
	})
	want := []string{"meals/generated/a.png", "meals/generated/d.png"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("OwnedValues = %v, want %v", got, want)
	}

	noOwner := mealsDesc
	noOwner.OwnerColumn = ""
	got = collect(t, func(fn func(Value) error) error {
		return src.OwnedValues(ctx, noOwner, []string{"u1"}, fn)
	})
	if len(got) != 0 {
		t.Errorf("OwnedValues without owner column = %v, want none", got)
	}
}

func TestSQLiteRejectsUnsafeIdentifiers(t *testing.T) {
	src := newTestSource(t)
	bad := Descriptor{Table: "meals; DROP TABLE meals", Column: "image_url"}
	err := src.Values(context.Background(), bad, func(Value) error { return nil })
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSQLiteMissingTable(t *testing.T) {
	src := newTestSource(t)
	err := src.Values(context.Background(), Descriptor{Table: "nope", Column: "x"}, func(Value) error { return nil })
	if err == nil {
		t.Fatal("expected error for missing table")
	}
}

func TestSQLiteIsReadOnly(t *testing.T) {
	src := newTestSource(t)
	if _, err := src.db.Exec(`DELETE FROM meals`); err == nil {
		t.Fatal("expected write to fail on query_only connection")
	}
}
