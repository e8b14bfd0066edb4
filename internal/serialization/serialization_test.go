package serialization

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/bleepstore/bleepsweep/internal/metadata"
)

const schemaDDL = `
CREATE TABLE meals (id INTEGER PRIMARY KEY, user_id TEXT, image_url TEXT, thumb_url TEXT);
INSERT INTO meals (user_id, image_url, thumb_url) VALUES
  ('u1', 'https://x.example.com/storage/v1/object/public/assets/meals/a.png', 'meals/a-thumb.png'),
  ('u2', NULL, 'meals/b-thumb.png');
`

func createTestDB(t *testing.T, dir string) string {
	t.Helper()
	dbPath := filepath.Join(dir, "app.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(schemaDDL); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return dbPath
}

func collect(t *testing.T, src metadata.ReferenceSource, d metadata.Descriptor) []string {
	t.Helper()
	var out []string
	if err := src.Values(context.Background(), d, func(v metadata.Value) error {
		if v.Opaque {
			out = append(out, "opaque:"+v.Raw)
			return nil
		}
		out = append(out, v.Raw)
		return nil
	}); err != nil {
		t.Fatalf("Values(%s): %v", d, err)
	}
	sort.Strings(out)
	return out
}

func TestExportRoundTripsThroughLocalSource(t *testing.T) {
	dir := t.TempDir()
	src, err := metadata.NewSQLiteSource(createTestDB(t, dir))
	if err != nil {
		t.Fatalf("NewSQLiteSource: %v", err)
	}
	defer src.Close()

	descs := []metadata.Descriptor{
		{Table: "meals", Column: "image_url"},
		{Table: "meals", Column: "thumb_url", BucketHint: "assets"},
	}
	out := filepath.Join(dir, "snapshot")
	m, err := ExportReferences(context.Background(), src, descs, out, "sqlite")
	if err != nil {
		t.Fatalf("ExportReferences: %v", err)
	}
	if m.Tables["meals"] != 3 {
		t.Errorf("meals count = %d, want 3", m.Tables["meals"])
	}

	local, err := metadata.NewLocalSource(out)
	if err != nil {
		t.Fatalf("NewLocalSource: %v", err)
	}
	for _, d := range descs {
		if got, want := collect(t, local, d), collect(t, src, d); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: snapshot %v, live %v", d, got, want)
		}
	}

	read, err := ReadManifest(out)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if read.Version != ExportVersion || read.Source != "sqlite" || len(read.Descriptors) != 2 {
		t.Errorf("manifest = %+v", read)
	}
}

func TestExportNestedColumn(t *testing.T) {
	src := metadata.NewMemorySource()
	src.Insert("docs", metadata.Row{"data": map[string]any{"image": "assets/a.png"}})
	d := metadata.Descriptor{Table: "docs", Column: "data.image"}

	dir := t.TempDir()
	if _, err := ExportReferences(context.Background(), src, []metadata.Descriptor{d}, dir, "memory"); err != nil {
		t.Fatalf("ExportReferences: %v", err)
	}
	local, err := metadata.NewLocalSource(dir)
	if err != nil {
		t.Fatalf("NewLocalSource: %v", err)
	}
	if got := collect(t, local, d); !reflect.DeepEqual(got, []string{"assets/a.png"}) {
		t.Errorf("values = %v", got)
	}
}

func TestExportRejectsUnsafeDescriptor(t *testing.T) {
	_, err := ExportReferences(context.Background(), metadata.NewMemorySource(),
		[]metadata.Descriptor{{Table: "meals; drop", Column: "x"}}, t.TempDir(), "memory")
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestReadManifestVersion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(`{"version": 99}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadManifest(dir); err == nil {
		t.Error("expected unsupported version error")
	}
	if _, err := ReadManifest(t.TempDir()); err == nil {
		t.Error("expected missing manifest error")
	}
}

func TestNestField(t *testing.T) {
	got := nestField("a.b.c", "v")
	want := map[string]any{"a": map[string]any{"b": map[string]any{"c": "v"}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("nestField = %v", got)
	}
}

func TestExportKeepsOpaqueValues(t *testing.T) {
	src := metadata.NewMemorySource()
	src.Insert("meals",
		metadata.Row{"image": "assets/meals/a.png"},
		metadata.Row{"image": map[string]any{"url": "assets/meals/b.png"}},
	)
	descs := []metadata.Descriptor{{Table: "meals", Column: "image", BucketHint: "assets"}}
	out := filepath.Join(t.TempDir(), "snapshot")
	if _, err := ExportReferences(context.Background(), src, descs, out, "memory"); err != nil {
		t.Fatalf("ExportReferences: %v", err)
	}

	local, err := metadata.NewLocalSource(out)
	if err != nil {
		t.Fatalf("NewLocalSource: %v", err)
	}
	got := collect(t, local, descs[0])
	if len(got) != 2 || got[0] != "assets/meals/a.png" || !strings.HasPrefix(got[1], "opaque:") {
		t.Errorf("round trip = %q, want the map kept opaque", got)
	}
}
