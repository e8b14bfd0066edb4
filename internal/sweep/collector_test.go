package sweep

import (
	"context"
	"errors"
	"reflect"
	"testing"

	sweeperrors "github.com/bleepstore/bleepsweep/internal/errors"
	"github.com/bleepstore/bleepsweep/internal/metadata"
)

func TestCollectorBuildsIndex(t *testing.T) {
	src := metadata.NewMemorySource()
	src.Insert("meals",
		metadata.Row{"image_url": "https://x.example.com/storage/v1/object/public/assets/meals/generated/a.png"},
		metadata.Row{"image_url": nil},
		metadata.Row{"image_url": "https://cdn.example.org/a.png"},
	)
	src.Insert("profiles",
		metadata.Row{"avatar": "users/1/avatar.png"},
		metadata.Row{"avatar": "???"},
	)
	descs := []metadata.Descriptor{
		{Table: "meals", Column: "image_url"},
		{Table: "profiles", Column: "avatar", BucketHint: "avatars"},
	}

	parser := NewRefParser([]string{"assets"}, []string{"x.example.com"})
	ix, err := NewCollector(src, descs, parser, 2, discardLogger()).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !ix.Contains("assets", "meals/generated/a.png") {
		t.Error("public URL not indexed")
	}
	if !ix.Contains("avatars", "users/1/avatar.png") {
		t.Error("hinted value not indexed")
	}
	if ix.Len() != 2 {
		t.Errorf("Len = %d, want 2", ix.Len())
	}
	if ix.external != 1 {
		t.Errorf("external = %d, want 1", ix.external)
	}
	// "???" has no path, so it taints the hinted bucket only.
	if !ix.Tainted("avatars") || ix.Tainted("assets") {
		t.Errorf("taint: avatars=%v assets=%v", ix.Tainted("avatars"), ix.Tainted("assets"))
	}
}

func TestReferenceIndexTaint(t *testing.T) {
	ix := NewReferenceIndex()
	ix.Taint("assets", "weird-1")
	if !ix.Tainted("assets") || ix.Tainted("media") {
		t.Error("hinted taint should only affect its bucket")
	}
	ix.Taint("", "weird-2")
	if !ix.Tainted("media") {
		t.Error("unhinted taint should affect every bucket")
	}
	if got := ix.UnrecognizedSamples([]string{"media"}, 10); !reflect.DeepEqual(got, []string{"weird-2"}) {
		t.Errorf("samples(media) = %v", got)
	}
	if got := ix.UnrecognizedSamples([]string{"assets"}, 1); !reflect.DeepEqual(got, []string{"weird-1"}) {
		t.Errorf("samples(assets, 1) = %v", got)
	}
	if ix.UnrecognizedCount() != 2 {
		t.Errorf("count = %d", ix.UnrecognizedCount())
	}
}

func TestReferenceIndexSampleCap(t *testing.T) {
	ix := NewReferenceIndex()
	for i := 0; i < 50; i++ {
		ix.Taint("assets", string(rune('a'+i%26))+"x")
	}
	if ix.UnrecognizedCount() != 50 {
		t.Errorf("count = %d, want 50", ix.UnrecognizedCount())
	}
	if got := ix.UnrecognizedSamples([]string{"assets"}, 100); len(got) != maxUnrecognizedSamples {
		t.Errorf("samples = %d, want %d", len(got), maxUnrecognizedSamples)
	}
}

type failingSource struct {
	*metadata.MemorySource
}

func (failingSource) Values(ctx context.Context, d metadata.Descriptor, fn func(metadata.Value) error) error {
	return errInjected
}

func TestCollectorScanError(t *testing.T) {
	src := failingSource{metadata.NewMemorySource()}
	descs := []metadata.Descriptor{{Table: "meals", Column: "image_url"}}
	_, err := NewCollector(src, descs, NewRefParser(nil, nil), 1, discardLogger()).Collect(context.Background())
	if !errors.Is(err, errInjected) {
		t.Errorf("err = %v, want injected failure", err)
	}
	if sweeperrors.Code(err) != sweeperrors.ErrReferenceScan.Code {
		t.Errorf("code = %q, want %q", sweeperrors.Code(err), sweeperrors.ErrReferenceScan.Code)
	}
}
