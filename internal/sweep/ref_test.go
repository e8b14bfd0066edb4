package sweep

import "testing"

func TestRefParserParse(t *testing.T) {
	p := NewRefParser([]string{"assets", "media"}, []string{"project.storage.example.com"})
	tests := []struct {
		name  string
		value string
		hint  string
		kind  RefKind
		ref   StorageRef
	}{
		{"empty", "   ", "", RefNone, StorageRef{}},
		{"public url", "https://project.storage.example.com/storage/v1/object/public/assets/meals/a.png", "", RefRecognized, StorageRef{"assets", "meals/a.png"}},
		{"signed url with token", "https://project.storage.example.com/storage/v1/object/sign/media/x/y.jpg?token=abc", "", RefRecognized, StorageRef{"media", "x/y.jpg"}},
		{"authenticated url", "https://project.storage.example.com/storage/v1/object/authenticated/assets/p.png#frag", "", RefRecognized, StorageRef{"assets", "p.png"}},
		{"relative object path", "/object/public/assets/meals/a.png", "", RefRecognized, StorageRef{"assets", "meals/a.png"}},
		{"bare object path", "object/download/assets/b.png", "", RefRecognized, StorageRef{"assets", "b.png"}},
		{"percent encoded", "https://project.storage.example.com/storage/v1/object/public/assets/meals/my%20photo.png", "", RefRecognized, StorageRef{"assets", "meals/my photo.png"}},
		{"url on foreign host", "https://cdn.other.example.org/img/a.png", "", RefExternal, StorageRef{}},
		{"url on storage host without object path", "https://project.storage.example.com/render/a.png", "", RefUnrecognized, StorageRef{}},
		{"non http scheme", "s3://assets/a.png", "", RefUnrecognized, StorageRef{}},
		{"data uri", "data:image/png;base64,AAAA", "", RefUnrecognized, StorageRef{}},
		{"bucket shorthand", "assets/meals/a.png", "", RefRecognized, StorageRef{"assets", "meals/a.png"}},
		{"bucket shorthand leading slash", "/media/x.jpg", "", RefRecognized, StorageRef{"media", "x.jpg"}},
		{"hinted relative", "meals/generated/a.png", "assets", RefRecognized, StorageRef{"assets", "meals/generated/a.png"}},
		{"hinted strips query", "meals/a.png?v=2", "assets", RefRecognized, StorageRef{"assets", "meals/a.png"}},
		{"hinted key kept as written", "meals/100%25.png", "assets", RefRecognized, StorageRef{"assets", "meals/100%25.png"}},
		{"shorthand key kept as written", "assets/my%20photo.png", "", RefRecognized, StorageRef{"assets", "my%20photo.png"}},
		{"unhinted relative", "meals/generated/a.png", "", RefUnrecognized, StorageRef{}},
		{"dot dot rejected", "assets/../secrets/key", "", RefUnrecognized, StorageRef{}},
		{"folder rejected", "meals/generated/", "assets", RefUnrecognized, StorageRef{}},
		{"unknown access kind", "/object/private/assets/a.png", "", RefUnrecognized, StorageRef{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.value, tt.hint)
			if got.Kind != tt.kind {
				t.Fatalf("Parse(%q).Kind = %v, want %v", tt.value, got.Kind, tt.kind)
			}
			if got.Ref != tt.ref {
				t.Errorf("Parse(%q).Ref = %+v, want %+v", tt.value, got.Ref, tt.ref)
			}
		})
	}
}

func TestRefParserWithoutHostsIsConservative(t *testing.T) {
	p := NewRefParser(nil, nil)
	if got := p.Parse("https://cdn.example.org/a.png", ""); got.Kind != RefUnrecognized {
		t.Errorf("Kind = %v, want RefUnrecognized", got.Kind)
	}
	if got := p.Parse("https://x.example.org/storage/v1/object/public/b/a.png", ""); got.Kind != RefRecognized {
		t.Errorf("object URL Kind = %v, want RefRecognized", got.Kind)
	}
}

func TestDecodePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a/b.png", "a/b.png", true},
		{"//a/b.png", "a/b.png", true},
		{"a%2Fb.png", "a/b.png", true},
		{"", "", false},
		{"a/", "", false},
		{"a/../b", "", false},
		{"%zz", "", false},
	}
	for _, tt := range tests {
		got, ok := decodePath(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("decodePath(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a/b.png", "a/b.png", true},
		{"/a%2Fb.png", "a%2Fb.png", true},
		{"a/", "", false},
		{"a/../b", "", false},
	}
	for _, tt := range tests {
		got, ok := cleanPath(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("cleanPath(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
