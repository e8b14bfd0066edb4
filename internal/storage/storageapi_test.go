package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newStorageAPITestServer(t *testing.T, handler http.HandlerFunc) *StorageAPIBackend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b, err := NewStorageAPIBackend(StorageAPIOptions{URL: srv.URL + "/storage/v1", ServiceKey: "service-key"})
	if err != nil {
		t.Fatalf("NewStorageAPIBackend: %v", err)
	}
	return b
}

func TestStorageAPIList(t *testing.T) {
	var got storageAPIListRequest
	b := newStorageAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/storage/v1/object/list/assets" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer service-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`[{"name":"generated","id":null},{"name":"a.png","id":"1"},{"name":".emptyFolderPlaceholder","id":"2"}]`))
	})

	page, err := b.List(context.Background(), "assets", "meals/", "", 3)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if got.Prefix != "meals" || got.Limit != 3 || got.Offset != 0 || got.SortBy.Column != "name" {
		t.Errorf("request body = %+v", got)
	}
	want := []Entry{
		{Path: "meals/generated/", IsPrefix: true},
		{Path: "meals/a.png"},
	}
	if len(page.Entries) != 2 || page.Entries[0] != want[0] || page.Entries[1] != want[1] {
		t.Errorf("entries = %+v, want %+v", page.Entries, want)
	}
	// Three raw rows filled the page, so another page is requested.
	if page.NextPageToken != "3" {
		t.Errorf("NextPageToken = %q, want 3", page.NextPageToken)
	}
}

func TestStorageAPIListShortPageEnds(t *testing.T) {
	b := newStorageAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name":"a.png","id":"1"}]`))
	})
	page, err := b.List(context.Background(), "assets", "", "100", 50)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.NextPageToken != "" {
		t.Errorf("NextPageToken = %q, want empty", page.NextPageToken)
	}
}

func TestStorageAPIRemove(t *testing.T) {
	b := newStorageAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/storage/v1/object/assets" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body storageAPIRemoveRequest
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Prefixes) != 2 {
			t.Errorf("prefixes = %v", body.Prefixes)
		}
		w.Write([]byte(`[{"name":"meals/a.png","id":"1"}]`))
	})

	removed, err := b.Remove(context.Background(), "assets", []string{"meals/a.png", "meals/gone.png"})
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != "meals/a.png" {
		t.Errorf("removed = %v", removed)
	}
}

func TestStorageAPIErrorStatus(t *testing.T) {
	b := newStorageAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"statusCode":"403","error":"Unauthorized","message":"invalid signature"}`))
	})
	if _, err := b.Remove(context.Background(), "assets", []string{"x"}); err == nil {
		t.Error("expected error on 403")
	}
	if err := b.HealthCheck(context.Background()); err == nil {
		t.Error("expected HealthCheck error on 403")
	}
}

func TestNewStorageAPIBackendValidation(t *testing.T) {
	if _, err := NewStorageAPIBackend(StorageAPIOptions{URL: "not a url", ServiceKey: "k"}); err == nil {
		t.Error("expected error for invalid url")
	}
	if _, err := NewStorageAPIBackend(StorageAPIOptions{URL: "https://x.example"}); err == nil {
		t.Error("expected error for missing key")
	}
}
