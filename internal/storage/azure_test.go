package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// mockAzureClient implements AzureBlobAPI for unit testing.
type mockAzureClient struct {
	mu sync.Mutex
	// blobs is the set of existing blob names.
	blobs map[string]bool
	// list is returned from every ListHierarchy call.
	list *AzureListResult
	// lastMarker records the marker of the last ListHierarchy call.
	lastMarker string
	// containerErr is returned from ContainerExists.
	containerErr error
}

func (m *mockAzureClient) ListHierarchy(ctx context.Context, containerName, prefix, marker string, maxResults int) (*AzureListResult, error) {
	m.lastMarker = marker
	return m.list, nil
}

func (m *mockAzureClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.blobs[blobName] {
		return errors.New("RESPONSE 404: 404 The specified blob does not exist.\nERROR CODE: BlobNotFound")
	}
	delete(m.blobs, blobName)
	return nil
}

func (m *mockAzureClient) ContainerExists(ctx context.Context, containerName string) error {
	return m.containerErr
}

func TestAzureList(t *testing.T) {
	mock := &mockAzureClient{list: &AzureListResult{
		Blobs:      []string{"avatars/u1.png", "avatars/"},
		Prefixes:   []string{"avatars/thumbs/"},
		NextMarker: "m2",
	}}
	b := NewAzureBackendWithClient("https://acct.blob.core.windows.net", "", mock)

	page, err := b.List(context.Background(), "assets", "avatars/", "m1", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if mock.lastMarker != "m1" {
		t.Errorf("marker = %q, want m1", mock.lastMarker)
	}
	want := []Entry{
		{Path: "avatars/u1.png"},
		{Path: "avatars/thumbs/", IsPrefix: true},
	}
	if len(page.Entries) != len(want) {
		t.Fatalf("entries = %+v, want %+v", page.Entries, want)
	}
	for i := range want {
		if page.Entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, page.Entries[i], want[i])
		}
	}
	if page.NextPageToken != "m2" {
		t.Errorf("NextPageToken = %q, want m2", page.NextPageToken)
	}
}

func TestAzureRemoveToleratesNotFound(t *testing.T) {
	mock := &mockAzureClient{blobs: map[string]bool{"a": true}}
	b := NewAzureBackendWithClient("https://acct.blob.core.windows.net", "", mock)

	removed, err := b.Remove(context.Background(), "assets", []string{"a", "gone"})
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != "a" {
		t.Errorf("removed = %v, want [a]", removed)
	}
}

func TestAzureHealthCheck(t *testing.T) {
	mock := &mockAzureClient{containerErr: errors.New("AuthorizationFailure")}
	b := NewAzureBackendWithClient("https://acct.blob.core.windows.net", "assets", mock)
	if err := b.HealthCheck(context.Background()); err == nil {
		t.Error("expected HealthCheck error")
	}
	b = NewAzureBackendWithClient("https://acct.blob.core.windows.net", "", mock)
	if err := b.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck without container = %v, want nil", err)
	}
}
