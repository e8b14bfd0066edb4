package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// tmpDirName is the scratch directory under the root that is never listed.
const tmpDirName = ".tmp"

// LocalBackend implements ObjectStore on the local filesystem. Each bucket is
// a directory under RootDir and object paths map to nested files.
type LocalBackend struct {
	// RootDir is the base directory under which all bucket data is stored.
	RootDir string
}

// NewLocalBackend creates a new LocalBackend rooted at the given directory,
// creating it if needed.
func NewLocalBackend(rootDir string) (*LocalBackend, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root directory %q: %w", rootDir, err)
	}
	return &LocalBackend{RootDir: rootDir}, nil
}

// objectPath resolves bucket/key to a filesystem path, rejecting keys that
// would escape the bucket directory.
func (b *LocalBackend) objectPath(bucket, key string) (string, error) {
	if bucket == "" || bucket == tmpDirName || strings.ContainsAny(bucket, `/\`) {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	bucketDir := filepath.Join(b.RootDir, bucket)
	p := filepath.Join(bucketDir, filepath.FromSlash(key))
	if p != bucketDir && !strings.HasPrefix(p, bucketDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes bucket %q", key, bucket)
	}
	return p, nil
}

// List reads the directory for prefix and returns files and sub-directories
// as entries. A missing directory lists as empty.
func (b *LocalBackend) List(ctx context.Context, bucket, prefix, pageToken string, pageSize int) (*ListPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := b.objectPath(bucket, prefix)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &ListPage{}, nil
		}
		return nil, fmt.Errorf("reading directory %q/%q: %w", bucket, prefix, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			entries = append(entries, Entry{Path: prefix + de.Name() + "/", IsPrefix: true})
			continue
		}
		if de.Type().IsRegular() {
			entries = append(entries, Entry{Path: prefix + de.Name()})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return paginate(entries, pageToken, pageSize)
}

// Remove deletes the files for the given paths and prunes directories left
// empty. Missing files are not reported as removed and are not an error.
func (b *LocalBackend) Remove(ctx context.Context, bucket string, paths []string) ([]string, error) {
	var removed []string
	for _, key := range paths {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		p, err := b.objectPath(bucket, key)
		if err != nil {
			return removed, err
		}
		if err := os.Remove(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("removing object file %q/%q: %w", bucket, key, err)
		}
		removed = append(removed, key)
		cleanEmptyParents(filepath.Dir(p), filepath.Join(b.RootDir, bucket))
	}
	return removed, nil
}

// HealthCheck verifies that the root directory exists and is a directory.
func (b *LocalBackend) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(b.RootDir)
	if err != nil {
		return fmt.Errorf("storage root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %q is not a directory", b.RootDir)
	}
	return nil
}

// cleanEmptyParents removes empty directories starting from dir up to (but not
// including) stopAt.
func cleanEmptyParents(dir, stopAt string) {
	dir = filepath.Clean(dir)
	stopAt = filepath.Clean(stopAt)

	for dir != stopAt && strings.HasPrefix(dir, stopAt) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

// Ensure LocalBackend implements ObjectStore at compile time.
var _ ObjectStore = (*LocalBackend)(nil)
