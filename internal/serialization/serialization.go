// Package serialization exports reference values from a live metadata store
// into the JSON-lines snapshot format read by metadata.LocalSource.
package serialization

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bleepstore/bleepsweep/internal/metadata"
)

const (
	// ExportVersion is the snapshot format version.
	ExportVersion = 1
	// ManifestFile is written next to the table exports.
	ManifestFile = "_manifest.json"
)

// Manifest describes a snapshot directory.
type Manifest struct {
	Version     int                   `json:"version"`
	ExportedAt  string                `json:"exported_at"`
	Source      string                `json:"source"`
	Tables      map[string]int        `json:"tables"`
	Descriptors []metadata.Descriptor `json:"descriptors"`
}

// ExportReferences scans every descriptor of src and writes one line per
// reference value to <dir>/<table>.jsonl, followed by the manifest. Each
// line holds only the descriptor column, nested along its dotted path.
// Owner columns are not exported, so snapshots serve orphan sweeps only.
// Table files are replaced atomically.
func ExportReferences(ctx context.Context, src metadata.ReferenceSource, descs []metadata.Descriptor, dir, source string) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}

	byTable := make(map[string][]metadata.Descriptor)
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		byTable[d.Table] = append(byTable[d.Table], d)
	}
	tables := make([]string, 0, len(byTable))
	for t := range byTable {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	m := &Manifest{
		Version:     ExportVersion,
		ExportedAt:  time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Source:      source,
		Tables:      make(map[string]int, len(tables)),
		Descriptors: append([]metadata.Descriptor(nil), descs...),
	}
	for _, table := range tables {
		n, err := exportTable(ctx, src, byTable[table], filepath.Join(dir, table+".jsonl"))
		if err != nil {
			return nil, fmt.Errorf("exporting %s: %w", table, err)
		}
		m.Tables[table] = n
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, ManifestFile), func(f *os.File) error {
		_, err := f.Write(append(data, '\n'))
		return err
	}); err != nil {
		return nil, err
	}
	return m, nil
}

func exportTable(ctx context.Context, src metadata.ReferenceSource, descs []metadata.Descriptor, path string) (int, error) {
	count := 0
	err := writeAtomic(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		for _, d := range descs {
			err := src.Values(ctx, d, func(v metadata.Value) error {
				count++
				return enc.Encode(nestField(d.Column, cellOf(v)))
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return count, err
}

// cellOf renders a value for a snapshot line. Opaque values are wrapped in
// an object so LocalSource reads them back as opaque.
func cellOf(v metadata.Value) any {
	if v.Opaque {
		return map[string]any{"unparsed": v.Raw}
	}
	return v.Raw
}

// nestField builds {"a": {"b": v}} for the path "a.b".
func nestField(path string, v any) map[string]any {
	parts := strings.Split(path, ".")
	var cur any = v
	for i := len(parts) - 1; i >= 0; i-- {
		cur = map[string]any{parts[i]: cur}
	}
	return cur.(map[string]any)
}

// writeAtomic writes through a temp file in the target directory and
// renames it into place.
func writeAtomic(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadManifest loads and version-checks the manifest of a snapshot directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Version < 1 || m.Version > ExportVersion {
		return nil, fmt.Errorf("unsupported export version: %d", m.Version)
	}
	return &m, nil
}
