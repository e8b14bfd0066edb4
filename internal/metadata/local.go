package metadata

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LocalSource implements ReferenceSource over JSON-lines exports: each
// descriptor table is the file <dir>/<table>.jsonl holding one JSON object
// per line. A missing file reads as an empty table.
type LocalSource struct {
	dir string
}

// NewLocalSource creates a LocalSource reading exports from dir.
func NewLocalSource(dir string) (*LocalSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("opening export directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("export path %q is not a directory", dir)
	}
	return &LocalSource{dir: dir}, nil
}

// Ping verifies the export directory still exists.
func (s *LocalSource) Ping(ctx context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

// Close is a no-op.
func (s *LocalSource) Close() error {
	return nil
}

// Values reads d.Column from every line of the table export.
func (s *LocalSource) Values(ctx context.Context, d Descriptor, fn func(Value) error) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return s.each(ctx, d.Table, func(doc map[string]any) error {
		v, ok := lookupField(doc, d.Column)
		if !ok {
			return nil
		}
		return emitValue(v, fn)
	})
}

// OwnedValues reads d.Column from lines whose owner field is in owners.
func (s *LocalSource) OwnedValues(ctx context.Context, d Descriptor, owners []string, fn func(Value) error) error {
	if d.OwnerColumn == "" || len(owners) == 0 {
		return nil
	}
	if err := d.Validate(); err != nil {
		return err
	}
	wanted := make(map[string]struct{}, len(owners))
	for _, o := range owners {
		wanted[o] = struct{}{}
	}
	return s.each(ctx, d.Table, func(doc map[string]any) error {
		owner, ok := lookupField(doc, d.OwnerColumn)
		if !ok {
			return nil
		}
		id, ok := owner.(string)
		if !ok {
			return nil
		}
		if _, ok := wanted[id]; !ok {
			return nil
		}
		v, ok := lookupField(doc, d.Column)
		if !ok {
			return nil
		}
		return emitValue(v, fn)
	})
}

func (s *LocalSource) each(ctx context.Context, table string, fn func(map[string]any) error) error {
	f, err := os.Open(filepath.Join(s.dir, table+".jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening %s export: %w", table, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("%s.jsonl line %d: %w", table, line, err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Ensure LocalSource implements ReferenceSource at compile time.
var _ ReferenceSource = (*LocalSource)(nil)
