// Package metadata defines the reference sources the sweep engine reads
// live storage references from: table/column descriptors over a relational
// database or a document store, and the scope resolver used by targeted
// sweeps.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Descriptor names a column (or document field) whose values are storage
// references.
type Descriptor struct {
	// Table is the table, collection or document type holding the column.
	Table string `yaml:"table" json:"table"`
	// Column holds the reference values. Nested document fields use dots.
	Column string `yaml:"column" json:"column"`
	// BucketHint is the bucket that relative values in Column belong to.
	BucketHint string `yaml:"bucket_hint" json:"bucketHint,omitempty"`
	// OwnerColumn identifies the owning entity; descriptors without one are
	// not used for targeted sweeps.
	OwnerColumn string `yaml:"owner_column" json:"ownerColumn,omitempty"`
}

// identRe matches a plain or schema-qualified identifier.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// fieldRe matches a dotted document field path.
var fieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Validate checks that the descriptor names are safe to interpolate into
// queries.
func (d Descriptor) Validate() error {
	if !identRe.MatchString(d.Table) {
		return fmt.Errorf("invalid reference table %q", d.Table)
	}
	if !fieldRe.MatchString(d.Column) {
		return fmt.Errorf("invalid reference column %q", d.Column)
	}
	if d.OwnerColumn != "" && !fieldRe.MatchString(d.OwnerColumn) {
		return fmt.Errorf("invalid owner column %q", d.OwnerColumn)
	}
	return nil
}

// String renders the descriptor as table.column for logs.
func (d Descriptor) String() string {
	return d.Table + "." + d.Column
}

// ReferenceSource reads reference values from a metadata store.
// Implementations must be safe for concurrent use.
type ReferenceSource interface {
	io.Closer

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Values calls fn for every non-null value of d.Column. Array-valued
	// fields yield one call per element. Cells that are not text are
	// passed as opaque values, never dropped. A non-nil error from fn
	// stops the scan and is returned.
	Values(ctx context.Context, d Descriptor, fn func(Value) error) error

	// OwnedValues is Values restricted to rows whose d.OwnerColumn is one
	// of owners.
	OwnedValues(ctx context.Context, d Descriptor, owners []string, fn func(Value) error) error
}

// Value is one reference cell. Opaque marks a cell that is not text, such
// as a map, a number or a document that failed to decode; Raw then holds a
// printable form of it and must not be read as a path.
type Value struct {
	Raw    string
	Opaque bool
}

// Text returns a text cell.
func Text(s string) Value {
	return Value{Raw: s}
}

// Opaque returns a non-text cell rendered as JSON where possible.
func Opaque(v any) Value {
	if raw, ok := v.(json.RawMessage); ok {
		return Value{Raw: string(raw), Opaque: true}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Value{Raw: fmt.Sprintf("%v", v), Opaque: true}
	}
	return Value{Raw: string(data), Opaque: true}
}

// quoteIdent quotes a validated identifier for SQL, keeping a schema
// qualifier as a separate quoted part.
func quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// chunkStrings splits values into slices of at most size elements.
func chunkStrings(values []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

// emitValue flattens a decoded document value into fn calls. Strings are
// emitted as text, arrays element-wise, null is skipped and anything else
// is emitted as an opaque value.
func emitValue(v any, fn func(Value) error) error {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return fn(Text(t))
	case []string:
		for _, s := range t {
			if err := fn(Text(s)); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, e := range t {
			if err := emitValue(e, fn); err != nil {
				return err
			}
		}
		return nil
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(t, &decoded); err != nil {
			return fn(Opaque(t))
		}
		return emitValue(decoded, fn)
	}
	return fn(Opaque(v))
}

// lookupField resolves a dotted path inside a decoded document.
func lookupField(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ScopedValue is one reference value produced for a targeted sweep.
type ScopedValue struct {
	Descriptor Descriptor
	Value      string
	// Opaque marks a cell that is not text; see Value.
	Opaque bool
}

// ScopeResolver collects the references owned by a set of owner ids by
// querying every descriptor that has an owner column.
type ScopeResolver struct {
	source      ReferenceSource
	descriptors []Descriptor
}

// NewScopeResolver creates a ScopeResolver over the descriptors of src.
// Descriptors without an owner column are ignored.
func NewScopeResolver(src ReferenceSource, descriptors []Descriptor) *ScopeResolver {
	var owned []Descriptor
	for _, d := range descriptors {
		if d.OwnerColumn != "" {
			owned = append(owned, d)
		}
	}
	return &ScopeResolver{source: src, descriptors: owned}
}

// Descriptors returns the descriptors that participate in scoping.
func (r *ScopeResolver) Descriptors() []Descriptor {
	return append([]Descriptor(nil), r.descriptors...)
}

// Resolve calls fn for every value owned by one of owners.
func (r *ScopeResolver) Resolve(ctx context.Context, owners []string, fn func(ScopedValue) error) error {
	if len(owners) == 0 {
		return nil
	}
	for _, d := range r.descriptors {
		err := r.source.OwnedValues(ctx, d, owners, func(v Value) error {
			return fn(ScopedValue{Descriptor: d, Value: v.Raw, Opaque: v.Opaque})
		})
		if err != nil {
			return fmt.Errorf("resolving owned values for %s: %w", d, err)
		}
	}
	return nil
}
