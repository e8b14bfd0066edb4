package sweep

import (
	"net/url"
	"strings"
)

// RefKind tags a parse result.
type RefKind int

const (
	// RefNone is an empty value: no reference at all.
	RefNone RefKind = iota
	// RefRecognized is a value that addresses an object in the store.
	RefRecognized
	// RefExternal is an absolute URL on a host that is not the store.
	RefExternal
	// RefUnrecognized is a value whose shape the parser does not know.
	RefUnrecognized
)

// ParsedRef is the result of parsing one reference value.
type ParsedRef struct {
	Kind RefKind
	Ref  StorageRef
	Raw  string
}

// objectAccessKinds are the access segments of /object/{kind}/{bucket}/...
var objectAccessKinds = map[string]struct{}{
	"public":        {},
	"sign":          {},
	"download":      {},
	"auth":          {},
	"authenticated": {},
}

// RefParser classifies column values as storage references.
type RefParser struct {
	buckets map[string]struct{}
	hosts   map[string]struct{}
}

// NewRefParser creates a parser that knows the given bucket names and
// object-store hosts. With no hosts configured every absolute URL that is
// not an object URL is unrecognized rather than external.
func NewRefParser(knownBuckets, storageHosts []string) *RefParser {
	p := &RefParser{
		buckets: make(map[string]struct{}, len(knownBuckets)),
		hosts:   make(map[string]struct{}, len(storageHosts)),
	}
	for _, b := range knownBuckets {
		if b = strings.TrimSpace(b); b != "" {
			p.buckets[b] = struct{}{}
		}
	}
	for _, h := range storageHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			p.hosts[h] = struct{}{}
		}
	}
	return p
}

// Parse classifies value. hint is the bucket relative values belong to,
// or empty.
func (p *RefParser) Parse(value, hint string) ParsedRef {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return ParsedRef{Kind: RefNone}
	}
	unrecognized := ParsedRef{Kind: RefUnrecognized, Raw: raw}

	absolute, host := false, ""
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return unrecognized
		}
		absolute, host = true, strings.ToLower(u.Hostname())
	}

	body := raw
	if i := strings.IndexAny(body, "?#"); i >= 0 {
		body = body[:i]
	}

	if ref, ok := parseObjectPath(body); ok {
		return ParsedRef{Kind: RefRecognized, Ref: ref, Raw: raw}
	}

	if absolute {
		if _, known := p.hosts[host]; !known && len(p.hosts) > 0 {
			return ParsedRef{Kind: RefExternal, Raw: raw}
		}
		return unrecognized
	}

	rel := strings.TrimLeft(body, "/")
	if bucket, rest, ok := strings.Cut(rel, "/"); ok && rest != "" {
		if _, known := p.buckets[bucket]; known {
			if path, ok := cleanPath(rest); ok {
				return ParsedRef{Kind: RefRecognized, Ref: StorageRef{Bucket: bucket, Path: path}, Raw: raw}
			}
		}
	}

	if hint != "" {
		if path, ok := cleanPath(rel); ok {
			return ParsedRef{Kind: RefRecognized, Ref: StorageRef{Bucket: hint, Path: path}, Raw: raw}
		}
	}
	return unrecognized
}

// parseObjectPath finds /object/{kind}/{bucket}/{path...} anywhere in s.
func parseObjectPath(s string) (StorageRef, bool) {
	var rest string
	if i := strings.Index(s, "/object/"); i >= 0 {
		rest = s[i+len("/object/"):]
	} else if strings.HasPrefix(s, "object/") {
		rest = s[len("object/"):]
	} else {
		return StorageRef{}, false
	}

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 {
		return StorageRef{}, false
	}
	if _, ok := objectAccessKinds[parts[0]]; !ok {
		return StorageRef{}, false
	}
	if parts[1] == "" {
		return StorageRef{}, false
	}
	path, ok := decodePath(parts[2])
	if !ok {
		return StorageRef{}, false
	}
	return StorageRef{Bucket: parts[1], Path: path}, true
}

// decodePath URL-decodes the path segment of an object URL and cleans it.
func decodePath(p string) (string, bool) {
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", false
	}
	return cleanPath(decoded)
}

// cleanPath strips leading slashes from a stored object key, which is used
// as written. Paths that are empty, end in "/" or contain ".." segments are
// rejected.
func cleanPath(p string) (string, bool) {
	p = strings.TrimLeft(p, "/")
	if p == "" || strings.HasSuffix(p, "/") {
		return "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}
	return p, true
}
