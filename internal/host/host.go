// Package host abstracts the document editors that the writeback pipeline
// mutates. A Host exposes its open documents and an activation primitive;
// the ActiveDocument handle it returns is the only way to touch document
// content and is handed out exclusively to the holder of the scheduler's
// execution mutex.
package host

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Kind identifies a document-editor family.
type Kind string

const (
	KindText  Kind = "text"
	KindSheet Kind = "sheet"
	KindSlide Kind = "slide"
)

// Kinds lists every supported host kind.
func Kinds() []Kind {
	return []Kind{KindText, KindSheet, KindSlide}
}

// ParseKind validates a raw host kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindText:
		return KindText, nil
	case KindSheet:
		return KindSheet, nil
	case KindSlide:
		return KindSlide, nil
	}
	return "", fmt.Errorf("host: unknown kind %q", s)
}

// DocKey is the stable composite identity of a target document. It encodes
// the host kind plus one of three reference schemes, preferred in order:
// a host-assigned document id, the full path, or a display name with a
// disambiguating suffix for unsaved documents sharing a name.
//
// Wire format: "<kind>|<scheme>|<ref>".
type DocKey string

const (
	schemeID   = "id"
	schemePath = "path"
	schemeName = "name"
)

// KeyFromID builds a DocKey from a host-assigned document id.
func KeyFromID(kind Kind, id string) DocKey {
	return DocKey(fmt.Sprintf("%s|%s|%s", kind, schemeID, id))
}

// KeyFromPath builds a DocKey from a document's full path.
func KeyFromPath(kind Kind, path string) DocKey {
	return DocKey(fmt.Sprintf("%s|%s|%s", kind, schemePath, path))
}

// KeyFromName builds a DocKey from a display name. seq disambiguates unsaved
// documents that share a name; use a KeyAllocator to obtain it.
func KeyFromName(kind Kind, name string, seq int) DocKey {
	return DocKey(fmt.Sprintf("%s|%s|%s#%d", kind, schemeName, name, seq))
}

// ParseKey splits a DocKey into kind, scheme and reference.
func ParseKey(key DocKey) (Kind, string, string, error) {
	parts := strings.SplitN(string(key), "|", 3)
	if len(parts) != 3 || parts[2] == "" {
		return "", "", "", fmt.Errorf("host: malformed doc key %q", key)
	}
	kind, err := ParseKind(parts[0])
	if err != nil {
		return "", "", "", err
	}
	switch parts[1] {
	case schemeID, schemePath, schemeName:
		return kind, parts[1], parts[2], nil
	}
	return "", "", "", fmt.Errorf("host: unknown key scheme in %q", key)
}

// KeyAllocator hands out disambiguating suffixes for name-based keys so two
// unsaved documents with the same display name never collide.
type KeyAllocator struct {
	mu   sync.Mutex
	seen map[string]int
}

// NewKeyAllocator creates an empty allocator.
func NewKeyAllocator() *KeyAllocator {
	return &KeyAllocator{seen: make(map[string]int)}
}

// Allocate returns a name-based DocKey with the next free suffix for
// (kind, name).
func (a *KeyAllocator) Allocate(kind Kind, name string) DocKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := string(kind) + "\x00" + name
	a.seen[k]++
	return KeyFromName(kind, name, a.seen[k])
}

// Document is metadata for one document known to a host.
type Document struct {
	Key       DocKey    `json:"doc_key"`
	Kind      Kind      `json:"host_kind"`
	Path      string    `json:"path,omitempty"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Strategy names one entry in a feature's fallback chain.
type Strategy string

// Capability describes host support for a single feature, with an ordered
// fallback chain tried front to back.
type Capability struct {
	Supported     bool       `json:"supported"`
	FallbackChain []Strategy `json:"fallback_chain"`
}

// Host is a document editor the pipeline can drive.
type Host interface {
	Kind() Kind
	// List returns every document the host currently knows about.
	List() ([]Document, error)
	// Stat resolves a DocKey to document metadata.
	Stat(key DocKey) (*Document, error)
	// Activate brings the document to the foreground and returns the
	// mutable handle. Callers must hold the scheduler's execution mutex.
	Activate(ctx context.Context, key DocKey) (ActiveDocument, error)
	// Capabilities reports feature support; may fail transiently.
	Capabilities() (map[string]Capability, error)
}

// ActiveDocument is the handle over the host's single mutable
// active-document surface. At most one exists process-wide at any instant.
type ActiveDocument interface {
	Document() Document
	// ReadBlock returns a named block's content and whether it exists.
	ReadBlock(blockID string) (string, bool, error)
	// WriteBlock creates or replaces a named block in place.
	WriteBlock(blockID, content string) error
	// RemoveBlock deletes a named block; removing a missing block is a no-op.
	RemoveBlock(blockID string) error
	// AppendContent appends free content outside any block.
	AppendContent(content string) error
	Close() error
}
