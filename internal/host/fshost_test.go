package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/raido/internal/apperr"
)

func testHost(t *testing.T) (*FSHost, string) {
	t.Helper()
	dir := t.TempDir()
	h, err := NewFSHost(KindText, dir)
	if err != nil {
		t.Fatalf("NewFSHost: %v", err)
	}
	return h, dir
}

func writeDoc(t *testing.T, dir, rel, content string) DocKey {
	t.Helper()
	abs := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return KeyFromPath(KindText, rel)
}

func TestParseKey(t *testing.T) {
	key := KeyFromPath(KindSheet, "budget/q3.tsv")
	kind, scheme, ref, err := ParseKey(key)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if kind != KindSheet || scheme != "path" || ref != "budget/q3.tsv" {
		t.Errorf("got (%s, %s, %s)", kind, scheme, ref)
	}

	if _, _, _, err := ParseKey("bogus"); err == nil {
		t.Error("expected error for malformed key")
	}
	if _, _, _, err := ParseKey("pdf|path|x"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestKeyAllocatorDisambiguates(t *testing.T) {
	a := NewKeyAllocator()
	k1 := a.Allocate(KindText, "Untitled")
	k2 := a.Allocate(KindText, "Untitled")
	if k1 == k2 {
		t.Fatalf("same key for two unsaved documents: %s", k1)
	}
	k3 := a.Allocate(KindSheet, "Untitled")
	if k3 == k1 || k3 == k2 {
		t.Errorf("kind should partition the namespace")
	}
}

func TestActivateMissingDocument(t *testing.T) {
	h, _ := testHost(t)
	_, err := h.Activate(context.Background(), KeyFromPath(KindText, "gone.md"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperr.IsKind(err, apperr.KindDocUnavailable) {
		t.Errorf("kind = %q, want document_not_available", apperr.KindOf(err))
	}
}

func TestActivateRejectsTraversal(t *testing.T) {
	h, _ := testHost(t)
	_, err := h.Activate(context.Background(), KeyFromPath(KindText, "../escape.md"))
	if err == nil {
		t.Fatal("expected traversal rejection")
	}
}

func TestWriteReadRemoveBlock(t *testing.T) {
	h, dir := testHost(t)
	key := writeDoc(t, dir, "report.md", "# Report\n\nIntro paragraph.\n")

	active, err := h.Activate(context.Background(), key)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer active.Close()

	if err := active.WriteBlock("summary", "All good."); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	got, ok, err := active.ReadBlock("summary")
	if err != nil || !ok {
		t.Fatalf("ReadBlock: ok=%v err=%v", ok, err)
	}
	if got != "All good." {
		t.Errorf("content = %q", got)
	}

	// Overwrite replaces in place, no duplicate region.
	if err := active.WriteBlock("summary", "Still good."); err != nil {
		t.Fatalf("WriteBlock overwrite: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "report.md"))
	if n := strings.Count(string(data), "raido:block summary"); n != 1 {
		t.Errorf("begin markers = %d, want 1", n)
	}
	if !strings.Contains(string(data), "Still good.") || strings.Contains(string(data), "All good.") {
		t.Errorf("overwrite not applied: %q", data)
	}
	// Free content outside the block survives.
	if !strings.Contains(string(data), "Intro paragraph.") {
		t.Errorf("free content lost: %q", data)
	}

	if err := active.RemoveBlock("summary"); err != nil {
		t.Fatalf("RemoveBlock: %v", err)
	}
	if _, ok, _ := active.ReadBlock("summary"); ok {
		t.Error("block still present after remove")
	}
	// Removing a missing block is a no-op.
	if err := active.RemoveBlock("summary"); err != nil {
		t.Errorf("second remove: %v", err)
	}
}

func TestMultilineBlockRoundTrip(t *testing.T) {
	h, dir := testHost(t)
	key := writeDoc(t, dir, "doc.md", "")
	active, _ := h.Activate(context.Background(), key)
	defer active.Close()

	content := "line one\n\nline three"
	if err := active.WriteBlock("b1", content); err != nil {
		t.Fatal(err)
	}
	got, ok, _ := active.ReadBlock("b1")
	if !ok || got != content {
		t.Errorf("round trip = %q, want %q", got, content)
	}
}

func TestStatAndList(t *testing.T) {
	h, dir := testHost(t)
	writeDoc(t, dir, "a.md", "a")
	key := writeDoc(t, dir, "sub/b.md", "b")

	docs, err := h.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len = %d, want 2", len(docs))
	}

	doc, err := h.Stat(key)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if doc.Path != "sub/b.md" || doc.Name != "b.md" {
		t.Errorf("doc = %+v", doc)
	}

	_, err = h.Stat(KeyFromPath(KindText, "nope.md"))
	if !apperr.IsKind(err, apperr.KindDocUnavailable) {
		t.Errorf("missing doc kind = %q", apperr.KindOf(err))
	}
}

func TestProberMemoizes(t *testing.T) {
	h, _ := testHost(t)
	p := NewProber(map[Kind]Host{KindText: h})

	r1, err := p.Probe(KindText)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	r2, err := p.Probe(KindText)
	if err != nil {
		t.Fatalf("Probe again: %v", err)
	}
	if r1 != r2 {
		t.Error("expected memoized report")
	}

	p.Invalidate(KindText)
	r3, err := p.Probe(KindText)
	if err != nil {
		t.Fatalf("Probe after invalidate: %v", err)
	}
	if r3 == r1 {
		t.Error("expected fresh report after invalidate")
	}

	if _, err := p.Probe(KindSlide); err == nil {
		t.Error("expected error for unregistered kind")
	}
}

func TestProberFailureNotMemoized(t *testing.T) {
	f := &flakyHost{}
	p := NewProber(map[Kind]Host{KindSheet: f})
	if _, err := p.Probe(KindSheet); err == nil {
		t.Fatal("expected first probe to fail")
	}
	f.ok = true
	if _, err := p.Probe(KindSheet); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
}

func TestReportChain(t *testing.T) {
	r := &CapabilityReport{
		HostKind: KindText,
		Features: map[string]Capability{
			"insert_image": {Supported: true, FallbackChain: []Strategy{"native", "placeholder"}},
			"macros":       {Supported: false},
		},
	}
	if got := r.Chain("insert_image"); len(got) != 2 {
		t.Errorf("chain = %v", got)
	}
	if got := r.Chain("macros"); got != nil {
		t.Errorf("unsupported feature chain = %v, want nil", got)
	}
	if got := r.Chain("unknown"); got != nil {
		t.Errorf("unknown feature chain = %v, want nil", got)
	}
}

type flakyHost struct{ ok bool }

func (f *flakyHost) Kind() Kind                 { return KindSheet }
func (f *flakyHost) List() ([]Document, error)  { return nil, nil }
func (f *flakyHost) Stat(DocKey) (*Document, error) { return nil, apperr.ErrNotFound }
func (f *flakyHost) Activate(context.Context, DocKey) (ActiveDocument, error) {
	return nil, errors.New("unreachable")
}
func (f *flakyHost) Capabilities() (map[string]Capability, error) {
	if !f.ok {
		return nil, errors.New("host busy")
	}
	return map[string]Capability{}, nil
}
