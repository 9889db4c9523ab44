package host

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/starford/raido/internal/apperr"
)

// Block region markers. A block occupies the region between its begin and
// end marker lines; everything outside markers is free document content.
const (
	markerBegin = "<!-- raido:block %s -->"
	markerEnd   = "<!-- raido:end %s -->"
)

var blockIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// FSHost drives documents stored as files under a root directory. It stands
// in for a live editor process: activation is an existence check plus an
// exclusive in-memory load, and every write lands atomically on disk.
type FSHost struct {
	kind Kind
	root string // absolute
}

// NewFSHost creates a host of the given kind rooted at dir. The directory
// must already exist.
func NewFSHost(kind Kind, dir string) (*FSHost, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("host: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("host: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("host: root is not a directory: %s", abs)
	}
	return &FSHost{kind: kind, root: abs}, nil
}

// Kind returns the host's kind.
func (h *FSHost) Kind() Kind { return h.kind }

// Root returns the absolute document root.
func (h *FSHost) Root() string { return h.root }

// safePath resolves a relative document path and rejects anything escaping
// the root (directory traversal).
func (h *FSHost) safePath(rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if cleaned == "" || cleaned == "." || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("host: invalid document path %q", rel)
	}
	abs, err := filepath.Abs(filepath.Join(h.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("host: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, h.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("host: path escapes document root: %q", rel)
	}
	return abs, nil
}

// List walks the root and returns metadata for every regular file.
func (h *FSHost) List() ([]Document, error) {
	var out []Document
	err := filepath.WalkDir(h.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(h.root, p)
		rel = filepath.ToSlash(rel)
		out = append(out, Document{
			Key:       KeyFromPath(h.kind, rel),
			Kind:      h.kind,
			Path:      rel,
			Name:      d.Name(),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("host: list: %w", err)
	}
	return out, nil
}

// Stat resolves a DocKey against the root.
func (h *FSHost) Stat(key DocKey) (*Document, error) {
	abs, rel, err := h.resolve(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDocUnavailable, fmt.Sprintf("document %s", rel), err)
	}
	return &Document{
		Key:       key,
		Kind:      h.kind,
		Path:      rel,
		Name:      filepath.Base(rel),
		UpdatedAt: info.ModTime(),
	}, nil
}

func (h *FSHost) resolve(key DocKey) (abs, rel string, err error) {
	kind, scheme, ref, err := ParseKey(key)
	if err != nil {
		return "", "", err
	}
	if kind != h.kind {
		return "", "", fmt.Errorf("host: key %s targets kind %s, host is %s", key, kind, h.kind)
	}
	if scheme != schemePath {
		return "", "", fmt.Errorf("host: fs host resolves only path keys, got %s scheme", scheme)
	}
	abs, err = h.safePath(ref)
	if err != nil {
		return "", "", err
	}
	return abs, filepath.ToSlash(filepath.Clean(ref)), nil
}

// Activate loads the document into the active handle. A missing file yields
// a document_not_available error so the scheduler can fail the job and move on.
func (h *FSHost) Activate(ctx context.Context, key DocKey) (ActiveDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, rel, err := h.resolve(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDocUnavailable, string(key), err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDocUnavailable, fmt.Sprintf("document %s", rel), err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDocUnavailable, fmt.Sprintf("document %s", rel), err)
	}
	return &fsActiveDoc{
		host: h,
		doc: Document{
			Key:       key,
			Kind:      h.kind,
			Path:      rel,
			Name:      filepath.Base(rel),
			UpdatedAt: info.ModTime(),
		},
		abs:   abs,
		lines: strings.Split(string(data), "\n"),
	}, nil
}

// Capabilities reports feature support for file-backed documents. Image
// insertion cannot embed binaries into a text region, so its chain degrades
// from a local reference through a download to a plain placeholder.
func (h *FSHost) Capabilities() (map[string]Capability, error) {
	caps := map[string]Capability{
		"write_block":  {Supported: true, FallbackChain: []Strategy{"native"}},
		"insert_text":  {Supported: true, FallbackChain: []Strategy{"native"}},
		"insert_table": {Supported: true, FallbackChain: []Strategy{"native"}},
		"insert_image": {Supported: true, FallbackChain: []Strategy{"native", "download", "placeholder"}},
	}
	switch h.kind {
	case KindSheet:
		caps["set_cells"] = Capability{Supported: true, FallbackChain: []Strategy{"native"}}
		caps["insert_chart"] = Capability{Supported: true, FallbackChain: []Strategy{"native", "placeholder"}}
	case KindSlide:
		caps["add_slide"] = Capability{Supported: true, FallbackChain: []Strategy{"native"}}
	}
	return caps, nil
}

// fsActiveDoc implements ActiveDocument over an in-memory line buffer,
// flushing atomically after every mutation.
type fsActiveDoc struct {
	host   *FSHost
	doc    Document
	abs    string
	lines  []string
	closed bool
}

func (d *fsActiveDoc) Document() Document { return d.doc }

// blockRange returns the line indexes of a block's begin and end markers,
// or (-1, -1) if the block is absent.
func (d *fsActiveDoc) blockRange(blockID string) (int, int) {
	begin := fmt.Sprintf(markerBegin, blockID)
	end := fmt.Sprintf(markerEnd, blockID)
	bi, ei := -1, -1
	for i, line := range d.lines {
		switch strings.TrimSpace(line) {
		case begin:
			if bi == -1 {
				bi = i
			}
		case end:
			if bi != -1 && ei == -1 {
				ei = i
			}
		}
	}
	if bi == -1 || ei == -1 {
		return -1, -1
	}
	return bi, ei
}

func (d *fsActiveDoc) ReadBlock(blockID string) (string, bool, error) {
	if d.closed {
		return "", false, fmt.Errorf("host: document handle closed")
	}
	bi, ei := d.blockRange(blockID)
	if bi == -1 {
		return "", false, nil
	}
	return strings.Join(d.lines[bi+1:ei], "\n"), true, nil
}

func (d *fsActiveDoc) WriteBlock(blockID, content string) error {
	if d.closed {
		return fmt.Errorf("host: document handle closed")
	}
	if !blockIDRe.MatchString(blockID) {
		return fmt.Errorf("host: invalid block id %q", blockID)
	}
	region := append([]string{fmt.Sprintf(markerBegin, blockID)},
		append(strings.Split(content, "\n"), fmt.Sprintf(markerEnd, blockID))...)

	bi, ei := d.blockRange(blockID)
	if bi == -1 {
		// New block goes at the end, separated by a blank line.
		if n := len(d.lines); n > 0 && strings.TrimSpace(d.lines[n-1]) != "" {
			d.lines = append(d.lines, "")
		}
		d.lines = append(d.lines, region...)
	} else {
		rest := append([]string{}, d.lines[ei+1:]...)
		d.lines = append(d.lines[:bi], append(region, rest...)...)
	}
	return d.flush()
}

func (d *fsActiveDoc) RemoveBlock(blockID string) error {
	if d.closed {
		return fmt.Errorf("host: document handle closed")
	}
	bi, ei := d.blockRange(blockID)
	if bi == -1 {
		return nil
	}
	d.lines = append(d.lines[:bi], d.lines[ei+1:]...)
	return d.flush()
}

func (d *fsActiveDoc) AppendContent(content string) error {
	if d.closed {
		return fmt.Errorf("host: document handle closed")
	}
	if n := len(d.lines); n > 0 && strings.TrimSpace(d.lines[n-1]) != "" {
		d.lines = append(d.lines, "")
	}
	d.lines = append(d.lines, strings.Split(content, "\n")...)
	return d.flush()
}

func (d *fsActiveDoc) Close() error {
	d.closed = true
	return nil
}

// flush writes the buffer atomically: tmp file → fsync → rename.
func (d *fsActiveDoc) flush() error {
	dir := filepath.Dir(d.abs)
	tmp, err := os.CreateTemp(dir, ".raido-tmp-*")
	if err != nil {
		return fmt.Errorf("host: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(strings.Join(d.lines, "\n")); err != nil {
		return fmt.Errorf("host: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("host: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("host: close temp: %w", err)
	}
	if err := os.Rename(tmpName, d.abs); err != nil {
		return fmt.Errorf("host: rename: %w", err)
	}
	success = true
	return nil
}
