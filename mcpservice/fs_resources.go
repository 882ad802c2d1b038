package mcpservice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/mcp-sse-go/mcp"
)

// FSResources exposes the regular files under a directory (or any fs.FS) as
// resources. URIs are formed as <baseURI>/<escaped relative path>.
//
// Symlinks are never listed, and reads that resolve outside the root are
// refused. When backed by an OS directory, Watch uses fsnotify to signal
// subscribers when files appear, disappear or are renamed.
type FSResources struct {
	fsys   fs.FS
	osRoot string // absolute, symlink-evaluated root on disk (if set)

	baseURI  string
	pageSize int
	log      *slog.Logger

	notifier ChangeNotifier
}

var (
	_ ResourcesCapability = (*FSResources)(nil)
	_ ChangeSubscriber    = (*FSResources)(nil)
)

// FSOption configures FSResources.
type FSOption func(*FSResources)

// WithOSDir serves files from root on the local disk.
func WithOSDir(root string) FSOption {
	return func(r *FSResources) {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		if real, err := filepath.EvalSymlinks(root); err == nil {
			root = real
		}
		r.osRoot = root
		r.fsys = os.DirFS(root)
	}
}

// WithFS serves files from an arbitrary fs.FS. Watch is unavailable.
func WithFS(f fs.FS) FSOption {
	return func(r *FSResources) { r.fsys = f; r.osRoot = "" }
}

// WithBaseURI sets the URI prefix, e.g. "file://workspace" or "mem://".
func WithBaseURI(base string) FSOption {
	return func(r *FSResources) { r.baseURI = base }
}

// WithFSPageSize sets the listing page size.
func WithFSPageSize(n int) FSOption {
	return func(r *FSResources) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithFSLogger sets the logger used by Watch.
func WithFSLogger(l *slog.Logger) FSOption {
	return func(r *FSResources) {
		if l != nil {
			r.log = l
		}
	}
}

// NewFSResources builds a filesystem-backed resources catalogue.
func NewFSResources(opts ...FSOption) *FSResources {
	r := &FSResources{
		baseURI:  "file://",
		pageSize: DefaultPageSize,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Subscriber implements ChangeSubscriber.
func (r *FSResources) Subscriber() <-chan struct{} { return r.notifier.Subscriber() }

// ListResources implements ResourcesCapability.
func (r *FSResources) ListResources(ctx context.Context, cursor *string) (Page[mcp.Resource], error) {
	if r.fsys == nil {
		return NewPage[mcp.Resource](nil), nil
	}
	all, err := r.scanFiles(ctx)
	if err != nil {
		return NewPage[mcp.Resource](nil), err
	}
	return pageSlice(all, r.pageSize, cursor), nil
}

// ListResourceTemplates implements ResourcesCapability. Filesystem resources
// have no templates.
func (r *FSResources) ListResourceTemplates(ctx context.Context, cursor *string) (Page[mcp.ResourceTemplate], error) {
	return NewPage[mcp.ResourceTemplate](nil), nil
}

// ReadResource implements ResourcesCapability.
func (r *FSResources) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: missing uri", ErrInvalidParams)
	}
	rel, ok := r.uriToRel(uri)
	if !ok || r.fsys == nil || !validFSPath(rel) {
		return nil, fmt.Errorf("%w: resource %s", ErrNotFound, uri)
	}

	var data []byte
	var err error
	if r.osRoot != "" {
		real, evalErr := filepath.EvalSymlinks(filepath.Join(r.osRoot, filepath.FromSlash(rel)))
		if evalErr != nil || !within(real, r.osRoot) {
			return nil, fmt.Errorf("%w: resource %s", ErrNotFound, uri)
		}
		data, err = os.ReadFile(real)
	} else {
		data, err = fs.ReadFile(r.fsys, rel)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: resource %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	mt := mime.TypeByExtension(strings.ToLower(path.Ext(rel)))
	return []mcp.ResourceContents{contentsFor(uri, mt, data)}, nil
}

// Watch watches the OS directory tree until ctx ends and signals subscribers
// on every structural change. It returns nil when ctx ends.
func (r *FSResources) Watch(ctx context.Context) error {
	if r.osRoot == "" {
		return errors.New("fs resources: watch requires an OS directory")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fs resources: create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	err = filepath.WalkDir(r.osRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return w.Add(p)
	})
	if err != nil {
		return fmt.Errorf("fs resources: watch %s: %w", r.osRoot, err)
	}
	r.log.InfoContext(ctx, "fs.watch.start", slog.String("root", r.osRoot))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				r.log.DebugContext(ctx, "fs.watch.change", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
				_ = r.notifier.Notify(ctx)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.WarnContext(ctx, "fs.watch.error", slog.String("err", err.Error()))
		}
	}
}

func (r *FSResources) scanFiles(ctx context.Context) ([]mcp.Resource, error) {
	var out []mcp.Resource
	err := fs.WalkDir(r.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort listing
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 || !validFSPath(p) {
			return nil
		}
		out = append(out, mcp.Resource{
			URI:      r.relToURI(p),
			Name:     path.Base(p),
			MimeType: mime.TypeByExtension(strings.ToLower(path.Ext(p))),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

func contentsFor(uri, mimeType string, data []byte) mcp.ResourceContents {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if utf8.Valid(data) {
		return mcp.ResourceContents{URI: uri, MimeType: mimeType, Text: string(data)}
	}
	return mcp.ResourceContents{URI: uri, MimeType: mimeType, Blob: base64.StdEncoding.EncodeToString(data)}
}

func validFSPath(p string) bool {
	return fs.ValidPath(p) && !strings.Contains(p, ":")
}

func (r *FSResources) relToURI(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return r.uriPrefix() + strings.Join(segs, "/")
}

func (r *FSResources) uriPrefix() string {
	if strings.HasSuffix(r.baseURI, "/") {
		return r.baseURI
	}
	return r.baseURI + "/"
}

func (r *FSResources) uriToRel(uri string) (string, bool) {
	base := r.uriPrefix()
	if !strings.HasPrefix(uri, base) {
		return "", false
	}
	segs := strings.Split(strings.TrimPrefix(uri, base), "/")
	for i, s := range segs {
		dec, err := url.PathUnescape(s)
		if err != nil {
			return "", false
		}
		segs[i] = dec
	}
	rel := path.Clean(strings.Join(segs, "/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return "", false
	}
	return rel, true
}

func within(target, root string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}
