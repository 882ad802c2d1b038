package mcpservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/ggoodman/mcp-sse-go/mcp"
)

// ResourcesContainer owns a mutable, threadsafe set of resource descriptors,
// templates and their contents. Every mutation signals subscribers.
type ResourcesContainer struct {
	mu sync.RWMutex

	resources []mcp.Resource
	templates []mcp.ResourceTemplate
	contents  map[string][]mcp.ResourceContents
	uriSet    map[string]struct{}

	notifier ChangeNotifier

	pageSize int
}

var (
	_ ResourcesCapability = (*ResourcesContainer)(nil)
	_ ChangeSubscriber    = (*ResourcesContainer)(nil)
)

// NewResourcesContainer builds a container holding the given resources,
// templates and contents. Contents are keyed by resource URI.
func NewResourcesContainer(resources []mcp.Resource, templates []mcp.ResourceTemplate, contents map[string][]mcp.ResourceContents) *ResourcesContainer {
	rc := &ResourcesContainer{
		contents: make(map[string][]mcp.ResourceContents),
		uriSet:   make(map[string]struct{}),
		pageSize: DefaultPageSize,
	}
	rc.ReplaceResources(context.Background(), resources)
	rc.ReplaceTemplates(context.Background(), templates)
	for uri, c := range contents {
		rc.SetContents(context.Background(), uri, c...)
	}
	return rc
}

// SetPageSize sets the listing page size. Values below 1 are ignored.
func (rc *ResourcesContainer) SetPageSize(n int) {
	if n < 1 {
		return
	}
	rc.mu.Lock()
	rc.pageSize = n
	rc.mu.Unlock()
}

// Snapshot returns a copy of the current resource descriptors.
func (rc *ResourcesContainer) Snapshot() []mcp.Resource {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]mcp.Resource, len(rc.resources))
	copy(out, rc.resources)
	return out
}

// HasResource reports whether uri is currently listed.
func (rc *ResourcesContainer) HasResource(uri string) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	_, ok := rc.uriSet[uri]
	return ok
}

// ReplaceResources atomically replaces the resource list and returns the URIs
// that are no longer present. Contents of removed resources are dropped.
func (rc *ResourcesContainer) ReplaceResources(_ context.Context, resources []mcp.Resource) (removed []string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	next := make(map[string]struct{}, len(resources))
	for _, r := range resources {
		next[r.URI] = struct{}{}
	}
	for uri := range rc.uriSet {
		if _, ok := next[uri]; !ok {
			removed = append(removed, uri)
			delete(rc.contents, uri)
		}
	}
	rc.resources = append([]mcp.Resource(nil), resources...)
	rc.uriSet = next
	rc.notifier.notifyAsync()
	return removed
}

// ReplaceTemplates atomically replaces the template list.
func (rc *ResourcesContainer) ReplaceTemplates(_ context.Context, templates []mcp.ResourceTemplate) {
	rc.mu.Lock()
	rc.templates = append([]mcp.ResourceTemplate(nil), templates...)
	rc.mu.Unlock()
	rc.notifier.notifyAsync()
}

// AddResource registers res with optional contents. It returns false if a
// resource with the same URI already exists.
func (rc *ResourcesContainer) AddResource(_ context.Context, res mcp.Resource, contents ...mcp.ResourceContents) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, exists := rc.uriSet[res.URI]; exists {
		return false
	}
	rc.resources = append(rc.resources, res)
	rc.uriSet[res.URI] = struct{}{}
	if len(contents) > 0 {
		rc.contents[res.URI] = append([]mcp.ResourceContents(nil), contents...)
	}
	rc.notifier.notifyAsync()
	return true
}

// RemoveResource removes a resource and its contents. Returns true if removed.
func (rc *ResourcesContainer) RemoveResource(_ context.Context, uri string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, exists := rc.uriSet[uri]; !exists {
		return false
	}
	n := 0
	for _, r := range rc.resources {
		if r.URI != uri {
			rc.resources[n] = r
			n++
		}
	}
	rc.resources = rc.resources[:n]
	delete(rc.uriSet, uri)
	delete(rc.contents, uri)
	rc.notifier.notifyAsync()
	return true
}

// SetContents replaces the contents served for uri. The resource itself need
// not be listed; unlisted contents are still readable, which is how
// template-addressed resources are served.
func (rc *ResourcesContainer) SetContents(_ context.Context, uri string, contents ...mcp.ResourceContents) {
	rc.mu.Lock()
	rc.contents[uri] = append([]mcp.ResourceContents(nil), contents...)
	rc.mu.Unlock()
}

// Subscriber implements ChangeSubscriber.
func (rc *ResourcesContainer) Subscriber() <-chan struct{} { return rc.notifier.Subscriber() }

// ListResources implements ResourcesCapability.
func (rc *ResourcesContainer) ListResources(ctx context.Context, cursor *string) (Page[mcp.Resource], error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return pageSlice(rc.resources, rc.pageSize, cursor), nil
}

// ListResourceTemplates implements ResourcesCapability.
func (rc *ResourcesContainer) ListResourceTemplates(ctx context.Context, cursor *string) (Page[mcp.ResourceTemplate], error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return pageSlice(rc.templates, rc.pageSize, cursor), nil
}

// ReadResource implements ResourcesCapability.
func (rc *ResourcesContainer) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: missing uri", ErrInvalidParams)
	}
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	c, ok := rc.contents[uri]
	if !ok {
		return nil, fmt.Errorf("%w: resource %s", ErrNotFound, uri)
	}
	out := make([]mcp.ResourceContents, len(c))
	copy(out, c)
	return out, nil
}

// TextContents is a helper building a single text content entry for uri.
func TextContents(uri, mimeType, text string) mcp.ResourceContents {
	return mcp.ResourceContents{URI: uri, MimeType: mimeType, Text: text}
}
