package camera

import "sync"

// SnapshotCache holds the last snapshot of a session and the frame rendered
// from it. Content-equal snapshots reuse the cached frame instead of being
// rasterized again.
type SnapshotCache struct {
	mu       sync.RWMutex
	renderer *Renderer
	snapshot *MapSnapshot
	frame    *RenderedFrame
}

// NewSnapshotCache creates an empty cache drawing with r
func NewSnapshotCache(r *Renderer) *SnapshotCache {
	if r == nil {
		r = NewRenderer(DefaultRenderOptions())
	}
	return &SnapshotCache{renderer: r}
}

// Update returns the frame for snap. The second return value reports whether
// the rasterizer ran. On a render error the previous snapshot and frame stay.
func (c *SnapshotCache) Update(snap *MapSnapshot) (*RenderedFrame, bool, error) {
	frame, rendered, err := c.Prepare(snap)
	if err != nil {
		return nil, false, err
	}
	if rendered {
		c.Store(snap, frame)
	}
	return frame, rendered, nil
}

// Prepare is Update without the commit: it returns the cached frame when
// snap is content-equal to the last snapshot, and a fresh frame otherwise.
// A fresh frame becomes visible only after Store.
func (c *SnapshotCache) Prepare(snap *MapSnapshot) (*RenderedFrame, bool, error) {
	c.mu.RLock()
	last, frame := c.snapshot, c.frame
	c.mu.RUnlock()

	if frame != nil && last.Equal(snap) {
		return frame, false, nil
	}
	next, err := c.renderer.Render(snap)
	if err != nil {
		return nil, false, err
	}
	return next, true, nil
}

// Store replaces the cached snapshot and frame in one step
func (c *SnapshotCache) Store(snap *MapSnapshot, frame *RenderedFrame) {
	c.mu.Lock()
	c.snapshot, c.frame = snap, frame
	c.mu.Unlock()
}

// Frame returns the last rendered frame, or nil
func (c *SnapshotCache) Frame() *RenderedFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame
}

// Snapshot returns the last rendered snapshot, or nil
func (c *SnapshotCache) Snapshot() *MapSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Renderer returns the rasterizer used on a cache miss
func (c *SnapshotCache) Renderer() *Renderer {
	return c.renderer
}
