package imagesource

import (
	"sync"

	"github.com/google/uuid"
)

// PreviewHandle is a revocable reference a display surface can render.
type PreviewHandle struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Previews tracks live preview handles across all workflows.
type Previews struct {
	mu      sync.Mutex
	baseURL string
	live    map[string]struct{}
}

// NewPreviews creates a store whose handle URLs are rooted at baseURL.
func NewPreviews(baseURL string) *Previews {
	return &Previews{baseURL: baseURL, live: make(map[string]struct{})}
}

// Allocate registers a new live handle.
func (p *Previews) Allocate() PreviewHandle {
	id := uuid.NewString()
	p.mu.Lock()
	p.live[id] = struct{}{}
	p.mu.Unlock()
	return PreviewHandle{ID: id, URL: p.baseURL + "/" + id}
}

// Release revokes a handle. Releasing an unknown or already released handle is a no-op.
func (p *Previews) Release(h PreviewHandle) {
	p.mu.Lock()
	delete(p.live, h.ID)
	p.mu.Unlock()
}

// IsLive reports whether the handle has not been released.
func (p *Previews) IsLive(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.live[id]
	return ok
}

// Live returns the number of unreleased handles.
func (p *Previews) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}
