package workflow

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/example/dust-check/internal/session"
)

// Factory builds a fresh workflow for a newly seen session.
type Factory func(gate *session.Gate) *Workflow

// Registry keeps one workflow per session, bounded by an LRU. Evicted
// workflows are reset so their previews are released.
type Registry struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, *Workflow]
	factory Factory
	logger  *zap.Logger
}

// NewRegistry creates a registry holding at most size workflows.
func NewRegistry(size int, factory Factory, logger *zap.Logger) (*Registry, error) {
	logger = logger.Named("workflow_registry")
	cache, err := lru.NewWithEvict[string, *Workflow](size, func(sessionID string, wf *Workflow) {
		wf.Reset()
		logger.Debug("workflow released", zap.String("session_id", sessionID))
	})
	if err != nil {
		return nil, err
	}
	return &Registry{cache: cache, factory: factory, logger: logger}, nil
}

// Open returns the workflow for the identity's session, creating it with
// gate on first use.
func (r *Registry) Open(identity session.Identity, gate *session.Gate) *Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wf, ok := r.cache.Get(identity.SessionID); ok {
		return wf
	}
	wf := r.factory(gate)
	r.cache.Add(identity.SessionID, wf)
	r.logger.Debug("workflow created",
		zap.String("session_id", identity.SessionID),
		zap.String("subject", identity.Subject))
	return wf
}

// Close drops the session's workflow after resetting it.
func (r *Registry) Close(sessionID string) {
	r.cache.Remove(sessionID)
}

// Len returns the number of live workflows.
func (r *Registry) Len() int {
	return r.cache.Len()
}
