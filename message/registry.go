package message

import (
	"sync"

	"github.com/dreamworksanimation/arras4-core/id"
	"github.com/dreamworksanimation/arras4-core/internal/logging"
)

// Factory constructs a zero-value ObjectContent for a given class id, ready
// to have Deserialize called on it for the given wire version.
type Factory func(version uint32) ObjectContent

// Registry is a class-id -> factory mapping used to reconstruct
// ObjectContent values read off the wire. It is safe for concurrent use;
// registration normally happens once per class at plug-in load / package
// init time, while Create is called continuously from the
// reader/chunk-reassembly path.
type Registry struct {
	mu        sync.RWMutex
	factories map[id.UUID]Factory
}

// NewRegistry builds an empty registry. Most callers should use the
// process-wide Default instead.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[id.UUID]Factory)}
}

// Default is the process-wide content registry. Computation plug-ins and
// this module's own well-known classes (ControlMessage, ExecutorHeartbeat,
// EngineReadyMessage) register into it from init().
var Default = NewRegistry()

// Register associates classID with factory. Re-registering the same class
// id with a different factory is a programming error: it is logged at WARN
// but the original factory remains in effect, matching the donor's
// idempotent-registration contract.
func (r *Registry) Register(classID id.UUID, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[classID]; exists {
		logging.Warnw("content class re-registered, keeping first factory", "classId", classID)
		return
	}
	r.factories[classID] = factory
}

// Create returns a fresh zero-value object for classID/version, or nil if
// no factory is registered — the caller (the envelope codec, or the
// chunking filter's reassembly step) then keeps the content opaque.
func (r *Registry) Create(classID id.UUID, version uint32) ObjectContent {
	r.mu.RLock()
	factory, ok := r.factories[classID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return factory(version)
}

// Registered reports whether classID has a factory, without constructing
// anything.
func (r *Registry) Registered(classID id.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[classID]
	return ok
}
