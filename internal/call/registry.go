package call

// Registry is the process-wide call list (§3). Every mutation happens from
// the single event-loop goroutine, so Registry carries no locking of its
// own — the same assumption the teacher's bridge/leg implementations
// protect with mutexes because they are genuinely multi-goroutine; here
// the event loop already serializes every caller.
type Registry struct {
	calls  map[uint32]*Call
	nextID uint32
}

// NewRegistry creates an empty call registry.
func NewRegistry() *Registry {
	return &Registry{calls: make(map[uint32]*Call)}
}

// Add inserts a call, keyed by its ID.
func (r *Registry) Add(c *Call) {
	r.calls[c.ID] = c
}

// Remove drops a call from the registry once both its legs are gone.
func (r *Registry) Remove(id uint32) {
	delete(r.calls, id)
}

// Find looks a call up by ID. Returns nil if absent.
func (r *Registry) Find(id uint32) *Call {
	return r.calls[id]
}

// NextID hands out the next call reference. IDs are never reused while a
// call referencing the prior value could still be live (§4.1's callref
// correlation relies on this).
func (r *Registry) NextID() uint32 {
	r.nextID++
	return r.nextID
}

// All returns every call currently tracked. Iteration order is not
// meaningful (§3) and callers that need a cascade (e.g. the MNCC
// disconnect handler) must not depend on it.
func (r *Registry) All() []*Call {
	out := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c)
	}
	return out
}
