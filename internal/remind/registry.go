package remind

import "sync"

// Registry maps an entity id (task or event) to its set of armed timers.
// Timer callbacks run on their own goroutines, so all access is mutex-guarded.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	timers []Timer
	live   int
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// newEntry allocates a timer-set handle that is not yet registered. The
// scheduler threads the same handle through Arm and each callback's done, so
// a fire that raced a cancel-and-rearm can only ever decrement its own set,
// never the replacement's.
func (r *Registry) newEntry() *entry { return &entry{} }

// Arm registers e as the entity's timer set, replacing any existing entry.
// The caller is expected to Cancel first; Arm stops whatever it replaces so
// a missed cancel cannot leak a live timer.
func (r *Registry) Arm(id string, timers []Timer, e *entry) {
	if len(timers) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[id]; ok && old != e {
		for _, t := range old.timers {
			t.Stop()
		}
	}
	e.timers = timers
	e.live = len(timers)
	r.entries[id] = e
}

// Cancel stops every timer held for id and removes the entry. It is a no-op
// when no entry exists. A timer already mid-callback is not interrupted;
// Cancel only prevents future fires.
func (r *Registry) Cancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	for _, t := range e.timers {
		t.Stop()
	}
	delete(r.entries, id)
}

// done records that one of e's timers has fired, dropping the entity's entry
// once none remain live. A done from a set that has since been cancelled or
// replaced is ignored.
func (r *Registry) done(id string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[id]
	if !ok || cur != e {
		return
	}
	e.live--
	if e.live <= 0 {
		delete(r.entries, id)
	}
}

// Has reports whether id currently has armed timers.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of entities with armed timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
