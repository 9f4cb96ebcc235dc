package domain

import (
	"sort"
	"sync"
)

// RegistryEvents receives change notifications after every successful
// registry mutation. A mutation and its notification form one indivisible
// step: callbacks run serialized with mutations, in mutation order, and
// receive defensive copies. Callbacks may read the registry but must not
// mutate it.
type RegistryEvents struct {
	SeederUpdated func(id string, seeder Seeder)
	SeederRemoved func(id string)
}

// RegisteredSeeder pairs a connection id with its seeder record for bulk
// reads.
type RegisteredSeeder struct {
	ID     string `json:"id"`
	Seeder Seeder `json:"seeder"`
}

// Registry is the authoritative mapping of worker-connection-id to seeder
// record. It is the single writer of seeder state; all other components read
// or request mutations through it.
//
// mutateMu is held across a mutation and its notification so listeners
// observe changes in mutation order. stateMu alone guards the map, so reads
// never wait on a listener.
type Registry struct {
	mutateMu sync.Mutex
	stateMu  sync.Mutex
	seeders  map[string]Seeder
	events   RegistryEvents
}

// NewRegistry builds an empty registry with the given change listeners.
func NewRegistry(events RegistryEvents) *Registry {
	return &Registry{
		seeders: make(map[string]Seeder),
		events:  events,
	}
}

// Register records a freshly connected seeder and notifies listeners.
func (r *Registry) Register(id string, seeder Seeder) {
	r.mutateMu.Lock()
	defer r.mutateMu.Unlock()
	r.stateMu.Lock()
	r.seeders[id] = seeder.clone()
	r.stateMu.Unlock()
	r.notifyUpdated(id, seeder)
}

// Remove deletes a seeder on disconnect and notifies listeners. Unknown ids
// are a no-op.
func (r *Registry) Remove(id string) {
	r.mutateMu.Lock()
	defer r.mutateMu.Unlock()
	r.stateMu.Lock()
	_, ok := r.seeders[id]
	if ok {
		delete(r.seeders, id)
	}
	r.stateMu.Unlock()
	if ok && r.events.SeederRemoved != nil {
		r.events.SeederRemoved(id)
	}
}

// Get returns a copy of the seeder record for id.
func (r *Registry) Get(id string) (Seeder, bool) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	seeder, ok := r.seeders[id]
	if !ok {
		return Seeder{}, false
	}
	return seeder.clone(), true
}

// SetGameState applies a state report from a worker. No-op when the id is
// unknown, when the game is UNOWNED for that seeder, or when the new state
// would transition into UNOWNED.
func (r *Registry) SetGameState(id string, game Game, state GameState) {
	if state == StateUnowned {
		return
	}
	r.mutateMu.Lock()
	defer r.mutateMu.Unlock()
	r.stateMu.Lock()
	seeder, ok := r.seeders[id]
	if !ok {
		r.stateMu.Unlock()
		return
	}
	status, ok := seeder.Games[game]
	if !ok || status.State == StateUnowned {
		r.stateMu.Unlock()
		return
	}
	status.State = state
	seeder = seeder.clone()
	seeder.Games[game] = status
	r.seeders[id] = seeder
	r.stateMu.Unlock()
	r.notifyUpdated(id, seeder)
}

// SetTarget replaces a seeder's target for one game. Returns false without
// effect when the id is unknown or the game is UNOWNED for that seeder.
func (r *Registry) SetTarget(id string, game Game, target ServerTarget) bool {
	r.mutateMu.Lock()
	defer r.mutateMu.Unlock()
	r.stateMu.Lock()
	seeder, ok := r.seeders[id]
	if !ok {
		r.stateMu.Unlock()
		return false
	}
	status, ok := seeder.Games[game]
	if !ok || status.State == StateUnowned {
		r.stateMu.Unlock()
		return false
	}
	status.Target = target
	seeder = seeder.clone()
	seeder.Games[game] = status
	r.seeders[id] = seeder
	r.stateMu.Unlock()
	r.notifyUpdated(id, seeder)
	return true
}

// Snapshot returns all registered seeders ordered by connection id.
func (r *Registry) Snapshot() []RegisteredSeeder {
	r.stateMu.Lock()
	snapshot := make([]RegisteredSeeder, 0, len(r.seeders))
	for id, seeder := range r.seeders {
		snapshot = append(snapshot, RegisteredSeeder{ID: id, Seeder: seeder.clone()})
	}
	r.stateMu.Unlock()
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].ID < snapshot[j].ID
	})
	return snapshot
}

func (r *Registry) notifyUpdated(id string, seeder Seeder) {
	if r.events.SeederUpdated != nil {
		r.events.SeederUpdated(id, seeder.clone())
	}
}
