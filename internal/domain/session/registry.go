package session

import (
	"context"
	"sync"
)

type entry struct {
	state *State
	once  sync.Once
}

// Registry hands each authenticated user their own State, created and
// loaded on first use.
type Registry struct {
	deps Deps

	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, entries: make(map[string]*entry)}
}

// Get returns the user's State. The first call for a user performs the
// initial load; concurrent first calls wait for it. A failed initial load
// is reported through State.Err, not here.
func (r *Registry) Get(ctx context.Context, userID string) *State {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{state: r.newState(userID)}
		r.entries[userID] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		// The load outlives the request that triggered it.
		ctx := context.WithoutCancel(ctx)
		if err := e.state.Refresh(ctx); err != nil {
			r.deps.Logger.Error().Err(err).Str("user_id", userID).Msg("initial patient data load failed")
		}
	})
	return e.state
}

func (r *Registry) newState(userID string) *State {
	s := NewState(userID, r.deps)
	logger := r.deps.Logger.With().Str("user_id", userID).Logger()
	s.Subscribe(func(v View) {
		logger.Debug().
			Int("patients", len(v.Patients)).
			Int("prescriptions", len(v.Prescriptions)).
			Int("documents", len(v.Documents)).
			Bool("loading", v.Loading).
			Str("error", v.Error).
			Msg("session state changed")
	})
	if r.deps.OnChange != nil {
		s.Subscribe(func(v View) { r.deps.OnChange(userID, v) })
	}
	return s
}

// Topic names the live-update channel carrying userID's changes.
func Topic(userID string) string {
	return "session:" + userID
}

// Evict drops the user's State; the next Get reloads from the store.
func (r *Registry) Evict(userID string) {
	r.mu.Lock()
	delete(r.entries, userID)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
