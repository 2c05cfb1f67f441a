package attempt

import (
	"context"
	"sort"
	"sync"

	"github.com/abhisek/drillsim/internal/performance"
	"github.com/abhisek/drillsim/internal/scenario"
)

// Repository holds in-progress attempts. Implementations must be safe for
// concurrent use; callers serialize mutation of an individual attempt.
type Repository interface {
	Insert(a *Attempt) error
	Get(id string) (*Attempt, bool)
	// Active returns the id of the attempt held for (userID, scenarioID).
	Active(userID, scenarioID string) (string, bool)
	Remove(id string)
	IDs() []string
}

// Store persists finished attempts and performance records.
type Store interface {
	// LoadPerformance returns nil, nil when no record exists yet.
	LoadPerformance(ctx context.Context, userID, scenarioID string) (*performance.Performance, error)
	SavePerformance(ctx context.Context, p *performance.Performance) error
	SaveAttempt(ctx context.Context, a *Attempt) error
}

// Completer is implemented by stores that can write a finished attempt and
// its updated performance record atomically.
type Completer interface {
	Complete(ctx context.Context, a *Attempt, p *performance.Performance) error
}

// Catalog resolves scenario definitions.
type Catalog interface {
	Get(id string) (scenario.Scenario, error)
}

type activeKey struct{ user, scenario string }

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]*Attempt
	active map[activeKey]string
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*Attempt),
		active: make(map[activeKey]string),
	}
}

func (r *MemoryRepository) Insert(a *Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := activeKey{a.UserID, a.ScenarioID}
	if id, ok := r.active[k]; ok && id != a.ID {
		return &Error{Kind: KindInvalidState, Op: "start", Msg: "attempt " + id + " already in progress"}
	}
	r.byID[a.ID] = a
	r.active[k] = a.ID
	return nil
}

func (r *MemoryRepository) Get(id string) (*Attempt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	return a, ok
}

func (r *MemoryRepository) Active(userID, scenarioID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.active[activeKey{userID, scenarioID}]
	return id, ok
}

func (r *MemoryRepository) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	k := activeKey{a.UserID, a.ScenarioID}
	if r.active[k] == id {
		delete(r.active, k)
	}
}

// IDs returns the ids of all held attempts in sorted order.
func (r *MemoryRepository) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
