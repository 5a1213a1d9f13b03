// Package storage keeps runs and their nodes in process memory.
//
// State is volatile: nothing here survives a restart. Each run has its own
// mutex so mutations of one run never wait on another; the registry map is
// guarded separately and only held for lookups and membership changes.
package storage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/shiko/internal/model"
)

// RunStore is the contract the controller depends on.
type RunStore interface {
	Create(ctx context.Context, run *model.Run) error
	Update(ctx context.Context, id uuid.UUID, fn func(run *model.Run) error) error
	Snapshot(ctx context.Context, id uuid.UUID) (*model.Run, error)
	List(ctx context.Context) ([]RunSummary, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context) Stats
}

// RunSummary is the listing view of a run.
type RunSummary struct {
	ID         uuid.UUID       `json:"run_id"`
	TaskPrompt string          `json:"task_prompt"`
	Mode       model.RunMode   `json:"mode"`
	Level      string          `json:"exploration_level,omitempty"`
	Status     model.RunStatus `json:"status"`
	NodeCount  int             `json:"node_count"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Stats are process-wide counters.
type Stats struct {
	TotalRuns     int64 `json:"total_runs"`
	TotalNodes    int64 `json:"total_nodes"`
	ActiveRuns    int   `json:"active_runs"`
	CompletedRuns int   `json:"completed_runs"`
}

type runEntry struct {
	mu      sync.Mutex
	run     *model.Run
	deleted bool
}

// MemoryStore is the in-memory RunStore.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*runEntry

	runsCreated atomic.Int64
	nodesLive   atomic.Int64
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[uuid.UUID]*runEntry)}
}

// Create registers run. The store takes ownership; callers must not touch
// run afterwards except through Update.
func (s *MemoryStore) Create(_ context.Context, run *model.Run) error {
	s.mu.Lock()
	s.runs[run.ID] = &runEntry{run: run}
	s.mu.Unlock()

	s.runsCreated.Add(1)
	s.nodesLive.Add(int64(run.NodeCount()))
	return nil
}

// Update runs fn with exclusive access to the run. Nodes fn adds are
// reflected in the global node counter. fn's error is returned unchanged.
func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, fn func(run *model.Run) error) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return ErrNotFound
	}
	before := e.run.NodeCount()
	err = fn(e.run)
	if delta := e.run.NodeCount() - before; delta != 0 {
		s.nodesLive.Add(int64(delta))
	}
	return err
}

// Snapshot returns a deep copy of the run taken under its lock.
func (s *MemoryStore) Snapshot(_ context.Context, id uuid.UUID) (*model.Run, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, ErrNotFound
	}
	return e.run.Snapshot(), nil
}

// List returns a summary of every run, newest first.
func (s *MemoryStore) List(_ context.Context) ([]RunSummary, error) {
	entries := s.entries()
	out := make([]RunSummary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			r := e.run
			out = append(out, RunSummary{
				ID:         r.ID,
				TaskPrompt: r.TaskPrompt,
				Mode:       r.Mode,
				Level:      r.Config.ExplorationLevel,
				Status:     r.Status,
				NodeCount:  r.NodeCount(),
				CreatedAt:  r.CreatedAt,
			})
		}
		e.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Delete removes the run and all its nodes.
func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	e, ok := s.runs[id]
	if ok {
		delete(s.runs, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	e.deleted = true
	n := e.run.NodeCount()
	e.run = nil
	e.mu.Unlock()

	s.nodesLive.Add(-int64(n))
	return nil
}

// Stats returns the global counters and a count of runs by status.
func (s *MemoryStore) Stats(_ context.Context) Stats {
	st := Stats{
		TotalRuns:  s.runsCreated.Load(),
		TotalNodes: s.nodesLive.Load(),
	}
	for _, e := range s.entries() {
		e.mu.Lock()
		if !e.deleted {
			switch e.run.Status {
			case model.RunStatusActive:
				st.ActiveRuns++
			case model.RunStatusCompleted:
				st.CompletedRuns++
			}
		}
		e.mu.Unlock()
	}
	return st
}

func (s *MemoryStore) entry(id uuid.UUID) (*runEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) entries() []*runEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*runEntry, 0, len(s.runs))
	for _, e := range s.runs {
		out = append(out, e)
	}
	return out
}
