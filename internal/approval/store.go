package approval

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the persistence boundary for definitions and instance
// aggregates. Mutating engine operations run inside InTx so the
// read-validate-write cycle is atomic; implementations must make
// GetInstance inside a transaction take a write lock on the aggregate.
type Store interface {
	CreateDefinition(ctx context.Context, def WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string) (WorkflowDefinition, error)
	ListDefinitions(ctx context.Context) ([]WorkflowDefinition, error)

	CreateInstance(ctx context.Context, inst WorkflowInstance) error
	GetInstance(ctx context.Context, id string) (WorkflowInstance, error)
	GetActiveInstanceByRecord(ctx context.Context, recordID string) (WorkflowInstance, error)
	UpdateInstance(ctx context.Context, inst WorkflowInstance) error

	InTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

// MemoryStore keeps everything in process. Used by tests and when no
// database DSN is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	txMu        sync.Mutex
	definitions map[string]WorkflowDefinition
	instances   map[string]WorkflowInstance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: map[string]WorkflowDefinition{},
		instances:   map[string]WorkflowInstance{},
	}
}

func (s *MemoryStore) CreateDefinition(_ context.Context, def WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[def.ID]; ok {
		return fmt.Errorf("definition %s already exists: %w", def.ID, ErrConflict)
	}
	s.definitions[def.ID] = copyDefinition(def)
	return nil
}

func (s *MemoryStore) GetDefinition(_ context.Context, id string) (WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[id]
	if !ok {
		return WorkflowDefinition{}, fmt.Errorf("definition %s: %w", id, ErrNotFound)
	}
	return copyDefinition(def), nil
}

func (s *MemoryStore) ListDefinitions(_ context.Context) ([]WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WorkflowDefinition, 0, len(s.definitions))
	for _, def := range s.definitions {
		out = append(out, copyDefinition(def))
	}
	return out, nil
}

func (s *MemoryStore) CreateInstance(_ context.Context, inst WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; ok {
		return fmt.Errorf("instance %s already exists: %w", inst.ID, ErrConflict)
	}
	for _, existing := range s.instances {
		if existing.RecordID == inst.RecordID && existing.Status == InstanceActive {
			return fmt.Errorf("record %s already has an active instance: %w", inst.RecordID, ErrConflict)
		}
	}
	s.instances[inst.ID] = copyInstance(inst)
	return nil
}

func (s *MemoryStore) GetInstance(_ context.Context, id string) (WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return WorkflowInstance{}, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return copyInstance(inst), nil
}

func (s *MemoryStore) GetActiveInstanceByRecord(_ context.Context, recordID string) (WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.instances {
		if inst.RecordID == recordID && inst.Status == InstanceActive {
			return copyInstance(inst), nil
		}
	}
	return WorkflowInstance{}, fmt.Errorf("no active instance for record %s: %w", recordID, ErrNotFound)
}

func (s *MemoryStore) UpdateInstance(_ context.Context, inst WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; !ok {
		return fmt.Errorf("instance %s: %w", inst.ID, ErrNotFound)
	}
	inst.UpdatedAt = time.Now().UTC()
	s.instances[inst.ID] = copyInstance(inst)
	return nil
}

// InTx serializes transactional callbacks; two concurrent approvals against
// the same node run one after the other, so the loser observes the winner's
// terminal node status exactly as it would against Postgres.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(ctx, s)
}

func copyDefinition(def WorkflowDefinition) WorkflowDefinition {
	out := def
	out.Nodes = make([]NodeDefinition, len(def.Nodes))
	copy(out.Nodes, def.Nodes)
	for i := range out.Nodes {
		out.Nodes[i].ApproverIDs = append([]string(nil), out.Nodes[i].ApproverIDs...)
	}
	return out
}

func copyInstance(inst WorkflowInstance) WorkflowInstance {
	out := inst
	out.Nodes = make([]NodeInstance, len(inst.Nodes))
	copy(out.Nodes, inst.Nodes)
	for i := range out.Nodes {
		out.Nodes[i].Actions = append([]ActionEntry(nil), out.Nodes[i].Actions...)
		out.Nodes[i].Def.ApproverIDs = append([]string(nil), out.Nodes[i].Def.ApproverIDs...)
		if out.Nodes[i].CompletedAt != nil {
			t := *out.Nodes[i].CompletedAt
			out.Nodes[i].CompletedAt = &t
		}
	}
	if inst.CompletedAt != nil {
		t := *inst.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
