package approval

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// RegisterDefinition assigns missing ids, validates, and persists a
// workflow definition. Definitions are effectively immutable once an
// instance references them: instances snapshot nodes at creation, so a
// later re-registration under a new id never touches work in flight.
func (e *Engine) RegisterDefinition(ctx context.Context, def WorkflowDefinition) (WorkflowDefinition, error) {
	if def.ID == "" {
		def.ID = newID("wfd")
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	sort.Slice(def.Nodes, func(i, j int) bool { return def.Nodes[i].OrderIndex < def.Nodes[j].OrderIndex })
	for i := range def.Nodes {
		if def.Nodes[i].ID == "" {
			def.Nodes[i].ID = newID("node")
		}
		def.Nodes[i].WorkflowID = def.ID
		if def.Nodes[i].Policy == "" {
			def.Nodes[i].Policy = PolicyAny
		}
	}
	if err := ValidateDefinition(def); err != nil {
		return WorkflowDefinition{}, err
	}
	if err := e.store.CreateDefinition(ctx, def); err != nil {
		return WorkflowDefinition{}, err
	}

	e.audit.Record(ctx, AuditEvent{
		Action:       "definition.created",
		ResourceType: "workflow_definition",
		ResourceID:   def.ID,
		At:           time.Now().UTC(),
	})
	e.logger.Info("workflow definition registered",
		zap.String("definition_id", def.ID),
		zap.String("name", def.Name),
		zap.Int("nodes", len(def.Nodes)))
	return def, nil
}

func (e *Engine) GetDefinition(ctx context.Context, id string) (WorkflowDefinition, error) {
	return e.store.GetDefinition(ctx, id)
}

func (e *Engine) ListDefinitions(ctx context.Context) ([]WorkflowDefinition, error) {
	return e.store.ListDefinitions(ctx)
}

// EnsureTemplates registers the builtin definitions that are missing from
// the store, so a fresh database starts with a usable approval chain.
func (e *Engine) EnsureTemplates(ctx context.Context) error {
	for _, tpl := range BuiltinTemplates {
		if _, err := e.store.GetDefinition(ctx, tpl.ID); err == nil {
			continue
		} else if !isNotFound(err) {
			return err
		}
		if _, err := e.RegisterDefinition(ctx, tpl); err != nil {
			return err
		}
	}
	return nil
}
