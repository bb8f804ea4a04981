package approval

import "fmt"

// ValidateDefinition checks the structural invariants of a workflow
// definition: at least one node, contiguous order indexes starting at 0 or
// 1, known node and policy values, and reject targets that reference an
// earlier node of the same workflow.
func ValidateDefinition(def WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("definition name is required: %w", ErrValidation)
	}
	if len(def.Nodes) == 0 {
		return fmt.Errorf("definition %q has no nodes: %w", def.Name, ErrValidation)
	}

	base := def.Nodes[0].OrderIndex
	if base != 0 && base != 1 {
		return fmt.Errorf("node order must start at 0 or 1, got %d: %w", base, ErrValidation)
	}

	byID := map[string]NodeDefinition{}
	for i, n := range def.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node at order %d has no id: %w", n.OrderIndex, ErrValidation)
		}
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q: %w", n.ID, ErrValidation)
		}
		byID[n.ID] = n

		if n.OrderIndex != base+i {
			return fmt.Errorf("node order indexes must be contiguous, expected %d got %d: %w",
				base+i, n.OrderIndex, ErrValidation)
		}
		switch n.Type {
		case NodeStart, NodeApproval, NodeEnd:
		default:
			return fmt.Errorf("node %q has unknown type %q: %w", n.ID, n.Type, ErrValidation)
		}
		switch n.Policy {
		case "", PolicyAny, PolicyAll:
		default:
			return fmt.Errorf("node %q has unknown multi-approve policy %q: %w", n.ID, n.Policy, ErrValidation)
		}
	}

	for _, n := range def.Nodes {
		if n.RejectTarget == "" {
			continue
		}
		target, ok := byID[n.RejectTarget]
		if !ok {
			return fmt.Errorf("node %q reject target %q is not part of the workflow: %w",
				n.ID, n.RejectTarget, ErrValidation)
		}
		if target.OrderIndex >= n.OrderIndex {
			return fmt.Errorf("node %q reject target %q must be an earlier node: %w",
				n.ID, n.RejectTarget, ErrValidation)
		}
	}
	return nil
}
