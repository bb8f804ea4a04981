package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerworks/approvald/internal/metrics"
)

// Engine drives workflow instances through their node chain. It is the only
// writer of instance state; every mutating operation runs as one store
// transaction so concurrent deciders serialize and the loser observes the
// winner's transition instead of overwriting it.
type Engine struct {
	store   Store
	dir     Directory
	audit   AuditSink
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewEngine(store Store, dir Directory, audit AuditSink, logger *zap.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   store,
		dir:     dir,
		audit:   audit,
		logger:  logger,
		metrics: m,
	}
}

// ApproveResult reports the outcome of an Approve call.
type ApproveResult struct {
	Success               bool   `json:"success"`
	Message               string `json:"message,omitempty"`
	AwaitingMoreApprovals bool   `json:"awaiting_more_approvals,omitempty"`
	WorkflowCompleted     bool   `json:"workflow_completed,omitempty"`
	NextNodeID            string `json:"next_node_id,omitempty"`
}

// RejectResult reports the outcome of a Reject call.
type RejectResult struct {
	Success          bool   `json:"success"`
	Message          string `json:"message,omitempty"`
	ReroutedToNodeID string `json:"rerouted_to_node_id,omitempty"`
	WorkflowRejected bool   `json:"workflow_rejected,omitempty"`
}

// CreateInstance starts a workflow execution for a record. The definition
// must exist and be active, and the record must not already have an active
// instance. Node instances snapshot the definition's nodes; leading start
// nodes auto-approve so the current pointer lands on the first node that
// needs a decision.
func (e *Engine) CreateInstance(ctx context.Context, definitionID, recordID, creatorID string) (WorkflowInstance, error) {
	if definitionID == "" || recordID == "" || creatorID == "" {
		return WorkflowInstance{}, fmt.Errorf("definition, record and creator ids are required: %w", ErrValidation)
	}

	var inst WorkflowInstance
	err := e.store.InTx(ctx, func(ctx context.Context, s Store) error {
		def, err := s.GetDefinition(ctx, definitionID)
		if err != nil {
			return err
		}
		if !def.Active {
			return fmt.Errorf("definition %s is not active: %w", definitionID, ErrValidation)
		}
		if _, err := s.GetActiveInstanceByRecord(ctx, recordID); err == nil {
			return fmt.Errorf("record %s already has an active instance: %w", recordID, ErrConflict)
		} else if !isNotFound(err) {
			return err
		}

		now := time.Now().UTC()
		inst = WorkflowInstance{
			ID:           newID("wfi"),
			DefinitionID: def.ID,
			RecordID:     recordID,
			Status:       InstanceActive,
			CreatorID:    creatorID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		nodes := append([]NodeDefinition(nil), def.Nodes...)
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].OrderIndex < nodes[j].OrderIndex })
		for _, nd := range nodes {
			inst.Nodes = append(inst.Nodes, NodeInstance{
				ID:           newID("ni"),
				InstanceID:   inst.ID,
				DefinitionID: nd.ID,
				Def:          nd,
				Status:       NodePending,
			})
		}

		if err := e.advance(ctx, &inst, 0, "", now); err != nil {
			return err
		}
		return s.CreateInstance(ctx, inst)
	})
	if err != nil {
		e.metrics.Transition(ctx, "create", "error")
		return WorkflowInstance{}, err
	}

	e.metrics.Transition(ctx, "create", string(inst.Status))
	e.audit.Record(ctx, AuditEvent{
		Action:       "instance.created",
		ResourceType: "workflow_instance",
		ResourceID:   inst.ID,
		ActorID:      creatorID,
		StatusAfter:  string(inst.Status),
		At:           time.Now().UTC(),
	})
	e.logger.Info("workflow instance created",
		zap.String("instance_id", inst.ID),
		zap.String("definition_id", definitionID),
		zap.String("record_id", recordID))
	return inst, nil
}

// Approve records an approval by userID on the given node. Under the "all"
// policy the node stays pending until every eligible approver has an
// approve entry in the action log; otherwise the node completes and the
// instance advances, completing the workflow when the chain is exhausted.
func (e *Engine) Approve(ctx context.Context, instanceID, nodeInstanceID, userID, comment, nextApproverID string) (ApproveResult, error) {
	var result ApproveResult
	err := e.store.InTx(ctx, func(ctx context.Context, s Store) error {
		inst, node, err := e.loadCurrentNode(ctx, s, instanceID, nodeInstanceID)
		if err != nil {
			return err
		}
		eligible, err := e.eligibleSet(ctx, &inst, node)
		if err != nil {
			return err
		}
		if !eligible[userID] {
			return fmt.Errorf("user %s may not act on node %s: %w", userID, node.ID, ErrUnauthorized)
		}

		now := time.Now().UTC()
		node.Actions = append(node.Actions, ActionEntry{
			UserID: userID, Action: ActionApprove, Comment: comment, At: now,
		})

		if node.Def.Policy == PolicyAll && len(eligible) > 1 && !quorumMet(node, eligible) {
			result = ApproveResult{
				Success:               true,
				Message:               "approval recorded, awaiting remaining approvers",
				AwaitingMoreApprovals: true,
			}
			return s.UpdateInstance(ctx, inst)
		}

		node.Status = NodeApproved
		node.CompletedAt = &now

		idx := nodeIndex(&inst, node.ID)
		if node.Def.IsFinal {
			completeInstance(&inst, InstanceCompleted, now)
			result = ApproveResult{Success: true, Message: "workflow completed", WorkflowCompleted: true}
		} else if err := e.advance(ctx, &inst, idx+1, nextApproverID, now); err != nil {
			return err
		} else if inst.Status == InstanceCompleted {
			result = ApproveResult{Success: true, Message: "workflow completed", WorkflowCompleted: true}
		} else {
			result = ApproveResult{Success: true, Message: "node approved", NextNodeID: inst.CurrentNode}
		}
		return s.UpdateInstance(ctx, inst)
	})
	if err != nil {
		e.metrics.Transition(ctx, "approve", "error")
		return ApproveResult{}, err
	}

	e.metrics.Transition(ctx, "approve", approveOutcome(result))
	e.audit.Record(ctx, AuditEvent{
		Action:       "node.approved",
		ResourceType: "node_instance",
		ResourceID:   nodeInstanceID,
		ActorID:      userID,
		StatusBefore: string(NodePending),
		StatusAfter:  auditNodeStatus(result),
		Comment:      comment,
		At:           time.Now().UTC(),
	})
	return result, nil
}

// Reject records a rejection. A single reject decides the node regardless
// of the multi-approve policy. When the node's snapshot names a reject
// target, the instance routes back to that node, which is reset to pending
// (its action log is preserved); otherwise the instance terminates as
// rejected.
func (e *Engine) Reject(ctx context.Context, instanceID, nodeInstanceID, userID, comment string) (RejectResult, error) {
	var result RejectResult
	err := e.store.InTx(ctx, func(ctx context.Context, s Store) error {
		inst, node, err := e.loadCurrentNode(ctx, s, instanceID, nodeInstanceID)
		if err != nil {
			return err
		}
		eligible, err := e.eligibleSet(ctx, &inst, node)
		if err != nil {
			return err
		}
		if !eligible[userID] {
			return fmt.Errorf("user %s may not act on node %s: %w", userID, node.ID, ErrUnauthorized)
		}

		now := time.Now().UTC()
		node.Actions = append(node.Actions, ActionEntry{
			UserID: userID, Action: ActionReject, Comment: comment, At: now,
		})
		node.Status = NodeRejected
		node.CompletedAt = &now

		if node.Def.RejectTarget == "" {
			completeInstance(&inst, InstanceRejected, now)
			result = RejectResult{Success: true, Message: "workflow rejected", WorkflowRejected: true}
			return s.UpdateInstance(ctx, inst)
		}

		target := inst.NodeByDefinition(node.Def.RejectTarget)
		if target == nil {
			return fmt.Errorf("reject target %s has no node instance in %s", node.Def.RejectTarget, inst.ID)
		}
		target.Status = NodePending
		target.CompletedAt = nil
		approver, err := e.resolvePrimary(ctx, &inst, target, "")
		if err != nil {
			return err
		}
		target.ResolvedApprover = approver
		inst.CurrentNode = target.ID
		result = RejectResult{Success: true, Message: "rerouted to earlier node", ReroutedToNodeID: target.ID}
		return s.UpdateInstance(ctx, inst)
	})
	if err != nil {
		e.metrics.Transition(ctx, "reject", "error")
		return RejectResult{}, err
	}

	outcome := "rerouted"
	if result.WorkflowRejected {
		outcome = "rejected"
	}
	e.metrics.Transition(ctx, "reject", outcome)
	e.audit.Record(ctx, AuditEvent{
		Action:       "node.rejected",
		ResourceType: "node_instance",
		ResourceID:   nodeInstanceID,
		ActorID:      userID,
		StatusBefore: string(NodePending),
		StatusAfter:  string(NodeRejected),
		Comment:      comment,
		At:           time.Now().UTC(),
	})
	return result, nil
}

// Cancel terminates an active instance without a decision.
func (e *Engine) Cancel(ctx context.Context, instanceID string) (WorkflowInstance, error) {
	var inst WorkflowInstance
	err := e.store.InTx(ctx, func(ctx context.Context, s Store) error {
		var err error
		inst, err = s.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst.Terminal() {
			return fmt.Errorf("instance %s is already %s: %w", inst.ID, inst.Status, ErrInvalidState)
		}
		completeInstance(&inst, InstanceCancelled, time.Now().UTC())
		return s.UpdateInstance(ctx, inst)
	})
	if err != nil {
		e.metrics.Transition(ctx, "cancel", "error")
		return WorkflowInstance{}, err
	}

	e.metrics.Transition(ctx, "cancel", "cancelled")
	e.audit.Record(ctx, AuditEvent{
		Action:       "instance.cancelled",
		ResourceType: "workflow_instance",
		ResourceID:   inst.ID,
		StatusBefore: string(InstanceActive),
		StatusAfter:  string(InstanceCancelled),
		At:           time.Now().UTC(),
	})
	return inst, nil
}

// GetInstance loads an instance with its node instances.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (WorkflowInstance, error) {
	return e.store.GetInstance(ctx, instanceID)
}

// GetCurrentNode loads the node instance an active instance is waiting on.
func (e *Engine) GetCurrentNode(ctx context.Context, instanceID string) (NodeInstance, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return NodeInstance{}, err
	}
	if inst.Terminal() {
		return NodeInstance{}, fmt.Errorf("instance %s is %s: %w", inst.ID, inst.Status, ErrInvalidState)
	}
	node := inst.NodeByID(inst.CurrentNode)
	if node == nil {
		return NodeInstance{}, fmt.Errorf("instance %s has no current node: %w", inst.ID, ErrNotFound)
	}
	return *node, nil
}

// loadCurrentNode applies the shared approve/reject preconditions in order:
// instance exists, instance active, node is current, node pending.
func (e *Engine) loadCurrentNode(ctx context.Context, s Store, instanceID, nodeInstanceID string) (WorkflowInstance, *NodeInstance, error) {
	inst, err := s.GetInstance(ctx, instanceID)
	if err != nil {
		return WorkflowInstance{}, nil, err
	}
	if inst.Terminal() {
		return WorkflowInstance{}, nil, fmt.Errorf("instance %s is already %s: %w", inst.ID, inst.Status, ErrInvalidState)
	}
	if nodeInstanceID != inst.CurrentNode {
		return WorkflowInstance{}, nil, fmt.Errorf("node %s is not the current node of %s: %w",
			nodeInstanceID, inst.ID, ErrInvalidState)
	}
	node := inst.NodeByID(nodeInstanceID)
	if node == nil {
		return WorkflowInstance{}, nil, fmt.Errorf("node %s: %w", nodeInstanceID, ErrNotFound)
	}
	if node.Status != NodePending {
		return WorkflowInstance{}, nil, fmt.Errorf("node %s is already %s: %w", node.ID, node.Status, ErrInvalidState)
	}
	return inst, node, nil
}

// advance moves the current pointer to the node at idx, auto-approving
// start nodes and completing the workflow on an end node or when the chain
// is exhausted. A node re-entered after an earlier pass is reset to pending
// for a fresh decision round; its action log is preserved.
func (e *Engine) advance(ctx context.Context, inst *WorkflowInstance, idx int, explicitApprover string, now time.Time) error {
	for idx < len(inst.Nodes) && inst.Nodes[idx].Def.Type == NodeStart {
		inst.Nodes[idx].Status = NodeApproved
		inst.Nodes[idx].CompletedAt = &now
		idx++
	}
	if idx >= len(inst.Nodes) {
		completeInstance(inst, InstanceCompleted, now)
		return nil
	}

	node := &inst.Nodes[idx]
	if node.Def.Type == NodeEnd {
		node.Status = NodeApproved
		node.CompletedAt = &now
		inst.CurrentNode = node.ID
		completeInstance(inst, InstanceCompleted, now)
		return nil
	}

	node.Status = NodePending
	node.CompletedAt = nil
	approver, err := e.resolvePrimary(ctx, inst, node, explicitApprover)
	if err != nil {
		return err
	}
	node.ResolvedApprover = approver
	inst.CurrentNode = node.ID
	return nil
}

// resolvePrimary picks the advisory approver shown in task lists. Priority:
// explicit caller choice, the node's static single-user assignment, the
// first member of its role, the first entry of its explicit list, then the
// instance creator as a last resort.
func (e *Engine) resolvePrimary(ctx context.Context, inst *WorkflowInstance, node *NodeInstance, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if node.Def.ApproverUser != "" {
		return node.Def.ApproverUser, nil
	}
	if node.Def.ApproverRole != "" {
		members, err := e.dir.MembersOfRole(ctx, node.Def.ApproverRole)
		if err != nil {
			return "", err
		}
		if len(members) > 0 {
			return members[0], nil
		}
	}
	if len(node.Def.ApproverIDs) > 0 {
		return node.Def.ApproverIDs[0], nil
	}
	return inst.CreatorID, nil
}

// eligibleSet is the union of the node's single assigned user, its resolved
// role members, and its explicit approver list. An empty union falls back
// to the instance creator so rerouting to a start node stays actionable.
func (e *Engine) eligibleSet(ctx context.Context, inst *WorkflowInstance, node *NodeInstance) (map[string]bool, error) {
	set := map[string]bool{}
	if node.Def.ApproverUser != "" {
		set[node.Def.ApproverUser] = true
	}
	if node.Def.ApproverRole != "" {
		members, err := e.dir.MembersOfRole(ctx, node.Def.ApproverRole)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			set[m] = true
		}
	}
	for _, id := range node.Def.ApproverIDs {
		set[id] = true
	}
	if len(set) == 0 {
		set[inst.CreatorID] = true
	}
	return set, nil
}

func quorumMet(node *NodeInstance, eligible map[string]bool) bool {
	approved := node.Approvals()
	for id := range eligible {
		if !approved[id] {
			return false
		}
	}
	return true
}

func nodeIndex(inst *WorkflowInstance, nodeInstanceID string) int {
	for i := range inst.Nodes {
		if inst.Nodes[i].ID == nodeInstanceID {
			return i
		}
	}
	return -1
}

// completeInstance moves the instance to a terminal status. The current
// pointer keeps naming the last-processed node for task-list display.
func completeInstance(inst *WorkflowInstance, status InstanceStatus, now time.Time) {
	inst.Status = status
	inst.CompletedAt = &now
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func approveOutcome(r ApproveResult) string {
	switch {
	case r.AwaitingMoreApprovals:
		return "awaiting"
	case r.WorkflowCompleted:
		return "completed"
	default:
		return "advanced"
	}
}

func auditNodeStatus(r ApproveResult) string {
	if r.AwaitingMoreApprovals {
		return string(NodePending)
	}
	return string(NodeApproved)
}
