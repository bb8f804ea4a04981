package approval

import "time"

type NodeType string

const (
	NodeStart    NodeType = "start"
	NodeApproval NodeType = "approval"
	NodeEnd      NodeType = "end"
)

// MultiApprovePolicy controls how a node with more than one eligible
// approver is decided. PolicyAny completes the node on the first approval;
// PolicyAll requires every eligible approver to approve.
type MultiApprovePolicy string

const (
	PolicyAny MultiApprovePolicy = "any"
	PolicyAll MultiApprovePolicy = "all"
)

type InstanceStatus string

const (
	InstanceActive    InstanceStatus = "active"
	InstanceCompleted InstanceStatus = "completed"
	InstanceRejected  InstanceStatus = "rejected"
	InstanceCancelled InstanceStatus = "cancelled"
)

type NodeStatus string

const (
	NodePending  NodeStatus = "pending"
	NodeApproved NodeStatus = "approved"
	NodeRejected NodeStatus = "rejected"
)

type ActionType string

const (
	ActionApprove ActionType = "approve"
	ActionReject  ActionType = "reject"
)

// WorkflowDefinition is the reusable, ordered chain of approval nodes a
// ledger record moves through. Node order is significant and contiguous.
type WorkflowDefinition struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Active    bool             `json:"active"`
	Nodes     []NodeDefinition `json:"nodes"`
	CreatedAt time.Time        `json:"created_at"`
}

// NodeDefinition describes one step of a workflow. The approver rule is the
// union of ApproverUser, the members of ApproverRole, and ApproverIDs.
type NodeDefinition struct {
	ID           string             `json:"id"`
	WorkflowID   string             `json:"workflow_id"`
	OrderIndex   int                `json:"order_index"`
	Type         NodeType           `json:"node_type"`
	IsFinal      bool               `json:"is_final,omitempty"`
	ApproverUser string             `json:"approver_user,omitempty"`
	ApproverRole string             `json:"approver_role,omitempty"`
	ApproverIDs  []string           `json:"approver_ids,omitempty"`
	Policy       MultiApprovePolicy `json:"multi_approve_policy,omitempty"`
	RejectTarget string             `json:"reject_target_node_id,omitempty"`
}

// WorkflowInstance is one execution of a definition against one record.
// Terminal statuses are absorbing; the engine is the only writer.
type WorkflowInstance struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"workflow_definition_id"`
	RecordID     string         `json:"record_id"`
	Status       InstanceStatus `json:"status"`
	CurrentNode  string         `json:"current_node_instance_id,omitempty"`
	CreatorID    string         `json:"creator_id"`
	Nodes        []NodeInstance `json:"nodes"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// NodeInstance is the per-instance copy of a node. Def is a snapshot of the
// NodeDefinition taken at instance creation, so later redefinition of the
// workflow never affects instances already in flight.
type NodeInstance struct {
	ID               string         `json:"id"`
	InstanceID       string         `json:"workflow_instance_id"`
	DefinitionID     string         `json:"node_definition_id"`
	Def              NodeDefinition `json:"definition"`
	Status           NodeStatus     `json:"status"`
	ResolvedApprover string         `json:"resolved_approver_id,omitempty"`
	Actions          []ActionEntry  `json:"action_log"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// ActionEntry is one decision recorded against a node. The action log is
// append-only and is the sole source of truth for who has acted.
type ActionEntry struct {
	UserID  string     `json:"user_id"`
	Action  ActionType `json:"action"`
	Comment string     `json:"comment,omitempty"`
	At      time.Time  `json:"timestamp"`
}

// Terminal reports whether the instance has reached an absorbing status.
func (w *WorkflowInstance) Terminal() bool {
	return w.Status != InstanceActive
}

// NodeByID returns the node instance with the given id, or nil.
func (w *WorkflowInstance) NodeByID(id string) *NodeInstance {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// NodeByDefinition returns the node instance snapshotted from the given
// node definition id, or nil.
func (w *WorkflowInstance) NodeByDefinition(defID string) *NodeInstance {
	for i := range w.Nodes {
		if w.Nodes[i].DefinitionID == defID {
			return &w.Nodes[i]
		}
	}
	return nil
}

// Approvals returns the distinct user ids with an approve entry in the
// action log.
func (n *NodeInstance) Approvals() map[string]bool {
	out := map[string]bool{}
	for _, a := range n.Actions {
		if a.Action == ActionApprove {
			out[a.UserID] = true
		}
	}
	return out
}
