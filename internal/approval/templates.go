package approval

// BuiltinTemplates are registered at startup when absent. The stock chain
// mirrors a common ledger review: submission, a finance review, a
// controller sign-off requiring every controller, then close-out. A
// controller rejection routes back to the finance review instead of
// terminating the instance.
var BuiltinTemplates = []WorkflowDefinition{
	{
		ID:     "tpl_ledger_review",
		Name:   "ledger_review",
		Active: true,
		Nodes: []NodeDefinition{
			{ID: "tpl_ledger_review_n0", WorkflowID: "tpl_ledger_review", OrderIndex: 0, Type: NodeStart},
			{ID: "tpl_ledger_review_n1", WorkflowID: "tpl_ledger_review", OrderIndex: 1, Type: NodeApproval,
				ApproverRole: "finance"},
			{ID: "tpl_ledger_review_n2", WorkflowID: "tpl_ledger_review", OrderIndex: 2, Type: NodeApproval,
				ApproverRole: "controllers", Policy: PolicyAll, RejectTarget: "tpl_ledger_review_n1"},
			{ID: "tpl_ledger_review_n3", WorkflowID: "tpl_ledger_review", OrderIndex: 3, Type: NodeEnd, IsFinal: true},
		},
	},
	{
		ID:     "tpl_ledger_single_sign",
		Name:   "ledger_single_sign",
		Active: true,
		Nodes: []NodeDefinition{
			{ID: "tpl_ledger_single_sign_n0", WorkflowID: "tpl_ledger_single_sign", OrderIndex: 0, Type: NodeStart},
			{ID: "tpl_ledger_single_sign_n1", WorkflowID: "tpl_ledger_single_sign", OrderIndex: 1, Type: NodeApproval,
				ApproverRole: "finance"},
			{ID: "tpl_ledger_single_sign_n2", WorkflowID: "tpl_ledger_single_sign", OrderIndex: 2, Type: NodeEnd,
				IsFinal: true},
		},
	},
}
