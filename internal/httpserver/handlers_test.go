package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerworks/approvald/internal/approval"
	"github.com/ledgerworks/approvald/internal/config"
)

const reviewDefinition = `{
  "name": "ledger_review",
  "active": true,
  "nodes": [
    {"id": "n0", "order_index": 0, "node_type": "start"},
    {"id": "n1", "order_index": 1, "node_type": "approval", "approver_user": "u1"},
    {"id": "n2", "order_index": 2, "node_type": "end", "is_final": true}
  ]
}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	engine := approval.NewEngine(
		approval.NewMemoryStore(),
		approval.StaticDirectory{},
		approval.NewLogAuditSink(zap.NewNop()),
		zap.NewNop(),
		nil,
	)
	s := NewServer(config.Default(), zap.NewNop(), engine)
	ts := httptest.NewServer(s.srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body string, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func registerReviewDefinition(t *testing.T, ts *httptest.Server) approval.WorkflowDefinition {
	t.Helper()
	var def approval.WorkflowDefinition
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/definitions", reviewDefinition, &def)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return def
}

func createInstance(t *testing.T, ts *httptest.Server, definitionID, recordID string) approval.WorkflowInstance {
	t.Helper()
	body := fmt.Sprintf(`{"workflow_definition_id": %q, "record_id": %q, "creator_id": "creator"}`,
		definitionID, recordID)
	var inst approval.WorkflowInstance
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/instances", body, &inst)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return inst
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	def := registerReviewDefinition(t, ts)

	var defs []approval.WorkflowDefinition
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/definitions", "", &defs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, defs, 1)

	inst := createInstance(t, ts, def.ID, "ledger-1")
	assert.Equal(t, approval.InstanceActive, inst.Status)

	var current approval.NodeInstance
	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/instances/"+inst.ID+"/current-node", "", &current)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "n1", current.DefinitionID)
	assert.Equal(t, "u1", current.ResolvedApprover)

	body := fmt.Sprintf(`{"node_instance_id": %q, "user_id": "u1", "comment": "looks right"}`, current.ID)
	var result approval.ApproveResult
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/instances/"+inst.ID+"/approve", body, &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, result.WorkflowCompleted)

	var final approval.WorkflowInstance
	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/instances/"+inst.ID, "", &final)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, approval.InstanceCompleted, final.Status)
}

func TestRejectOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	def := registerReviewDefinition(t, ts)
	inst := createInstance(t, ts, def.ID, "ledger-1")

	body := fmt.Sprintf(`{"node_instance_id": %q, "user_id": "u1", "comment": "missing receipts"}`,
		inst.CurrentNode)
	var result approval.RejectResult
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/instances/"+inst.ID+"/reject", body, &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, result.WorkflowRejected)
}

func TestCancelOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	def := registerReviewDefinition(t, ts)
	inst := createInstance(t, ts, def.ID, "ledger-1")

	var cancelled approval.WorkflowInstance
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/instances/"+inst.ID+"/cancel", "{}", &cancelled)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, approval.InstanceCancelled, cancelled.Status)
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)
	def := registerReviewDefinition(t, ts)
	inst := createInstance(t, ts, def.ID, "ledger-1")

	t.Run("unknown_instance_is_404", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/v1/instances/wfi_missing", "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("duplicate_record_is_409", func(t *testing.T) {
		body := fmt.Sprintf(`{"workflow_definition_id": %q, "record_id": "ledger-1", "creator_id": "creator"}`, def.ID)
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/instances", body, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("wrong_user_is_403", func(t *testing.T) {
		body := fmt.Sprintf(`{"node_instance_id": %q, "user_id": "intruder"}`, inst.CurrentNode)
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/instances/"+inst.ID+"/approve", body, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("stale_node_is_422", func(t *testing.T) {
		body := `{"node_instance_id": "ni_stale", "user_id": "u1"}`
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/instances/"+inst.ID+"/approve", body, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("malformed_body_is_400", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/instances", `{"record_id": `, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("schema_violation_is_400", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/v1/definitions", `{"name": "x"}`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
