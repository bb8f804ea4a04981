package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ledgerworks/approvald/internal/approval"
)

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) createDefinition(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, err)
		return
	}
	def, err := approval.DecodeDefinition(data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	def, err = s.engine.RegisterDefinition(r.Context(), def)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, def)
}

func (s *Server) listDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.engine.ListDefinitions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if defs == nil {
		defs = []approval.WorkflowDefinition{}
	}
	s.writeJSON(w, http.StatusOK, defs)
}

func (s *Server) getDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.engine.GetDefinition(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, def)
}

type createInstanceRequest struct {
	WorkflowDefinitionID string `json:"workflow_definition_id"`
	RecordID             string `json:"record_id"`
	CreatorID            string `json:"creator_id"`
}

func (s *Server) createInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	inst, err := s.engine.CreateInstance(r.Context(), req.WorkflowDefinitionID, req.RecordID, req.CreatorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.engine.GetInstance(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *Server) getCurrentNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.engine.GetCurrentNode(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

type decisionRequest struct {
	NodeInstanceID string `json:"node_instance_id"`
	UserID         string `json:"user_id"`
	Comment        string `json:"comment"`
	NextApproverID string `json:"next_approver_id"`
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	result, err := s.engine.Approve(r.Context(), r.PathValue("id"),
		req.NodeInstanceID, req.UserID, req.Comment, req.NextApproverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	result, err := s.engine.Reject(r.Context(), r.PathValue("id"),
		req.NodeInstanceID, req.UserID, req.Comment)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	inst, err := s.engine.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

// writeError maps the engine's error taxonomy onto HTTP statuses; anything
// unrecognized is an infrastructure failure and stays opaque to the client.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, approval.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, approval.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, approval.ErrInvalidState):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, approval.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, approval.ErrValidation):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		s.writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

func badRequest(err error) error {
	return fmt.Errorf("invalid request body: %v: %w", err, approval.ErrValidation)
}
