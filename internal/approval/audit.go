package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AuditEvent is one immutable record of a transition.
type AuditEvent struct {
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	ActorID      string    `json:"actor_id,omitempty"`
	StatusBefore string    `json:"status_before,omitempty"`
	StatusAfter  string    `json:"status_after,omitempty"`
	Comment      string    `json:"comment,omitempty"`
	At           time.Time `json:"ts"`
}

// AuditSink receives transition events. Recording is fire-and-forget: a
// sink failure never rolls back the transition that produced the event.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent)
}

// HTTPAuditSink posts events to an audit-log service.
type HTTPAuditSink struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPAuditSink(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPAuditSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPAuditSink{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (s *HTTPAuditSink) Record(ctx context.Context, ev AuditEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/events", bytes.NewReader(raw))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("audit event dropped", zap.String("action", ev.Action), zap.Error(err))
		return
	}
	_ = resp.Body.Close()
}

// LogAuditSink writes events to the service log. Default sink when no audit
// endpoint is configured.
type LogAuditSink struct {
	logger *zap.Logger
}

func NewLogAuditSink(logger *zap.Logger) *LogAuditSink {
	return &LogAuditSink{logger: logger}
}

func (s *LogAuditSink) Record(_ context.Context, ev AuditEvent) {
	s.logger.Info("audit",
		zap.String("action", ev.Action),
		zap.String("resource_type", ev.ResourceType),
		zap.String("resource_id", ev.ResourceID),
		zap.String("actor_id", ev.ActorID),
		zap.String("status_before", ev.StatusBefore),
		zap.String("status_after", ev.StatusAfter),
	)
}
