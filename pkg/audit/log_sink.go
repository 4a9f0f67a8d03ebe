package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSink writes events as structured log lines
type LogSink struct {
	log logrus.FieldLogger
}

// NewLogSink creates a sink logging through log
func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: log.WithField("component", "audit")}
}

// Record implements Sink
func (s *LogSink) Record(_ context.Context, event *Event) error {
	fields := logrus.Fields{
		"event_type": event.Type,
		"status":     event.Status,
		"tenant_id":  event.TenantID,
		"actor":      event.ActorUserID,
	}
	if event.ResourceType != "" {
		fields["resource_type"] = event.ResourceType
		fields["resource_id"] = event.ResourceID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	for k, v := range event.Metadata {
		fields["meta."+k] = v
	}

	entry := s.log.WithFields(fields)
	if event.Status == EventStatusFailure {
		entry.Warn(event.Message)
		return nil
	}
	entry.Info(event.Message)
	return nil
}
