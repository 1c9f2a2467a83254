package audit

import (
	"context"
	goerrors "errors"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/pkg/logger"
)

var (
	_ service.AuditSink = (*LogSink)(nil)
	_ service.AuditSink = (*MultiSink)(nil)
)

// LogSink writes audit events to the structured log.
type LogSink struct {
	logger logger.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log.WithComponent("audit")}
}

// Write logs the event. Error responses are logged at warn level.
func (s *LogSink) Write(ctx context.Context, event *models.AuditEvent) error {
	fields := []logger.Field{
		logger.String("audit_id", event.ID),
		logger.String("request_id", event.RequestID),
		logger.String("client_ip", event.ClientIP),
		logger.String("method", event.Method),
		logger.String("path", event.Path),
		logger.Int("status", event.Status),
		logger.String("decision", string(event.Decision)),
		logger.Float64("duration_ms", event.DurationMS),
	}
	if event.Subject != "" {
		fields = append(fields, logger.String("subject", event.Subject), logger.String("role", event.Role))
	}
	if event.Reason != "" {
		fields = append(fields, logger.String("reason", event.Reason))
	}
	if event.UserAgent != "" {
		fields = append(fields, logger.String("user_agent", event.UserAgent))
	}

	if event.Status >= 400 {
		s.logger.Warn(ctx, "Security audit", fields...)
	} else {
		s.logger.Info(ctx, "Security audit", fields...)
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error {
	return nil
}

// MultiSink fans each event out to every sink. A failing sink does not stop the others.
type MultiSink struct {
	sinks []service.AuditSink
}

// NewMultiSink creates a MultiSink over sinks.
func NewMultiSink(sinks ...service.AuditSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write delivers event to every sink and joins their errors.
func (m *MultiSink) Write(ctx context.Context, event *models.AuditEvent) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return goerrors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (m *MultiSink) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return goerrors.Join(errs...)
}

// Len returns the number of sinks.
func (m *MultiSink) Len() int {
	return len(m.sinks)
}
