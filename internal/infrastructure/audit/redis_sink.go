package audit

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/logger"
)

var _ service.AuditSink = (*RedisStreamSink)(nil)

// RedisStreamSink appends audit events to a Redis stream trimmed to roughly MaxLen entries.
type RedisStreamSink struct {
	client     redis.UniversalClient
	stream     string
	maxLen     int64
	signingKey []byte
	ownsClient bool
	logger     logger.Logger
}

// NewRedisStreamSink creates a RedisStreamSink. When ownsClient is set, Close also closes client.
func NewRedisStreamSink(client redis.UniversalClient, cfg config.AuditConfig, ownsClient bool, log logger.Logger) *RedisStreamSink {
	stream := cfg.Stream
	if stream == "" {
		stream = constants.DefaultAuditStream
	}
	maxLen := cfg.StreamMax
	if maxLen <= 0 {
		maxLen = constants.DefaultAuditStreamMaxLen
	}
	return &RedisStreamSink{
		client:     client,
		stream:     stream,
		maxLen:     maxLen,
		signingKey: []byte(cfg.SigningKey),
		ownsClient: ownsClient,
		logger:     log.WithComponent("RedisAuditSink"),
	}
}

// Write XADDs the event as a single JSON field plus a few indexable ones.
func (s *RedisStreamSink) Write(ctx context.Context, event *models.AuditEvent) error {
	payload, signature, err := encodeEvent(event, s.signingKey)
	if err != nil {
		return err
	}

	values := map[string]interface{}{
		"id":       event.ID,
		"decision": string(event.Decision),
		"status":   event.Status,
		"event":    string(payload),
	}
	if signature != "" {
		values["signature"] = signature
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		s.logger.Error(ctx, "failed to append audit event to stream", err, logger.String("stream", s.stream))
		return err
	}
	return nil
}

// Close closes the client if the sink owns it.
func (s *RedisStreamSink) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}
