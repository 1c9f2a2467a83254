package audit

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/logger"
)

var _ service.AuditSink = (*KafkaSink)(nil)

// SignatureHeader carries the HMAC signature of a Kafka audit message.
const SignatureHeader = "X-Audit-Signature"

// messageWriter is the subset of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink produces audit events to a Kafka topic, keyed by client IP.
type KafkaSink struct {
	writer     messageWriter
	signingKey []byte
	logger     logger.Logger
}

// NewKafkaSink creates a KafkaSink writing to cfg.Topic on the configured brokers.
func NewKafkaSink(kafkaCfg config.KafkaConfig, auditCfg config.AuditConfig, log logger.Logger) *KafkaSink {
	topic := auditCfg.Topic
	if topic == "" {
		topic = constants.DefaultAuditTopic
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(kafkaCfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           kafkaCfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(writer, []byte(auditCfg.SigningKey), log)
}

func newKafkaSink(writer messageWriter, signingKey []byte, log logger.Logger) *KafkaSink {
	return &KafkaSink{
		writer:     writer,
		signingKey: signingKey,
		logger:     log.WithComponent("KafkaAuditSink"),
	}
}

// Write sends an audit event to the Kafka topic.
func (s *KafkaSink) Write(ctx context.Context, event *models.AuditEvent) error {
	payload, signature, err := encodeEvent(event, s.signingKey)
	if err != nil {
		s.logger.Error(ctx, "failed to marshal audit event", err)
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.ClientIP),
		Value: payload,
		Time:  event.Timestamp,
	}
	if signature != "" {
		msg.Headers = []kafka.Header{{Key: SignatureHeader, Value: []byte(signature)}}
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error(ctx, "failed to write audit event to Kafka", err, logger.String("audit_id", event.ID))
		return err
	}
	return nil
}

// Close closes the underlying Kafka writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
