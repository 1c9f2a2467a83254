package audit

import (
	"context"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/internal/infrastructure/persistence"
	"github.com/turtacn/accessgate/pkg/logger"
)

// BuildSink opens every sink named in cfg.Audit.Sinks and fans them out through a MultiSink.
// With no sinks configured the log sink is used. Sinks opened before a failure are closed.
func BuildSink(ctx context.Context, cfg *config.Config, log logger.Logger) (*MultiSink, error) {
	names := cfg.Audit.Sinks
	if len(names) == 0 {
		names = []string{"log"}
	}

	sinks := make([]service.AuditSink, 0, len(names))
	fail := func(err error) (*MultiSink, error) {
		_ = NewMultiSink(sinks...).Close()
		return nil, err
	}

	for _, name := range names {
		switch name {
		case "log":
			sinks = append(sinks, NewLogSink(log))
		case "kafka":
			sinks = append(sinks, NewKafkaSink(cfg.Kafka, cfg.Audit, log))
		case "redis":
			client, err := persistence.NewRedisClient(ctx, cfg.Redis, log)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, NewRedisStreamSink(client, cfg.Audit, true, log))
		case "database":
			db, err := persistence.OpenDatabase(ctx, cfg.Database, log)
			if err != nil {
				return fail(err)
			}
			sink, err := NewGormSink(db)
			if err != nil {
				_ = persistence.CloseDatabase(db)
				return fail(err)
			}
			sinks = append(sinks, sink)
		}
		log.Info(ctx, "Audit sink enabled", logger.String("sink", name))
	}
	return NewMultiSink(sinks...), nil
}
