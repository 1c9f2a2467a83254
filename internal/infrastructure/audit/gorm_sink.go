package audit

import (
	"context"

	"gorm.io/gorm"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/pkg/errors"
)

var _ service.AuditSink = (*GormSink)(nil)

// GormSink stores audit events in a relational table.
type GormSink struct {
	db *gorm.DB
}

// NewGormSink creates a GormSink and migrates the audit_events table.
func NewGormSink(db *gorm.DB) (*GormSink, error) {
	if err := db.AutoMigrate(&models.AuditEvent{}); err != nil {
		return nil, errors.ErrInternal("migrate audit_events").WithCause(err)
	}
	return &GormSink{db: db}, nil
}

// Write saves an AuditEvent to the database.
func (s *GormSink) Write(ctx context.Context, event *models.AuditEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

// Recent returns the newest events, most recent first.
func (s *GormSink) Recent(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	err := s.db.WithContext(ctx).Order("timestamp desc").Limit(limit).Find(&events).Error
	return events, err
}

// Close releases the database pool.
func (s *GormSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
