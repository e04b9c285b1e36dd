// Package fieldlog handles field change notifications: it logs the new value
// and, when persisting, creates a change log record for it.
package fieldlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"field-change-log/internal/host"
	"field-change-log/internal/models"
	"field-change-log/internal/normalizer"
	"field-change-log/internal/processor"
	"field-change-log/internal/sink"
)

// Logger handles field change notifications
type Logger struct {
	logger      *logrus.Logger
	creator     sink.RecordCreator // nil logs to console only
	transformer *processor.Transformer
	entityName  string
}

// NewLogger creates a logger. With a nil creator changes are only written
// to the diagnostic log.
func NewLogger(creator sink.RecordCreator, transformer *processor.Transformer, entityName string, logger *logrus.Logger) *Logger {
	if entityName == "" {
		entityName = models.DefaultLogEntity
	}
	return &Logger{
		logger:      logger,
		creator:     creator,
		transformer: transformer,
		entityName:  entityName,
	}
}

// LogFieldChange handles one change notification. Failures are logged and
// reported to the user through the execution context, never returned.
func (l *Logger) LogFieldChange(ctx context.Context, ec host.ExecutionContext) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorf("An error occurred in LogFieldChange: %v", r)
		}
	}()

	event := host.Event(ec)
	change := normalizer.Normalize(event.FieldName, event.RawValue)

	entry := l.logger.WithFields(logrus.Fields{
		"field":     event.FieldName,
		"entity":    event.SourceEntity,
		"record_id": event.SourceRecordID,
	})
	if ref, ok := change.RawValue.(models.Lookup); ok {
		entry = entry.WithFields(logrus.Fields{
			"lookup_id":          ref.ID,
			"lookup_name":        ref.Name,
			"lookup_entity_type": ref.EntityType,
		})
	}
	entry.Infof("Field '%s' has changed. New value: %s", event.FieldName, change.DisplayValue)

	if l.creator == nil {
		return
	}

	id, err := l.Persist(ctx, event)
	switch {
	case errors.Is(err, processor.ErrEventRejected):
		entry.Debug("Change log record rejected by transformer")
	case err != nil:
		entry.Errorf("Failed to create change log record: %v", err)
		l.notify(ctx, ec, host.Notification{
			Level:    host.LevelError,
			Message:  fmt.Sprintf("Could not log the change on %s: %v", event.FieldName, err),
			UniqueID: "fieldchange-" + event.FieldName,
		})
	default:
		entry.Infof("Created %s record %s", l.entityName, id)
		l.notify(ctx, ec, host.Notification{
			Level:    host.LevelInfo,
			Message:  fmt.Sprintf("Change on %s logged", event.FieldName),
			UniqueID: "fieldchange-" + event.FieldName,
		})
	}
}

// Persist builds the change log record for an event and creates it,
// returning the new record id
func (l *Logger) Persist(ctx context.Context, event models.FieldChangeEvent) (string, error) {
	if l.creator == nil {
		return "", sink.ErrNoSink
	}

	record := normalizer.ToLogRecord(event)
	record, err := l.transformer.Transform(event, record)
	if err != nil {
		return "", err
	}

	id, err := l.creator.CreateRecord(ctx, l.entityName, record)
	if err != nil {
		return "", fmt.Errorf("failed to create %s record: %w", l.entityName, err)
	}
	return id, nil
}

func (l *Logger) notify(ctx context.Context, ec host.ExecutionContext, n host.Notification) {
	if err := ec.Notify(ctx, n); err != nil {
		l.logger.Warnf("Failed to send notification: %v", err)
	}
}
