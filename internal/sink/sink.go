// Package sink defines where change log records are created.
package sink

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"field-change-log/internal/models"
)

// ErrNoSink is returned when no record creator is available: the configured
// sink type is unknown, or changes are only logged to the console
var ErrNoSink = errors.New("no such sink")

// RecordCreator creates one record of the given type and returns its id
type RecordCreator interface {
	CreateRecord(ctx context.Context, entityName string, record models.LogRecord) (string, error)
}

// Console writes records to the log instead of persisting them
type Console struct {
	logger *logrus.Logger
}

// NewConsole creates a console sink
func NewConsole(logger *logrus.Logger) *Console {
	return &Console{logger: logger}
}

// CreateRecord logs the record fields and returns an empty id
func (c *Console) CreateRecord(_ context.Context, entityName string, record models.LogRecord) (string, error) {
	fields := logrus.Fields{"entity": entityName}
	for k, v := range record {
		fields[k] = v
	}
	c.logger.WithFields(fields).Info(record[models.FieldTitle])
	return "", nil
}
