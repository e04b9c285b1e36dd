// Package host describes what a field change handler gets from the system
// that raised the change.
package host

import (
	"context"

	"field-change-log/internal/models"
)

// Level is the severity of a user notification
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Notification is a non-blocking message shown to the user
type Notification struct {
	Level    Level  `json:"level"`
	Message  string `json:"message"`
	UniqueID string `json:"uniqueId"`
}

// Attribute is the field that triggered a change
type Attribute interface {
	Name() string
	Value() models.Value
}

// Entity identifies the record the form is showing
type Entity struct {
	LogicalName string `json:"logicalName"`
	RecordID    string `json:"recordId"`
}

// ExecutionContext is handed to a change handler for each notification
type ExecutionContext interface {
	ChangedField() Attribute
	FormEntity() Entity
	Notify(ctx context.Context, n Notification) error
}

// Notifier delivers notifications for a Snapshot
type Notifier interface {
	Notify(ctx context.Context, entity Entity, n Notification) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, entity Entity, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, entity Entity, n Notification) error {
	return f(ctx, entity, n)
}

// Field is a plain Attribute
type Field struct {
	FieldName string
	Raw       models.Value
}

func (f Field) Name() string { return f.FieldName }

func (f Field) Value() models.Value {
	if f.Raw == nil {
		return models.EmptyValue{}
	}
	return f.Raw
}

// Snapshot is an ExecutionContext built by a source from one change
type Snapshot struct {
	Field    Field
	Entity   Entity
	Notifier Notifier
}

func (s *Snapshot) ChangedField() Attribute { return s.Field }

func (s *Snapshot) FormEntity() Entity { return s.Entity }

func (s *Snapshot) Notify(ctx context.Context, n Notification) error {
	if s.Notifier == nil {
		return nil
	}
	return s.Notifier.Notify(ctx, s.Entity, n)
}

// Event returns the change as a FieldChangeEvent
func Event(ec ExecutionContext) models.FieldChangeEvent {
	attr := ec.ChangedField()
	entity := ec.FormEntity()
	return models.FieldChangeEvent{
		FieldName:      attr.Name(),
		RawValue:       attr.Value(),
		SourceEntity:   entity.LogicalName,
		SourceRecordID: entity.RecordID,
	}
}
