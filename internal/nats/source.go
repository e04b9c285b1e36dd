package nats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"field-change-log/internal/host"
	"field-change-log/internal/normalizer"
)

// notification is the wire form of one field change sent by a form
type notification struct {
	FieldName string  `json:"fieldName"`
	Value     any     `json:"value"`
	Text      *string `json:"text,omitempty"`
	Entity    string  `json:"entity"`
	RecordID  string  `json:"recordId"`
}

// Source receives field change notifications from a subject
type Source struct {
	sub      *nats.Subscription
	msgs     chan *nats.Msg
	notifier host.Notifier
	logger   *logrus.Logger
}

// NewSource subscribes to subject, in a queue group when queue is set.
// Notifications for the user are published below notifySubject.
func NewSource(conn *nats.Conn, subject, queue, notifySubject string, logger *logrus.Logger) (*Source, error) {
	msgs := make(chan *nats.Msg, 64)

	var sub *nats.Subscription
	var err error
	if queue != "" {
		sub, err = conn.ChanQueueSubscribe(subject, queue, msgs)
	} else {
		sub, err = conn.ChanSubscribe(subject, msgs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	logger.Infof("Subscribed to field change notifications on %s", subject)

	return &Source{
		sub:      sub,
		msgs:     msgs,
		notifier: NewNotifier(conn, notifySubject),
		logger:   logger,
	}, nil
}

// Next blocks until the next valid notification arrives. Malformed
// messages are logged and skipped.
func (s *Source) Next(ctx context.Context) (host.ExecutionContext, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-s.msgs:
			if !ok {
				return nil, fmt.Errorf("subscription closed")
			}
			ec, err := Decode(msg.Data, s.notifier)
			if err != nil {
				s.logger.Warnf("Dropping notification on %s: %v", msg.Subject, err)
				continue
			}
			return ec, nil
		}
	}
}

// Close unsubscribes
func (s *Source) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warnf("Failed to unsubscribe: %v", err)
		}
	}
}

// Decode turns a notification payload into an execution context
func Decode(data []byte, notifier host.Notifier) (*host.Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var n notification
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	if n.FieldName == "" {
		return nil, fmt.Errorf("notification has no fieldName")
	}

	return &host.Snapshot{
		Field: host.Field{
			FieldName: n.FieldName,
			Raw:       normalizer.FromRaw(n.Value, n.Text),
		},
		Entity:   host.Entity{LogicalName: n.Entity, RecordID: n.RecordID},
		Notifier: notifier,
	}, nil
}
