package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"field-change-log/internal/host"
	"field-change-log/internal/models"
)

// Connect opens a NATS connection that logs disconnects and reconnects
func Connect(url string, maxReconnect int, reconnectWait time.Duration, logger *logrus.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("field-change-log"),
		nats.MaxReconnects(maxReconnect),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Infof("Connected to NATS at %s", url)
	return conn, nil
}

// MsgPublisher is the part of *nats.Conn the publisher needs
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// Publisher creates change log records as NATS messages
type Publisher struct {
	conn          MsgPublisher
	subjectPrefix string
	logger        *logrus.Logger
}

// NewPublisher creates a publisher writing to {subjectPrefix}.{entity}
func NewPublisher(conn MsgPublisher, subjectPrefix string, logger *logrus.Logger) *Publisher {
	return &Publisher{
		conn:          conn,
		subjectPrefix: subjectPrefix,
		logger:        logger,
	}
}

// CreateRecord publishes the record with a fresh id. The id doubles as the
// JetStream message id so redeliveries are deduplicated.
func (p *Publisher) CreateRecord(_ context.Context, entityName string, record models.LogRecord) (string, error) {
	id := uuid.NewString()

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	msg := nats.NewMsg(p.subjectPrefix + "." + entityName)
	msg.Header.Set(nats.MsgIdHdr, id)
	msg.Data = data

	if err := p.conn.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("failed to publish to NATS: %w", err)
	}

	p.logger.Debugf("Published %s record %s to %s", entityName, id, msg.Subject)
	return id, nil
}

// Notifier publishes user notifications to {subject}.{recordId}
type Notifier struct {
	conn    MsgPublisher
	subject string
}

// NewNotifier creates a notifier below the given literal subject
func NewNotifier(conn MsgPublisher, subject string) *Notifier {
	return &Notifier{conn: conn, subject: subject}
}

// subjectToken makes a record id usable as a single subject token
func subjectToken(id string) string {
	if id == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.', r == '*', r == '>', unicode.IsSpace(r):
			return '_'
		}
		return r
	}, id)
}

func (n *Notifier) Notify(_ context.Context, entity host.Entity, note host.Notification) error {
	data, err := json.Marshal(struct {
		host.Notification
		Entity host.Entity `json:"entity"`
	}{note, entity})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := nats.NewMsg(n.subject + "." + subjectToken(entity.RecordID))
	msg.Data = data
	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
