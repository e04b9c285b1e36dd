// Package processor drives field change notifications from a source into a
// handler, and holds the optional record transformer.
package processor

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"field-change-log/internal/host"
)

// Source yields field change notifications
type Source interface {
	Next(ctx context.Context) (host.ExecutionContext, error)
}

// Handler handles one field change notification
type Handler interface {
	LogFieldChange(ctx context.Context, ec host.ExecutionContext)
}

// Processor feeds notifications to the handler one at a time
type Processor struct {
	source     Source
	handler    Handler
	logger     *logrus.Logger
	retryDelay time.Duration
	handled    int
}

// NewProcessor creates a new processor
func NewProcessor(source Source, handler Handler, logger *logrus.Logger) *Processor {
	return &Processor{
		source:     source,
		handler:    handler,
		logger:     logger,
		retryDelay: time.Second,
	}
}

// Handled returns the number of notifications handled so far
func (p *Processor) Handled() int {
	return p.handled
}

// Start processes notifications until the context is cancelled
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("Starting field change processor...")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Context cancelled, stopping field change processor")
			return nil
		default:
		}

		ec, err := p.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			// Read timeouts are expected when nothing changes
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			p.logger.Errorf("Error reading field change: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(p.retryDelay):
			}
			continue
		}

		p.handler.LogFieldChange(ctx, ec)
		p.handled++
	}
}
