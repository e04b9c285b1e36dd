package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-change-log/internal/host"
	"field-change-log/internal/models"
)

type scriptedSource struct {
	steps  []func() (host.ExecutionContext, error)
	cancel context.CancelFunc
}

func (s *scriptedSource) Next(ctx context.Context) (host.ExecutionContext, error) {
	if len(s.steps) == 0 {
		s.cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step()
}

type countingHandler struct {
	fields []string
}

func (h *countingHandler) LogFieldChange(_ context.Context, ec host.ExecutionContext) {
	h.fields = append(h.fields, ec.ChangedField().Name())
}

func change(name string) func() (host.ExecutionContext, error) {
	return func() (host.ExecutionContext, error) {
		return &host.Snapshot{Field: host.Field{FieldName: name, Raw: models.EmptyValue{}}}, nil
	}
}

func TestProcessor_Start(t *testing.T) {
	t.Run("Should hand every change to the handler in order", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		src := &scriptedSource{cancel: cancel, steps: []func() (host.ExecutionContext, error){
			change("status"),
			func() (host.ExecutionContext, error) { return nil, context.DeadlineExceeded },
			change("owner"),
			func() (host.ExecutionContext, error) { return nil, errors.New("transient") },
			change("priority"),
		}}
		handler := &countingHandler{}
		p := NewProcessor(src, handler, testLogger())
		p.retryDelay = time.Millisecond

		require.NoError(t, p.Start(ctx))

		assert.Equal(t, []string{"status", "owner", "priority"}, handler.fields)
		assert.Equal(t, 3, p.Handled())
	})

	t.Run("Should stop immediately on a cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		handler := &countingHandler{}

		require.NoError(t, NewProcessor(&scriptedSource{cancel: cancel}, handler, testLogger()).Start(ctx))

		assert.Empty(t, handler.fields)
	})
}
