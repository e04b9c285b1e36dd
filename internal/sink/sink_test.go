package sink

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-change-log/internal/models"
)

func TestConsole_CreateRecord(t *testing.T) {
	t.Run("Should log the record with its fields", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := logrus.New()
		logger.SetOutput(buf)

		id, err := NewConsole(logger).CreateRecord(context.Background(), "ams_fieldchangelog", models.LogRecord{
			models.FieldTitle:    "Change on status for case record",
			models.FieldNewValue: "ID: 1, Name: Open, Type: case",
		})

		require.NoError(t, err)
		assert.Empty(t, id)
		assert.Contains(t, buf.String(), "Change on status for case record")
		assert.Contains(t, buf.String(), "entity=ams_fieldchangelog")
	})
}
