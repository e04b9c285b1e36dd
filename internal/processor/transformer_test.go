package processor

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-change-log/internal/config"
	"field-change-log/internal/models"
	"field-change-log/internal/normalizer"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func statusEvent() models.FieldChangeEvent {
	return models.FieldChangeEvent{
		FieldName:      "status",
		RawValue:       models.LookupValue{{ID: "1", Name: "Open", EntityType: "case"}},
		SourceEntity:   "case",
		SourceRecordID: "abc",
	}
}

func scriptTransformer(t *testing.T, script string) *Transformer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transform.js")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))
	tr, err := NewTransformer(&config.ProcessorConfig{Enabled: true, Script: path}, testLogger(), nil)
	require.NoError(t, err)
	return tr
}

func TestTransformer_Disabled(t *testing.T) {
	t.Run("Should return the record unchanged", func(t *testing.T) {
		tr, err := NewTransformer(nil, testLogger(), nil)
		require.NoError(t, err)
		rec := normalizer.ToLogRecord(statusEvent())

		out, err := tr.Transform(statusEvent(), rec)

		require.NoError(t, err)
		assert.Equal(t, rec, out)
		assert.False(t, tr.Enabled())
	})
}

func TestTransformer_Rules(t *testing.T) {
	cfg := &config.ProcessorConfig{
		Enabled: true,
		Rules: []config.RuleConfig{
			{
				Entity:    "case",
				Field:     "status",
				Exclude:   []string{"AMS_RAWVALUE"},
				Rename:    map[string]string{"ams_newvalue": "ams_value"},
				AddFields: map[string]string{"ams_origin": "cdc"},
			},
		},
	}
	tr, err := NewTransformer(cfg, testLogger(), nil)
	require.NoError(t, err)

	t.Run("Should apply the matching rule", func(t *testing.T) {
		out, err := tr.Transform(statusEvent(), normalizer.ToLogRecord(statusEvent()))
		require.NoError(t, err)

		assert.NotContains(t, out, "ams_rawvalue")
		assert.NotContains(t, out, "ams_newvalue")
		assert.Equal(t, "ID: 1, Name: Open, Type: case", out["ams_value"])
		assert.Equal(t, "cdc", out["ams_origin"])
		assert.Equal(t, "abc", out["ams_sourcerecordid"])
	})

	t.Run("Should leave other fields alone", func(t *testing.T) {
		event := statusEvent()
		event.FieldName = "priority"
		rec := normalizer.ToLogRecord(event)

		out, err := tr.Transform(event, rec)
		require.NoError(t, err)
		assert.Equal(t, rec, out)
	})

	t.Run("Should keep only included fields", func(t *testing.T) {
		tr, err := NewTransformer(&config.ProcessorConfig{
			Enabled: true,
			Rules:   []config.RuleConfig{{Include: []string{"ams_name", "ams_newvalue"}}},
		}, testLogger(), nil)
		require.NoError(t, err)

		out, err := tr.Transform(statusEvent(), normalizer.ToLogRecord(statusEvent()))
		require.NoError(t, err)
		assert.Len(t, out, 2)
	})
}

func TestTransformer_JavaScript(t *testing.T) {
	t.Run("Should run an anonymous function", func(t *testing.T) {
		tr := scriptTransformer(t, `(function(record, change) {
			record.ams_newvalue = change.displayValue.toUpperCase();
			record.ams_attempt = 1;
			console.log("transformed", change.fieldName);
			return record;
		})`)

		out, err := tr.Transform(statusEvent(), normalizer.ToLogRecord(statusEvent()))

		require.NoError(t, err)
		assert.Equal(t, "ID: 1, NAME: OPEN, TYPE: CASE", out["ams_newvalue"])
		assert.Equal(t, "1", out["ams_attempt"])
		assert.Equal(t, "Change on status for case record", out["ams_name"])
	})

	t.Run("Should run a named transform function", func(t *testing.T) {
		tr := scriptTransformer(t, `function transform(record) { delete record.ams_rawvalue; return record; }`)

		out, err := tr.Transform(statusEvent(), normalizer.ToLogRecord(statusEvent()))

		require.NoError(t, err)
		assert.NotContains(t, out, "ams_rawvalue")
	})

	t.Run("Should reject when the function returns null", func(t *testing.T) {
		tr := scriptTransformer(t, `(function(record, change) { return change.sourceEntity === "case" ? null : record; })`)

		_, err := tr.Transform(statusEvent(), normalizer.ToLogRecord(statusEvent()))

		assert.ErrorIs(t, err, ErrEventRejected)
	})

	t.Run("Should surface script errors", func(t *testing.T) {
		tr := scriptTransformer(t, `(function() { throw new Error("boom"); })`)

		_, err := tr.Transform(statusEvent(), normalizer.ToLogRecord(statusEvent()))

		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrEventRejected)
	})

	t.Run("Should refuse scripts without a function", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.js")
		require.NoError(t, os.WriteFile(path, []byte(`var x = 1;`), 0o644))

		_, err := NewTransformer(&config.ProcessorConfig{Enabled: true, Script: path}, testLogger(), nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "must export a function")
	})
}

func TestValidateRules(t *testing.T) {
	t.Run("Should accept disabled processors", func(t *testing.T) {
		assert.NoError(t, ValidateRules(nil))
		assert.NoError(t, ValidateRules(&config.ProcessorConfig{Script: "/does/not/exist"}))
	})

	t.Run("Should reject conflicting options", func(t *testing.T) {
		cases := []config.ProcessorConfig{
			{Enabled: true, Script: "/does/not/exist"},
			{Enabled: true, Rules: []config.RuleConfig{{Include: []string{"a"}, Exclude: []string{"b"}}}},
			{Enabled: true, Rules: []config.RuleConfig{{Include: []string{"a"}, Rename: map[string]string{"b": "c"}}}},
		}
		for i := range cases {
			assert.Error(t, ValidateRules(&cases[i]))
		}
	})
}
