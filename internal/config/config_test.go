package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("Should apply defaults", func(t *testing.T) {
		path := writeConfig(t, `
nats:
  url: nats://localhost:4222
  subject: crm.fieldchange
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, ModeConsole, cfg.Mode)
		assert.Equal(t, "ams_fieldchangelog", cfg.LogEntity)
		assert.Equal(t, SourceNATS, cfg.Source.Type)
		assert.Equal(t, SinkConsole, cfg.Sink.Type)
		assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
		assert.Equal(t, "crm.fieldchange.notify", cfg.NATS.NotifySubject)
		assert.Equal(t, "ams_fieldchangelogs", cfg.Sink.WebAPI.EntitySet)
		assert.Equal(t, "v9.2", cfg.Sink.WebAPI.APIVersion)
		assert.Equal(t, "ams_fieldchangelog", cfg.Sink.MySQL.Table)
	})

	t.Run("Should default monitored field names and types", func(t *testing.T) {
		path := writeConfig(t, `
mode: persist
source:
  type: binlog
mysql:
  host: db
  user: repl
binlog:
  position_file: /tmp/pos
  monitor:
    - database: crm
      table: incident
      fields:
        - column: statuscode
          type: optionset
          options:
            1: Open
            2: Approved
        - column: title
sink:
  type: WebAPI
  webapi:
    base_url: https://org.example.com
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		m := cfg.Binlog.Monitor[0]
		assert.Equal(t, "incident", m.Entity)
		assert.Equal(t, "id", m.IDColumn)
		assert.Equal(t, "statuscode", m.Fields[0].Name)
		assert.Equal(t, "Approved", m.Fields[0].Options[2])
		assert.Equal(t, FieldScalar, m.Fields[1].Type)
		assert.Equal(t, SinkWebAPI, cfg.Sink.Type)
		assert.Equal(t, "repl:@tcp(db:3306)/crm", cfg.MySQL.DSN("crm"))
	})

	t.Run("Should reject incomplete sources and sinks", func(t *testing.T) {
		bodies := map[string]string{
			"missing subject": "nats:\n  url: nats://x\n",
			"unknown mode":    "mode: loud\nnats:\n  url: nats://x\n  subject: s\n",
			"unknown sink":    "nats:\n  url: nats://x\n  subject: s\nsink:\n  type: fax\n",
			"webapi url":      "nats:\n  url: nats://x\n  subject: s\nsink:\n  type: webapi\n",
			"wildcard subject": "nats:\n  url: nats://x\n  subject: crm.>\n",
			"wildcard notify":  "nats:\n  url: nats://x\n  subject: s\n  notify_subject: crm.*.notify\n",
			"lookup entity": `
source:
  type: binlog
mysql: {host: db, user: u}
binlog:
  position_file: p
  monitor:
    - table: t
      fields:
        - column: ownerid
          type: lookup
`,
		}
		for name, body := range bodies {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err, name)
		}
	})

	t.Run("Should accept a wildcard subject with an explicit notify subject", func(t *testing.T) {
		path := writeConfig(t, `
nats:
  url: nats://localhost:4222
  subject: crm.>
  notify_subject: crm.notify
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "crm.>", cfg.NATS.Subject)
		assert.Equal(t, "crm.notify", cfg.NATS.NotifySubject)
	})

	t.Run("Should fail on a missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})
}
