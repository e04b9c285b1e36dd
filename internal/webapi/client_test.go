package webapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-change-log/internal/config"
	"field-change-log/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	client, err := NewClient(config.WebAPIConfig{
		BaseURL:    srv.URL + "/",
		APIVersion: "v9.2",
		EntitySet:  "ams_fieldchangelogs",
		Token:      "secret",
		Timeout:    5 * time.Second,
	}, logger)
	require.NoError(t, err)
	return client
}

func TestClient_CreateRecord(t *testing.T) {
	record := models.LogRecord{
		models.FieldTitle:    "Change on status for case record",
		models.FieldNewValue: "ID: 1, Name: Open, Type: case",
	}

	t.Run("Should post the record and read the entity id header", func(t *testing.T) {
		var got map[string]string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/data/v9.2/ams_fieldchangelogs", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Header().Set("OData-EntityId", "https://org/api/data/v9.2/ams_fieldchangelogs(7d3c5a2e-1b4f-4c1a-9e2d-0a1b2c3d4e5f)")
			w.WriteHeader(http.StatusNoContent)
		})

		id, err := client.CreateRecord(context.Background(), "ams_fieldchangelog", record)

		require.NoError(t, err)
		assert.Equal(t, "7d3c5a2e-1b4f-4c1a-9e2d-0a1b2c3d4e5f", id)
		assert.Equal(t, "ID: 1, Name: Open, Type: case", got["ams_newvalue"])
	})

	t.Run("Should fall back to the id in the representation", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"ams_fieldchangelogid":"abc"}`))
		})

		id, err := client.CreateRecord(context.Background(), "ams_fieldchangelog", record)

		require.NoError(t, err)
		assert.Equal(t, "abc", id)
	})

	t.Run("Should surface the OData error once", func(t *testing.T) {
		var calls int32
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":"0x80040220","message":"Principal user is missing prvCreateams_fieldchangelog"}}`))
		})

		_, err := client.CreateRecord(context.Background(), "ams_fieldchangelog", record)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 503")
		assert.Contains(t, err.Error(), "prvCreateams_fieldchangelog")
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("Should fail when no id is returned", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		_, err := client.CreateRecord(context.Background(), "ams_fieldchangelog", record)

		assert.Error(t, err)
	})
}

func TestNewClient(t *testing.T) {
	t.Run("Should reject relative base URLs", func(t *testing.T) {
		_, err := NewClient(config.WebAPIConfig{BaseURL: "org.example.com"}, logrus.New())
		assert.Error(t, err)
	})
}
