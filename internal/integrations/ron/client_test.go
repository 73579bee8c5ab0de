package ron

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "b-1", body["externalId"])
		assert.Equal(t, "notary@example.com", body["notaryEmail"])
		assert.Equal(t, []any{"general"}, body["documentTypes"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"s-1","sessionUrl":"https://ron.example/s-1","status":"scheduled"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "key", NotaryEmail: "notary@example.com", RequestsPerSecond: 100}, zap.NewNop())
	s, err := c.CreateSession(context.Background(), "b-1", Signer{Name: "Jane"}, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "s-1", s.ID)
	assert.Equal(t, "https://ron.example/s-1", s.URL)
	assert.Equal(t, StatusScheduled, s.Status)
}

func TestCreateSessionErrors(t *testing.T) {
	_, err := New(Config{}, zap.NewNop()).CreateSession(context.Background(), "b-1", Signer{}, nil, time.Now())
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "key", NotaryEmail: "n@example.com", RequestsPerSecond: 100}, zap.NewNop())
	_, err = c.CreateSession(context.Background(), "b-1", Signer{}, nil, time.Now())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}
