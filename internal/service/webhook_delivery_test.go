package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pagetally/pagetally/internal/data/cryptoutil"
	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeliveryService(t *testing.T, cfg WebhookDeliveryConfig) *WebhookDeliveryService {
	t.Helper()
	sinks := newTestWebhookSinkService(t, &mockWebhookSinkRepo{})
	svc, err := NewWebhookDeliveryService(WebhookDeliveryOptions{
		Sinks:  sinks,
		Config: cfg,
	})
	require.NoError(t, err)
	return svc
}

func tokenSink(t *testing.T, url, token string) *model.WebhookSink {
	t.Helper()
	sink := &model.WebhookSink{ID: "sink-1", Name: "ops", URL: url, Enabled: true}
	if token != "" {
		ct, err := cryptoutil.NoopEncryptor{}.Encrypt([]byte(token))
		require.NoError(t, err)
		sink.TokenCiphertext = []byte(ct)
	}
	return sink
}

func TestNewWebhookDeliveryService(t *testing.T) {
	t.Run("requires sink service", func(t *testing.T) {
		_, err := NewWebhookDeliveryService(WebhookDeliveryOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "WebhookSinkService is required")
	})

	t.Run("applies config defaults", func(t *testing.T) {
		svc := newTestDeliveryService(t, WebhookDeliveryConfig{})
		assert.Equal(t, DefaultWebhookDeliveryConfig().Timeout, svc.config.Timeout)
		assert.Equal(t, DefaultWebhookDeliveryConfig().MaxResponseBytes, svc.config.MaxResponseBytes)
		assert.Equal(t, DefaultWebhookDeliveryConfig().UserAgent, svc.config.UserAgent)
	})
}

func TestWebhookDeliveryService_Prepare(t *testing.T) {
	payload := json.RawMessage(`{"alert":{"id":"alert-1","severity":"high"},"page_name":"checkout"}`)

	t.Run("passes payload through without an expression", func(t *testing.T) {
		svc := newTestDeliveryService(t, WebhookDeliveryConfig{})
		sink := tokenSink(t, "https://hooks.example.com/pagetally", "")

		prepared, err := svc.Prepare(sink, payload)

		require.NoError(t, err)
		assert.Equal(t, http.MethodPost, prepared.Method)
		assert.Equal(t, sink.URL, prepared.URL)
		assert.JSONEq(t, string(payload), string(prepared.Body))
		assert.Equal(t, "application/json", prepared.Headers["Content-Type"])
		assert.NotContains(t, prepared.Headers, "Authorization")
	})

	t.Run("applies the sink's payload expression", func(t *testing.T) {
		svc := newTestDeliveryService(t, WebhookDeliveryConfig{})
		expr := `{text: join(' ', ['Alert', alert.severity, 'on', page_name])}`
		sink := tokenSink(t, "https://hooks.example.com/pagetally", "")
		sink.PayloadExpr = &expr

		prepared, err := svc.Prepare(sink, payload)

		require.NoError(t, err)
		assert.JSONEq(t, `{"text":"Alert high on checkout"}`, string(prepared.Body))
	})

	t.Run("attaches the decrypted bearer token", func(t *testing.T) {
		svc := newTestDeliveryService(t, WebhookDeliveryConfig{})
		sink := tokenSink(t, "https://hooks.example.com/pagetally", "s3cret")

		prepared, err := svc.Prepare(sink, payload)

		require.NoError(t, err)
		assert.Equal(t, "Bearer s3cret", prepared.Headers["Authorization"])

		// Logged headers never expose the token
		masked := prepared.MaskedHeaders()
		assert.Equal(t, "Bearer ***", masked["Authorization"])
		assert.Equal(t, "application/json", masked["Content-Type"])
	})

	t.Run("rejects nil sink", func(t *testing.T) {
		svc := newTestDeliveryService(t, WebhookDeliveryConfig{})
		_, err := svc.Prepare(nil, payload)
		require.Error(t, err)
	})

	t.Run("rejects invalid payload JSON when an expression is set", func(t *testing.T) {
		svc := newTestDeliveryService(t, WebhookDeliveryConfig{})
		expr := "alert"
		sink := tokenSink(t, "https://hooks.example.com/pagetally", "")
		sink.PayloadExpr = &expr

		_, err := svc.Prepare(sink, json.RawMessage(`{broken`))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid payload JSON")
	})
}

func TestWebhookDeliveryService_Deliver(t *testing.T) {
	payload := json.RawMessage(`{"alert":{"id":"alert-1"}}`)

	t.Run("posts the payload and records the response", func(t *testing.T) {
		var gotBody []byte
		var gotAuth, gotContentType string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotContentType = r.Header.Get("Content-Type")
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		}))
		defer server.Close()

		svc := newTestDeliveryService(t, WebhookDeliveryConfig{})
		sink := tokenSink(t, server.URL, "s3cret")

		result, err := svc.Deliver(context.Background(), sink, payload)

		require.NoError(t, err)
		assert.True(t, result.OK())
		assert.Equal(t, http.StatusOK, result.StatusCode)
		assert.Equal(t, "ok", result.Body)
		assert.False(t, result.BodyTruncated)
		assert.Equal(t, "sink-1", result.SinkID)
		assert.GreaterOrEqual(t, result.DurationMs, int64(0))

		assert.JSONEq(t, string(payload), string(gotBody))
		assert.Equal(t, "Bearer s3cret", gotAuth)
		assert.Equal(t, "application/json", gotContentType)
	})

	t.Run("non-2xx response is a result, not an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("try later"))
		}))
		defer server.Close()

		svc := newTestDeliveryService(t, WebhookDeliveryConfig{})
		sink := tokenSink(t, server.URL, "")

		result, err := svc.Deliver(context.Background(), sink, payload)

		require.NoError(t, err)
		assert.False(t, result.OK())
		assert.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
		assert.Equal(t, "try later", result.Body)
	})

	t.Run("transport failure returns the partial result and an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
		server.Close() // refuse connections

		svc := newTestDeliveryService(t, WebhookDeliveryConfig{})
		sink := tokenSink(t, server.URL, "")

		result, err := svc.Deliver(context.Background(), sink, payload)

		require.Error(t, err)
		require.NotNil(t, result)
		assert.False(t, result.OK())
		assert.NotEmpty(t, result.ErrorMessage)
	})

	t.Run("caps retained response bodies", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(strings.Repeat("x", 100)))
		}))
		defer server.Close()

		svc := newTestDeliveryService(t, WebhookDeliveryConfig{MaxResponseBytes: 16})
		sink := tokenSink(t, server.URL, "")

		result, err := svc.Deliver(context.Background(), sink, payload)

		require.NoError(t, err)
		assert.True(t, result.BodyTruncated)
		assert.Len(t, result.Body, 16)
	})
}

func TestDeliveryResult_OK(t *testing.T) {
	assert.True(t, (&DeliveryResult{StatusCode: 200}).OK())
	assert.True(t, (&DeliveryResult{StatusCode: 204}).OK())
	assert.False(t, (&DeliveryResult{StatusCode: 301}).OK())
	assert.False(t, (&DeliveryResult{StatusCode: 503}).OK())
	assert.False(t, (&DeliveryResult{StatusCode: 200, ErrorMessage: "timeout"}).OK())
}
