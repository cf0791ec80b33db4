package runtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/xappflow/internal/runtime/config"
)

func webConfig() *configpkg.Config {
	conf := testConfig()
	conf.WebServerEnabled = true
	conf.HTTPPort = 18080
	return conf
}

func serve(t *testing.T, h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	require.NotNil(t, h)
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebServer_Disabled(t *testing.T) {
	svc, _ := newTestService(t, nil, ServiceDependencies{})
	assert.Zero(t, svc.HTTPPort())
	assert.Nil(t, svc.HTTPHandler(18080))
}

func TestWebServer_Health(t *testing.T) {
	svc, _ := newTestService(t, webConfig(), ServiceDependencies{})
	h := svc.HTTPHandler(svc.HTTPPort())

	rec := serve(t, h, http.MethodGet, AlivePath, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"OK"`, rec.Body.String())

	rec = serve(t, h, http.MethodGet, ReadyPath, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `"NOT READY"`, rec.Body.String())

	startService(t, svc)
	rec = serve(t, h, http.MethodGet, ReadyPath, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestWebServer_Config(t *testing.T) {
	descriptor, err := configpkg.ParseDescriptor([]byte(`{"metadata":{"xappName":"pong","configType":"json"},"config":{"name":"pong"}}`))
	require.NoError(t, err)
	svc, _ := newTestService(t, webConfig(), ServiceDependencies{Descriptor: descriptor})

	rec := serve(t, svc.HTTPHandler(18080), http.MethodGet, ConfigPath, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"metadata":{"xappName":"pong","configType":"json"},"config":{"name":"pong"}}]`, rec.Body.String())
}

func TestWebServer_DefaultConfig(t *testing.T) {
	svc, _ := newTestService(t, webConfig(), ServiceDependencies{})
	rec := serve(t, svc.HTTPHandler(18080), http.MethodGet, ConfigPath, nil)
	assert.JSONEq(t, `[{"metadata":{"xappName":"test-xapp","configType":"json"},"config":{}}]`, rec.Body.String())
}

func TestWebServer_Handlers(t *testing.T) {
	conf := webConfig()
	conf.CORSAllowedOrigins = []string{"https://ui.example"}
	svc, _ := newTestService(t, conf, ServiceDependencies{})
	require.NoError(t, RegisterMessageHandler(svc, MessageHandlerRegistration{
		Name:        "pong",
		MessageType: 60000,
		Handler:     noopHandler,
	}))
	h := svc.HTTPHandler(18080)

	rec := serve(t, h, http.MethodGet, HandlersPath, http.Header{"Origin": {"https://UI.example"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://UI.example", rec.Header().Get("Access-Control-Allow-Origin"))

	var handlers []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handlers))
	require.Len(t, handlers, 1)
	assert.Equal(t, "pong", handlers[0]["name"])
	assert.EqualValues(t, 60000, handlers[0]["message_type"])

	rec = serve(t, h, http.MethodGet, HandlersPath, http.Header{"Origin": {"https://other.example"}})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(t, h, http.MethodOptions, HandlersPath, http.Header{"Origin": {"https://ui.example"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestWebServer_CORSWildcard(t *testing.T) {
	conf := webConfig()
	conf.CORSAllowedOrigins = []string{"*"}
	svc, _ := newTestService(t, conf, ServiceDependencies{})
	rec := serve(t, svc.HTTPHandler(18080), http.MethodGet, HandlersPath, http.Header{"Origin": {"https://any.example"}})
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebServer_Metrics(t *testing.T) {
	svc, _ := newTestService(t, webConfig(), ServiceDependencies{})
	rec := serve(t, svc.HTTPHandler(18080), http.MethodGet, MetricsPath, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	conf := webConfig()
	conf.MetricsEnabled = true
	svc, _ = newTestService(t, conf, ServiceDependencies{})
	svc.Metrics().MessageReceived(60000)
	rec = serve(t, svc.HTTPHandler(18080), http.MethodGet, MetricsPath, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ricxapp_test_xapp_rmr_messages_received_total"), rec.Body.String())
}

func TestService_RegisterHTTPHandler(t *testing.T) {
	svc, _ := newTestService(t, nil, ServiceDependencies{})
	svc.RegisterHTTPHandler(19090, "/custom", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := serve(t, svc.HTTPHandler(19090), http.MethodGet, "/custom", nil)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
