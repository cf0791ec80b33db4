package runtime

import (
	"net/http"
	"strings"

	"github.com/drblury/xappflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/xappflow/internal/runtime/logging"
)

// Routes served on the xApp http port.
const (
	ReadyPath    = "/ric/v1/health/ready"
	AlivePath    = "/ric/v1/health/alive"
	ConfigPath   = "/ric/v1/config"
	MetricsPath  = "/ric/v1/metrics"
	HandlersPath = "/api/handlers"
)

func (s *Service) registerWebRoutes(port int) {
	s.RegisterHTTPHandler(port, ReadyPath, http.HandlerFunc(s.handleReady))
	s.RegisterHTTPHandler(port, AlivePath, http.HandlerFunc(s.handleAlive))
	s.RegisterHTTPHandler(port, ConfigPath, http.HandlerFunc(s.handleConfig))
	s.RegisterHTTPHandler(port, HandlersPath, http.HandlerFunc(s.handleGetHandlers))
	if s.Conf.MetricsEnabled {
		s.RegisterHTTPHandler(port, MetricsPath, s.metrics.Handler())
	}
}

// HTTPPort returns the port of the built-in web server, zero when disabled.
func (s *Service) HTTPPort() int {
	return s.httpPort
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.IsReady() {
		s.writeJSON(w, http.StatusServiceUnavailable, "NOT READY")
		return
	}
	s.writeJSON(w, http.StatusOK, "OK")
}

func (s *Service) handleAlive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, "OK")
}

func (s *Service) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, []any{s.Descriptor()})
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	// Set CORS headers based on configuration
	if len(s.Conf.CORSAllowedOrigins) > 0 {
		if allowed := s.getAllowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.writeJSON(w, http.StatusOK, s.Handlers())
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := jsoncodec.Marshal(body)
	if err != nil {
		s.Logger.Error("Failed to encode response", err, loggingpkg.LogFields{"status": status})
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.Conf.CORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
