package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/drblury/xappflow/internal/runtime/config"
	"github.com/drblury/xappflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/xappflow/internal/runtime/logging"
)

const (
	registerPath   = "ric/v1/register"
	deregisterPath = "ric/v1/deregister"
)

// RegisterRequest is posted to the App Manager on registration.
type RegisterRequest struct {
	AppName         string `json:"appName"`
	AppVersion      string `json:"appVersion,omitempty"`
	AppInstanceName string `json:"appInstanceName"`
	ConfigPath      string `json:"configPath,omitempty"`
	Config          string `json:"config,omitempty"`
	HTTPEndpoint    string `json:"httpEndpoint"`
	RMREndpoint     string `json:"rmrEndpoint"`
}

// DeregisterRequest is posted to the App Manager on deregistration.
type DeregisterRequest struct {
	AppName         string `json:"appName"`
	AppInstanceName string `json:"appInstanceName"`
}

// AppManagerClient registers and deregisters the xApp with the App Manager.
type AppManagerClient struct {
	baseURL   string
	namespace string
	http      *http.Client
	logger    loggingpkg.ServiceLogger
	lookupEnv func(string) (string, bool)

	mu         sync.Mutex
	registered bool
	appName    string
	instance   string
}

// NewAppManagerClient returns a client for the App Manager at baseURL. xApp
// endpoints are looked up for namespace.
func NewAppManagerClient(baseURL, namespace string, client *http.Client, logger loggingpkg.ServiceLogger) *AppManagerClient {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	if namespace == "" {
		namespace = config.DefaultXAppNamespace
	}
	return &AppManagerClient{
		baseURL:   baseURL,
		namespace: namespace,
		http:      client,
		logger:    logger,
		lookupEnv: os.LookupEnv,
	}
}

// Endpoints returns the "host:port" http and rmr endpoints of xapp read from
// the SERVICE_<NS>_<XAPP>_<HTTP|RMR>_SERVICE_<HOST|PORT> variables.
func (c *AppManagerClient) Endpoints(xapp string) (httpEndpoint, rmrEndpoint string, err error) {
	if httpEndpoint, err = c.endpoint(xapp, "http"); err != nil {
		return "", "", err
	}
	if rmrEndpoint, err = c.endpoint(xapp, "rmr"); err != nil {
		return "", "", err
	}
	return httpEndpoint, rmrEndpoint, nil
}

func (c *AppManagerClient) endpoint(xapp, service string) (string, error) {
	host, err := c.env(xapp, service, "host")
	if err != nil {
		return "", err
	}
	port, err := c.env(xapp, service, "port")
	if err != nil {
		return "", err
	}
	return host + ":" + port, nil
}

func (c *AppManagerClient) env(xapp, service, field string) (string, error) {
	name := config.ServiceEnvName(c.namespace, xapp, service, field)
	v, ok := c.lookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return v, nil
}

// Register posts a RegisterRequest for the xApp. A non-2xx answer is an error.
func (c *AppManagerClient) Register(ctx context.Context, name, instance, configJSON string) error {
	httpEndpoint, rmrEndpoint, err := c.Endpoints(name)
	if err != nil {
		return fmt.Errorf("register xapp %s: %w", name, err)
	}
	c.logger.Info("Registering xApp", loggingpkg.LogFields{
		"xapp":          name,
		"instance":      instance,
		"http_endpoint": httpEndpoint,
		"rmr_endpoint":  rmrEndpoint,
	})

	status, body, err := postJSON(ctx, c.http, c.baseURL+"/"+registerPath, RegisterRequest{
		AppName:         name,
		AppInstanceName: instance,
		ConfigPath:      ConfigPath,
		Config:          configJSON,
		HTTPEndpoint:    httpEndpoint,
		RMREndpoint:     rmrEndpoint,
	})
	if err != nil {
		return fmt.Errorf("register xapp %s: %w", name, err)
	}
	if !success(status) {
		return fmt.Errorf("register xapp %s: app manager answered %d: %s", name, status, body)
	}

	c.mu.Lock()
	c.registered = true
	c.appName = name
	c.instance = instance
	c.mu.Unlock()
	c.logger.Info("xApp registered", loggingpkg.LogFields{"xapp": name, "status": status})
	return nil
}

// Deregister posts a DeregisterRequest when the xApp is registered. Failures
// are logged; the xApp counts as deregistered afterwards either way.
func (c *AppManagerClient) Deregister(ctx context.Context) {
	c.mu.Lock()
	if !c.registered {
		c.mu.Unlock()
		return
	}
	req := DeregisterRequest{AppName: c.appName, AppInstanceName: c.instance}
	c.registered = false
	c.mu.Unlock()

	status, body, err := postJSON(ctx, c.http, c.baseURL+"/"+deregisterPath, req)
	fields := loggingpkg.LogFields{"xapp": req.AppName, "instance": req.AppInstanceName}
	switch {
	case err != nil:
		c.logger.Error("Failed to deregister xApp", err, fields)
	case !success(status):
		fields["body"] = string(body)
		c.logger.Error("Failed to deregister xApp", fmt.Errorf("app manager answered %d", status), fields)
	default:
		c.logger.Info("xApp deregistered", fields)
	}
}

// Registered reports whether the last registration succeeded and was not
// followed by a deregistration.
func (c *AppManagerClient) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

func postJSON(ctx context.Context, client *http.Client, url string, body any) (int, []byte, error) {
	data, err := jsoncodec.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encode %T: %w", body, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil && !errors.Is(err, io.EOF) {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func success(status int) bool {
	return status >= 200 && status < 300
}
