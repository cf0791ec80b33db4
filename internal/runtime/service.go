package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"

	configpkg "github.com/drblury/xappflow/internal/runtime/config"
	errspkg "github.com/drblury/xappflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/xappflow/internal/runtime/logging"
	"github.com/drblury/xappflow/internal/runtime/rmr"
	"github.com/drblury/xappflow/internal/runtime/rnib"
	"github.com/drblury/xappflow/internal/runtime/sdl"
	transportpkg "github.com/drblury/xappflow/internal/runtime/transport"
	bus "github.com/drblury/xappflow/transport"
)

const httpShutdownTimeout = 5 * time.Second

// ProtoValidator validates decoded protobuf payloads. Implementations
// typically forward to protovalidate or a hand written check.
type ProtoValidator interface {
	Validate(value any) error
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the defaults.
type ServiceDependencies struct {
	Validator                 ProtoValidator
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	// Liveness isolates the transport context; nil uses the process-wide marker.
	Liveness        *rmr.Liveness
	ErrorClassifier ErrorClassifier
	// Storage overrides the SDL backend named in the configuration.
	Storage    sdl.Storage
	HTTPClient *http.Client
	// Descriptor supplies the ports not set in the configuration and is
	// served under /ric/v1/config.
	Descriptor *configpkg.XAppDescriptor
}

// Service is an xApp: one transport context, the receive/dispatch pipeline
// over it and the platform collaborators around it.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	descriptor *configpkg.XAppDescriptor
	rmrPort    int
	httpPort   int

	driver   bus.Driver
	client   *rmr.Client
	shared   *rmr.SharedClient
	registry *rmr.Registry
	pipeline *rmr.Pipeline
	metrics  *Metrics

	validator ProtoValidator

	protoRegistry   map[int32]protoEntry
	protoRegistryMu sync.RWMutex

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	storage sdl.Storage
	rnib    *rnib.Reader
	appmgr  *AppManagerClient
	alarms  *AlarmClient

	httpServers   map[int]*http.ServeMux
	running       []*http.Server
	httpServersMu sync.Mutex

	errorClassifier ErrorClassifier
	resourceTracker *resourceTracker

	closeOnce sync.Once
	closeErr  error
}

// NewService constructs a Service for the supplied configuration and panics
// when that fails. Register handlers on the returned Service before calling
// Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService is NewService returning the error instead of panicking.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	rmrPort, err := resolvePort(conf.RMRPort, deps.Descriptor, configpkg.PortRMRData)
	if err != nil {
		return nil, err
	}
	httpPort := 0
	if conf.WebServerEnabled {
		if httpPort, err = resolvePort(conf.HTTPPort, deps.Descriptor, configpkg.PortHTTP); err != nil {
			return nil, err
		}
	}

	log.Info("Creating xApp service", loggingpkg.LogFields{
		"bus_system": conf.BusSystem,
		"xapp":       conf.XAppName,
		"rmr_port":   rmrPort,
		"http_port":  httpPort,
		"config":     conf,
	})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		descriptor:      deps.Descriptor,
		rmrPort:         rmrPort,
		httpPort:        httpPort,
		validator:       deps.Validator,
		protoRegistry:   make(map[int32]protoEntry),
		errorClassifier: deps.ErrorClassifier,
	}
	if s.errorClassifier == nil {
		s.errorClassifier = defaultErrorClassifier
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	s.driver, err = factory.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	s.client, err = rmr.NewClient(s.driver, strconv.Itoa(rmrPort), conf.MaxPayloadSize, bus.Flags(conf.RMRFlags),
		rmr.WithLiveness(deps.Liveness),
		rmr.WithLogger(log),
	)
	if err != nil {
		_ = s.driver.Close()
		return nil, err
	}
	s.shared = rmr.NewSharedClient(s.client)
	s.resourceTracker = newResourceTracker(func() int64 { return s.shared.Stats().Outstanding })

	s.metrics = NewMetrics(conf.Namespace(), conf.XAppName)
	if err := s.metrics.TrackBuffers(s.shared.Stats); err != nil {
		s.abort()
		return nil, err
	}

	s.registry = rmr.NewRegistry()
	s.pipeline = rmr.NewPipeline(s.shared, s.registry, rmr.PipelineConfig{
		QueueSize:        conf.QueueSize,
		ReadyBackoff:     conf.ReadyBackoff,
		EventWaitTimeout: conf.EventWaitTimeout,
		DispatchTimeout:  conf.DispatchTimeout,
	},
		rmr.WithPipelineLogger(log),
		rmr.WithObserver(s.metrics),
	)

	s.storage = deps.Storage
	if s.storage == nil && conf.SDLBackend != "" {
		if s.storage, err = sdl.Open(ctx, conf); err != nil {
			s.abort()
			return nil, fmt.Errorf("open sdl storage: %w", err)
		}
	}
	if s.storage != nil {
		s.rnib = rnib.NewReader(s.storage)
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	s.appmgr = NewAppManagerClient(conf.AppManagerEndpoint(), conf.Namespace(), httpClient, log)
	s.alarms = NewAlarmClient(conf.AlarmManagerEndpoint(), conf.XAppName, httpClient, log)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		s.abort()
		return nil, err
	}
	if conf.WebServerEnabled {
		s.registerWebRoutes(httpPort)
	}

	return s, nil
}

func resolvePort(configured int, descriptor *configpkg.XAppDescriptor, name string) (int, error) {
	if configured > 0 {
		return configured, nil
	}
	if descriptor == nil {
		return 0, fmt.Errorf("%w: %s", errspkg.ErrDescriptorPortNotFound, name)
	}
	port, err := descriptor.PortFor(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errspkg.ErrDescriptorPortNotFound, err)
	}
	return port, nil
}

func (s *Service) abort() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
	_ = s.shared.Close()
	_ = s.driver.Close()
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// Start launches the receiver, the processor and the HTTP servers. It
// returns immediately; use Join to wait.
func (s *Service) Start() error {
	if err := s.pipeline.Start(); err != nil {
		return err
	}
	s.startHTTPServers()
	s.Logger.Info("xApp started", loggingpkg.LogFields{"xapp": s.Conf.XAppName, "rmr_port": s.rmrPort})
	return nil
}

// Stop deregisters the xApp when it is registered, clears the running flag
// and shuts the HTTP servers down. Stop does not wait for the pipeline.
func (s *Service) Stop() {
	s.Logger.Info("Stopping xApp", loggingpkg.LogFields{"xapp": s.Conf.XAppName})
	if s.appmgr.Registered() {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		s.appmgr.Deregister(ctx)
		cancel()
	}
	s.pipeline.Stop()
	s.shutdownHTTPServers()
}

// Join waits for the receiver and the processor. It returns
// errors.ErrNotReadyAtShutdown when the transport never became ready.
func (s *Service) Join() error {
	return s.pipeline.Join()
}

// Run starts the service, waits for ctx and then stops and joins it.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return s.Join()
}

// Close stops and joins the service if it was started and releases the
// transport context, the driver and the storage.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		if s.pipeline.Running() {
			s.Stop()
		}
		err := s.pipeline.Join()
		if err != nil && !errors.Is(err, errspkg.ErrNotStarted) && !errors.Is(err, errspkg.ErrNotReadyAtShutdown) {
			s.Logger.Error("Pipeline terminated with error", err, nil)
		}
		var errs []error
		if s.storage != nil {
			errs = append(errs, s.storage.Close())
		}
		errs = append(errs, s.shared.Close(), s.driver.Close())
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// IsReady reports whether the transport can route messages.
func (s *Service) IsReady() bool {
	return s.pipeline.IsReady()
}

// Running reports whether the pipeline was started and not yet stopped.
func (s *Service) Running() bool {
	return s.pipeline.Running()
}

// Send allocates a buffer, fills it and routes it by mtype. Send locks the
// transport context, which the processor already holds while a handler
// runs: calling it from a handler blocks the pipeline for good. Handlers
// send through the client they receive, with client.SendPayload or
// client.Alloc and client.Send.
func (s *Service) Send(mtype int32, payload []byte) error {
	return s.shared.Do(func(c *rmr.Client) error {
		return c.SendPayload(mtype, payload)
	})
}

// SendProto encodes msg in the protobuf wire format and sends it.
func (s *Service) SendProto(mtype int32, msg proto.Message) error {
	payload, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %T: %w", msg, err)
	}
	return s.Send(mtype, payload)
}

// Client runs fn with exclusive access to the transport context.
func (s *Service) Client(fn func(*rmr.Client) error) error {
	return s.shared.Do(fn)
}

// Stats returns the buffer accounting of the transport context.
func (s *Service) Stats() rmr.ClientStats {
	return s.shared.Stats()
}

// Dropped returns the number of messages released without dispatch.
func (s *Service) Dropped() int64 {
	return s.pipeline.Dropped()
}

// Handlers returns the registered handlers and their stats.
func (s *Service) Handlers() []*HandlerInfo {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]*HandlerInfo, len(s.handlers))
	copy(out, s.handlers)
	return out
}

// SetDefaultHandler replaces the handler used for unregistered message types.
func (s *Service) SetDefaultHandler(h rmr.HandlerFunc) {
	s.registry.SetFallback(h)
}

// Metrics returns the metrics registry of the xApp.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// Storage returns the SDL storage, or ErrStorageNotConfigured.
func (s *Service) Storage() (sdl.Storage, error) {
	if s.storage == nil {
		return nil, errspkg.ErrStorageNotConfigured
	}
	return s.storage, nil
}

// RNIB returns the topology reader over the SDL storage.
func (s *Service) RNIB() (*rnib.Reader, error) {
	if s.rnib == nil {
		return nil, errspkg.ErrStorageNotConfigured
	}
	return s.rnib, nil
}

// GetNodebIDs lists every E2 node known to the RNIB.
func (s *Service) GetNodebIDs(ctx context.Context) ([]*rnib.NbIdentity, error) {
	reader, err := s.RNIB()
	if err != nil {
		return nil, err
	}
	return reader.GetNodebIDs(ctx)
}

// Alarms returns the alarm manager client.
func (s *Service) Alarms() *AlarmClient {
	return s.alarms
}

// RegisterXApp registers the xApp with the App Manager. The endpoints are
// read from the SERVICE_<NS>_<XAPP>_* environment variables.
func (s *Service) RegisterXApp(ctx context.Context, name, instance, config string) error {
	return s.appmgr.Register(ctx, name, instance, config)
}

// DeregisterXApp deregisters the xApp. Failures are logged, not returned.
func (s *Service) DeregisterXApp(ctx context.Context) {
	s.appmgr.Deregister(ctx)
}

// Registered reports whether the xApp is registered with the App Manager.
func (s *Service) Registered() bool {
	return s.appmgr.Registered()
}

// Descriptor returns the xApp descriptor served under /ric/v1/config.
func (s *Service) Descriptor() *configpkg.XAppDescriptor {
	if s.descriptor != nil {
		return s.descriptor
	}
	return &configpkg.XAppDescriptor{
		Metadata: configpkg.ConfigMetadata{XAppName: s.Conf.XAppName, ConfigType: "json"},
		Config:   []byte("{}"),
	}
}

func (s *Service) busSystem() string {
	if s.Conf.BusSystem == "" {
		return transportpkg.DefaultBusSystem
	}
	return s.Conf.BusSystem
}

func (s *Service) getErrorClassifier() ErrorClassifier {
	if s.errorClassifier == nil {
		return defaultErrorClassifier
	}
	return s.errorClassifier
}

func (s *Service) getResourceTracker() *resourceTracker {
	if s.resourceTracker == nil {
		s.resourceTracker = newResourceTracker(nil)
	}
	return s.resourceTracker
}

// RegisterHTTPHandler adds handler to the server listening on port.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

// HTTPHandler returns the mux served on port, or nil.
func (s *Service) HTTPHandler(port int) http.Handler {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()
	if mux, ok := s.httpServers[port]; ok {
		return mux
	}
	return nil
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.running = append(s.running, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}
}

func (s *Service) shutdownHTTPServers() {
	s.httpServersMu.Lock()
	servers := s.running
	s.running = nil
	s.httpServersMu.Unlock()

	for _, srv := range servers {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to shut down HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
		cancel()
	}
}
