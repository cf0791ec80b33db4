package xappflow

import (
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/xappflow/internal/runtime"
	configpkg "github.com/drblury/xappflow/internal/runtime/config"
	errspkg "github.com/drblury/xappflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/xappflow/internal/runtime/handlers"
	idspkg "github.com/drblury/xappflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/xappflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/xappflow/internal/runtime/logging"
	"github.com/drblury/xappflow/internal/runtime/rmr"
	"github.com/drblury/xappflow/internal/runtime/rnib"
	"github.com/drblury/xappflow/internal/runtime/sdl"
	transportpkg "github.com/drblury/xappflow/internal/runtime/transport"
	bus "github.com/drblury/xappflow/transport"
)

type (
	Config              = configpkg.Config
	XAppDescriptor      = configpkg.XAppDescriptor
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	ProtoValidator      = runtimepkg.ProtoValidator
	TransportFactory    = transportpkg.Factory

	// Message buffers and the dispatch contract
	Buffer      = rmr.Buffer
	Client      = rmr.Client
	ClientStats = rmr.ClientStats
	HandlerFunc = rmr.HandlerFunc
	Middleware  = rmr.Middleware
	PanicError  = rmr.PanicError
	Liveness    = rmr.Liveness

	MessageHandlerRegistration                = runtimepkg.MessageHandlerRegistration
	JSONHandlerRegistration[T any, O any]     = handlerpkg.JSONHandlerRegistration[T, O]
	JSONMessageContext[T any]                 = handlerpkg.JSONMessageContext[T]
	JSONMessageHandler[T any, O any]          = handlerpkg.JSONMessageHandler[T, O]
	ProtoHandlerRegistration[T proto.Message] = handlerpkg.ProtoHandlerRegistration[T]
	ProtoHandlerOption                        = handlerpkg.ProtoHandlerOption
	ProtoMessageContext[T proto.Message]      = handlerpkg.ProtoMessageContext[T]
	ProtoMessageHandler[T proto.Message]      = handlerpkg.ProtoMessageHandler[T]
	MessageContextBase                        = handlerpkg.MessageContextBase
	DecodeError                               = handlerpkg.DecodeError

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	UnprocessableMessageError = runtimepkg.UnprocessableMessageError

	HandlerInfo           = runtimepkg.HandlerInfo
	HandlerStats          = runtimepkg.HandlerStats
	Metrics               = runtimepkg.Metrics
	MetricsSnapshot       = runtimepkg.MetricsSnapshot
	ConfigValidationError = errspkg.ConfigValidationError

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	// Platform services
	AlarmClient      = runtimepkg.AlarmClient
	Alarm            = runtimepkg.Alarm
	AlarmSeverity    = runtimepkg.AlarmSeverity
	AlarmAction      = runtimepkg.AlarmAction
	AppManagerClient = runtimepkg.AppManagerClient
	Storage          = sdl.Storage
	NbIdentity       = rnib.NbIdentity
	GlobalNbID       = rnib.GlobalNbID
	ConnectionStatus = rnib.ConnectionStatus

	// Message bus
	Msg                = bus.Msg
	Driver             = bus.Driver
	Endpoint           = bus.Endpoint
	RouteTable         = bus.RouteTable
	Flags              = bus.Flags
	TransportBuilder   = bus.Builder
	TransportConfig    = bus.Config
	TransportRegistry  = bus.Registry
	BusCapabilities    = bus.Capabilities
	RouteInstaller     = bus.RouteInstaller
	PipelineObserver   = rmr.PipelineObserver
	MessageTypeMetrics = runtimepkg.MessageTypeMetrics
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	ValidateConfig = configpkg.ValidateConfig
	LoadConfig     = configpkg.Load
	LoadDescriptor = configpkg.LoadDescriptor
	FromDescriptor = configpkg.FromDescriptor

	RegisterMessageHandler = runtimepkg.RegisterMessageHandler
	WithProtoJSON          = handlerpkg.WithProtoJSON
	DefaultHandler         = rmr.DefaultHandler
	NewLiveness            = rmr.NewLiveness

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	XactionMiddleware       = runtimepkg.XactionMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	ProtoValidateMiddleware = runtimepkg.ProtoValidateMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	// Job lifecycle hooks
	JobHooksMiddleware = runtimepkg.JobHooksMiddleware
	LoggingHooks       = runtimepkg.LoggingHooks
	MetricsHooks       = runtimepkg.MetricsHooks
	AlertingHooks      = runtimepkg.AlertingHooks
	AlarmHooks         = runtimepkg.AlarmHooks

	NewUnprocessableMessageError = runtimepkg.NewUnprocessableMessageError

	// Transport factories
	DefaultTransportFactory  = transportpkg.DefaultFactory
	RegistryTransportFactory = transportpkg.RegistryFactory
	StaticTransportFactory   = transportpkg.StaticFactory

	// Message bus registry
	// Import individual drivers via: _ "github.com/drblury/xappflow/transport/tcp"
	DefaultTransportRegistry = bus.DefaultRegistry
	RegisterTransport        = bus.Register
	BuildTransport           = bus.Build
	GetCapabilities          = bus.GetCapabilities
	NewRouteTable            = bus.NewRouteTable
	LoadRouteTable           = bus.LoadRouteTable
	NewMsg                   = bus.NewMsg

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired        = errspkg.ErrServiceRequired
	ErrHandlerRequired        = errspkg.ErrHandlerRequired
	ErrHandlerNameRequired    = errspkg.ErrHandlerNameRequired
	ErrConfigRequired         = errspkg.ErrConfigRequired
	ErrLoggerRequired         = errspkg.ErrLoggerRequired
	ErrStorageNotConfigured   = errspkg.ErrStorageNotConfigured
	ErrDescriptorPortNotFound = errspkg.ErrDescriptorPortNotFound
	ErrAlreadyInitialized     = errspkg.ErrAlreadyInitialized
	ErrNotReady               = errspkg.ErrNotReady
	ErrSendFailed             = errspkg.ErrSendFailed
	ErrReplyFailed            = errspkg.ErrReplyFailed
	ErrPayloadTooLarge        = errspkg.ErrPayloadTooLarge
	ErrBufferFreed            = errspkg.ErrBufferFreed
	ErrClientClosed           = errspkg.ErrClientClosed
	ErrNotReadyAtShutdown     = errspkg.ErrNotReadyAtShutdown
	ErrAlreadyStarted         = errspkg.ErrAlreadyStarted
	ErrNotStarted             = errspkg.ErrNotStarted

	NewSlogServiceLogger    = loggingpkg.NewSlogServiceLogger
	LoggerFromWatermill     = loggingpkg.FromWatermill
	NewZerologServiceLogger = loggingpkg.NewZerologServiceLogger
	NewConsoleLogger        = loggingpkg.NewConsoleLogger
	NopLogger               = loggingpkg.NopLogger

	NewXaction   = idspkg.NewXaction
	InstanceName = idspkg.InstanceName
)

// Transport flags, matching the RMR library values.
const (
	FlagNone     = bus.FlagNone
	FlagNoThread = bus.FlagNoThread
	MaxRcvBytes  = bus.MaxRcvBytes
	UnsetSubID   = bus.UnsetSubID
)

// Alarm severities and actions.
const (
	AlarmSeverityUnspecified = runtimepkg.AlarmSeverityUnspecified
	AlarmSeverityMajor       = runtimepkg.AlarmSeverityMajor
	AlarmSeverityMinor       = runtimepkg.AlarmSeverityMinor
	AlarmSeverityWarning     = runtimepkg.AlarmSeverityWarning
	AlarmSeverityCleared     = runtimepkg.AlarmSeverityCleared
	AlarmSeverityDefault     = runtimepkg.AlarmSeverityDefault

	AlarmActionRaise    = runtimepkg.AlarmActionRaise
	AlarmActionClear    = runtimepkg.AlarmActionClear
	AlarmActionClearAll = runtimepkg.AlarmActionClearAll
)

// SDL backends accepted in Config.SDLBackend.
const (
	SDLBackendMemory   = sdl.BackendMemory
	SDLBackendSQLite   = sdl.BackendSQLite
	SDLBackendPostgres = sdl.BackendPostgres
	SDLBackendEtcd     = sdl.BackendEtcd
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTransport  = runtimepkg.ErrorCategoryTransport
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

func RegisterJSONHandler[T any, O any](svc *Service, cfg JSONHandlerRegistration[T, O]) error {
	return runtimepkg.RegisterJSONHandler(svc, cfg)
}

func RegisterProtoHandler[T proto.Message](svc *Service, cfg ProtoHandlerRegistration[T]) error {
	return runtimepkg.RegisterProtoHandler(svc, cfg)
}

func NewProtoMessage[T proto.Message]() (T, error) {
	return runtimepkg.NewProtoMessage[T]()
}

func MustProtoMessage[T proto.Message]() T {
	return runtimepkg.MustProtoMessage[T]()
}
