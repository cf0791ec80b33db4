package errors

import sterrors "errors"

// Service and registration errors.
var (
	ErrServiceRequired        = sterrors.New("xappflow: xapp service is required")
	ErrHandlerRequired        = sterrors.New("xappflow: handler function is required")
	ErrHandlerNameRequired    = sterrors.New("xappflow: handler name is required")
	ErrPrototypeRequired      = sterrors.New("xappflow: message prototype type is required")
	ErrMessagePointerNeeded   = sterrors.New("xappflow: message prototype must be a pointer")
	ErrConfigRequired         = sterrors.New("xappflow: configuration is required")
	ErrLoggerRequired         = sterrors.New("xappflow: logger is required")
	ErrDriverRequired         = sterrors.New("xappflow: transport driver is required")
	ErrDescriptorPortNotFound = sterrors.New("xappflow: port not found in xapp descriptor")
	ErrStorageNotConfigured   = sterrors.New("xappflow: sdl storage is not configured")
)

// Transport context and message buffer errors.
var (
	ErrAlreadyInitialized = sterrors.New("xappflow: transport context already initialized")
	ErrNativeInitFailed   = sterrors.New("xappflow: transport initialization failed")
	ErrNotReady           = sterrors.New("xappflow: transport not ready")
	ErrAllocFailed        = sterrors.New("xappflow: message allocation failed")
	ErrRecvFailed         = sterrors.New("xappflow: receive failed")
	ErrReplyFailed        = sterrors.New("xappflow: reply failed")
	ErrSendFailed         = sterrors.New("xappflow: send failed")
	ErrPayloadTooLarge    = sterrors.New("xappflow: payload exceeds buffer capacity")
	ErrBufferFreed        = sterrors.New("xappflow: message buffer already freed")
	ErrBufferInUse        = sterrors.New("xappflow: message buffer owned by the processor")
	ErrClientClosed       = sterrors.New("xappflow: transport context closed")
)

// Lifecycle errors.
var (
	ErrNotReadyAtShutdown = sterrors.New("xappflow: transport not ready at shutdown")
	ErrAlreadyStarted     = sterrors.New("xappflow: pipeline already started")
	ErrNotStarted         = sterrors.New("xappflow: pipeline not started")
)

// ConfigValidationError marks configuration problems found by Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "xappflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil for a nil err.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
