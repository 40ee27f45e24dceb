package errors

import sterrors "errors"

var (
	ErrHandlerRequired             = sterrors.New("tenantbus: handler function is required")
	ErrSubscriptionPatternRequired = sterrors.New("tenantbus: subscription pattern is required")
	ErrInvalidLoadLimit            = sterrors.New("tenantbus: load limit must be at least 1")
	ErrConsumerRequired            = sterrors.New("tenantbus: consumer is required")
	ErrGovernorStarted             = sterrors.New("tenantbus: governor already started")
	ErrPublisherRequired           = sterrors.New("tenantbus: publisher is required")
	ErrTopicRequired               = sterrors.New("tenantbus: topic is required")
	ErrConfigRequired              = sterrors.New("tenantbus: configuration is required")
	ErrLoggerRequired              = sterrors.New("tenantbus: logger is required")
	ErrPublisherNotRegistered      = sterrors.New("tenantbus: publisher is not registered or not activated for event type")
	ErrNoSubscribers               = sterrors.New("tenantbus: event type has no subscribers")
	ErrEventExpired                = sterrors.New("tenantbus: event TTL elapsed")
)

// ConfigValidationError marks an error produced while validating configuration.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "tenantbus: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
