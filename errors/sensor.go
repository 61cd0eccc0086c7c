package errors

import (
	"errors"
	"fmt"
)

// Sensor error taxonomy. Every error produced by the schema, transport and
// sensor packages matches exactly one of these with errors.Is.
var (
	// ErrConfigValidation: the user configuration fails its schema or a
	// semantic rule of the sensor type. Raised before any transport exists.
	ErrConfigValidation = errors.New("config validation failed")

	// ErrSchemaReference: a $ref cannot be resolved.
	ErrSchemaReference = errors.New("schema reference unresolved")

	// ErrSchemaNotFound: a sensor type declares a schema file that is absent.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrTransportBind: the notification channel could not be set up.
	ErrTransportBind = errors.New("transport bind failed")

	// ErrTransportReceive: the notification channel failed while receiving.
	ErrTransportReceive = errors.New("transport receive failed")

	// ErrMalformedNotification: a received message could not be decoded.
	// Never fatal; the message is logged and skipped.
	ErrMalformedNotification = errors.New("malformed notification")

	// ErrUnknownSensor: no sensor type is registered under the requested name.
	ErrUnknownSensor = errors.New("unknown sensor type")
)

// kinded builds "component.method: action failed: kind: cause" so that
// errors.Is matches both the taxonomy sentinel and the cause.
func kinded(kind, cause error, component, method, action string) error {
	if cause == nil {
		return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, kind)
	}
	return fmt.Errorf("%s.%s: %s failed: %w: %w", component, method, action, kind, cause)
}

// ConfigValidation reports an invalid sensor configuration.
func ConfigValidation(cause error, component, method, action string) error {
	err := kinded(ErrConfigValidation, cause, component, method, action)
	return newClassified(ErrorInvalid, err, component, method, err.Error())
}

// ConfigValidationf is ConfigValidation with a formatted cause.
func ConfigValidationf(component, method, format string, args ...any) error {
	return ConfigValidation(fmt.Errorf(format, args...), component, method, "validate config")
}

// SchemaReference reports an unresolvable reference.
func SchemaReference(cause error, component, method, action string) error {
	err := kinded(ErrSchemaReference, cause, component, method, action)
	return newClassified(ErrorInvalid, err, component, method, err.Error())
}

// SchemaNotFound reports a missing schema file.
func SchemaNotFound(path, component, method string) error {
	err := kinded(ErrSchemaNotFound, fmt.Errorf("no sensor schema found at %s", path), component, method, "load schema")
	return newClassified(ErrorInvalid, err, component, method, err.Error())
}

// TransportBind reports a failure to set up the notification channel.
func TransportBind(cause error, component, method, action string) error {
	err := kinded(ErrTransportBind, cause, component, method, action)
	return newClassified(ErrorFatal, err, component, method, err.Error())
}

// TransportReceive reports a failure of the notification channel while running.
func TransportReceive(cause error, component, method, action string) error {
	err := kinded(ErrTransportReceive, cause, component, method, action)
	return newClassified(ErrorTransient, err, component, method, err.Error())
}

// MalformedNotification reports a message that could not be decoded.
func MalformedNotification(cause error, component, method string) error {
	err := kinded(ErrMalformedNotification, cause, component, method, "decode notification")
	return newClassified(ErrorInvalid, err, component, method, err.Error())
}
