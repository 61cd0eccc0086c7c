// Package errors provides standardized error handling for semsensors.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input or configuration, not retryable) and Fatal (stop processing).
// On top of the classes the package defines the sensor error taxonomy:
//
//   - ErrConfigValidation: user configuration rejected by its schema or by a
//     semantic rule of the sensor type. Raised before any transport exists.
//   - ErrSchemaReference: a $ref pointer could not be resolved.
//   - ErrSchemaNotFound: a declared schema file is absent.
//   - ErrTransportBind: the notification channel could not be set up.
//   - ErrTransportReceive: the notification channel failed while running.
//   - ErrMalformedNotification: a message could not be decoded. Never fatal.
//   - ErrUnknownSensor: no sensor type registered under a name.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Taxonomy constructors insert the sentinel between action and cause, so both
// remain reachable through errors.Is:
//
//	err := errors.TransportBind(cause, "JetStream", "Bind", "create consumer")
//	stderrors.Is(err, errors.ErrTransportBind) // true
//	stderrors.Is(err, cause)                   // true
//	errors.IsFatal(err)                        // true
//
// # Thread Safety
//
// Error variables are immutable. ClassifiedError values are safe to share
// across goroutines after creation.
package errors
