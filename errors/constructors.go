package errors

import (
	"fmt"
	"time"
)

// FileNotReady creates an error for a file that never became stable
func FileNotReady(path string, attempts int) *InspectError {
	return New(ErrCodeTransientIO,
		fmt.Sprintf("image was never ready after %d attempts: %s", attempts, path)).
		WithDetail("path", path).
		WithDetail("attempts", attempts)
}

// CorruptImage creates an error for an image that could not be decoded
func CorruptImage(path string, cause error) *InspectError {
	return Wrap(cause, ErrCodeCorruptInput, fmt.Sprintf("cannot decode image: %s", path)).
		WithDetail("path", path)
}

// EngineUnavailable creates an error for an inference engine that failed to start
func EngineUnavailable(model string, cause error) *InspectError {
	return Wrap(cause, ErrCodeEngineUnavailable, fmt.Sprintf("failed to load model: %s", model)).
		WithDetail("model", model)
}

// UnrecognizedOutput creates an error for a model reply of unknown shape
func UnrecognizedOutput(task string) *InspectError {
	return New(ErrCodeUnrecognizedOutput, fmt.Sprintf("unknown model output type %q", task)).
		WithDetail("task", task)
}

// QueueFull creates an error for an item dropped by a full work queue
func QueueFull(path string, capacity int) *InspectError {
	return New(ErrCodeQueueFull, fmt.Sprintf("work queue full (%d), dropping %s", capacity, path)).
		WithDetail("path", path).
		WithDetail("capacity", capacity)
}

// CallbackFailed creates an error for an output sink that failed to deliver
func CallbackFailed(sink string, cause error) *InspectError {
	return Wrap(cause, ErrCodeCallbackFailure, fmt.Sprintf("output sink %s failed", sink)).
		WithDetail("sink", sink)
}

// PaletteOverrun creates an error for a palette cursor beyond the known positions
func PaletteOverrun(cursor, positions, total int) *InspectError {
	return New(ErrCodeConfigInconsistent,
		fmt.Sprintf("palette cursor %d overran %d positions before reaching %d pieces", cursor, positions, total)).
		WithDetail("cursor", cursor).
		WithDetail("positions", positions).
		WithDetail("total_pieces", total)
}

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *InspectError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *InspectError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// Timeout creates an internal error for an operation that did not finish in time
func Timeout(op string, after time.Duration) *InspectError {
	return New(ErrCodeInternal, fmt.Sprintf("%s timed out after %s", op, after)).
		WithDetail("operation", op).
		WithDetail("timeout", after.String())
}
