// Package shserr defines the typed error taxonomy the culling and
// recording pipeline returns, so callers can use errors.As to decide
// whether a failure is fatal (DeviceLost) or locally recoverable
// (QueryError, RecordError).
package shserr

import "fmt"

// ConfigurationError reports an invalid Config value discovered at
// construction time (e.g. a binning mode with zero tile size).
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("shscull: invalid configuration field %q: %s", e.Field, e.Reason)
}

// ResourceError reports failure to create or bind a GPU resource (query
// pool, buffer, command allocator).
type ResourceError struct {
	Resource string
	Cause    error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("shscull: resource %q failed: %v", e.Resource, e.Cause)
}

func (e *ResourceError) Unwrap() error { return e.Cause }

// RecordError reports a failure while recording a command buffer (a
// single frame's worth of work); the recorder module skips that frame
// and counts it in RecorderState.SkippedFrames.
type RecordError struct {
	Stage string
	Cause error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("shscull: recording failed at stage %q: %v", e.Stage, e.Cause)
}

func (e *RecordError) Unwrap() error { return e.Cause }

// QueryError reports an occlusion query failure (an unsignaled slot
// read or reset too early, or a result fetch that fails); when a fetch
// fails the recorder keeps the previous visibility history unchanged.
type QueryError struct {
	Slot  int
	Cause error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("shscull: query slot %d failed: %v", e.Slot, e.Cause)
}

func (e *QueryError) Unwrap() error { return e.Cause }

// DeviceLost reports an unrecoverable backend failure; callers should
// tear down and recreate the entire recorder/backend.
type DeviceLost struct {
	Cause error
}

func (e *DeviceLost) Error() string {
	return fmt.Sprintf("shscull: device lost: %v", e.Cause)
}

func (e *DeviceLost) Unwrap() error { return e.Cause }
