package speech

import "fmt"

// ValidationError rejects a request before any model work is done.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// SynthesisError wraps any failure of the direct text-to-speech path.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("Error generating speech: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// CloneError wraps any failure of the voice cloning path.
type CloneError struct {
	Err error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("Error cloning voice: %v", e.Err)
}

func (e *CloneError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
