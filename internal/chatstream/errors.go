package chatstream

import "fmt"

// FatalError marks a stream failure that must not be retried: a client-side
// request error (HTTP 4xx except 429). It is surfaced once through the
// stream's error callback.
type FatalError struct {
	Status int
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal stream error: %v", e.Err)
	}
	return fmt.Sprintf("fatal stream error: HTTP %d", e.Status)
}

func (e *FatalError) Unwrap() error { return e.Err }

// RetriableError marks a transient failure (5xx, 429, network) that the
// client absorbs by reconnecting with backoff. It crosses the component
// boundary only when retries are exhausted.
type RetriableError struct {
	Status int
	Err    error
}

func (e *RetriableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retriable stream error: %v", e.Err)
	}
	return fmt.Sprintf("retriable stream error: HTTP %d", e.Status)
}

func (e *RetriableError) Unwrap() error { return e.Err }
