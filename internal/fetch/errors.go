package fetch

import "fmt"

// FetchError is a source-fatal failure to retrieve a payload.
type FetchError struct {
	Source string
	URL    string
	Op     string
	Err    error

	// Retryable is set for failures worth another attempt (network errors,
	// timeouts, 408/429/5xx responses).
	Retryable bool
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s %s: %v", e.Source, e.Op, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
