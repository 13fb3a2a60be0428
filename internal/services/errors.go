package services

import "fmt"

// ConfigurationError indicates that the backend selected for a request is
// missing a credential or endpoint. It is fatal for the request; retrying
// cannot help until the configuration changes.
type ConfigurationError struct {
	Backend string
	Missing string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("%s backend is not configured: missing %s", e.Backend, e.Missing)
}

// ProviderError carries a non-2xx response from a backend. The raw body is
// preserved so the caller can surface it; no automatic retry is attempted.
type ProviderError struct {
	Backend string
	Status  int
	Body    string
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("%s backend returned status %d: %s", e.Backend, e.Status, e.Body)
}
