package hmc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is matched by NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError is returned when a find-by-name lookup has no match.
type NotFoundError struct {
	Kind   string
	Name   string
	Parent string
}

func (e *NotFoundError) Error() string {
	if e.Parent != "" {
		return fmt.Sprintf("could not find %s %q in %s", e.Kind, e.Name, e.Parent)
	}
	return fmt.Sprintf("could not find %s %q", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsNotFound reports whether err is a find-by-name miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// NoUniqueMatchError is returned when a name matches more than one resource.
type NoUniqueMatchError struct {
	Kind string
	Name string
	URIs []string
}

func (e *NoUniqueMatchError) Error() string {
	uris := append([]string(nil), e.URIs...)
	sort.Strings(uris)
	return fmt.Sprintf("found more than one %s named %q: %s", e.Kind, e.Name, strings.Join(uris, ", "))
}

// HTTPError is an error response of the HMC Web Services API.
type HTTPError struct {
	Method  string
	URI     string
	Status  int
	Reason  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d, reason %d: %s", e.Method, e.URI, e.Status, e.Reason, e.Message)
}

// ConnectionError wraps transport level failures (DNS, TLS, connection reset).
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StatusError is returned when a partition does not reach a status in which
// its elements can be updated.
type StatusError struct {
	Partition string
	Status    string
	Timeout   time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("partition %q is still in status %q after %s", e.Partition, e.Status, e.Timeout)
}
