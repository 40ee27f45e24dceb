package security

import (
	"errors"
	"fmt"
)

// ErrMissingParams is returned when a tenant or gateway URL is absent.
var ErrMissingParams = errors.New("security: okapi URL and tenant are required")

// LoginError reports a rejected system user login.
type LoginError struct {
	Status   int
	Username string
	Tenant   string
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("security: login of %q for tenant %q failed with status %d", e.Username, e.Tenant, e.Status)
}

// StatusError reports an unexpected response from the identity APIs.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("security: %s %s returned %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("security: %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// IsNotFound reports whether err is a StatusError with status 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == 404
}
