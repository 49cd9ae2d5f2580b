package authn

import (
	"errors"
	"fmt"
)

var (
	// ErrResponseAlreadyStarted is returned when an operation needs to write
	// headers or a body after the response was committed, or when a second
	// terminal signal (challenge or forbid) is issued in the same request.
	ErrResponseAlreadyStarted = errors.New("authn: response already started")

	// ErrOperationNotSupported is returned when the scheme handler lacks the
	// requested capability.
	ErrOperationNotSupported = errors.New("authn: operation not supported by scheme")

	// ErrNoDefaultScheme is returned when no scheme was named and the
	// registry has no default for the operation.
	ErrNoDefaultScheme = errors.New("authn: no scheme given and no default configured")

	// ErrNilPrincipal is returned by SignIn without a principal.
	ErrNilPrincipal = errors.New("authn: sign-in requires a principal")
)

// UnknownSchemeError reports a scheme name that is not registered.
type UnknownSchemeError struct {
	Scheme    string
	Operation string
}

func (e *UnknownSchemeError) Error() string {
	return fmt.Sprintf("authn: no scheme registered with name %q (operation %s)", e.Scheme, e.Operation)
}
