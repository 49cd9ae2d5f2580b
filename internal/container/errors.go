package container

import "errors"

var (
	// ErrNotRegistered is returned when no registration exists for a kind.
	ErrNotRegistered = errors.New("container: service not registered")

	// ErrScopeClosed is returned when resolving from a closed scope.
	ErrScopeClosed = errors.New("container: scope closed")

	// ErrFrozen is returned when registering after the container was frozen.
	ErrFrozen = errors.New("container: registrations are frozen")
)
