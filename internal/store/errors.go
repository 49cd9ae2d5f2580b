package store

import "errors"

var (
	// ErrGrantNotFound is returned when no persisted grant exists for a key
	ErrGrantNotFound = errors.New("persisted grant not found")

	// ErrClientNotFound is returned when no client is registered under an id
	ErrClientNotFound = errors.New("client not found")

	// ErrClientDisabled is returned by FindEnabledClient for disabled clients
	ErrClientDisabled = errors.New("client disabled")

	// ErrEmptyFilter is returned by bulk grant operations called without any
	// filter field set
	ErrEmptyFilter = errors.New("grant filter must set at least one field")
)
