package bearer

import "errors"

var (
	// ErrInvalidToken is the failure for malformed, unsigned or expired tokens.
	ErrInvalidToken = errors.New("bearer: invalid token")

	// ErrTokenRevoked is the failure for tokens whose reference grant is gone.
	ErrTokenRevoked = errors.New("bearer: token revoked")
)
