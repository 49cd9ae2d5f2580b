// Package authn dispatches authentication operations to named schemes.
//
// A Service resolves a scheme by name (or the registry default for the
// operation) and forwards Authenticate, Challenge, Forbid, SignIn and SignOut
// to its Handler. Credential verification is memoized on the gin.Context so a
// scheme is verified at most once per request no matter how many stages ask,
// while registered claims transformers run again on every call over a copy of
// the cached principal.
package authn
