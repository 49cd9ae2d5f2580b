package signout

// Endpoint is a relying party's back-channel logout URI.
type Endpoint struct {
	ClientID string
	URI      string
	// SessionRequired asks for the sid claim in the logout token.
	SessionRequired bool
}

// Notification describes one ended session. It is built when a sign-out
// completes, delivered once to every endpoint and then dropped.
type Notification struct {
	Scheme    string
	SessionID string
	Subject   string
	Endpoints []Endpoint
}
