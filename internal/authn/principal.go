package authn

import "slices"

// Well-known claim types.
const (
	ClaimSubject          = "sub"
	ClaimSessionID        = "sid"
	ClaimName             = "name"
	ClaimEmail            = "email"
	ClaimIdentityProvider = "idp"
	ClaimAuthTime         = "auth_time"
	ClaimScope            = "scope"
	ClaimClientID         = "client_id"
	ClaimRole             = "role"
)

// Claim is a single typed statement about a principal.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Principal is an ordered list of claims plus the scheme that authenticated
// it. A principal without an authentication type is anonymous.
type Principal struct {
	AuthenticationType string  `json:"auth_type,omitempty"`
	Claims             []Claim `json:"claims"`
}

// NewPrincipal returns a principal authenticated by authType.
func NewPrincipal(authType string, claims ...Claim) *Principal {
	return &Principal{AuthenticationType: authType, Claims: slices.Clone(claims)}
}

// Anonymous returns an unauthenticated principal with no claims.
func Anonymous() *Principal {
	return &Principal{}
}

// IsAuthenticated reports whether a scheme vouched for the principal.
func (p *Principal) IsAuthenticated() bool {
	return p != nil && p.AuthenticationType != ""
}

// FindFirst returns the first claim value of type t.
func (p *Principal) FindFirst(t string) (string, bool) {
	if p == nil {
		return "", false
	}
	for _, c := range p.Claims {
		if c.Type == t {
			return c.Value, true
		}
	}
	return "", false
}

// FindAll returns every claim value of type t in order.
func (p *Principal) FindAll(t string) []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, c := range p.Claims {
		if c.Type == t {
			out = append(out, c.Value)
		}
	}
	return out
}

// Subject returns the sub claim, or "".
func (p *Principal) Subject() string {
	v, _ := p.FindFirst(ClaimSubject)
	return v
}

// SessionID returns the sid claim, or "".
func (p *Principal) SessionID() string {
	v, _ := p.FindFirst(ClaimSessionID)
	return v
}

// AddClaim appends a claim.
func (p *Principal) AddClaim(t, v string) {
	p.Claims = append(p.Claims, Claim{Type: t, Value: v})
}

// SetClaim replaces every claim of type t with a single claim.
func (p *Principal) SetClaim(t, v string) {
	p.Claims = slices.DeleteFunc(p.Claims, func(c Claim) bool { return c.Type == t })
	p.AddClaim(t, v)
}

// Clone returns a deep copy.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	return &Principal{AuthenticationType: p.AuthenticationType, Claims: slices.Clone(p.Claims)}
}

// Map returns claims keyed by type. Repeated types keep every value.
func (p *Principal) Map() map[string][]string {
	out := make(map[string][]string)
	if p == nil {
		return out
	}
	for _, c := range p.Claims {
		out[c.Type] = append(out[c.Type], c.Value)
	}
	return out
}
