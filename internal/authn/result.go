package authn

import (
	"maps"
	"time"
)

// Properties carries state about an authentication session or a challenge.
type Properties struct {
	IssuedAt     time.Time         `json:"iat,omitempty"`
	ExpiresAt    time.Time         `json:"exp,omitempty"`
	IsPersistent bool              `json:"persistent,omitempty"`
	RedirectURI  string            `json:"redirect_uri,omitempty"`
	Items        map[string]string `json:"items,omitempty"`
}

// Clone returns a deep copy. A nil receiver yields empty properties.
func (p *Properties) Clone() *Properties {
	if p == nil {
		return &Properties{}
	}
	cp := *p
	cp.Items = maps.Clone(p.Items)
	return &cp
}

// Expired reports whether ExpiresAt is set and not after now.
func (p *Properties) Expired(now time.Time) bool {
	return p != nil && !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Item returns Items[key], tolerating nil maps.
func (p *Properties) Item(key string) string {
	if p == nil {
		return ""
	}
	return p.Items[key]
}

// SetItem sets Items[key], allocating the map when needed.
func (p *Properties) SetItem(key, value string) {
	if p.Items == nil {
		p.Items = make(map[string]string)
	}
	p.Items[key] = value
}

// Result is the outcome of authenticating a request against one scheme.
//
// Exactly one of three states holds: success (Principal set), failure
// (credentials were presented but rejected, Failure set) or none (no
// credentials for this scheme were presented).
type Result struct {
	Scheme     string
	Principal  *Principal
	Properties *Properties
	Failure    error
	None       bool
}

// Success builds a successful result.
func Success(scheme string, p *Principal, props *Properties) *Result {
	if props == nil {
		props = &Properties{}
	}
	return &Result{Scheme: scheme, Principal: p, Properties: props}
}

// NoResult builds a result for a request that carried no credentials.
func NoResult(scheme string) *Result {
	return &Result{Scheme: scheme, None: true}
}

// Fail builds a result for rejected credentials.
func Fail(scheme string, err error) *Result {
	return &Result{Scheme: scheme, Failure: err}
}

// Succeeded reports whether the scheme authenticated a principal.
func (r *Result) Succeeded() bool {
	return r != nil && !r.None && r.Failure == nil && r.Principal != nil
}

// Outcome is the metrics label for the result.
func (r *Result) Outcome() string {
	switch {
	case r.Succeeded():
		return "success"
	case r.None:
		return "none"
	default:
		return "failure"
	}
}

func (r *Result) clone() *Result {
	cp := *r
	cp.Principal = r.Principal.Clone()
	if r.Properties != nil {
		cp.Properties = r.Properties.Clone()
	}
	return &cp
}
