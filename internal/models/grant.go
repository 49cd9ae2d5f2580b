package models

import "time"

// Persisted grant types written by the protocol endpoints.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeReferenceToken    = "reference_token"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeUserConsent       = "user_consent"
)

// PersistedGrant is a durable record of something a subject granted a client:
// authorization codes, reference tokens, refresh tokens and consent.
type PersistedGrant struct {
	Key          string `gorm:"primaryKey;size:200"`
	Type         string `gorm:"index;size:50;not null"`
	SubjectID    string `gorm:"index;size:200"`
	SessionID    string `gorm:"index;size:100"`
	ClientID     string `gorm:"index;size:200;not null"`
	Description  string `gorm:"size:200"`
	CreationTime time.Time
	Expiration   *time.Time `gorm:"index"`
	ConsumedTime *time.Time
	Data         string `gorm:"type:text"`
}

// TableName overrides the table name used by PersistedGrant to `persisted_grants`
func (PersistedGrant) TableName() string {
	return "persisted_grants"
}

// IsExpired reports whether the grant has an expiration at or before now.
func (g *PersistedGrant) IsExpired(now time.Time) bool {
	return g.Expiration != nil && !now.Before(*g.Expiration)
}

// GrantFilter selects persisted grants. Empty fields match everything, but at
// least one field must be set for bulk operations.
type GrantFilter struct {
	SubjectID string
	SessionID string
	ClientID  string
	Type      string
}

// IsEmpty reports whether no field of the filter is set.
func (f GrantFilter) IsEmpty() bool {
	return f == GrantFilter{}
}

// Matches reports whether g satisfies every field set on the filter.
func (f GrantFilter) Matches(g *PersistedGrant) bool {
	if f.SubjectID != "" && f.SubjectID != g.SubjectID {
		return false
	}
	if f.SessionID != "" && f.SessionID != g.SessionID {
		return false
	}
	if f.ClientID != "" && f.ClientID != g.ClientID {
		return false
	}
	if f.Type != "" && f.Type != g.Type {
		return false
	}
	return true
}
