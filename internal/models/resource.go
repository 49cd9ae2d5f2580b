package models

// IdentityResource is a named group of user claims a client can request as a scope.
type IdentityResource struct {
	Name        string      `gorm:"primaryKey;size:200"`
	DisplayName string
	Enabled     bool        `gorm:"not null;default:true"`
	UserClaims  StringArray `gorm:"type:json"`
}

// TableName overrides the table name used by IdentityResource to `identity_resources`
func (IdentityResource) TableName() string {
	return "identity_resources"
}

// APIResource is a protected API; each of its scopes can be requested by clients.
type APIResource struct {
	Name        string      `gorm:"primaryKey;size:200"`
	DisplayName string
	Enabled     bool        `gorm:"not null;default:true"`
	Scopes      StringArray `gorm:"type:json"`
}

// TableName overrides the table name used by APIResource to `api_resources`
func (APIResource) TableName() string {
	return "api_resources"
}

// Resources is the combined view returned by a resource store.
type Resources struct {
	IdentityResources []IdentityResource
	APIResources      []APIResource
}

// ScopeNames returns every enabled scope name in declaration order.
func (r Resources) ScopeNames() []string {
	var names []string
	for _, ir := range r.IdentityResources {
		if ir.Enabled {
			names = append(names, ir.Name)
		}
	}
	for _, api := range r.APIResources {
		if api.Enabled {
			names = append(names, api.Scopes...)
		}
	}
	return names
}
