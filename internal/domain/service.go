package domain

import "time"

// Service types understood by the connector factory. Any other value yields a
// generic connector.
const (
	ServiceTypePayment       = "payment"
	ServiceTypeCommunication = "communication"
	ServiceTypeGeneric       = "generic"
)

// ServiceConfig describes a backend service a user is authorized to use.
// It is treated as immutable once an agent has been built from it.
type ServiceConfig struct {
	ID             string    `json:"id" yaml:"id"`
	UserID         string    `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Name           string    `json:"name" yaml:"name"`
	Type           string    `json:"type" yaml:"type"`
	Keywords       []string  `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Endpoint       string    `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	CredentialsRef string    `json:"credentials_ref,omitempty" yaml:"credentials_ref,omitempty"`
	Capabilities   []string  `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty" yaml:"-"`
}

// AuthorizedFor reports whether the config may be used by userID.
// Configs without an owner are catalog entries and are authorized for
// whichever user they are supplied for.
func (s ServiceConfig) AuthorizedFor(userID string) bool {
	return s.UserID == "" || s.UserID == userID
}
