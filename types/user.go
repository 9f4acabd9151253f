package types

import "time"

// Credential kinds stored alongside the credential material. Local accounts
// hold a password hash; SSO accounts hold the provider's session token.
const (
	CredentialPassword = "password"
	CredentialSSO      = "sso"
)

// User represents an account in the system.
// It contains identity, role, balance, and audit metadata.
type User struct {
	// Identifier is the unique, immutable key for the account.
	// Locally registered accounts use "local_<username>"; SSO accounts
	// use the provider-assigned external ID.
	Identifier string `json:"user_id" db:"user_id"`

	// DisplayName is the user's display or full name.
	DisplayName string `json:"user_name" db:"user_name"`

	// Role indicates the user's authorization level or role
	// within the system (e.g., "admin", "user").
	Role string `json:"role" db:"role"`

	// Credit is the provider-sourced credit balance. It is never
	// mutated locally.
	Credit float64 `json:"credit" db:"credit"`

	// TokenCount is the provider-sourced token balance.
	TokenCount int64 `json:"token" db:"token"`

	// CredentialKind tags the credential material: CredentialPassword,
	// CredentialSSO, or empty when no credential is held.
	CredentialKind string `json:"-" db:"credential_kind"`

	// Credential holds either a hashed local password or the provider's
	// issued session token, depending on CredentialKind.
	// This field is never exposed in API responses.
	Credential string `json:"-" db:"credential"`

	// APIKey is the provider-issued API key, opaque to this service.
	APIKey string `json:"-" db:"api_key"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
