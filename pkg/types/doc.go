// Package types defines the Store and Row interfaces, connection Config,
// column metadata, hook and migration types, and standard errors for the
// Tabula dynamic-schema data access layer.
package types
