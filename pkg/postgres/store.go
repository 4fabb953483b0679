// Package postgres provides the public API for the PostgreSQL Tabula
// backend. It exposes the factory function and configuration loading while
// keeping implementation details internal.
package postgres

import (
	"github.com/mesh-intelligence/tabula/internal/postgres"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

// New creates an unconnected PostgreSQL store. Call Connect or ConnectPool
// with a Config before issuing operations.
//
// Example:
//
//	store := postgres.New()
//	err := store.ConnectPool(ctx, types.Config{
//	    Host:     "localhost",
//	    Database: "app",
//	    User:     "app",
//	})
//	defer store.Close(ctx)
func New() types.Store {
	return postgres.NewBackend()
}
