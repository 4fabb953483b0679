// Shared setup for integration tests. The suite needs a reachable
// PostgreSQL server described by TABULA_HOST, TABULA_DATABASE and friends
// (see pkg/postgres.LoadConfig); without TABULA_HOST every test skips.
package integration

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tabula/pkg/postgres"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

var tableSeq atomic.Int64

// newStore connects a pooled store to the test server, or skips.
func newStore(t *testing.T) types.Store {
	t.Helper()
	if os.Getenv("TABULA_HOST") == "" {
		t.Skip("skipping integration test: set TABULA_HOST (and TABULA_DATABASE) to run")
	}
	cfg, err := postgres.LoadConfig("")
	require.NoError(t, err)

	store := postgres.New()
	require.NoError(t, store.ConnectPool(context.Background(), cfg))
	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})
	return store
}

func tempTableSuffix() string {
	return fmt.Sprintf("%d_%d", time.Now().UnixNano(), tableSeq.Add(1))
}

// tempTable creates a uniquely named table that is dropped at cleanup.
func tempTable(t *testing.T, store types.Store, schema map[string]string) string {
	t.Helper()
	name := "it_" + tempTableSuffix()
	require.NoError(t, store.CreateTable(context.Background(), name, schema))
	t.Cleanup(func() {
		_ = store.DropTable(context.Background(), name, true)
	})
	return name
}
