package postgres

import (
	"fmt"
	"log"
	"sync"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// hookRegistry holds before/after insert hooks keyed by table name or the
// wildcard. Registration is intended for composition time; the lock only
// guards against registration racing the first inserts.
type hookRegistry struct {
	mu     sync.RWMutex
	before map[string][]types.Hook
	after  map[string][]types.Hook
}

func newHookRegistry() *hookRegistry {
	return &hookRegistry{
		before: make(map[string][]types.Hook),
		after:  make(map[string][]types.Hook),
	}
}

func hookKey(table string) string {
	if table == "" {
		return types.HookWildcard
	}
	return table
}

// RegisterBeforeInsert adds a before-insert hook for a table; an empty
// table or HookWildcard registers it for every table.
func (b *Backend) RegisterBeforeInsert(table string, fn types.Hook) {
	key := hookKey(table)
	b.hooks.mu.Lock()
	b.hooks.before[key] = append(b.hooks.before[key], fn)
	b.hooks.mu.Unlock()
}

// RegisterAfterInsert adds an after-insert hook for a table; an empty
// table or HookWildcard registers it for every table.
func (b *Backend) RegisterAfterInsert(table string, fn types.Hook) {
	key := hookKey(table)
	b.hooks.mu.Lock()
	b.hooks.after[key] = append(b.hooks.after[key], fn)
	b.hooks.mu.Unlock()
}

// tiers returns the hook lists for a table: wildcard first, then
// table-specific, in registration order within each tier.
func tiers(m map[string][]types.Hook, table string) [][]types.Hook {
	return [][]types.Hook{m[types.HookWildcard], m[table]}
}

// runBeforeHooks executes before-insert hooks against the mutable field
// mapping. The first hook error aborts the insert, wrapped in ErrHook.
func (b *Backend) runBeforeHooks(table string, fields map[string]any) error {
	b.hooks.mu.RLock()
	lists := tiers(b.hooks.before, table)
	b.hooks.mu.RUnlock()
	for tier, list := range lists {
		key := types.HookWildcard
		if tier == 1 {
			key = table
		}
		for _, fn := range list {
			if err := fn(fields); err != nil {
				return fmt.Errorf("%w (%s): %v", types.ErrHook, key, err)
			}
		}
	}
	return nil
}

// runAfterHooks executes after-insert hooks. The insert has already
// succeeded, so hook errors are logged and discarded.
func (b *Backend) runAfterHooks(table string, fields map[string]any) {
	b.hooks.mu.RLock()
	lists := tiers(b.hooks.after, table)
	b.hooks.mu.RUnlock()
	for tier, list := range lists {
		key := types.HookWildcard
		if tier == 1 {
			key = table
		}
		for _, fn := range list {
			if err := fn(fields); err != nil {
				log.Printf("tabula: after-insert hook (%s) on %q: %v", key, table, err)
			}
		}
	}
}
