package types

// Hook is invoked with the mutable field mapping of a row being inserted.
//
// Before-insert hooks may add or modify fields; an error from a before-insert
// hook aborts the insert and propagates wrapped in ErrHook. Errors from
// after-insert hooks are logged and discarded: the insert has already
// succeeded and is not undone by an after-hook problem.
type Hook func(fields map[string]any) error

// HookWildcard registers a hook for every table.
const HookWildcard = "*"

// QueryLogger receives every statement and its bound parameters before
// execution. A logger must never disrupt the primary operation; panics
// raised inside it are recovered and discarded.
type QueryLogger func(sql string, args []any)
