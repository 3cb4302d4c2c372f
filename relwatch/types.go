package relwatch

import (
	"github.com/hazyhaar/relwatch/relwatch/internal/detect"
	"github.com/hazyhaar/relwatch/relwatch/internal/state"
	"github.com/hazyhaar/relwatch/relwatch/internal/store"
	"github.com/hazyhaar/relwatch/relwatch/internal/table"
)

// Re-exported types from internal packages for use by cmd/ and external callers.
type (
	Version     = state.Version
	Cached      = state.Cached
	StateStore  = state.Store
	StateRecord = state.Record
	RunEntry    = store.RunEntry
	Table       = table.Table
	Decision    = detect.Decision
)

// EncodeState converts c to its persisted cache.json layout.
func EncodeState(c Cached) StateRecord { return state.Encode(c) }
