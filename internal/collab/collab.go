// Package collab defines the narrow collaborator interfaces the position
// monitor depends on but does not implement: symbol classification and the
// LLM exit-signal generator (spec §4.4, §6). Concrete implementations live
// outside this module; test doubles for these interfaces live alongside
// the monitor's tests.
package collab

import (
	"context"

	"mt4core/internal/model"
)

// SymbolMapper resolves a universal symbol to broker-specific metadata.
// AssetClass returns ok=false when the symbol cannot be classified. The
// monitor's scope filter does not call AssetClass; it matches a fixed
// symbol and strategy category (spec §4.4 step 1).
type SymbolMapper interface {
	AssetClass(ctx context.Context, universalSymbol string) (assetClass string, ok bool)

	// ResolveSymbol translates a universal symbol into the broker-specific
	// symbol createMarketOrder submits to the bridge. ok=false means the
	// universal symbol has no broker mapping; callers must fail the order
	// with SymbolUnavailable rather than submit the unresolved symbol
	// (spec §2.2, §4.1).
	ResolveSymbol(ctx context.Context, universalSymbol string) (brokerSymbol string, ok bool)
}

// ExitSignalGenerator produces the LLM-backed exit recommendation consumed
// by the position monitor's sixth gate (spec §4.4 step 7, §6). It is
// expected to be slow (network round trip to an LLM backend); callers run
// it per-position, never in a tight loop.
type ExitSignalGenerator interface {
	GenerateExitSignal(ctx context.Context, pos model.MonitoredPosition, order model.Order) (model.ExitSignal, error)
}

// Notifier delivers a human-facing message about a position lifecycle
// event (spec §4.5). Delivery failures are logged by the caller and never
// block the close flow.
type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}
