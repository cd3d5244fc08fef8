package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Registry and ledger sentinel errors.
var (
	ErrSymbolExists     = errors.New("symbol already monitored")
	ErrSymbolNotFound   = errors.New("symbol not monitored")
	ErrSymbolRemoved    = errors.New("symbol removed")
	ErrEngineNotRunning = errors.New("engine not running")
	ErrPositionExists   = errors.New("position already open for symbol")
	ErrPositionNotFound = errors.New("no open position for symbol")
	ErrMaxOpenPositions = errors.New("max open positions reached")
)

// DataProviderError marks a transient market-data failure for one symbol.
// The owning cycle backs off and retries; other symbols are unaffected.
type DataProviderError struct {
	Symbol string
	Op     string
	Err    error
}

func (e *DataProviderError) Error() string {
	return fmt.Sprintf("data provider %s for %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *DataProviderError) Unwrap() error { return e.Err }

// IndicatorCalculationError marks a cycle whose indicator math could not be
// completed, usually from insufficient candles. The cycle is skipped and the
// failure counts toward the symbol's error threshold.
type IndicatorCalculationError struct {
	Symbol    string
	Indicator string
	Err       error
}

func (e *IndicatorCalculationError) Error() string {
	return fmt.Sprintf("indicator %s for %s: %v", e.Indicator, e.Symbol, e.Err)
}

func (e *IndicatorCalculationError) Unwrap() error { return e.Err }

// ConsistencyError reports a broken capital invariant on a position. All
// operands are carried so the breach can be logged verbatim; the position is
// flagged for review, never silently repaired.
type ConsistencyError struct {
	Symbol          string
	EntryPrice      decimal.Decimal
	Quantity        decimal.Decimal
	InvestedCapital decimal.Decimal
	Deviation       decimal.Decimal
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("position consistency breach for %s: entry=%s qty=%s capital=%s deviation=%s",
		e.Symbol, e.EntryPrice, e.Quantity, e.InvestedCapital, e.Deviation)
}

// RateLimitExceeded reports an API call stopped by the shared request budget
// before reaching the exchange. It is an expected outcome under load, not a
// failure: budget waits never count toward a symbol's error threshold.
// Alert-window suppression is recorded on the AlertRecord instead.
type RateLimitExceeded struct {
	Budget int // requests allowed per window
	Window time.Duration
	Err    error
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("api budget of %d per %s exhausted: %v", e.Budget, e.Window, e.Err)
}

func (e *RateLimitExceeded) Unwrap() error { return e.Err }

// DeliveryFailure reports a notification backend that could not deliver. The
// dispatcher degrades to the next backend in the chain.
type DeliveryFailure struct {
	Backend string
	Err     error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery via %s: %v", e.Backend, e.Err)
}

func (e *DeliveryFailure) Unwrap() error { return e.Err }
