package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of a simulated position.
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// capitalTolerance bounds the allowed drift between entryPrice*quantity and
// investedCapital before a position is considered inconsistent.
var capitalTolerance = decimal.NewFromFloat(0.01)

// Position is one open simulated position. Quantity is derived from invested
// capital at entry, so entryPrice*quantity must stay within capitalTolerance
// of investedCapital for the lifetime of the position.
type Position struct {
	Symbol          string          `json:"symbol"`
	Side            PositionSide    `json:"side"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	Quantity        decimal.Decimal `json:"quantity"`
	InvestedCapital decimal.Decimal `json:"invested_capital"`
	EntryCommission decimal.Decimal `json:"entry_commission"`
	OpenedAt        time.Time       `json:"opened_at"`
	NeedsReview     bool            `json:"needs_review,omitempty"`
}

// NewPosition sizes a position from invested capital, charges the maker-side
// entry commission, and validates the capital invariant before returning.
func NewPosition(symbol string, side PositionSide, entryPrice, investedCapital, makerFee decimal.Decimal, openedAt time.Time) (*Position, error) {
	if side != SideLong && side != SideShort {
		return nil, fmt.Errorf("invalid position side %q", side)
	}
	if entryPrice.Sign() <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %s", entryPrice)
	}
	if investedCapital.Sign() <= 0 {
		return nil, fmt.Errorf("invested capital must be positive, got %s", investedCapital)
	}
	p := &Position{
		Symbol:          symbol,
		Side:            side,
		EntryPrice:      entryPrice,
		Quantity:        investedCapital.Div(entryPrice),
		InvestedCapital: investedCapital,
		EntryCommission: investedCapital.Mul(makerFee),
		OpenedAt:        openedAt,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the capital invariant and returns a ConsistencyError
// carrying all operands when it is broken.
func (p *Position) Validate() error {
	deviation := p.EntryPrice.Mul(p.Quantity).Sub(p.InvestedCapital).Abs()
	if deviation.GreaterThan(capitalTolerance) {
		return &ConsistencyError{
			Symbol:          p.Symbol,
			EntryPrice:      p.EntryPrice,
			Quantity:        p.Quantity,
			InvestedCapital: p.InvestedCapital,
			Deviation:       deviation,
		}
	}
	return nil
}

// GrossPnl returns the unrealized PnL at price, before commissions.
func (p *Position) GrossPnl(price decimal.Decimal) decimal.Decimal {
	if p.Side == SideShort {
		return p.EntryPrice.Sub(price).Mul(p.Quantity)
	}
	return price.Sub(p.EntryPrice).Mul(p.Quantity)
}

// ExitCommission returns the taker-side commission for closing at price.
func (p *Position) ExitCommission(price, takerFee decimal.Decimal) decimal.Decimal {
	return price.Mul(p.Quantity).Mul(takerFee)
}

// PositionView is an open position marked to the latest known price. The net
// estimate charges the exit commission as if the position closed at that
// price.
type PositionView struct {
	Symbol          string          `json:"symbol"`
	Side            PositionSide    `json:"side"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	Quantity        decimal.Decimal `json:"quantity"`
	InvestedCapital decimal.Decimal `json:"invested_capital"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	GrossPnl        decimal.Decimal `json:"gross_pnl"`
	EstimatedNetPnl decimal.Decimal `json:"estimated_net_pnl"`
	PnlPercent      decimal.Decimal `json:"pnl_percent"`
	NeedsReview     bool            `json:"needs_review,omitempty"`
	OpenedAt        time.Time       `json:"opened_at"`
}

// TradeStats summarizes the ledger's realized performance.
type TradeStats struct {
	InitialBalance   decimal.Decimal `json:"initial_balance"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	TotalReturn      decimal.Decimal `json:"total_return"`
	TotalReturnPct   decimal.Decimal `json:"total_return_pct"`
	TotalTrades      int             `json:"total_trades"`
	WinningTrades    int             `json:"winning_trades"`
	LosingTrades     int             `json:"losing_trades"`
	WinRate          float64         `json:"win_rate"`
	ProfitFactor     float64         `json:"profit_factor"` // zero when no losing trades yet
	TotalCommissions decimal.Decimal `json:"total_commissions"`
	OpenPositions    int             `json:"open_positions"`
	MaxPositions     int             `json:"max_positions"`
}

// ClosedTrade is the terminal record the ledger emits when a position closes.
type ClosedTrade struct {
	Symbol          string          `json:"symbol"`
	Side            PositionSide    `json:"side"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	ExitPrice       decimal.Decimal `json:"exit_price"`
	Quantity        decimal.Decimal `json:"quantity"`
	InvestedCapital decimal.Decimal `json:"invested_capital"`
	GrossPnl        decimal.Decimal `json:"gross_pnl"`
	EntryCommission decimal.Decimal `json:"entry_commission"`
	ExitCommission  decimal.Decimal `json:"exit_commission"`
	RealPnl         decimal.Decimal `json:"real_pnl"`
	PnlPercent      decimal.Decimal `json:"pnl_percent"`
	Win             bool            `json:"win"`
	OpenedAt        time.Time       `json:"opened_at"`
	ClosedAt        time.Time       `json:"closed_at"`
}
