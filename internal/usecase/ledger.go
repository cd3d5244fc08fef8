package usecase

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"SqueezeWatch/internal/domain/models"
	"SqueezeWatch/pkg/logger"
)

var hundred = decimal.NewFromInt(100)

// Ledger tracks simulated positions and realized trades. All money math runs
// on decimals; position sizing, commissions and PnL follow the exchange fee
// model (maker on entry, taker on exit). One open position per symbol.
type Ledger struct {
	mu sync.RWMutex

	positions map[string]*models.Position
	lastPrice map[string]decimal.Decimal
	trades    []*models.ClosedTrade

	initialBalance decimal.Decimal
	balance        decimal.Decimal
	commissions    decimal.Decimal
	maxOpen        int
	winning        int

	logger *logger.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithMaxOpenPositions caps concurrently open positions.
func WithMaxOpenPositions(n int) LedgerOption {
	return func(l *Ledger) {
		if n > 0 {
			l.maxOpen = n
		}
	}
}

// NewLedger creates a ledger starting from initialBalance.
func NewLedger(initialBalance decimal.Decimal, log *logger.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		positions:      make(map[string]*models.Position),
		lastPrice:      make(map[string]decimal.Decimal),
		initialBalance: initialBalance,
		balance:        initialBalance,
		maxOpen:        3,
		logger:         log,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// OpenPosition sizes a new position from investedCapital at entryPrice and
// charges the maker-side commission. One position per symbol; the open-slot
// cap applies across symbols.
func (l *Ledger) OpenPosition(
	symbol string,
	side models.PositionSide,
	entryPrice, investedCapital, makerFee decimal.Decimal,
	at time.Time,
) (*models.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.positions[symbol]; ok {
		return nil, models.ErrPositionExists
	}
	if len(l.positions) >= l.maxOpen {
		return nil, models.ErrMaxOpenPositions
	}

	p, err := models.NewPosition(symbol, side, entryPrice, investedCapital, makerFee, at)
	if err != nil {
		return nil, err
	}

	l.positions[symbol] = p
	l.lastPrice[symbol] = entryPrice
	l.commissions = l.commissions.Add(p.EntryCommission)

	l.logger.Info("position opened",
		logger.String("symbol", symbol),
		logger.String("side", string(side)),
		logger.String("entry", entryPrice.String()),
		logger.String("quantity", p.Quantity.String()),
		logger.String("commission", p.EntryCommission.String()),
	)

	return p, nil
}

// MarkToMarket stores the latest price for the symbol's position and returns
// the gross PnL at that price. The capital invariant is re-checked on every
// mark; a breach flags the position for review and is reported alongside the
// still-usable gross value, never repaired in place.
func (l *Ledger) MarkToMarket(symbol string, currentPrice decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[symbol]
	if !ok {
		return decimal.Zero, models.ErrPositionNotFound
	}

	l.lastPrice[symbol] = currentPrice
	gross := p.GrossPnl(currentPrice)

	if err := p.Validate(); err != nil {
		p.NeedsReview = true
		l.logger.Error("position consistency breach",
			logger.String("symbol", symbol),
			logger.String("entry_price", p.EntryPrice.String()),
			logger.String("quantity", p.Quantity.String()),
			logger.String("invested_capital", p.InvestedCapital.String()),
			logger.Error(err),
		)
		return gross, err
	}

	return gross, nil
}

// ClosePosition closes the symbol's position at exitPrice, charging the
// taker-side commission, and returns the terminal trade record. Realized PnL
// moves the running balance.
func (l *Ledger) ClosePosition(symbol string, exitPrice, takerFee decimal.Decimal, at time.Time) (*models.ClosedTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[symbol]
	if !ok {
		return nil, models.ErrPositionNotFound
	}

	gross := p.GrossPnl(exitPrice)
	exitComm := p.ExitCommission(exitPrice, takerFee)
	real := gross.Sub(p.EntryCommission).Sub(exitComm)
	pct := real.Div(p.InvestedCapital).Mul(hundred)

	trade := &models.ClosedTrade{
		Symbol:          symbol,
		Side:            p.Side,
		EntryPrice:      p.EntryPrice,
		ExitPrice:       exitPrice,
		Quantity:        p.Quantity,
		InvestedCapital: p.InvestedCapital,
		GrossPnl:        gross,
		EntryCommission: p.EntryCommission,
		ExitCommission:  exitComm,
		RealPnl:         real,
		PnlPercent:      pct,
		Win:             real.Sign() > 0,
		OpenedAt:        p.OpenedAt,
		ClosedAt:        at,
	}

	delete(l.positions, symbol)
	delete(l.lastPrice, symbol)
	l.trades = append(l.trades, trade)
	l.balance = l.balance.Add(real)
	l.commissions = l.commissions.Add(exitComm)
	if trade.Win {
		l.winning++
	}

	l.logger.Info("position closed",
		logger.String("symbol", symbol),
		logger.String("side", string(p.Side)),
		logger.String("exit", exitPrice.String()),
		logger.String("real_pnl", real.String()),
		logger.String("pnl_pct", pct.StringFixed(3)),
	)

	return trade, nil
}

// Position returns the open position for symbol, if any.
func (l *Ledger) Position(symbol string) (*models.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.positions[symbol]
	return p, ok
}

// OpenViews returns all open positions marked to their last known price,
// with net PnL estimated as if each closed at that price.
func (l *Ledger) OpenViews(takerFee decimal.Decimal) []*models.PositionView {
	l.mu.RLock()
	defer l.mu.RUnlock()

	views := make([]*models.PositionView, 0, len(l.positions))
	for symbol, p := range l.positions {
		price := l.lastPrice[symbol]
		gross := p.GrossPnl(price)
		exitComm := p.ExitCommission(price, takerFee)
		net := gross.Sub(p.EntryCommission).Sub(exitComm)

		views = append(views, &models.PositionView{
			Symbol:          symbol,
			Side:            p.Side,
			EntryPrice:      p.EntryPrice,
			Quantity:        p.Quantity,
			InvestedCapital: p.InvestedCapital,
			CurrentPrice:    price,
			GrossPnl:        gross,
			EstimatedNetPnl: net,
			PnlPercent:      net.Div(p.InvestedCapital).Mul(hundred),
			NeedsReview:     p.NeedsReview,
			OpenedAt:        p.OpenedAt,
		})
	}

	sort.Slice(views, func(i, j int) bool { return views[i].Symbol < views[j].Symbol })
	return views
}

// Trades returns up to limit closed trades, newest first.
func (l *Ledger) Trades(limit int) []*models.ClosedTrade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.trades)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]*models.ClosedTrade, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.trades[i])
	}
	return out
}

// Stats summarizes realized performance since start.
func (l *Ledger) Stats() models.TradeStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := len(l.trades)
	stats := models.TradeStats{
		InitialBalance:   l.initialBalance,
		CurrentBalance:   l.balance,
		TotalReturn:      l.balance.Sub(l.initialBalance),
		TotalTrades:      total,
		WinningTrades:    l.winning,
		LosingTrades:     total - l.winning,
		TotalCommissions: l.commissions,
		OpenPositions:    len(l.positions),
		MaxPositions:     l.maxOpen,
	}

	if l.initialBalance.Sign() > 0 {
		stats.TotalReturnPct = stats.TotalReturn.Div(l.initialBalance).Mul(hundred)
	}
	if total > 0 {
		stats.WinRate = float64(l.winning) / float64(total) * 100
	}

	profit := decimal.Zero
	loss := decimal.Zero
	for _, t := range l.trades {
		if t.Win {
			profit = profit.Add(t.RealPnl)
		} else {
			loss = loss.Add(t.RealPnl.Abs())
		}
	}
	if loss.Sign() > 0 {
		stats.ProfitFactor, _ = profit.Div(loss).Float64()
	}

	return stats
}
