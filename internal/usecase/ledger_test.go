package usecase

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SqueezeWatch/internal/domain/models"
	"SqueezeWatch/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stderr"})
	require.NoError(t, err)
	return l
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedger_LongRoundTrip(t *testing.T) {
	l := NewLedger(dec("10000"), testLogger(t))
	openedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	p, err := l.OpenPosition("BTCUSDT", models.SideLong, dec("50000"), dec("100"), dec("0.001"), openedAt)
	require.NoError(t, err)
	assert.True(t, p.Quantity.Equal(dec("0.002")), "quantity = capital/entry, got %s", p.Quantity)
	assert.True(t, p.EntryCommission.Equal(dec("0.1")), "entry commission, got %s", p.EntryCommission)

	gross, err := l.MarkToMarket("BTCUSDT", dec("50500"))
	require.NoError(t, err)
	assert.True(t, gross.Equal(dec("1.00")), "gross pnl, got %s", gross)

	trade, err := l.ClosePosition("BTCUSDT", dec("50500"), dec("0.001"), openedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, trade.GrossPnl.Equal(dec("1.00")), "gross, got %s", trade.GrossPnl)
	assert.True(t, trade.ExitCommission.Equal(dec("0.101")), "exit commission, got %s", trade.ExitCommission)
	assert.True(t, trade.RealPnl.Equal(dec("0.799")), "real pnl, got %s", trade.RealPnl)
	assert.True(t, trade.PnlPercent.Equal(dec("0.799")), "pnl pct, got %s", trade.PnlPercent)
	assert.True(t, trade.Win)

	// realized pnl moves the balance
	stats := l.Stats()
	assert.True(t, stats.CurrentBalance.Equal(dec("10000.799")), "balance, got %s", stats.CurrentBalance)
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, 1, stats.WinningTrades)
	assert.Equal(t, 0, stats.OpenPositions)
}

func TestLedger_ShortGross(t *testing.T) {
	l := NewLedger(dec("10000"), testLogger(t))

	_, err := l.OpenPosition("BTCUSDT", models.SideShort, dec("50000"), dec("100"), dec("0.001"), time.Now())
	require.NoError(t, err)

	gross, err := l.MarkToMarket("BTCUSDT", dec("49500"))
	require.NoError(t, err)
	assert.True(t, gross.Equal(dec("1.00")), "short gross pnl on a fall, got %s", gross)
}

func TestLedger_ConsistencyViolation(t *testing.T) {
	// entry*qty = 100 while capital claims 50: invariant broken by construction
	p := &models.Position{
		Symbol:          "BADUSDT",
		Side:            models.SideLong,
		EntryPrice:      dec("100"),
		Quantity:        dec("1"),
		InvestedCapital: dec("50"),
	}

	err := p.Validate()
	require.Error(t, err)

	var cerr *models.ConsistencyError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "BADUSDT", cerr.Symbol)
	assert.True(t, cerr.Deviation.Equal(dec("50")), "deviation, got %s", cerr.Deviation)
}

func TestLedger_MarkToMarketFlagsReview(t *testing.T) {
	l := NewLedger(dec("10000"), testLogger(t))

	_, err := l.OpenPosition("BTCUSDT", models.SideLong, dec("50000"), dec("100"), dec("0.001"), time.Now())
	require.NoError(t, err)

	// corrupt the invariant behind the ledger's back
	p, ok := l.Position("BTCUSDT")
	require.True(t, ok)
	p.Quantity = dec("1")

	gross, err := l.MarkToMarket("BTCUSDT", dec("50500"))
	var cerr *models.ConsistencyError
	require.True(t, errors.As(err, &cerr))
	// gross is still computed so monitoring can continue
	assert.True(t, gross.Equal(dec("500")), "gross, got %s", gross)
	assert.True(t, p.NeedsReview)
}

func TestLedger_OnePositionPerSymbol(t *testing.T) {
	l := NewLedger(dec("10000"), testLogger(t))

	_, err := l.OpenPosition("BTCUSDT", models.SideLong, dec("50000"), dec("100"), dec("0.001"), time.Now())
	require.NoError(t, err)

	_, err = l.OpenPosition("BTCUSDT", models.SideShort, dec("50000"), dec("100"), dec("0.001"), time.Now())
	assert.ErrorIs(t, err, models.ErrPositionExists)
}

func TestLedger_MaxOpenPositions(t *testing.T) {
	l := NewLedger(dec("10000"), testLogger(t), WithMaxOpenPositions(2))

	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		_, err := l.OpenPosition(sym, models.SideLong, dec("100"), dec("100"), dec("0.001"), time.Now())
		require.NoError(t, err)
	}

	_, err := l.OpenPosition("SOLUSDT", models.SideLong, dec("100"), dec("100"), dec("0.001"), time.Now())
	assert.ErrorIs(t, err, models.ErrMaxOpenPositions)

	// closing frees a slot
	_, err = l.ClosePosition("BTCUSDT", dec("101"), dec("0.001"), time.Now())
	require.NoError(t, err)
	_, err = l.OpenPosition("SOLUSDT", models.SideLong, dec("100"), dec("100"), dec("0.001"), time.Now())
	assert.NoError(t, err)
}

func TestLedger_UnknownSymbol(t *testing.T) {
	l := NewLedger(dec("10000"), testLogger(t))

	_, err := l.MarkToMarket("NOPEUSDT", dec("1"))
	assert.ErrorIs(t, err, models.ErrPositionNotFound)

	_, err = l.ClosePosition("NOPEUSDT", dec("1"), dec("0.001"), time.Now())
	assert.ErrorIs(t, err, models.ErrPositionNotFound)
}

func TestLedger_ViewsAndTrades(t *testing.T) {
	l := NewLedger(dec("10000"), testLogger(t))

	_, err := l.OpenPosition("ETHUSDT", models.SideLong, dec("2000"), dec("100"), dec("0.001"), time.Now())
	require.NoError(t, err)
	_, err = l.MarkToMarket("ETHUSDT", dec("2100"))
	require.NoError(t, err)

	views := l.OpenViews(dec("0.001"))
	require.Len(t, views, 1)
	assert.Equal(t, "ETHUSDT", views[0].Symbol)
	assert.True(t, views[0].CurrentPrice.Equal(dec("2100")))
	assert.True(t, views[0].GrossPnl.Equal(dec("5")), "gross at 2100, got %s", views[0].GrossPnl)

	_, err = l.ClosePosition("ETHUSDT", dec("1900"), dec("0.001"), time.Now())
	require.NoError(t, err)

	trades := l.Trades(10)
	require.Len(t, trades, 1)
	assert.False(t, trades[0].Win)

	stats := l.Stats()
	assert.Equal(t, 1, stats.LosingTrades)
	assert.Zero(t, stats.ProfitFactor)
}
