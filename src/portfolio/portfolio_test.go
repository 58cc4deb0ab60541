package portfolio

import (
	"testing"
	"time"

	"portfoliodoctor/src/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func row(exchange, asset, free, locked string, asOf time.Time) model.PortfolioBreakdown {
	return model.PortfolioBreakdown{UserID: "u-1", ExchangeID: exchange, AssetCode: asset, Free: d(free), Locked: d(locked), AsOf: asOf}
}

func bal(exchange, asset, free, locked string) model.Balance {
	return model.Balance{ExchangeID: exchange, AssetCode: asset, Free: d(free), Locked: d(locked), AsOf: t1}
}

func assertTotalsMatchBreakdown(t *testing.T, entries []model.PortfolioEntry) {
	t.Helper()
	for _, e := range entries {
		free, locked := decimal.Zero, decimal.Zero
		for _, b := range e.Breakdown {
			free = free.Add(b.Free)
			locked = locked.Add(b.Locked)
		}
		assert.True(t, e.AggregatedFree.Equal(free), "%s free %s != %s", e.AssetCode, e.AggregatedFree, free)
		assert.True(t, e.AggregatedLocked.Equal(locked), "%s locked %s != %s", e.AssetCode, e.AggregatedLocked, locked)
	}
}

func TestReconcileSucceededAndFailed(t *testing.T) {
	prior := []model.PortfolioBreakdown{
		row("lbank", "BTC", "0.5", "0", t0),
		row("venuex", "BTC", "2", "0.1", t0),
		row("venuex", "ETH", "3", "0", t0),
	}
	rows := Reconcile("u-1", prior, []ExchangeResult{
		{ExchangeID: "lbank", Status: model.ExchangeSucceeded, Balances: []model.Balance{bal("lbank", "btc", "1.0", "0")}},
		{ExchangeID: "venuex", Status: model.ExchangeFailed},
	}, t1)

	entries := Aggregate("u-1", rows)
	require.Len(t, entries, 2)
	assertTotalsMatchBreakdown(t, entries)

	btc := entries[0]
	assert.Equal(t, "BTC", btc.AssetCode)
	assert.True(t, btc.AggregatedFree.Equal(d("3")), "fresh 1.0 plus stale 2")
	assert.True(t, btc.AggregatedLocked.Equal(d("0.1")))
	assert.True(t, btc.Stale)
	assert.Equal(t, t1, btc.LastSyncedAt)
	require.Len(t, btc.Breakdown, 2)
	assert.False(t, btc.Breakdown[0].Stale, "lbank row is fresh")
	assert.True(t, btc.Breakdown[1].Stale, "venuex row is stale")
	assert.Equal(t, t0, btc.Breakdown[1].AsOf, "stale rows keep their as_of")

	eth := entries[1]
	assert.True(t, eth.Stale)
	assert.True(t, eth.Total().Equal(d("3")))
}

func TestReconcileDropsDisconnectedAndDropPrior(t *testing.T) {
	prior := []model.PortfolioBreakdown{
		row("lbank", "BTC", "1", "0", t0),
		row("revoked", "ETH", "1", "0", t0),
		row("gone", "XRP", "5", "0", t0),
	}
	rows := Reconcile("u-1", prior, []ExchangeResult{
		{ExchangeID: "lbank", Status: model.ExchangeSkipped},
		{ExchangeID: "revoked", Status: model.ExchangeSkipped, DropPrior: true},
	}, t1)

	require.Len(t, rows, 1)
	assert.Equal(t, "lbank", rows[0].ExchangeID)
	assert.True(t, rows[0].Stale)
}

func TestReconcileFreshReplacesPrior(t *testing.T) {
	prior := []model.PortfolioBreakdown{
		row("lbank", "BTC", "1", "0", t0),
		row("lbank", "DOGE", "100", "0", t0),
	}
	rows := Reconcile("u-1", prior, []ExchangeResult{
		{ExchangeID: "lbank", Status: model.ExchangeSucceeded, Balances: []model.Balance{
			bal("lbank", "BTC", "2", "0"),
			bal("lbank", "USDT", "0", "0"),
		}},
	}, t1)

	require.Len(t, rows, 1, "sold DOGE disappears and zero USDT is not stored")
	assert.True(t, rows[0].Free.Equal(d("2")))
	assert.False(t, rows[0].Stale)
}

func TestReconcileIsIdempotent(t *testing.T) {
	results := []ExchangeResult{
		{ExchangeID: "lbank", Status: model.ExchangeSucceeded, Balances: []model.Balance{bal("lbank", "BTC", "1", "0")}},
	}
	first := Reconcile("u-1", nil, results, t1)
	second := Reconcile("u-1", first, results, t1)
	assert.Equal(t, first, second)
}

func TestAggregateEmpty(t *testing.T) {
	assert.Empty(t, Aggregate("u-1", nil))
}

func TestPriceFor(t *testing.T) {
	prices := map[string]decimal.Decimal{
		"btc_usdt":  d("60000"),
		"eth_usdt":  d("3000"),
		"xrp_usd":   d("0.5"),
		"abc_btc":   d("0.0001"),
		"zero_usdt": d("0"),
	}

	cases := []struct {
		asset string
		want  string
		ok    bool
	}{
		{"USDT", "1", true},
		{"usdc", "1", true},
		{"ETH", "3000", true},
		{"XRP", "0.5", true},
		{"ABC", "6", true},
		{"ZERO", "0", false},
		{"NOPE", "0", false},
	}
	for _, tc := range cases {
		t.Run(tc.asset, func(t *testing.T) {
			got, ok := PriceFor(tc.asset, prices)
			assert.Equal(t, tc.ok, ok)
			assert.True(t, got.Equal(d(tc.want)), "got %s", got)
		})
	}
}

func TestTierAndName(t *testing.T) {
	assert.Equal(t, TierCore, Tier("btc"))
	assert.Equal(t, TierSatellite, Tier("SOL"))
	assert.Equal(t, TierSpeculative, Tier("PEPE"))
	assert.Equal(t, "Polygon", DisplayName("matic"))
	assert.Equal(t, "PEPE", DisplayName("PEPE"))
}

func TestBuildResponse(t *testing.T) {
	entries := Aggregate("u-1", []model.PortfolioBreakdown{
		row("lbank", "BTC", "0.5", "0", t0),
		row("lbank", "PEPE", "1000", "0", t1),
		{UserID: "u-1", ExchangeID: "binance", AssetCode: "USDT", Free: d("100"), Locked: d("50"), AsOf: t0, Stale: true},
	})
	prices := map[string]decimal.Decimal{"btc_usdt": d("60000")}

	resp := BuildResponse(entries, prices, 2)
	require.Len(t, resp.Assets, 3)
	assert.Equal(t, "BTC", resp.Assets[0].AssetCode)
	assert.Equal(t, "Bitcoin", resp.Assets[0].Name)
	assert.Equal(t, "USDT", resp.Assets[1].AssetCode)
	assert.Equal(t, "PEPE", resp.Assets[2].AssetCode)
	assert.Nil(t, resp.Assets[2].ValueUSD)

	assert.True(t, resp.Summary.TotalValueUSD.Equal(d("30150")))
	assert.True(t, resp.Summary.ByTier[TierCore].Equal(d("30150")))
	assert.Equal(t, 3, resp.Summary.AssetCount)
	assert.Equal(t, 2, resp.Summary.ExchangeCount)
	assert.True(t, resp.Summary.Stale)
	require.NotNil(t, resp.Summary.LastSyncedAt)
	assert.Equal(t, t1, *resp.Summary.LastSyncedAt)

	empty := BuildResponse(nil, nil, 0)
	assert.Empty(t, empty.Assets)
	assert.NotNil(t, empty.Assets)
	assert.Nil(t, empty.Summary.LastSyncedAt)
}
