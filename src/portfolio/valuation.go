package portfolio

import (
	"sort"
	"strings"
	"time"

	"portfoliodoctor/src/model"

	"github.com/shopspring/decimal"
)

const (
	TierCore        = "CORE"
	TierSatellite   = "SATELLITE"
	TierSpeculative = "SPECULATIVE"
)

var (
	stablecoins = map[string]bool{"USDT": true, "USDC": true, "TUSD": true, "USDD": true}

	coreAssets      = map[string]bool{"BTC": true, "ETH": true, "USDT": true, "USDC": true}
	satelliteAssets = map[string]bool{"ADA": true, "DOT": true, "LINK": true, "XRP": true, "MATIC": true, "BNB": true, "SOL": true}

	displayNames = map[string]string{
		"USDT":  "Tether",
		"USDC":  "USD Coin",
		"BTC":   "Bitcoin",
		"ETH":   "Ethereum",
		"BNB":   "BNB",
		"ADA":   "Cardano",
		"DOT":   "Polkadot",
		"LINK":  "Chainlink",
		"XRP":   "XRP",
		"MATIC": "Polygon",
		"SOL":   "Solana",
	}
)

// PriceFor resolves a USD price for asset from a pair price map keyed like
// btc_usdt. Lookup order: stablecoin, _usdt, _usd, then _btc times btc_usdt.
func PriceFor(asset string, prices map[string]decimal.Decimal) (decimal.Decimal, bool) {
	upper := strings.ToUpper(asset)
	if stablecoins[upper] {
		return decimal.NewFromInt(1), true
	}
	lower := strings.ToLower(asset)

	if p, ok := prices[lower+"_usdt"]; ok && p.IsPositive() {
		return p, true
	}
	if p, ok := prices[lower+"_usd"]; ok && p.IsPositive() {
		return p, true
	}
	btcPair, ok := prices[lower+"_btc"]
	btcUSDT := prices["btc_usdt"]
	if ok && btcPair.IsPositive() && btcUSDT.IsPositive() {
		return btcPair.Mul(btcUSDT), true
	}
	return decimal.Zero, false
}

func Tier(asset string) string {
	upper := strings.ToUpper(asset)
	switch {
	case coreAssets[upper]:
		return TierCore
	case satelliteAssets[upper]:
		return TierSatellite
	}
	return TierSpeculative
}

func DisplayName(asset string) string {
	if name, ok := displayNames[strings.ToUpper(asset)]; ok {
		return name
	}
	return asset
}

// BuildResponse values entries against prices, which may be nil, and
// produces the summary. Assets are ordered by USD value, unpriced last.
func BuildResponse(entries []model.PortfolioEntry, prices map[string]decimal.Decimal, connectedExchanges int) model.PortfolioResponse {
	summary := model.PortfolioSummary{
		TotalValueUSD: decimal.Zero,
		AssetCount:    len(entries),
		ExchangeCount: connectedExchanges,
		ByTier:        map[string]decimal.Decimal{},
	}

	assets := make([]model.ValuedEntry, 0, len(entries))
	var last time.Time
	for _, e := range entries {
		v := model.ValuedEntry{
			PortfolioEntry: e,
			Name:           DisplayName(e.AssetCode),
			Tier:           Tier(e.AssetCode),
		}
		if v.Breakdown == nil {
			v.Breakdown = []model.PortfolioBreakdown{}
		}
		if price, ok := PriceFor(e.AssetCode, prices); ok {
			value := e.Total().Mul(price)
			v.PriceUSD = &price
			v.ValueUSD = &value
			summary.TotalValueUSD = summary.TotalValueUSD.Add(value)
			summary.ByTier[v.Tier] = summary.ByTier[v.Tier].Add(value)
		}
		summary.Stale = summary.Stale || e.Stale
		if e.LastSyncedAt.After(last) {
			last = e.LastSyncedAt
		}
		assets = append(assets, v)
	}
	if !last.IsZero() {
		summary.LastSyncedAt = &last
	}

	sort.SliceStable(assets, func(i, j int) bool {
		a, b := assets[i].ValueUSD, assets[j].ValueUSD
		switch {
		case a == nil && b == nil:
			return assets[i].AssetCode < assets[j].AssetCode
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.GreaterThan(*b)
	})

	return model.PortfolioResponse{Summary: summary, Assets: assets}
}
