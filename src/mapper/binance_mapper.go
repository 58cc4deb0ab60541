package mapper

import (
	"time"

	"portfoliodoctor/src/model"

	"github.com/nntaoli-project/goex"
	"github.com/shopspring/decimal"
)

const binanceExchangeID = "binance"

// MapGoexAccount converts a goex account snapshot into balances. Amount is the
// free part and ForzenAmount the locked part.
func MapGoexAccount(acc *goex.Account, asOf time.Time) []model.Balance {
	if acc == nil {
		return nil
	}
	out := make([]model.Balance, 0, len(acc.SubAccounts))
	for currency, sub := range acc.SubAccounts {
		symbol := sub.Currency.Symbol
		if symbol == "" {
			symbol = currency.Symbol
		}
		out = append(out, model.Balance{
			ExchangeID: binanceExchangeID,
			AssetCode:  symbol,
			Free:       decimal.NewFromFloat(sub.Amount),
			Locked:     decimal.NewFromFloat(sub.ForzenAmount),
			AsOf:       asOf,
		})
	}
	return MergeBalances(binanceExchangeID, out)
}
