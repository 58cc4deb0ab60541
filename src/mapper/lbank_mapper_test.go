package mapper

import (
	"encoding/json"
	"testing"
	"time"

	"portfoliodoctor/src/model"

	"github.com/nntaoli-project/goex"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var asOf = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMapLBankSpotAssets_DirectArray(t *testing.T) {
	raw := json.RawMessage(`[
		{"coin":"btc","usableAmt":"1.5","freezeAmt":"0.5","assetAmt":"2"},
		{"coin":"eth","usableAmt":"0","freezeAmt":"0","assetAmt":"0"},
		{"coin":"usdt","usableAmt":100,"freezeAmt":"","assetAmt":null}
	]`)

	got, err := MapLBankSpotAssets(raw, asOf)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "BTC", got[0].AssetCode)
	assert.True(t, got[0].Free.Equal(dec("1.5")))
	assert.True(t, got[0].Locked.Equal(dec("0.5")))
	assert.Equal(t, "lbank", got[0].ExchangeID)
	assert.Equal(t, asOf, got[0].AsOf)
	assert.True(t, got[2].Free.Equal(dec("100")))
	assert.True(t, got[2].Locked.IsZero())
}

func TestMapLBankSpotAssets_NestedAndAssetAmtWins(t *testing.T) {
	raw := json.RawMessage(`{"data":{"data":[{"coin":"sol","usableAmt":"1","freezeAmt":"0","assetAmt":"3"}]}}`)

	got, err := MapLBankSpotAssets(raw, asOf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Total().Equal(dec("3")))
	assert.True(t, got[0].Free.Equal(dec("1")))
	assert.True(t, got[0].Locked.Equal(dec("2")))
}

func TestMapLBankSpotAssets_Malformed(t *testing.T) {
	_, err := MapLBankSpotAssets(json.RawMessage(`[{"coin":"btc","usableAmt":"abc"}]`), asOf)
	assert.Error(t, err)
}

func TestMapLBankTradeAccount(t *testing.T) {
	raw := json.RawMessage(`{"info":{"canTrade":true,"balances":[{"asset":"btc","free":"0.1","locked":"0.2"}]}}`)
	got, err := MapLBankTradeAccount(raw, asOf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BTC", got[0].AssetCode)
	assert.True(t, got[0].Locked.Equal(dec("0.2")))

	legacy := json.RawMessage(`{"free":{"eth":"2"},"freeze":{"eth":"1","xrp":"5"}}`)
	got, err = MapLBankTradeAccount(legacy, asOf)
	require.NoError(t, err)
	merged := MergeBalances("lbank", got)
	require.Len(t, merged, 2)
	assert.Equal(t, "ETH", merged[0].AssetCode)
	assert.True(t, merged[0].Total().Equal(dec("3")))
	assert.True(t, merged[1].Free.IsZero())
}

func TestMergeBalancesSumsAndDropsZero(t *testing.T) {
	spot := []model.Balance{
		{AssetCode: "BTC", Free: dec("1"), Locked: dec("0"), AsOf: asOf},
		{AssetCode: "DOGE", Free: dec("0"), Locked: dec("0"), AsOf: asOf},
	}
	trade := []model.Balance{
		{AssetCode: "btc", Free: dec("0.25"), Locked: dec("0.75"), AsOf: asOf.Add(time.Second)},
		{AssetCode: "ADA", Free: dec("-1"), Locked: dec("0"), AsOf: asOf},
	}

	got := MergeBalances("lbank", spot, trade)
	require.Len(t, got, 1)
	assert.Equal(t, "BTC", got[0].AssetCode)
	assert.True(t, got[0].Free.Equal(dec("1.25")))
	assert.True(t, got[0].Locked.Equal(dec("0.75")))
	assert.Equal(t, asOf.Add(time.Second), got[0].AsOf)
}

func TestMapLBankPrices(t *testing.T) {
	got, err := MapLBankPrices(json.RawMessage(`[{"symbol":"BTC_USDT","price":"65000.1"},{"symbol":"bad_usdt","price":"0"}]`))
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.True(t, got["btc_usdt"].Equal(dec("65000.1")))
}

func TestMapGoexAccount(t *testing.T) {
	acc := &goex.Account{
		SubAccounts: map[goex.Currency]goex.SubAccount{
			goex.BTC:  {Currency: goex.BTC, Amount: 0.5, ForzenAmount: 0.25},
			goex.USDT: {Currency: goex.USDT, Amount: 0, ForzenAmount: 0},
		},
	}

	got := MapGoexAccount(acc, asOf)
	require.Len(t, got, 1)
	assert.Equal(t, "BTC", got[0].AssetCode)
	assert.Equal(t, "binance", got[0].ExchangeID)
	assert.True(t, got[0].Total().Equal(dec("0.75")))
	assert.Nil(t, MapGoexAccount(nil, asOf))
}
