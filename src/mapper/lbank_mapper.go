package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"portfoliodoctor/src/model"
	"portfoliodoctor/src/utils"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const lbankExchangeID = "lbank"

var assetAmtTolerance = decimal.RequireFromString("0.0001")

// flexDecimal accepts "1.5", 1.5, "" and null.
type flexDecimal struct {
	decimal.Decimal
}

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		f.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q: %w", s, err)
	}
	f.Decimal = d
	return nil
}

type lbankSpotAsset struct {
	Coin      string      `json:"coin"`
	UsableAmt flexDecimal `json:"usableAmt"`
	FreezeAmt flexDecimal `json:"freezeAmt"`
	AssetAmt  flexDecimal `json:"assetAmt"`
}

type lbankTradeBalance struct {
	Asset  string      `json:"asset"`
	Free   flexDecimal `json:"free"`
	Locked flexDecimal `json:"locked"`
}

type lbankTradeAccount struct {
	Balances []lbankTradeBalance    `json:"balances"`
	Free     map[string]flexDecimal `json:"free"`
	Freeze   map[string]flexDecimal `json:"freeze"`
	Info     *lbankTradeAccount     `json:"info"`
	Data     *lbankTradeAccount     `json:"data"`
}

type lbankPrice struct {
	Symbol string      `json:"symbol"`
	Price  flexDecimal `json:"price"`
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// extractSpotRows finds the asset list in the shapes LBank has been seen to
// return: a bare array, data, data.data or info.
func extractSpotRows(raw json.RawMessage) ([]lbankSpotAsset, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	if isArray(raw) {
		var rows []lbankSpotAsset
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decode spot assets: %w", err)
		}
		return rows, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode spot assets: %w", err)
	}
	for _, key := range []string{"data", "info"} {
		if nested, ok := obj[key]; ok {
			return extractSpotRows(nested)
		}
	}
	logger.WithField("mapper", "MapLBankSpotAssets").Warn("no asset list found in LBank response")
	return nil, nil
}

// MapLBankSpotAssets converts /v2/supplement/user_info.do rows. When
// assetAmt disagrees with usable+freeze the venue total wins and the gap is
// booked as locked.
func MapLBankSpotAssets(raw json.RawMessage, asOf time.Time) ([]model.Balance, error) {
	rows, err := extractSpotRows(raw)
	if err != nil {
		return nil, err
	}

	out := make([]model.Balance, 0, len(rows))
	for _, row := range rows {
		code := utils.NormalizeAsset(row.Coin)
		if code == "" {
			continue
		}
		free := row.UsableAmt.Decimal
		locked := row.FreezeAmt.Decimal
		total := free.Add(locked)

		if row.AssetAmt.IsPositive() && row.AssetAmt.Sub(total).Abs().GreaterThan(assetAmtTolerance) {
			logger.WithFields(map[string]interface{}{
				"asset":    code,
				"assetAmt": row.AssetAmt.String(),
				"computed": total.String(),
			}).Warn("LBank assetAmt differs from usable+freeze, using assetAmt")
			locked = decimal.Max(row.AssetAmt.Sub(free), decimal.Zero)
			if row.AssetAmt.LessThan(free) {
				free = row.AssetAmt.Decimal
			}
		}

		out = append(out, model.Balance{
			ExchangeID: lbankExchangeID,
			AssetCode:  code,
			Free:       free,
			Locked:     locked,
			AsOf:       asOf,
		})
	}
	return out, nil
}

// MapLBankTradeAccount converts /v2/supplement/user_info_account.do.
func MapLBankTradeAccount(raw json.RawMessage, asOf time.Time) ([]model.Balance, error) {
	if len(bytes.TrimSpace(raw)) == 0 || isArray(raw) {
		return nil, nil
	}
	var acc lbankTradeAccount
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("decode trade account: %w", err)
	}
	for acc.Balances == nil && acc.Free == nil {
		switch {
		case acc.Info != nil:
			acc = *acc.Info
		case acc.Data != nil:
			acc = *acc.Data
		default:
			return nil, nil
		}
	}

	var out []model.Balance
	if len(acc.Balances) > 0 {
		for _, b := range acc.Balances {
			code := utils.NormalizeAsset(b.Asset)
			if code == "" {
				continue
			}
			out = append(out, model.Balance{
				ExchangeID: lbankExchangeID,
				AssetCode:  code,
				Free:       b.Free.Decimal,
				Locked:     b.Locked.Decimal,
				AsOf:       asOf,
			})
		}
		return out, nil
	}

	seen := map[string]bool{}
	for code := range acc.Free {
		seen[code] = true
	}
	for code := range acc.Freeze {
		seen[code] = true
	}
	for code := range seen {
		out = append(out, model.Balance{
			ExchangeID: lbankExchangeID,
			AssetCode:  utils.NormalizeAsset(code),
			Free:       acc.Free[code].Decimal,
			Locked:     acc.Freeze[code].Decimal,
			AsOf:       asOf,
		})
	}
	return out, nil
}

// MapLBankPrices converts the ticker price list into a lower-case symbol map.
// Non-positive prices are dropped.
func MapLBankPrices(raw json.RawMessage) (map[string]decimal.Decimal, error) {
	var rows []lbankPrice
	if isArray(raw) {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decode prices: %w", err)
		}
	} else {
		var one lbankPrice
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("decode prices: %w", err)
		}
		rows = []lbankPrice{one}
	}

	out := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		sym := strings.ToLower(strings.TrimSpace(r.Symbol))
		if sym == "" || !r.Price.IsPositive() {
			continue
		}
		out[sym] = r.Price.Decimal
	}
	return out, nil
}

// MergeBalances sums sub-account balances per asset, drops zero totals and
// sorts by asset code. The newest AsOf wins.
func MergeBalances(exchangeID string, sets ...[]model.Balance) []model.Balance {
	byAsset := map[string]*model.Balance{}
	for _, set := range sets {
		for _, b := range set {
			code := utils.NormalizeAsset(b.AssetCode)
			if code == "" {
				continue
			}
			if b.Free.IsNegative() || b.Locked.IsNegative() {
				logger.WithFields(map[string]interface{}{
					"exchange": exchangeID,
					"asset":    code,
				}).Warn("negative balance reported, ignoring row")
				continue
			}
			cur, ok := byAsset[code]
			if !ok {
				nb := b
				nb.ExchangeID = exchangeID
				nb.AssetCode = code
				byAsset[code] = &nb
				continue
			}
			cur.Free = cur.Free.Add(b.Free)
			cur.Locked = cur.Locked.Add(b.Locked)
			cur.AsOf = utils.LatestOf(cur.AsOf, b.AsOf)
		}
	}

	out := make([]model.Balance, 0, len(byAsset))
	for _, b := range byAsset {
		if b.Total().IsZero() {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetCode < out[j].AssetCode })
	return out
}
