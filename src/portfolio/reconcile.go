// Package portfolio merges exchange balances into the persisted snapshot and
// values it.
package portfolio

import (
	"sort"
	"time"

	"portfoliodoctor/src/model"
	"portfoliodoctor/src/utils"

	"github.com/shopspring/decimal"
)

// ExchangeResult is the outcome of one exchange fetch as seen by the merge.
type ExchangeResult struct {
	ExchangeID string
	Status     model.ExchangeSyncStatus
	Balances   []model.Balance
	// DropPrior removes the last-known rows instead of keeping them stale.
	DropPrior bool
}

// Reconcile computes the new breakdown of a user from the previous rows and
// the results of a run.
//
// Succeeded exchanges replace their rows with the fresh balances. Any other
// status keeps the previous rows, flagged stale with their original as_of,
// unless DropPrior is set. Rows of exchanges absent from results are no
// longer connected and are dropped.
func Reconcile(userID string, prior []model.PortfolioBreakdown, results []ExchangeResult, now time.Time) []model.PortfolioBreakdown {
	byExchange := make(map[string][]model.PortfolioBreakdown)
	for _, row := range prior {
		byExchange[row.ExchangeID] = append(byExchange[row.ExchangeID], row)
	}

	var out []model.PortfolioBreakdown
	for _, res := range results {
		switch {
		case res.Status == model.ExchangeSucceeded:
			for _, b := range res.Balances {
				asset := utils.NormalizeAsset(b.AssetCode)
				if asset == "" || b.Total().IsZero() {
					continue
				}
				asOf := b.AsOf
				if asOf.IsZero() {
					asOf = now
				}
				out = append(out, model.PortfolioBreakdown{
					UserID:     userID,
					ExchangeID: res.ExchangeID,
					AssetCode:  asset,
					Free:       b.Free,
					Locked:     b.Locked,
					AsOf:       asOf,
				})
			}
		case res.DropPrior:
		default:
			for _, row := range byExchange[res.ExchangeID] {
				row.ID = 0
				row.UserID = userID
				row.Stale = true
				out = append(out, row)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AssetCode != out[j].AssetCode {
			return out[i].AssetCode < out[j].AssetCode
		}
		return out[i].ExchangeID < out[j].ExchangeID
	})
	return out
}

// Aggregate sums breakdown rows per asset. Totals always equal the sum of
// the rows attached to the entry, fresh and stale alike.
func Aggregate(userID string, rows []model.PortfolioBreakdown) []model.PortfolioEntry {
	index := make(map[string]int)
	var entries []model.PortfolioEntry
	for _, row := range rows {
		i, ok := index[row.AssetCode]
		if !ok {
			i = len(entries)
			index[row.AssetCode] = i
			entries = append(entries, model.PortfolioEntry{
				UserID:           userID,
				AssetCode:        row.AssetCode,
				AggregatedFree:   decimal.Zero,
				AggregatedLocked: decimal.Zero,
			})
		}
		e := &entries[i]
		e.AggregatedFree = e.AggregatedFree.Add(row.Free)
		e.AggregatedLocked = e.AggregatedLocked.Add(row.Locked)
		e.LastSyncedAt = utils.LatestOf(e.LastSyncedAt, row.AsOf)
		e.Stale = e.Stale || row.Stale
		e.Breakdown = append(e.Breakdown, row)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].AssetCode < entries[j].AssetCode })
	return entries
}
