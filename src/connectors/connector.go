package connectors

import (
	"context"
	"sort"

	"portfoliodoctor/src/model"

	"github.com/shopspring/decimal"
)

const (
	ExchangeLBank   = "lbank"
	ExchangeBinance = "binance"
)

// Credential is the decrypted view of a stored key that clients sign with.
type Credential interface {
	APIKey() string
	Secret() string
	SignatureMethod() string
}

// BalanceFetcher is the read side every exchange client implements.
type BalanceFetcher interface {
	ExchangeID() string
	GetBalances(ctx context.Context, cred Credential) ([]model.Balance, error)
}

// PriceSource returns indicative prices keyed by lower-case pair symbol
// (btc_usdt).
type PriceSource interface {
	Prices(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Registry resolves exchange ids to clients.
type Registry struct {
	fetchers map[string]BalanceFetcher
}

func NewRegistry(fetchers ...BalanceFetcher) *Registry {
	r := &Registry{fetchers: make(map[string]BalanceFetcher, len(fetchers))}
	for _, f := range fetchers {
		if f != nil {
			r.fetchers[f.ExchangeID()] = f
		}
	}
	return r
}

func (r *Registry) Get(exchangeID string) (BalanceFetcher, bool) {
	f, ok := r.fetchers[exchangeID]
	return f, ok
}

func (r *Registry) Supported(exchangeID string) bool {
	_, ok := r.fetchers[exchangeID]
	return ok
}

func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.fetchers))
	for id := range r.fetchers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ExchangeInfo describes a venue in the public catalogue.
type ExchangeInfo struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Status           string   `json:"status"`
	SignatureMethods []string `json:"signatureMethods"`
	Features         []string `json:"features"`
}

var catalogue = []ExchangeInfo{
	{
		ID:               ExchangeLBank,
		Name:             "LBank",
		Description:      "LBank spot and trade accounts",
		SignatureMethods: []string{model.SignatureHMAC, model.SignatureRSA},
		Features:         []string{"balances", "prices", "orders"},
	},
	{
		ID:               ExchangeBinance,
		Name:             "Binance",
		Description:      "Binance spot account",
		SignatureMethods: []string{model.SignatureHMAC},
		Features:         []string{"balances"},
	},
}

// Catalogue lists known exchanges, marking the ones with a configured client
// as available.
func (r *Registry) Catalogue() []ExchangeInfo {
	out := make([]ExchangeInfo, 0, len(catalogue))
	for _, info := range catalogue {
		info.Status = "unavailable"
		if r.Supported(info.ID) {
			info.Status = "available"
		}
		out = append(out, info)
	}
	return out
}
