package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"portfoliodoctor/src/controller"
	"portfoliodoctor/src/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSyncer struct {
	entries []model.PortfolioEntry
	result  *controller.SyncResult
	err     error
	opts    controller.SyncOptions
}

func (m *mockSyncer) Sync(_ context.Context, _ string, opts controller.SyncOptions) (*controller.SyncResult, error) {
	m.opts = opts
	return m.result, m.err
}

func (m *mockSyncer) LatestPortfolio(context.Context, string) ([]model.PortfolioEntry, error) {
	return m.entries, nil
}

type mockPrices struct {
	prices map[string]decimal.Decimal
	err    error
}

func (m mockPrices) Prices(context.Context) (map[string]decimal.Decimal, error) {
	return m.prices, m.err
}

type mockRuns struct {
	limit int
	runs  []model.SyncRun
}

func (m *mockRuns) ListByUser(_ context.Context, _ string, limit int) ([]model.SyncRun, error) {
	m.limit = limit
	return m.runs, nil
}

var alice = &model.User{ID: "u-1", IsActive: true}

func sampleEntries() []model.PortfolioEntry {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []model.PortfolioEntry{
		{AssetCode: "BTC", AggregatedFree: decimal.RequireFromString("0.5"), AggregatedLocked: decimal.Zero, LastSyncedAt: at},
		{AssetCode: "USDT", AggregatedFree: decimal.NewFromInt(100), AggregatedLocked: decimal.Zero, LastSyncedAt: at, Stale: true},
	}
}

func portfolioDeps(syncer *mockSyncer, prices PriceSource) PortfolioDeps {
	v := newMockVault()
	v.stored["lbank"] = model.ConnectedExchange{ExchangeID: "lbank", APIKeyMasked: "abcd****wxyz", IsActive: true}
	return PortfolioDeps{Syncer: syncer, Connected: v, Prices: prices, Runs: &mockRuns{}}
}

func TestGetPortfolioHandler(t *testing.T) {
	t.Run("valued", func(t *testing.T) {
		prices := mockPrices{prices: map[string]decimal.Decimal{"btc_usdt": decimal.NewFromInt(60000)}}
		rr := httptest.NewRecorder()
		GetPortfolioHandler(portfolioDeps(&mockSyncer{entries: sampleEntries()}, prices))(rr,
			withUser(httptest.NewRequest(http.MethodGet, "/api/portfolio", nil), alice))

		require.Equal(t, http.StatusOK, rr.Code)
		var view PortfolioView
		decode(t, rr, &view)
		assert.Equal(t, 2, view.Summary.AssetCount)
		assert.Equal(t, 1, view.Summary.ExchangeCount)
		assert.True(t, view.Summary.Stale)
		assert.True(t, decimal.NewFromInt(30100).Equal(view.Summary.TotalValueUSD))
		require.Len(t, view.Assets, 2)
		assert.Equal(t, "BTC", view.Assets[0].AssetCode)
		require.Len(t, view.ConnectedExchanges, 1)
	})

	t.Run("price outage", func(t *testing.T) {
		prices := mockPrices{err: errors.New("down")}
		rr := httptest.NewRecorder()
		GetPortfolioHandler(portfolioDeps(&mockSyncer{entries: sampleEntries()}, prices))(rr,
			withUser(httptest.NewRequest(http.MethodGet, "/api/portfolio", nil), alice))

		require.Equal(t, http.StatusOK, rr.Code)
		var view PortfolioView
		decode(t, rr, &view)
		require.Len(t, view.Assets, 2)
		assert.True(t, decimal.NewFromInt(100).Equal(view.Summary.TotalValueUSD))
	})
}

func TestSyncPortfolioHandler(t *testing.T) {
	run := &model.SyncRun{ID: "run-1", UserID: "u-1", Status: model.SyncFailed}

	cases := []struct {
		name   string
		query  string
		syncer *mockSyncer
		status int
		code   string
		strict bool
	}{
		{
			name:   "ok",
			syncer: &mockSyncer{result: &controller.SyncResult{Run: &model.SyncRun{ID: "run-1", Status: model.SyncCompleted}, Portfolio: sampleEntries()}},
			status: http.StatusOK,
		},
		{
			name:   "no exchanges",
			syncer: &mockSyncer{err: controller.ErrNoConnectedExchanges},
			status: http.StatusNotFound,
			code:   "no_connected_exchanges",
		},
		{
			name:   "strict all failed",
			query:  "?mode=strict",
			syncer: &mockSyncer{result: &controller.SyncResult{Run: run}, err: controller.ErrAllExchangesFailed},
			status: http.StatusBadGateway,
			code:   "all_exchanges_failed",
			strict: true,
		},
		{
			name:   "store failure",
			syncer: &mockSyncer{err: errors.New("db down")},
			status: http.StatusInternalServerError,
			code:   "internal",
		},
		{
			name:   "bad mode",
			query:  "?mode=eventually",
			syncer: &mockSyncer{},
			status: http.StatusBadRequest,
			code:   "invalid_payload",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := withUser(httptest.NewRequest(http.MethodPost, "/api/portfolio/sync"+tc.query, nil), alice)
			SyncPortfolioHandler(portfolioDeps(tc.syncer, nil))(rr, req)

			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			assert.Equal(t, tc.strict, tc.syncer.opts.Strict)
			if tc.code != "" {
				assert.Equal(t, tc.code, errorCode(t, rr))
			}
			if tc.status == http.StatusBadGateway {
				var body struct {
					Run *model.SyncRun `json:"run"`
				}
				decode(t, rr, &body)
				require.NotNil(t, body.Run)
				assert.Equal(t, "run-1", body.Run.ID)
			}
			if tc.status == http.StatusOK {
				var resp SyncResponse
				decode(t, rr, &resp)
				assert.Equal(t, "run-1", resp.Run.ID)
				require.NotNil(t, resp.Portfolio)
				assert.Len(t, resp.Portfolio.Assets, 2)
			}
		})
	}
}

func TestSyncRunsHandler(t *testing.T) {
	deps := portfolioDeps(&mockSyncer{}, nil)
	runs := &mockRuns{runs: []model.SyncRun{{ID: "run-2"}, {ID: "run-1"}}}
	deps.Runs = runs

	rr := httptest.NewRecorder()
	SyncRunsHandler(deps)(rr, withUser(httptest.NewRequest(http.MethodGet, "/api/portfolio/sync-runs?limit=5", nil), alice))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, runs.limit)

	rr = httptest.NewRecorder()
	SyncRunsHandler(deps)(rr, withUser(httptest.NewRequest(http.MethodGet, "/api/portfolio/sync-runs?limit=abc", nil), alice))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
