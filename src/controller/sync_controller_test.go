package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"portfoliodoctor/src/connectors"
	"portfoliodoctor/src/model"
	"portfoliodoctor/src/repository"
	"portfoliodoctor/src/vault"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCreds struct {
	connected map[string][]model.ConnectedExchange
	getErr    map[string]error
	listErr   error
}

func (f *fakeCreds) ListConnected(_ context.Context, userID string) ([]model.ConnectedExchange, error) {
	return f.connected[userID], f.listErr
}

func (f *fakeCreds) Get(_ context.Context, userID, exchangeID string) (*vault.Credential, error) {
	if err := f.getErr[exchangeID]; err != nil {
		return nil, err
	}
	return &vault.Credential{UserID: userID, ExchangeID: exchangeID}, nil
}

type fakeFetcher struct {
	id       string
	balances []model.Balance
	err      error
	hang     bool
	calls    int32
}

func (f *fakeFetcher) ExchangeID() string { return f.id }

func (f *fakeFetcher) GetBalances(ctx context.Context, _ connectors.Credential) ([]model.Balance, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.balances, f.err
}

// memPortfolio fails the test if two merges of one user overlap.
type memPortfolio struct {
	t       *testing.T
	mu      sync.Mutex
	rows    map[string][]model.PortfolioBreakdown
	entries map[string][]model.PortfolioEntry
	inMerge map[string]*int32
	loadErr error
}

func newMemPortfolio(t *testing.T) *memPortfolio {
	return &memPortfolio{
		t:       t,
		rows:    map[string][]model.PortfolioBreakdown{},
		entries: map[string][]model.PortfolioEntry{},
		inMerge: map[string]*int32{},
	}
}

func (m *memPortfolio) counter(userID string) *int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.inMerge[userID]
	if !ok {
		c = new(int32)
		m.inMerge[userID] = c
	}
	return c
}

func (m *memPortfolio) LoadBreakdowns(_ context.Context, userID string) ([]model.PortfolioBreakdown, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if n := atomic.AddInt32(m.counter(userID), 1); n > 1 {
		m.t.Errorf("concurrent merges for %s", userID)
	}
	time.Sleep(5 * time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.PortfolioBreakdown(nil), m.rows[userID]...), nil
}

func (m *memPortfolio) LoadPortfolio(_ context.Context, userID string) ([]model.PortfolioEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[userID], nil
}

func (m *memPortfolio) ReplacePortfolio(_ context.Context, userID string, rows []model.PortfolioBreakdown, entries []model.PortfolioEntry) error {
	m.mu.Lock()
	m.rows[userID] = rows
	m.entries[userID] = entries
	m.mu.Unlock()
	atomic.AddInt32(m.counter(userID), -1)
	return nil
}

type memRuns struct {
	mu        sync.Mutex
	created   []string
	completed map[string]model.SyncRun
}

func (m *memRuns) Create(_ context.Context, run *model.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, run.ID)
	for i := range run.Exchanges {
		run.Exchanges[i].ID = uint(i + 1)
	}
	return nil
}

func (m *memRuns) Complete(_ context.Context, run *model.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completed == nil {
		m.completed = map[string]model.SyncRun{}
	}
	if _, ok := m.completed[run.ID]; ok {
		return repository.ErrRunCompleted
	}
	m.completed[run.ID] = *run
	return nil
}

func (m *memRuns) Get(context.Context, string) (*model.SyncRun, error) { return nil, repository.ErrNotFound }

func (m *memRuns) ListByUser(context.Context, string, int) ([]model.SyncRun, error) { return nil, nil }

type memExceptions struct {
	mu   sync.Mutex
	list []model.Exception
}

func (m *memExceptions) Create(_ context.Context, exc *model.Exception) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = append(m.list, *exc)
	return nil
}

type memPublisher struct {
	mu   sync.Mutex
	runs []*model.SyncRun
}

func (m *memPublisher) Publish(_ string, run *model.SyncRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
}

type harness struct {
	ctrl       *SyncController
	creds      *fakeCreds
	portfolios *memPortfolio
	runs       *memRuns
	exceptions *memExceptions
	publisher  *memPublisher
}

var (
	t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func conn(id string) model.ConnectedExchange {
	return model.ConnectedExchange{ExchangeID: id, Permissions: model.Permissions{Read: true}, IsActive: true}
}

func newHarness(t *testing.T, connected []model.ConnectedExchange, fetchers ...connectors.BalanceFetcher) *harness {
	h := &harness{
		creds:      &fakeCreds{connected: map[string][]model.ConnectedExchange{"u-1": connected}, getErr: map[string]error{}},
		portfolios: newMemPortfolio(t),
		runs:       &memRuns{},
		exceptions: &memExceptions{},
		publisher:  &memPublisher{},
	}
	h.ctrl = NewSyncController(
		Config{SyncRunTimeout: time.Second, SyncExchangeTimeout: 500 * time.Millisecond},
		h.creds,
		connectors.NewRegistry(fetchers...),
		h.portfolios,
		h.runs,
		h.exceptions,
		h.publisher,
	)
	h.ctrl.now = func() time.Time { return t1 }
	return h
}

func btc(exchange, free string) model.Balance {
	return model.Balance{ExchangeID: exchange, AssetCode: "BTC", Free: decimal.RequireFromString(free), Locked: decimal.Zero, AsOf: t1}
}

func TestSyncPartialFailureKeepsStaleBreakdown(t *testing.T) {
	lbank := &fakeFetcher{id: "lbank", balances: []model.Balance{btc("lbank", "1.0")}}
	venuex := &fakeFetcher{id: "venuex", err: &connectors.Error{Kind: connectors.KindTimeout, Exchange: "venuex", Message: "slow"}}
	h := newHarness(t, []model.ConnectedExchange{conn("lbank"), conn("venuex")}, lbank, venuex)
	h.portfolios.rows["u-1"] = []model.PortfolioBreakdown{
		{UserID: "u-1", ExchangeID: "venuex", AssetCode: "BTC", Free: decimal.RequireFromString("0.5"), Locked: decimal.Zero, AsOf: t0},
	}

	res, err := h.ctrl.Sync(context.Background(), "u-1", SyncOptions{})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, model.SyncPartial, run.Status)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, model.ExchangeSucceeded, run.Exchange("lbank").Status)
	assert.Equal(t, 1, run.Exchange("lbank").AssetCount)
	assert.Equal(t, model.ExchangeFailed, run.Exchange("venuex").Status)
	assert.Equal(t, string(connectors.KindTimeout), run.Exchange("venuex").ErrorKind)
	assert.Equal(t, uint(2), run.Exchange("venuex").ID, "exchange rows keep their ids")

	require.Len(t, res.Portfolio, 1)
	entry := res.Portfolio[0]
	assert.True(t, entry.AggregatedFree.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, entry.Stale)
	require.Len(t, entry.Breakdown, 2)
	assert.Equal(t, t0, entry.Breakdown[1].AsOf)

	assert.Len(t, h.runs.created, 1)
	assert.Equal(t, model.SyncPartial, h.runs.completed[run.ID].Status)
	require.Len(t, h.publisher.runs, 1)
	require.Len(t, h.exceptions.list, 1)
	assert.Equal(t, "venuex", h.exceptions.list[0].ExchangeID)
	assert.Equal(t, "Timeout", h.exceptions.list[0].Kind)
}

func TestSyncStrictAllFailed(t *testing.T) {
	auth := &fakeFetcher{id: "lbank", err: &connectors.Error{Kind: connectors.KindAuthFailure, Exchange: "lbank", Code: "10007"}}
	h := newHarness(t, []model.ConnectedExchange{conn("lbank")}, auth)

	res, err := h.ctrl.Sync(context.Background(), "u-1", SyncOptions{Strict: true})
	assert.ErrorIs(t, err, ErrAllExchangesFailed)
	require.NotNil(t, res)
	assert.Equal(t, model.SyncFailed, res.Run.Status)
	assert.Equal(t, model.SyncModeStrict, res.Run.Mode)
	assert.Equal(t, "10007", res.Run.Exchange("lbank").ErrorCode)
	assert.Equal(t, int32(1), auth.calls)

	// partial mode reports the same run without an error
	res, err = h.ctrl.Sync(context.Background(), "u-1", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.SyncFailed, res.Run.Status)
}

func TestSyncNoConnectedExchanges(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.ctrl.Sync(context.Background(), "u-1", SyncOptions{})
	assert.ErrorIs(t, err, ErrNoConnectedExchanges)
	assert.Empty(t, h.runs.created)
}

func TestSyncSkips(t *testing.T) {
	lbank := &fakeFetcher{id: "lbank", balances: []model.Balance{btc("lbank", "2")}}
	noRead := conn("binance")
	noRead.Permissions.Read = false
	h := newHarness(t, []model.ConnectedExchange{conn("lbank"), conn("revoked"), conn("kraken"), noRead},
		lbank, &fakeFetcher{id: "revoked"}, &fakeFetcher{id: "binance"})
	h.creds.getErr["revoked"] = vault.ErrNotFound
	h.portfolios.rows["u-1"] = []model.PortfolioBreakdown{
		{UserID: "u-1", ExchangeID: "revoked", AssetCode: "ETH", Free: decimal.NewFromInt(1), AsOf: t0},
		{UserID: "u-1", ExchangeID: "kraken", AssetCode: "XRP", Free: decimal.NewFromInt(7), AsOf: t0},
	}

	res, err := h.ctrl.Sync(context.Background(), "u-1", SyncOptions{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, model.SyncCompleted, res.Run.Status, "skips are not failures")
	assert.Equal(t, model.ExchangeSkipped, res.Run.Exchange("revoked").Status)
	assert.Equal(t, "credential_not_found", res.Run.Exchange("revoked").Reason)
	assert.Equal(t, "unsupported_exchange", res.Run.Exchange("kraken").Reason)
	assert.Equal(t, "missing_read_permission", res.Run.Exchange("binance").Reason)

	assets := map[string]model.PortfolioEntry{}
	for _, e := range res.Portfolio {
		assets[e.AssetCode] = e
	}
	assert.Contains(t, assets, "BTC")
	assert.NotContains(t, assets, "ETH", "rows of a missing credential are dropped")
	assert.True(t, assets["XRP"].Stale, "rows of an unsupported exchange are kept stale")
}

func TestSyncCredentialStoreFailurePropagates(t *testing.T) {
	h := newHarness(t, []model.ConnectedExchange{conn("lbank")}, &fakeFetcher{id: "lbank"})
	h.creds.getErr["lbank"] = errors.New("connection refused")

	res, err := h.ctrl.Sync(context.Background(), "u-1", SyncOptions{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Len(t, h.runs.completed, 1)
	for _, run := range h.runs.completed {
		assert.Equal(t, model.SyncError, run.Status)
	}

	h.creds.listErr = errors.New("db down")
	_, err = h.ctrl.Sync(context.Background(), "u-1", SyncOptions{})
	assert.Error(t, err)
}

func TestSyncUnreadableCredentialFailsExchange(t *testing.T) {
	h := newHarness(t, []model.ConnectedExchange{conn("lbank")}, &fakeFetcher{id: "lbank"})
	h.creds.getErr["lbank"] = vault.ErrUnreadable

	res, err := h.ctrl.Sync(context.Background(), "u-1", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, string(connectors.KindAuthFailure), res.Run.Exchange("lbank").ErrorKind)
}

func TestSyncRunTimeoutMarksStragglers(t *testing.T) {
	fast := &fakeFetcher{id: "lbank", balances: []model.Balance{btc("lbank", "1")}}
	slow := &fakeFetcher{id: "binance", hang: true}
	h := newHarness(t, []model.ConnectedExchange{conn("lbank"), conn("binance")}, fast, slow)
	h.ctrl.runTimeout = 50 * time.Millisecond
	h.ctrl.exchangeTimeout = time.Minute

	start := time.Now()
	res, err := h.ctrl.Sync(context.Background(), "u-1", SyncOptions{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, model.ExchangeFailed, res.Run.Exchange("binance").Status)
	assert.Equal(t, string(connectors.KindTimeout), res.Run.Exchange("binance").ErrorKind)
	assert.Equal(t, model.ExchangeSucceeded, res.Run.Exchange("lbank").Status)
}

func TestSyncExchangeTimeoutIsClassified(t *testing.T) {
	slow := &fakeFetcher{id: "binance", hang: true}
	h := newHarness(t, []model.ConnectedExchange{conn("binance")}, slow)
	h.ctrl.exchangeTimeout = 20 * time.Millisecond

	res, err := h.ctrl.Sync(context.Background(), "u-1", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, string(connectors.KindTimeout), res.Run.Exchange("binance").ErrorKind)
}

func TestConcurrentSyncsForOneUserDoNotInterleave(t *testing.T) {
	lbank := &fakeFetcher{id: "lbank", balances: []model.Balance{btc("lbank", "1")}}
	binance := &fakeFetcher{id: "binance", balances: []model.Balance{btc("binance", "2")}}
	h := newHarness(t, []model.ConnectedExchange{conn("lbank"), conn("binance")}, lbank, binance)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ctrl.Sync(context.Background(), "u-1", SyncOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := h.ctrl.LatestPortfolio(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].AggregatedFree.Equal(decimal.NewFromInt(3)))
	assert.Len(t, entries[0].Breakdown, 2)
	assert.Len(t, h.runs.completed, 8)
}

func TestSyncMergeFailure(t *testing.T) {
	h := newHarness(t, []model.ConnectedExchange{conn("lbank")}, &fakeFetcher{id: "lbank"})
	h.portfolios.loadErr = errors.New("disk full")

	_, err := h.ctrl.Sync(context.Background(), "u-1", SyncOptions{})
	assert.Error(t, err)
	require.Len(t, h.exceptions.list, 1)
	assert.Equal(t, "merge", h.exceptions.list[0].Method)
}

func TestSyncAll(t *testing.T) {
	h := newHarness(t, []model.ConnectedExchange{conn("lbank")}, &fakeFetcher{id: "lbank", balances: []model.Balance{btc("lbank", "1")}})
	h.creds.connected["u-2"] = []model.ConnectedExchange{conn("lbank")}

	ok, failed := h.ctrl.SyncAll(context.Background(), []string{"u-1", "u-2", "u-3"}, 2)
	assert.Equal(t, 3, ok, "users without exchanges are not failures")
	assert.Equal(t, 0, failed)
	assert.Len(t, h.runs.completed, 2)
}

func TestCapture(t *testing.T) {
	sink := &memExceptions{}
	Capture(context.Background(), sink, "svc", "mod", "method", "warn", nil, nil)
	assert.Empty(t, sink.list)

	Capture(context.Background(), sink, "svc", "mod", "method", "warn", errors.New("boom"),
		map[string]interface{}{"user_id": "u-1", "exchange": "lbank", "kind": connectors.KindNetwork})
	require.Len(t, sink.list, 1)
	exc := sink.list[0]
	assert.Equal(t, "u-1", exc.UserID)
	assert.Equal(t, "lbank", exc.ExchangeID)
	assert.Equal(t, "NetworkFailure", exc.Kind)
	assert.Equal(t, "boom", exc.Message)
	assert.JSONEq(t, `{"user_id":"u-1","exchange":"lbank","kind":"NetworkFailure"}`, exc.Context)

	Capture(context.Background(), nil, "svc", "mod", "method", "warn", errors.New("no sink"), nil)
}
