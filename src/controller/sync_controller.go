package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"portfoliodoctor/src/connectors"
	"portfoliodoctor/src/metrics"
	"portfoliodoctor/src/model"
	"portfoliodoctor/src/portfolio"
	"portfoliodoctor/src/repository"
	"portfoliodoctor/src/utils"
	"portfoliodoctor/src/vault"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

var (
	ErrNoConnectedExchanges = errors.New("no connected exchanges")
	// ErrAllExchangesFailed is returned in strict mode together with the run.
	ErrAllExchangesFailed = errors.New("all exchanges failed")
)

// CredentialSource is the part of the vault the sync needs.
type CredentialSource interface {
	ListConnected(ctx context.Context, userID string) ([]model.ConnectedExchange, error)
	Get(ctx context.Context, userID, exchangeID string) (*vault.Credential, error)
}

// FetcherRegistry resolves the client of an exchange.
type FetcherRegistry interface {
	Get(exchangeID string) (connectors.BalanceFetcher, bool)
}

// Publisher receives every finished run.
type Publisher interface {
	Publish(userID string, run *model.SyncRun)
}

type SyncOptions struct {
	// Strict turns "every exchange failed" into an error.
	Strict bool
}

type SyncResult struct {
	Run       *model.SyncRun
	Portfolio []model.PortfolioEntry
}

type SyncController struct {
	creds      CredentialSource
	fetchers   FetcherRegistry
	portfolios repository.PortfolioRepository
	runs       repository.SyncRunRepository
	exceptions ExceptionSink
	publisher  Publisher

	locks           *utils.KeyedMutex
	runTimeout      time.Duration
	exchangeTimeout time.Duration
	now             func() time.Time
	newID           func() string
}

func NewSyncController(
	cfg Config,
	creds CredentialSource,
	fetchers FetcherRegistry,
	portfolios repository.PortfolioRepository,
	runs repository.SyncRunRepository,
	exceptions ExceptionSink,
	publisher Publisher,
) *SyncController {
	return &SyncController{
		creds:           creds,
		fetchers:        fetchers,
		portfolios:      portfolios,
		runs:            runs,
		exceptions:      exceptions,
		publisher:       publisher,
		locks:           utils.NewKeyedMutex(),
		runTimeout:      cfg.SyncRunTimeout,
		exchangeTimeout: cfg.SyncExchangeTimeout,
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
	}
}

// outcome is what one exchange goroutine reports back.
type outcome struct {
	index    int
	result   portfolio.ExchangeResult
	status   model.SyncRunExchange
	err      error // exchange failure, recorded on the run
	storeErr error // credential store failure, aborts the run
}

// Sync pulls balances from every connected exchange of userID, merges them
// into the stored portfolio and records the run. Exchange failures are
// reported in the run, never as an error, except in strict mode when no
// exchange succeeded.
func (c *SyncController) Sync(ctx context.Context, userID string, opts SyncOptions) (*SyncResult, error) {
	start := time.Now()

	connected, err := c.creds.ListConnected(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list connected exchanges: %w", err)
	}
	if len(connected) == 0 {
		return nil, ErrNoConnectedExchanges
	}

	mode := model.SyncModePartial
	if opts.Strict {
		mode = model.SyncModeStrict
	}
	run := &model.SyncRun{
		ID:        c.newID(),
		UserID:    userID,
		Mode:      mode,
		Status:    model.SyncRunning,
		StartedAt: c.now(),
		Exchanges: make([]model.SyncRunExchange, len(connected)),
	}
	for i, conn := range connected {
		run.Exchanges[i] = model.SyncRunExchange{ExchangeID: conn.ExchangeID, Status: model.ExchangePending}
	}

	// the record must survive a caller that goes away mid-run
	persistCtx := context.WithoutCancel(ctx)
	if err := c.runs.Create(persistCtx, run); err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"run_id":    run.ID,
		"user_id":   userID,
		"mode":      mode,
		"exchanges": len(connected),
	}).Info("portfolio sync started")

	outcomes, storeErr := c.fetchAll(ctx, userID, connected)

	results := make([]portfolio.ExchangeResult, len(outcomes))
	for i, o := range outcomes {
		o.status.ID = run.Exchanges[i].ID
		o.status.RunID = run.ID
		run.Exchanges[i] = o.status
		results[i] = o.result
	}

	if storeErr != nil {
		c.finish(persistCtx, run, model.SyncError, start)
		return nil, fmt.Errorf("load credential: %w", storeErr)
	}

	entries, err := c.merge(persistCtx, userID, results)
	if err != nil {
		c.finish(persistCtx, run, model.SyncError, start)
		Capture(persistCtx, c.exceptions, "portfolio_sync", "sync_controller", "merge", "error", err,
			map[string]interface{}{"user_id": userID, "run_id": run.ID})
		return nil, fmt.Errorf("merge portfolio: %w", err)
	}

	succeeded := run.Count(model.ExchangeSucceeded)
	failed := run.Count(model.ExchangeFailed)
	status := model.SyncCompleted
	switch {
	case failed > 0 && succeeded > 0:
		status = model.SyncPartial
	case failed > 0:
		status = model.SyncFailed
	}
	c.finish(persistCtx, run, status, start)

	for i, o := range outcomes {
		if o.err == nil {
			continue
		}
		Capture(persistCtx, c.exceptions, "portfolio_sync", "sync_controller", "GetBalances", "warn", o.err,
			map[string]interface{}{
				"user_id":  userID,
				"run_id":   run.ID,
				"exchange": run.Exchanges[i].ExchangeID,
				"kind":     run.Exchanges[i].ErrorKind,
				"code":     run.Exchanges[i].ErrorCode,
			})
	}

	if c.publisher != nil {
		c.publisher.Publish(userID, run)
	}

	res := &SyncResult{Run: run, Portfolio: entries}
	if opts.Strict && succeeded == 0 && failed > 0 {
		return res, ErrAllExchangesFailed
	}
	return res, nil
}

// fetchAll runs one goroutine per exchange. When the run deadline passes,
// exchanges that have not reported are marked Failed(Timeout).
func (c *SyncController) fetchAll(ctx context.Context, userID string, connected []model.ConnectedExchange) ([]outcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	ch := make(chan outcome, len(connected))
	var wg sync.WaitGroup
	for i, conn := range connected {
		wg.Add(1)
		go func(i int, conn model.ConnectedExchange) {
			defer wg.Done()
			o := c.fetchOne(runCtx, userID, conn)
			o.index = i
			ch <- o
		}(i, conn)
	}

	outcomes := make([]outcome, len(connected))
	done := make([]bool, len(connected))
	var storeErr error

collect:
	for received := 0; received < len(connected); received++ {
		select {
		case o := <-ch:
			outcomes[o.index] = o
			done[o.index] = true
			if o.storeErr != nil && storeErr == nil {
				storeErr = o.storeErr
			}
		case <-runCtx.Done():
			break collect
		}
	}

	for i, conn := range connected {
		if done[i] {
			continue
		}
		err := &connectors.Error{Kind: connectors.KindTimeout, Exchange: conn.ExchangeID, Message: "sync run deadline exceeded"}
		outcomes[i] = outcome{
			index:  i,
			result: portfolio.ExchangeResult{ExchangeID: conn.ExchangeID, Status: model.ExchangeFailed},
			status: model.SyncRunExchange{
				ExchangeID: conn.ExchangeID,
				Status:     model.ExchangeFailed,
				ErrorKind:  string(connectors.KindTimeout),
				Reason:     err.Message,
				DurationMs: c.runTimeout.Milliseconds(),
			},
			err: err,
		}
		metrics.SyncExchangeResults.WithLabelValues(conn.ExchangeID, string(model.ExchangeFailed)).Inc()
	}

	// stragglers observe the cancelled context and exit on their own
	go func() {
		wg.Wait()
		close(ch)
	}()
	return outcomes, storeErr
}

func (c *SyncController) fetchOne(ctx context.Context, userID string, conn model.ConnectedExchange) outcome {
	start := time.Now()
	exchangeID := conn.ExchangeID

	skipped := func(reason string, dropPrior bool) outcome {
		metrics.SyncExchangeResults.WithLabelValues(exchangeID, string(model.ExchangeSkipped)).Inc()
		logger.WithFields(map[string]interface{}{
			"user_id":  userID,
			"exchange": exchangeID,
			"reason":   reason,
		}).Info("exchange skipped")
		return outcome{
			result: portfolio.ExchangeResult{ExchangeID: exchangeID, Status: model.ExchangeSkipped, DropPrior: dropPrior},
			status: model.SyncRunExchange{ExchangeID: exchangeID, Status: model.ExchangeSkipped, Reason: reason},
		}
	}
	failed := func(err error) outcome {
		kind := connectors.KindOf(err)
		st := model.SyncRunExchange{
			ExchangeID: exchangeID,
			Status:     model.ExchangeFailed,
			ErrorKind:  string(kind),
			Reason:     err.Error(),
			DurationMs: time.Since(start).Milliseconds(),
		}
		var e *connectors.Error
		if errors.As(err, &e) {
			st.ErrorCode = e.Code
			if e.Reason != "" {
				st.Reason = e.Reason + ": " + e.Message
			}
		}
		metrics.SyncExchangeResults.WithLabelValues(exchangeID, string(model.ExchangeFailed)).Inc()
		logger.WithFields(map[string]interface{}{
			"user_id":  userID,
			"exchange": exchangeID,
			"kind":     kind,
		}).WithError(err).Warn("exchange sync failed")
		return outcome{
			result: portfolio.ExchangeResult{ExchangeID: exchangeID, Status: model.ExchangeFailed},
			status: st,
			err:    err,
		}
	}

	fetcher, ok := c.fetchers.Get(exchangeID)
	if !ok {
		return skipped("unsupported_exchange", false)
	}
	if !conn.Permissions.Read {
		return skipped("missing_read_permission", false)
	}

	cred, err := c.creds.Get(ctx, userID, exchangeID)
	switch {
	case errors.Is(err, vault.ErrNotFound):
		return skipped("credential_not_found", true)
	case errors.Is(err, vault.ErrUnreadable):
		return failed(&connectors.Error{Kind: connectors.KindAuthFailure, Exchange: exchangeID, Reason: "credential_unreadable", Message: "stored secret cannot be decrypted", Err: err})
	case err != nil:
		return outcome{
			result:   portfolio.ExchangeResult{ExchangeID: exchangeID, Status: model.ExchangeFailed},
			status:   model.SyncRunExchange{ExchangeID: exchangeID, Status: model.ExchangeFailed, Reason: "credential store unavailable"},
			storeErr: err,
		}
	}

	exCtx, cancel := context.WithTimeout(ctx, c.exchangeTimeout)
	defer cancel()

	balances, err := fetcher.GetBalances(exCtx, cred)
	if err != nil {
		if exCtx.Err() != nil && connectors.KindOf(err) != connectors.KindTimeout {
			err = &connectors.Error{Kind: connectors.KindTimeout, Exchange: exchangeID, Message: "exchange deadline exceeded", Err: err}
		}
		return failed(err)
	}

	metrics.SyncExchangeResults.WithLabelValues(exchangeID, string(model.ExchangeSucceeded)).Inc()
	return outcome{
		result: portfolio.ExchangeResult{ExchangeID: exchangeID, Status: model.ExchangeSucceeded, Balances: balances},
		status: model.SyncRunExchange{
			ExchangeID: exchangeID,
			Status:     model.ExchangeSucceeded,
			AssetCount: len(balances),
			DurationMs: time.Since(start).Milliseconds(),
		},
	}
}

// merge is the only section serialized per user; no network I/O happens
// while the lock is held.
func (c *SyncController) merge(ctx context.Context, userID string, results []portfolio.ExchangeResult) ([]model.PortfolioEntry, error) {
	unlock := c.locks.Lock(userID)
	defer unlock()

	prior, err := c.portfolios.LoadBreakdowns(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows := portfolio.Reconcile(userID, prior, results, c.now())
	entries := portfolio.Aggregate(userID, rows)
	if err := c.portfolios.ReplacePortfolio(ctx, userID, rows, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *SyncController) finish(ctx context.Context, run *model.SyncRun, status string, start time.Time) {
	completed := c.now()
	run.Status = status
	run.CompletedAt = &completed

	if err := c.runs.Complete(ctx, run); err != nil {
		logger.WithField("run_id", run.ID).WithError(err).Error("failed to complete sync run")
	}

	metrics.SyncRuns.WithLabelValues(status).Inc()
	metrics.ObserveSince(metrics.SyncDuration, start)
	logger.WithFields(map[string]interface{}{
		"run_id":    run.ID,
		"user_id":   run.UserID,
		"status":    status,
		"succeeded": run.Count(model.ExchangeSucceeded),
		"failed":    run.Count(model.ExchangeFailed),
		"skipped":   run.Count(model.ExchangeSkipped),
		"duration":  time.Since(start).String(),
	}).Info("portfolio sync finished")
}

// LatestPortfolio returns the stored snapshot without contacting exchanges.
func (c *SyncController) LatestPortfolio(ctx context.Context, userID string) ([]model.PortfolioEntry, error) {
	unlock := c.locks.RLock(userID)
	defer unlock()
	return c.portfolios.LoadPortfolio(ctx, userID)
}

// SyncAll runs Sync for every user, at most concurrency at a time. Failures
// of one user do not stop the others.
func (c *SyncController) SyncAll(ctx context.Context, users []string, concurrency int) (succeeded int, failed int) {
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, concurrency)
	)
	for _, userID := range users {
		select {
		case <-ctx.Done():
			wg.Wait()
			return succeeded, failed
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := c.Sync(ctx, userID, SyncOptions{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil && !errors.Is(err, ErrNoConnectedExchanges) {
				failed++
				logger.WithField("user_id", userID).WithError(err).Warn("scheduled sync failed")
				return
			}
			succeeded++
		}(userID)
	}
	wg.Wait()
	return succeeded, failed
}
