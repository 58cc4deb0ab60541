package connectors

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"portfoliodoctor/src/mapper"
	"portfoliodoctor/src/metrics"
	"portfoliodoctor/src/model"
	"portfoliodoctor/src/utils"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	logger "github.com/sirupsen/logrus"
)

var binanceCodePattern = regexp.MustCompile(`"code"\s*:\s*(-?\d+)`)

// accountAPI is the slice of goex.API used for balances.
type accountAPI interface {
	GetAccount() (*goex.Account, error)
}

// BinanceClient reads spot balances through goex. goex signs requests
// itself and has no context support, so every call runs in its own
// goroutine bounded by the call timeout.
type BinanceClient struct {
	endpoint    string
	httpClient  *http.Client
	limiter     *RateLimiter
	callTimeout time.Duration
	newAPI      func(cfg *goex.APIConfig) accountAPI
}

func NewBinanceClient(cfg Config) *BinanceClient {
	endpoint := strings.TrimRight(cfg.BinanceBaseURL, "/")
	if endpoint == "" {
		endpoint = binance.GLOBAL_API_BASE_URL
	}
	return &BinanceClient{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: cfg.CallTimeout},
		callTimeout: cfg.CallTimeout,
		limiter: NewRateLimiter(ExchangeBinance, map[Bucket]LimitSpec{
			BucketGeneral: {Limit: cfg.BinanceLimit, Window: cfg.BinanceLimitWindow, Margin: cfg.BinanceLimitMargin},
		}, cfg.RateLimitMaxWait),
		// NewWithConfig also refreshes the server time offset.
		newAPI: func(c *goex.APIConfig) accountAPI { return binance.NewWithConfig(c) },
	}
}

func (b *BinanceClient) ExchangeID() string { return ExchangeBinance }

func (b *BinanceClient) GetBalances(ctx context.Context, cred Credential) ([]model.Balance, error) {
	if cred.APIKey() == "" || cred.Secret() == "" {
		return nil, &Error{Kind: KindAuthFailure, Exchange: ExchangeBinance, Reason: "invalid_credential", Message: "api key and secret are required"}
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if err := b.limiter.Acquire(ctx, BucketGeneral); err != nil {
			return nil, err
		}

		acc, err := b.getAccount(ctx, &goex.APIConfig{
			HttpClient:   b.httpClient,
			Endpoint:     b.endpoint,
			ApiKey:       cred.APIKey(),
			ApiSecretKey: cred.Secret(),
		})
		if err == nil {
			balances := mapper.MapGoexAccount(acc, time.Now().UTC())
			logger.WithFields(map[string]interface{}{
				"exchange": ExchangeBinance,
				"api_key":  utils.MaskKey(cred.APIKey()),
				"assets":   len(balances),
			}).Debug("fetched Binance balances")
			return balances, nil
		}

		lastErr = err
		kind := KindOf(err)
		metrics.ExchangeErrors.WithLabelValues(ExchangeBinance, string(kind)).Inc()
		if attempt == 2 || ctx.Err() != nil || !kind.Retryable() {
			break
		}
		logger.WithFields(map[string]interface{}{
			"exchange": ExchangeBinance,
			"kind":     kind,
		}).Warn("retrying Binance account call")
	}
	return nil, lastErr
}

// getAccount builds a fresh goex client per attempt so a retry after a
// timestamp rejection starts from a new server time offset.
func (b *BinanceClient) getAccount(ctx context.Context, cfg *goex.APIConfig) (*goex.Account, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	type result struct {
		acc *goex.Account
		err error
	}
	ch := make(chan result, 1)
	begin := time.Now()
	go func() {
		acc, err := b.newAPI(cfg).GetAccount()
		ch <- result{acc: acc, err: err}
	}()

	select {
	case r := <-ch:
		metrics.ObserveSince(metrics.ExchangeRequestDuration.WithLabelValues(ExchangeBinance, "account"), begin)
		if r.err != nil {
			return nil, mapBinanceError(r.err)
		}
		return r.acc, nil
	case <-callCtx.Done():
		return nil, classifyTransport(ExchangeBinance, callCtx.Err())
	}
}

// mapBinanceError classifies goex errors, which carry the venue payload
// only as text.
func mapBinanceError(err error) *Error {
	msg := err.Error()
	if m := binanceCodePattern.FindStringSubmatch(msg); len(m) == 2 {
		code := m[1]
		kind := KindExchange
		reason := "venue_error"
		switch n, _ := strconv.Atoi(code); {
		case n == -1021:
			kind, reason = KindClockSkew, "timestamp_outside_recv_window"
		case n == -1022 || n == -2014 || n == -2015:
			kind, reason = KindAuthFailure, "auth_failure"
		case n == -1003 || n == -1015:
			kind, reason = KindRateLimited, "rate_limited"
		case n <= -1100 && n >= -1199:
			kind, reason = KindInvalidRequest, "invalid_parameter"
		case n == -2010 || n == -2019:
			kind, reason = KindExchange, "insufficient_balance"
		}
		return &Error{Kind: kind, Exchange: ExchangeBinance, Code: code, Reason: reason, Message: msg}
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "429") || strings.Contains(lower, "418"):
		return &Error{Kind: KindRateLimited, Exchange: ExchangeBinance, Reason: "rate_limited", Message: msg}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return &Error{Kind: KindTimeout, Exchange: ExchangeBinance, Message: msg, Err: err}
	}
	return classifyTransport(ExchangeBinance, err)
}
