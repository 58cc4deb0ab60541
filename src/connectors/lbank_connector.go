package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"portfoliodoctor/src/mapper"
	"portfoliodoctor/src/metrics"
	"portfoliodoctor/src/model"
	"portfoliodoctor/src/signer"
	"portfoliodoctor/src/utils"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	lbankTimestampPath    = "/v2/timestamp.do"
	lbankSpotBalancePath  = "/v2/supplement/user_info.do"
	lbankTradeBalancePath = "/v2/supplement/user_info_account.do"
	lbankTickerPricePath  = "/v2/supplement/ticker/price.do"
	lbankCreateOrderPath  = "/v2/supplement/create_order.do"
	lbankCancelOrderPath  = "/v2/supplement/cancel_order.do"

	// sends allowed for one operation: the first try plus one retry,
	// whether the retry is a host failover or a re-signed request
	lbankSendBudget = 2
)

// isRetryableResp reports whether a response lets send move to the next host.
func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return true
	}
	return false
}

type lbankEnvelope struct {
	Result    json.RawMessage `json:"result"`
	ErrorCode json.RawMessage `json:"error_code"`
	Msg       string          `json:"msg"`
	ErrorMsg  string          `json:"error_msg"`
	Ts        int64           `json:"ts"`
	Data      json.RawMessage `json:"data"`
}

func unquote(raw json.RawMessage) string {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "null" {
		return ""
	}
	return s
}

func (e *lbankEnvelope) ok() bool {
	return strings.EqualFold(unquote(e.Result), "true")
}

// decodeLBank unwraps the {result, error_code, ts, data} envelope. Bare
// arrays and envelope-less objects are returned as data.
func decodeLBank(body []byte) (json.RawMessage, int64, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, 0, &Error{Kind: KindExchange, Exchange: ExchangeLBank, Reason: "malformed_response", Message: "empty response body"}
	}
	if trimmed[0] == '[' {
		return json.RawMessage(trimmed), 0, nil
	}

	var env lbankEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, 0, &Error{Kind: KindExchange, Exchange: ExchangeLBank, Reason: "malformed_response", Message: "undecodable response", Err: err}
	}
	if len(env.Result) == 0 && unquote(env.ErrorCode) == "" {
		return json.RawMessage(trimmed), env.Ts, nil
	}
	if !env.ok() {
		code := unquote(env.ErrorCode)
		if code == "" {
			code = "unknown"
		}
		msg := env.Msg
		if msg == "" {
			msg = env.ErrorMsg
		}
		return nil, env.Ts, lbankError(code, msg)
	}
	return env.Data, env.Ts, nil
}

// formBuilder produces a request body. Signed calls build a fresh signature
// for every host attempt and report the timestamp they signed with.
type formBuilder func() (url.Values, int64, error)

type lbankCall struct {
	bucket     Bucket
	path       string
	endpoint   string
	params     map[string]string
	idempotent bool
}

type priceCache struct {
	mu        sync.RWMutex
	prices    map[string]decimal.Decimal
	fetchedAt time.Time
	ttl       time.Duration
	group     singleflight.Group
}

func (p *priceCache) fresh(now time.Time) (map[string]decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.prices != nil && now.Sub(p.fetchedAt) < p.ttl {
		return p.prices, true
	}
	return nil, false
}

func (p *priceCache) last() map[string]decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.prices
}

func (p *priceCache) store(prices map[string]decimal.Decimal, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices = prices
	p.fetchedAt = now
}

// LBankClient talks to the LBank v2 REST API.
type LBankClient struct {
	hosts       []string
	preferred   int32
	http        *resty.Client
	limiter     *RateLimiter
	clock       *TimeSync
	skewWindow  time.Duration
	callTimeout time.Duration
	prices      *priceCache
	newEcho     func() (string, error)
}

func NewLBankClient(cfg Config) *LBankClient {
	hosts := make([]string, 0, len(cfg.LBankBaseURLs))
	for _, h := range cfg.LBankBaseURLs {
		if h = strings.TrimRight(strings.TrimSpace(h), "/"); h != "" {
			hosts = append(hosts, h)
		}
	}

	c := &LBankClient{
		hosts: hosts,
		http: resty.New().
			SetTimeout(cfg.CallTimeout).
			SetHeader("Accept", "application/json").
			SetRetryCount(0),
		limiter: NewRateLimiter(ExchangeLBank, map[Bucket]LimitSpec{
			BucketGeneral: {Limit: cfg.LBankGeneralLimit, Window: cfg.LBankLimitWindow, Margin: cfg.LBankLimitMargin},
			BucketOrder:   {Limit: cfg.LBankOrderLimit, Window: cfg.LBankLimitWindow, Margin: cfg.LBankLimitMargin},
		}, cfg.RateLimitMaxWait),
		skewWindow:  cfg.ClockSkewWindow,
		callTimeout: cfg.CallTimeout,
		prices:      &priceCache{ttl: cfg.PriceCacheTTL},
		newEcho:     signer.NewEchoStr,
	}
	c.clock = NewTimeSync(ExchangeLBank, c.ServerTime)
	return c
}

func (c *LBankClient) ExchangeID() string { return ExchangeLBank }

// send tries each host in turn, starting from the last one that answered.
// Every HTTP request spends one unit of *sends. With failover set, transport
// failures and 5xx move on to the next host while units remain; anything
// else is returned to the caller.
func (c *LBankClient) send(ctx context.Context, method, path, endpoint string, bucket Bucket, sends *int, failover bool, build formBuilder) ([]byte, int64, error) {
	if len(c.hosts) == 0 {
		return nil, 0, &Error{Kind: KindInvalidRequest, Exchange: ExchangeLBank, Message: "no LBank hosts configured"}
	}

	lastErr := error(&Error{Kind: KindNetwork, Exchange: ExchangeLBank, Reason: "retry_budget_exhausted", Message: "no sends left for " + endpoint})
	start := int(atomic.LoadInt32(&c.preferred))
	for i := 0; i < len(c.hosts) && *sends > 0; i++ {
		idx := (start + i) % len(c.hosts)
		host := c.hosts[idx]

		if err := c.limiter.Acquire(ctx, bucket); err != nil {
			return nil, 0, err
		}
		form, sentAt, err := build()
		if err != nil {
			return nil, 0, err
		}

		*sends--
		begin := time.Now()
		req := c.http.R().SetContext(ctx)
		var resp *resty.Response
		if method == http.MethodPost {
			resp, err = req.SetFormDataFromValues(form).Post(host + path)
		} else {
			resp, err = req.SetQueryParamsFromValues(form).Get(host + path)
		}
		metrics.ObserveSince(metrics.ExchangeRequestDuration.WithLabelValues(ExchangeLBank, endpoint), begin)

		if err != nil {
			lastErr = classifyTransport(ExchangeLBank, err)
			logger.WithFields(map[string]interface{}{
				"exchange": ExchangeLBank,
				"host":     host,
				"endpoint": endpoint,
			}).WithError(err).Warn("LBank host unreachable")
			if ctx.Err() != nil || !failover {
				return nil, 0, lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status == http.StatusTooManyRequests {
			return nil, 0, &Error{Kind: KindRateLimited, Exchange: ExchangeLBank, Code: "429", Reason: "rate_limited", Message: "HTTP 429 from venue"}
		}
		if isRetryableResp(resp, nil) {
			lastErr = &Error{Kind: KindNetwork, Exchange: ExchangeLBank, Code: strconv.Itoa(status), Message: "host returned " + resp.Status()}
			logger.WithFields(map[string]interface{}{
				"exchange": ExchangeLBank,
				"host":     host,
				"status":   status,
			}).Warn("LBank host returned server error")
			if !failover {
				return nil, 0, lastErr
			}
			continue
		}

		atomic.StoreInt32(&c.preferred, int32(idx))
		body := resp.Body()
		if status >= 400 && !json.Valid(body) {
			return nil, sentAt, &Error{Kind: KindExchange, Exchange: ExchangeLBank, Code: strconv.Itoa(status), Reason: "http_status", Message: resp.Status()}
		}
		return body, sentAt, nil
	}
	return nil, 0, lastErr
}

// private runs a signed call with at most one retry, and a host failover
// counts as that retry. Only ClockSkew (after a resync) and, for idempotent
// calls, network failures and timeouts are retried.
func (c *LBankClient) private(ctx context.Context, cred Credential, call lbankCall) (json.RawMessage, error) {
	s, err := signer.New(cred.SignatureMethod(), cred.Secret())
	if err != nil {
		return nil, &Error{Kind: KindAuthFailure, Exchange: ExchangeLBank, Reason: "invalid_credential", Message: "credential cannot produce a signature", Err: err}
	}

	var lastErr error
	sends := lbankSendBudget
	for attempt := 1; attempt <= 2; attempt++ {
		data, err := c.privateOnce(ctx, s, cred.APIKey(), call, &sends)
		if err == nil {
			return data, nil
		}
		lastErr = err
		kind := KindOf(err)
		metrics.ExchangeErrors.WithLabelValues(ExchangeLBank, string(kind)).Inc()

		if attempt == 2 || sends == 0 || ctx.Err() != nil || !shouldRetry(kind, call.idempotent) {
			break
		}
		if kind == KindClockSkew {
			if rerr := c.clock.Resync(ctx); rerr != nil {
				logger.WithError(rerr).WithField("exchange", ExchangeLBank).Warn("server time resync failed, retrying with current offset")
			}
		}
		logger.WithFields(map[string]interface{}{
			"exchange": ExchangeLBank,
			"endpoint": call.endpoint,
			"kind":     kind,
			"api_key":  utils.MaskKey(cred.APIKey()),
		}).Warn("retrying LBank call with a fresh signature")
	}
	return nil, lastErr
}

func shouldRetry(kind Kind, idempotent bool) bool {
	if kind == KindClockSkew {
		return true
	}
	return idempotent && kind.Retryable()
}

func (c *LBankClient) privateOnce(ctx context.Context, s signer.Signer, apiKey string, call lbankCall, sends *int) (json.RawMessage, error) {
	build := func() (url.Values, int64, error) {
		echo, err := c.newEcho()
		if err != nil {
			return nil, 0, newError(KindInvalidRequest, ExchangeLBank, "generate echostr", err)
		}
		sentAt := c.clock.Now()
		req, err := signer.Sign(s, apiKey, call.params, sentAt, echo)
		if err != nil {
			return nil, 0, newError(KindInvalidRequest, ExchangeLBank, "sign request", err)
		}
		return req.Form(), sentAt, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	begin := time.Now()
	body, sentAt, err := c.send(callCtx, http.MethodPost, call.path, call.endpoint, call.bucket, sends, call.idempotent, build)
	if err != nil {
		return nil, err
	}
	data, serverTs, err := decodeLBank(body)
	if err != nil {
		return nil, err
	}
	if call.idempotent && c.skewed(sentAt, serverTs, time.Since(begin)) {
		return nil, &Error{
			Kind:     KindClockSkew,
			Exchange: ExchangeLBank,
			Reason:   "clock_skew",
			Message:  "request timestamp " + strconv.FormatInt(sentAt, 10) + " vs server " + strconv.FormatInt(serverTs, 10),
		}
	}
	return data, nil
}

// skewed reports whether the signed timestamp was outside the tolerance
// window of the server clock, allowing for the observed round trip.
func (c *LBankClient) skewed(sentAt, serverTs int64, elapsed time.Duration) bool {
	if serverTs <= 0 || sentAt <= 0 {
		return false
	}
	window := c.skewWindow.Milliseconds()
	if sentAt-serverTs > window {
		return true
	}
	return serverTs-sentAt > window+elapsed.Milliseconds()
}

func staticForm(form url.Values) formBuilder {
	return func() (url.Values, int64, error) { return form, 0, nil }
}

// ServerTime returns the LBank clock in epoch milliseconds.
func (c *LBankClient) ServerTime(ctx context.Context) (int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	sends := lbankSendBudget
	body, _, err := c.send(callCtx, http.MethodGet, lbankTimestampPath, "timestamp", BucketGeneral, &sends, true, staticForm(nil))
	if err != nil {
		return 0, err
	}

	var payload struct {
		Timestamp json.Number `json:"timestamp"`
		Data      json.Number `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, &Error{Kind: KindExchange, Exchange: ExchangeLBank, Reason: "malformed_response", Message: "decode server time", Err: err}
	}
	raw := payload.Timestamp
	if raw == "" {
		raw = payload.Data
	}
	ts, err := raw.Int64()
	if err != nil || ts <= 0 {
		return 0, &Error{Kind: KindExchange, Exchange: ExchangeLBank, Reason: "malformed_response", Message: "missing server time"}
	}
	return ts, nil
}

// GetBalances merges the spot and trade account balances per asset. A
// failing trade account call is tolerated unless it is an auth or transport
// problem, which would also affect the spot figures.
func (c *LBankClient) GetBalances(ctx context.Context, cred Credential) ([]model.Balance, error) {
	spotRaw, err := c.private(ctx, cred, lbankCall{
		bucket:     BucketGeneral,
		path:       lbankSpotBalancePath,
		endpoint:   "user_info",
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	asOf := time.Now().UTC()
	spot, err := mapper.MapLBankSpotAssets(spotRaw, asOf)
	if err != nil {
		return nil, &Error{Kind: KindExchange, Exchange: ExchangeLBank, Reason: "malformed_response", Message: "decode spot balances", Err: err}
	}

	var trade []model.Balance
	tradeRaw, err := c.private(ctx, cred, lbankCall{
		bucket:     BucketGeneral,
		path:       lbankTradeBalancePath,
		endpoint:   "user_info_account",
		idempotent: true,
	})
	switch {
	case err == nil:
		trade, err = mapper.MapLBankTradeAccount(tradeRaw, asOf)
		if err != nil {
			logger.WithError(err).WithField("exchange", ExchangeLBank).Warn("ignoring undecodable trade account response")
			trade = nil
		}
	case KindOf(err) == KindExchange || KindOf(err) == KindInvalidRequest:
		logger.WithError(err).WithField("exchange", ExchangeLBank).Warn("trade account unavailable, using spot balances only")
	default:
		return nil, err
	}

	balances := mapper.MergeBalances(ExchangeLBank, spot, trade)
	logger.WithFields(map[string]interface{}{
		"exchange": ExchangeLBank,
		"api_key":  utils.MaskKey(cred.APIKey()),
		"assets":   len(balances),
	}).Debug("fetched LBank balances")
	return balances, nil
}

// Prices returns the public ticker price map, cached for PRICE_CACHE_TTL.
// An expired cache is served when the venue cannot be reached.
func (c *LBankClient) Prices(ctx context.Context) (map[string]decimal.Decimal, error) {
	if p, ok := c.prices.fresh(time.Now()); ok {
		return p, nil
	}

	v, err, _ := c.prices.group.Do("prices", func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		sends := lbankSendBudget
		body, _, err := c.send(callCtx, http.MethodGet, lbankTickerPricePath, "ticker_price", BucketGeneral, &sends, true, staticForm(nil))
		if err != nil {
			return nil, err
		}
		data, _, err := decodeLBank(body)
		if err != nil {
			return nil, err
		}
		prices, err := mapper.MapLBankPrices(data)
		if err != nil {
			return nil, &Error{Kind: KindExchange, Exchange: ExchangeLBank, Reason: "malformed_response", Message: "decode prices", Err: err}
		}
		c.prices.store(prices, time.Now())
		return prices, nil
	})
	if err != nil {
		if stale := c.prices.last(); stale != nil {
			logger.WithError(err).Warn("using expired price cache")
			return stale, nil
		}
		return nil, err
	}
	return v.(map[string]decimal.Decimal), nil
}

// OrderRequest is a spot order. Type is one of buy, sell, buy_market,
// sell_market, buy_maker, sell_maker, buy_ioc, sell_ioc, buy_fok, sell_fok.
type OrderRequest struct {
	Symbol   string
	Type     string
	Price    decimal.Decimal
	Amount   decimal.Decimal
	CustomID string
}

type OrderAck struct {
	OrderID  string `json:"order_id"`
	CustomID string `json:"custom_id,omitempty"`
}

var orderTypes = map[string]bool{
	"buy": true, "sell": true,
	"buy_market": true, "sell_market": true,
	"buy_maker": true, "sell_maker": true,
	"buy_ioc": true, "sell_ioc": true,
	"buy_fok": true, "sell_fok": true,
}

func (o OrderRequest) params() (map[string]string, error) {
	symbol := strings.ToLower(strings.TrimSpace(o.Symbol))
	if symbol == "" || !orderTypes[o.Type] {
		return nil, &Error{Kind: KindInvalidRequest, Exchange: ExchangeLBank, Message: "symbol and a valid order type are required"}
	}

	in := map[string]interface{}{"symbol": symbol, "type": o.Type}
	market := strings.HasSuffix(o.Type, "_market")
	switch {
	case market && o.Type == "buy_market":
		// market buys are sized in quote currency through price
		if !o.Price.IsPositive() {
			return nil, &Error{Kind: KindInvalidRequest, Exchange: ExchangeLBank, Message: "buy_market requires a positive quote amount in price"}
		}
		in["price"] = o.Price
	case market:
		if !o.Amount.IsPositive() {
			return nil, &Error{Kind: KindInvalidRequest, Exchange: ExchangeLBank, Message: "sell_market requires a positive amount"}
		}
		in["amount"] = o.Amount
	default:
		if !o.Price.IsPositive() || !o.Amount.IsPositive() {
			return nil, &Error{Kind: KindInvalidRequest, Exchange: ExchangeLBank, Message: "limit orders require positive price and amount"}
		}
		in["price"] = o.Price
		in["amount"] = o.Amount
	}
	if o.CustomID != "" {
		in["custom_id"] = o.CustomID
	}
	params, err := signer.Params(in)
	if err != nil {
		return nil, newError(KindInvalidRequest, ExchangeLBank, "format order parameters", err)
	}
	return params, nil
}

// PlaceOrder submits a spot order through the order bucket. It is not
// retried on transport failures.
func (c *LBankClient) PlaceOrder(ctx context.Context, cred Credential, order OrderRequest) (*OrderAck, error) {
	params, err := order.params()
	if err != nil {
		return nil, err
	}
	data, err := c.private(ctx, cred, lbankCall{
		bucket:   BucketOrder,
		path:     lbankCreateOrderPath,
		endpoint: "create_order",
		params:   params,
	})
	if err != nil {
		return nil, err
	}

	var ack OrderAck
	if err := json.Unmarshal(data, &ack); err != nil || ack.OrderID == "" {
		return nil, &Error{Kind: KindExchange, Exchange: ExchangeLBank, Reason: "malformed_response", Message: "order acknowledgement without order_id", Err: err}
	}
	if ack.CustomID == "" {
		ack.CustomID = order.CustomID
	}
	logger.WithFields(map[string]interface{}{
		"exchange": ExchangeLBank,
		"symbol":   params["symbol"],
		"type":     order.Type,
		"order_id": ack.OrderID,
	}).Info("LBank order placed")
	return &ack, nil
}

// CancelOrder cancels one open order.
func (c *LBankClient) CancelOrder(ctx context.Context, cred Credential, symbol, orderID string) error {
	symbol = strings.ToLower(strings.TrimSpace(symbol))
	if symbol == "" || strings.TrimSpace(orderID) == "" {
		return &Error{Kind: KindInvalidRequest, Exchange: ExchangeLBank, Message: "symbol and order id are required"}
	}
	_, err := c.private(ctx, cred, lbankCall{
		bucket:   BucketOrder,
		path:     lbankCancelOrderPath,
		endpoint: "cancel_order",
		params:   map[string]string{"symbol": symbol, "orderId": orderID},
	})
	return err
}
