package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LBankBaseURLs     []string      `envconfig:"LBANK_BASE_URLS" default:"https://www.lbkex.net,https://api.lbkex.com,https://api.lbank.info"`
	LBankGeneralLimit int           `envconfig:"LBANK_GENERAL_LIMIT" default:"200"`
	LBankOrderLimit   int           `envconfig:"LBANK_ORDER_LIMIT" default:"500"`
	LBankLimitWindow  time.Duration `envconfig:"LBANK_LIMIT_WINDOW" default:"10s"`
	LBankLimitMargin  float64       `envconfig:"LBANK_LIMIT_MARGIN" default:"0.1"`

	BinanceEnabled     bool          `envconfig:"BINANCE_ENABLED" default:"true"`
	BinanceBaseURL     string        `envconfig:"BINANCE_BASE_URL"`
	BinanceLimit       int           `envconfig:"BINANCE_LIMIT" default:"1000"`
	BinanceLimitWindow time.Duration `envconfig:"BINANCE_LIMIT_WINDOW" default:"60s"`
	BinanceLimitMargin float64       `envconfig:"BINANCE_LIMIT_MARGIN" default:"0.1"`

	RateLimitMaxWait time.Duration `envconfig:"RATE_LIMIT_MAX_WAIT" default:"2s"`
	CallTimeout      time.Duration `envconfig:"EXCHANGE_CALL_TIMEOUT" default:"10s"`
	ClockSkewWindow  time.Duration `envconfig:"CLOCK_SKEW_WINDOW" default:"1s"`
	PriceCacheTTL    time.Duration `envconfig:"PRICE_CACHE_TTL" default:"5s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
