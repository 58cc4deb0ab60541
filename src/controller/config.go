package controller

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	SyncRunTimeout      time.Duration `envconfig:"SYNC_RUN_TIMEOUT" default:"30s"`
	SyncExchangeTimeout time.Duration `envconfig:"SYNC_EXCHANGE_TIMEOUT" default:"20s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
