package scheduler

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Schedule is a standard five-field cron spec; empty disables background syncs.
	Schedule    string `envconfig:"SYNC_SCHEDULE" default:""`
	Concurrency int    `envconfig:"SYNC_CONCURRENCY" default:"4"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
