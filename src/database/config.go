package database

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// DatabaseURL selects the driver: postgres:// or postgresql:// use
	// postgres, anything else is a sqlite DSN.
	DatabaseURL     string `envconfig:"DATABASE_URL" default:"file:./dev.db"`
	GormLogLevel    int    `envconfig:"GORM_LOG_LEVEL" default:"2"`
	MaxOpenConns    int    `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int    `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime string `envconfig:"DB_CONN_MAX_LIFETIME" default:"1h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
