package security

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ExchangeCRKey string        `envconfig:"EXCHANGE_CREDENTIALS_KEY" default:"Pjk+k4hske5KkKtbaKSVDOgpllRl+0EI6oCAdx88XqI="`
	JWTSecret     string        `envconfig:"JWT_SECRET" default:"dev-only-jwt-secret"`
	JWTExpiration time.Duration `envconfig:"JWT_EXPIRATION" default:"24h"`
	BcryptCost    int           `envconfig:"BCRYPT_COST" default:"12"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
