// Package app wires repositories, the credential vault, exchange clients and
// the sync controller into one object shared by the server and the CLI.
package app

import (
	"portfoliodoctor/src/connectors"
	"portfoliodoctor/src/controller"
	"portfoliodoctor/src/handler"
	"portfoliodoctor/src/repository"
	"portfoliodoctor/src/security"
	"portfoliodoctor/src/server"
	"portfoliodoctor/src/stream"
	"portfoliodoctor/src/vault"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Options struct {
	Security   security.Config
	Controller controller.Config
	Registry   *connectors.Registry
	// Prices values portfolios; nil leaves them unvalued.
	Prices connectors.PriceSource
}

type App struct {
	DB         *gorm.DB
	Cipher     *security.Cipher
	Tokens     *security.TokenIssuer
	Users      *repository.GormUserRepository
	Runs       *repository.GormSyncRunRepository
	Exceptions *repository.ExceptionRepository
	Vault      *vault.Vault
	Registry   *connectors.Registry
	Prices     connectors.PriceSource
	Sync       *controller.SyncController
	Hub        *stream.Hub
	BcryptCost int
}

// Exchanges builds the configured exchange clients. The LBank client is
// returned separately because it also serves prices and orders.
func Exchanges(cfg connectors.Config) (*connectors.Registry, *connectors.LBankClient) {
	lbank := connectors.NewLBankClient(cfg)
	fetchers := []connectors.BalanceFetcher{lbank}
	if cfg.BinanceEnabled {
		fetchers = append(fetchers, connectors.NewBinanceClient(cfg))
	}
	registry := connectors.NewRegistry(fetchers...)
	logger.WithField("exchanges", registry.IDs()).Info("exchange clients configured")
	return registry, lbank
}

func New(db *gorm.DB, cipher *security.Cipher, opts Options) *App {
	if opts.Registry == nil {
		opts.Registry = connectors.NewRegistry()
	}
	users := repository.NewUserRepository(db)
	runs := repository.NewSyncRunRepository(db)
	exceptions := repository.NewExceptionRepository(db)
	v := vault.New(repository.NewCredentialRepository(db), cipher)
	hub := stream.NewHub()

	sync := controller.NewSyncController(
		opts.Controller,
		v,
		opts.Registry,
		repository.NewPortfolioRepository(db),
		runs,
		exceptions,
		hub,
	)

	return &App{
		DB:         db,
		Cipher:     cipher,
		Tokens:     security.NewTokenIssuer(opts.Security.JWTSecret, opts.Security.JWTExpiration),
		Users:      users,
		Runs:       runs,
		Exceptions: exceptions,
		Vault:      v,
		Registry:   opts.Registry,
		Prices:     opts.Prices,
		Sync:       sync,
		Hub:        hub,
		BcryptCost: opts.Security.BcryptCost,
	}
}

func (a *App) ServerDeps() server.Deps {
	return server.Deps{
		Users:      a.Users,
		Tokens:     a.Tokens,
		Issuer:     a.Tokens,
		BcryptCost: a.BcryptCost,
		Vault:      a.Vault,
		Catalogue:  a.Registry,
		Portfolio: handler.PortfolioDeps{
			Syncer:    a.Sync,
			Connected: a.Vault,
			Prices:    a.Prices,
			Runs:      a.Runs,
		},
		Hub: a.Hub,
	}
}
