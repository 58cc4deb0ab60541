package main

import (
	"fmt"
	"os"
	"time"

	"portfoliodoctor/src/app"
	"portfoliodoctor/src/connectors"
	"portfoliodoctor/src/controller"
	"portfoliodoctor/src/database"
	"portfoliodoctor/src/logging"
	"portfoliodoctor/src/scheduler"
	"portfoliodoctor/src/security"
	"portfoliodoctor/src/server"

	logger "github.com/sirupsen/logrus"
)

var APP_NAME = os.Getenv("APP_NAME")

func main() {
	if err := app.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load .env:", err)
	}
	closer := logging.Setup(logging.GetConfig())
	defer closer.Close()
	defer handlePanic()

	secCfg := security.GetConfig()
	cipher, err := security.NewCipherFromConfig(secCfg)
	if err != nil {
		logger.WithError(err).Fatal("Invalid EXCHANGE_CREDENTIALS_KEY")
	}

	// Initialize main (read/write) database
	db, err := database.OpenMainDB(database.GetConfig(), cipher)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	registry, lbank := app.Exchanges(connectors.GetConfig())
	a := app.New(db, cipher, app.Options{
		Security:   secCfg,
		Controller: controller.GetConfig(),
		Registry:   registry,
		Prices:     lbank,
	})

	sched, err := scheduler.New(scheduler.GetConfig(), a.Vault, a.Sync)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure sync scheduler")
	}
	if sched != nil {
		sched.Start()
		defer sched.Stop()
	}

	cfg := server.GetConfig()
	server.StartServer(cfg, server.NewRouter(cfg, a.ServerDeps()))
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
		//nolint
		time.Sleep(time.Second * 5)
	}
}
