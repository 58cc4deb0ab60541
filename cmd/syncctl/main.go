package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"portfoliodoctor/src/app"
	"portfoliodoctor/src/connectors"
	"portfoliodoctor/src/controller"
	"portfoliodoctor/src/database"
	"portfoliodoctor/src/logging"
	"portfoliodoctor/src/security"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"gorm.io/gorm"
)

var Version string

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "syncctl"
	cliApp.Usage = "Portfolio sync operations from the command line"
	cliApp.Version = Version

	cliApp.Commands = []cli.Command{
		syncCMD,
		migrateCMD,
		keygenCMD,
		exceptionsCMD,
		orderCMD,
	}

	if err := cliApp.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	syncCMD = cli.Command{
		Name:      "sync",
		Usage:     "sync the portfolio of one user and print the run",
		Action:    syncAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "user", Usage: "user id"},
			cli.BoolFlag{Name: "strict", Usage: "fail when every exchange fails"},
		},
		Description: `Run one portfolio sync for --user`,
	}
	migrateCMD = cli.Command{
		Name:        "migrate",
		Usage:       "run schema and data migrations",
		Action:      migrateAction,
		Description: `Apply AutoMigrate and pending data migrations, then exit`,
	}
	keygenCMD = cli.Command{
		Name:        "keygen",
		Usage:       "print a new EXCHANGE_CREDENTIALS_KEY",
		Action:      keygenAction,
		Description: `Generate a random base64 32-byte key`,
	}
	exceptionsCMD = cli.Command{
		Name:   "exceptions",
		Usage:  "list recent captured exceptions of a user",
		Action: exceptionsAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "user", Usage: "user id"},
			cli.IntFlag{Name: "limit", Value: 20},
		},
	}
)

// env holds what every database-backed command needs.
type env struct {
	app   *app.App
	lbank *connectors.LBankClient
}

// openDB loads the environment, configures logging and opens the migrated
// database.
func openDB() (*gorm.DB, *security.Cipher, security.Config, func(), error) {
	if err := app.LoadEnv(); err != nil {
		return nil, nil, security.Config{}, nil, fmt.Errorf("load .env: %w", err)
	}
	closer := logging.Setup(logging.GetConfig())

	secCfg := security.GetConfig()
	cipher, err := security.NewCipherFromConfig(secCfg)
	if err != nil {
		_ = closer.Close()
		return nil, nil, secCfg, nil, err
	}
	db, err := database.OpenMainDB(database.GetConfig(), cipher)
	if err != nil {
		_ = closer.Close()
		return nil, nil, secCfg, nil, err
	}

	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		_ = closer.Close()
	}
	return db, cipher, secCfg, cleanup, nil
}

func bootstrap() (*env, func(), error) {
	db, cipher, secCfg, cleanup, err := openDB()
	if err != nil {
		return nil, nil, err
	}

	registry, lbank := app.Exchanges(connectors.GetConfig())
	a := app.New(db, cipher, app.Options{
		Security:   secCfg,
		Controller: controller.GetConfig(),
		Registry:   registry,
		Prices:     lbank,
	})
	return &env{app: a, lbank: lbank}, cleanup, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func syncAction(c *cli.Context) error {
	userID := c.String("user")
	if userID == "" {
		return cli.NewExitError("--user is required", 2)
	}

	e, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signalContext()
	defer stop()

	logrus.WithFields(map[string]interface{}{"cmd": "sync", "user_id": userID}).Info("Starting sync CMD")
	res, err := e.app.Sync.Sync(ctx, userID, controller.SyncOptions{Strict: c.Bool("strict")})
	if res != nil {
		if perr := printJSON(res.Run); perr != nil {
			return perr
		}
	}
	return err
}

func migrateAction(_ *cli.Context) error {
	_, _, _, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	logrus.WithField("cmd", "migrate").Info("migrations applied")
	return nil
}

func keygenAction(_ *cli.Context) error {
	key, err := security.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

func exceptionsAction(c *cli.Context) error {
	userID := c.String("user")
	if userID == "" {
		return cli.NewExitError("--user is required", 2)
	}

	e, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	list, err := e.app.Exceptions.ListByUser(context.Background(), userID, c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(list)
}
