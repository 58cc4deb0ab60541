package main

import (
	"context"
	"errors"
	"fmt"

	"portfoliodoctor/src/connectors"
	"portfoliodoctor/src/vault"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var errTradeNotPermitted = errors.New("stored credential does not have the trade permission")

type credentialGetter interface {
	Get(ctx context.Context, userID, exchangeID string) (*vault.Credential, error)
}

type trader interface {
	PlaceOrder(ctx context.Context, cred connectors.Credential, order connectors.OrderRequest) (*connectors.OrderAck, error)
	CancelOrder(ctx context.Context, cred connectors.Credential, symbol, orderID string) error
}

var orderCMD = cli.Command{
	Name:  "order",
	Usage: "place or cancel a spot order with a stored credential",
	Subcommands: []cli.Command{
		{
			Name:   "place",
			Usage:  "place a spot order",
			Action: placeOrderAction,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "user", Usage: "user id"},
				cli.StringFlag{Name: "exchange", Value: connectors.ExchangeLBank},
				cli.StringFlag{Name: "symbol", Usage: "pair, e.g. btc_usdt"},
				cli.StringFlag{Name: "type", Usage: "buy, sell, buy_market, sell_market, ..."},
				cli.StringFlag{Name: "amount", Usage: "base amount"},
				cli.StringFlag{Name: "price", Usage: "limit price, or quote amount for buy_market"},
				cli.StringFlag{Name: "custom-id"},
			},
		},
		{
			Name:   "cancel",
			Usage:  "cancel an open order",
			Action: cancelOrderAction,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "user", Usage: "user id"},
				cli.StringFlag{Name: "exchange", Value: connectors.ExchangeLBank},
				cli.StringFlag{Name: "symbol"},
				cli.StringFlag{Name: "order-id"},
			},
		},
	},
}

func parseDecimal(name, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return d, nil
}

// tradingCredential loads the credential and checks it may place orders.
func tradingCredential(ctx context.Context, creds credentialGetter, userID, exchangeID string) (*vault.Credential, error) {
	if exchangeID != connectors.ExchangeLBank {
		return nil, fmt.Errorf("orders are only supported on %s", connectors.ExchangeLBank)
	}
	cred, err := creds.Get(ctx, userID, exchangeID)
	if err != nil {
		return nil, err
	}
	if !cred.Permissions.Trade {
		return nil, errTradeNotPermitted
	}
	return cred, nil
}

func placeOrder(ctx context.Context, creds credentialGetter, t trader, userID, exchangeID string, order connectors.OrderRequest) (*connectors.OrderAck, error) {
	cred, err := tradingCredential(ctx, creds, userID, exchangeID)
	if err != nil {
		return nil, err
	}
	return t.PlaceOrder(ctx, cred, order)
}

func cancelOrder(ctx context.Context, creds credentialGetter, t trader, userID, exchangeID, symbol, orderID string) error {
	cred, err := tradingCredential(ctx, creds, userID, exchangeID)
	if err != nil {
		return err
	}
	return t.CancelOrder(ctx, cred, symbol, orderID)
}

func placeOrderAction(c *cli.Context) error {
	if c.String("user") == "" {
		return cli.NewExitError("--user is required", 2)
	}
	amount, err := parseDecimal("amount", c.String("amount"))
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	price, err := parseDecimal("price", c.String("price"))
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}

	e, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signalContext()
	defer stop()

	ack, err := placeOrder(ctx, e.app.Vault, e.lbank, c.String("user"), c.String("exchange"), connectors.OrderRequest{
		Symbol:   c.String("symbol"),
		Type:     c.String("type"),
		Price:    price,
		Amount:   amount,
		CustomID: c.String("custom-id"),
	})
	if err != nil {
		logrus.WithError(err).WithField("cmd", "order place").Error("order rejected")
		return err
	}
	return printJSON(ack)
}

func cancelOrderAction(c *cli.Context) error {
	if c.String("user") == "" {
		return cli.NewExitError("--user is required", 2)
	}

	e, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signalContext()
	defer stop()

	if err := cancelOrder(ctx, e.app.Vault, e.lbank, c.String("user"), c.String("exchange"), c.String("symbol"), c.String("order-id")); err != nil {
		logrus.WithError(err).WithField("cmd", "order cancel").Error("cancel rejected")
		return err
	}
	return printJSON(map[string]string{"status": "cancelled", "order_id": c.String("order-id")})
}
