package main

import (
	"fmt"
	"os"

	"github.com/ellemouton/lnduma"
	"github.com/ellemouton/lnduma/sending"
	"github.com/lightninglabs/lndclient"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()

	app.Name = "lnduma-client"
	app.Usage = "Send UMA and LNURL-pay payments"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "host",
			Value: "localhost:10009",
			Usage: "lnd instance rpc address",
		},
		&cli.StringFlag{
			Name:  "network",
			Value: "regtest",
			Usage: "the network",
		},
		&cli.StringFlag{
			Name:  "macpath",
			Usage: "Path to lnd's mac dir",
		},
		&cli.StringFlag{
			Name:  "tlspath",
			Usage: "Path to lnd's tls cert",
		},
		&cli.StringFlag{
			Name: "db",
			Usage: "sqlite file to keep pending sends in. Required to " +
				"split a send over several commands",
		},
		&cli.StringFlag{
			Name: "sender",
			Usage: "UMA address of the payer, e.g. $alice@vasp1.com. " +
				"Enables UMA when UMA_SIGNING_PRIVKEY is set",
		},
		&cli.StringFlag{
			Name:  "loglevel",
			Value: "warn",
			Usage: "logging level (trace, debug, info, warn, error)",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		return lnduma.SetupLogging(os.Stderr, ctx.String("loglevel"))
	}
	app.Commands = append(
		app.Commands, lookupCommand, payRequestCommand, pendingCommand,
		payCommand, sendCommand,
	)

	err := app.Run(os.Args)
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[lnduma-client] %v\n", err)
	os.Exit(1)
}

func getLND(ctx *cli.Context) (*lndclient.GrpcLndServices, error) {
	return lnduma.ConnectLnd(&lnduma.LndConfig{
		LndAddr:     ctx.String("host"),
		Network:     lndclient.Network(ctx.String("network")),
		MacaroonDir: ctx.String("macpath"),
		TLSPath:     ctx.String("tlspath"),
	})
}

// getClient builds the sending client. The returned cleanup closes the
// store.
func getClient(ctx *cli.Context) (*sending.Client, func(), error) {
	chainParams, err := lnduma.ChainParams(
		lndclient.Network(ctx.String("network")),
	)
	if err != nil {
		return nil, nil, err
	}

	var (
		store   sending.Store = sending.NewMemoryStore()
		cleanup               = func() {}
	)
	if path := ctx.String("db"); path != "" {
		sqliteStore, err := sending.OpenSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		store = sqliteStore
		cleanup = func() {
			_ = sqliteStore.Close()
		}
	}

	cfg := &sending.Config{
		Store:       store,
		ChainParams: chainParams,
	}
	if os.Getenv("UMA_SIGNING_PRIVKEY") != "" {
		keys, err := lnduma.LoadUmaKeys()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cfg.SigningKey, err = keys.SigningPrivKey()
		if err != nil {
			cleanup()
			return nil, nil, err
		}

		cfg.SenderAddress = ctx.String("sender")
		if cfg.SenderAddress == "" {
			cleanup()
			return nil, nil, fmt.Errorf("--sender is required " +
				"with UMA_SIGNING_PRIVKEY")
		}
	}

	client, err := sending.NewClient(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return client, cleanup, nil
}

func requireDB(ctx *cli.Context) error {
	if ctx.String("db") == "" {
		return fmt.Errorf("missing '--db' flag, pending sends are " +
			"not kept between commands without it")
	}

	return nil
}
