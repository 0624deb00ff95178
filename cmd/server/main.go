package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ellemouton/lnduma"
	"github.com/lightninglabs/lndclient"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()

	app.Name = "lnduma-server"
	app.Usage = "UMA and LNURL-pay receiving server backed by lnd"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Value: "localhost:8080",
			Usage: "address to serve HTTP on",
		},
		&cli.StringFlag{
			Name: "publichost",
			Usage: "host:port lightning addresses are served under, " +
				"defaults to --listen",
		},
		&cli.StringFlag{
			Name:  "lndaddr",
			Value: "localhost:10009",
			Usage: "lnd instance rpc address",
		},
		&cli.StringFlag{
			Name:  "network",
			Value: "regtest",
			Usage: "the network lnd is running on",
		},
		&cli.StringFlag{
			Name:  "macaroondir",
			Usage: "path to lnd's macaroon directory",
		},
		&cli.StringFlag{
			Name:  "tlspath",
			Usage: "path to lnd's tls cert",
		},
		&cli.StringFlag{
			Name:  "loglevel",
			Value: "info",
			Usage: "logging level (trace, debug, info, warn, error)",
		},
		&cli.StringSliceFlag{
			Name: "user",
			Usage: "receiver to serve, as " +
				"handle[:id[:minMsat:maxMsat[:nodePubKey]]]",
		},
		&cli.DurationFlag{
			Name:  "noncewindow",
			Value: lnduma.DefaultNonceWindow,
			Usage: "how old a signed request may be",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[lnduma-server] %v\n", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	err := lnduma.SetupLogging(os.Stdout, ctx.String("loglevel"))
	if err != nil {
		return err
	}

	keys, err := lnduma.LoadUmaKeys()
	if err != nil {
		return err
	}

	users, err := userDirectory(ctx.StringSlice("user"))
	if err != nil {
		return err
	}

	network := lndclient.Network(ctx.String("network"))
	chainParams, err := lnduma.ChainParams(network)
	if err != nil {
		return err
	}

	lnd, err := lnduma.ConnectLnd(&lnduma.LndConfig{
		LndAddr:     ctx.String("lndaddr"),
		Network:     network,
		MacaroonDir: ctx.String("macaroondir"),
		TLSPath:     ctx.String("tlspath"),
	})
	if err != nil {
		return fmt.Errorf("could not connect to lnd: %w", err)
	}
	defer lnd.Close()

	publicHost := ctx.String("publichost")
	if publicHost == "" {
		publicHost = ctx.String("listen")
	}

	server, err := lnduma.NewServer(&lnduma.Config{
		ListenAddr:  ctx.String("listen"),
		PublicHost:  publicHost,
		Users:       users,
		Issuer:      lnduma.NewLndInvoiceIssuer(lnd.Client),
		Keys:        keys,
		ChainParams: chainParams,
		NonceWindow: ctx.Duration("noncewindow"),
	})
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(
		ctx.Context, os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	return server.Run(runCtx)
}

// userDirectory builds the receivers served from the --user flag values.
func userDirectory(raws []string) (*lnduma.StaticUserDirectory, error) {
	if len(raws) == 0 {
		return nil, fmt.Errorf("at least one --user is required")
	}

	receivers := make([]*lnduma.Receiver, 0, len(raws))
	for _, raw := range raws {
		r, err := lnduma.ParseReceiver(raw)
		if err != nil {
			return nil, err
		}
		receivers = append(receivers, r)
	}

	return lnduma.NewStaticUserDirectory(receivers...)
}
