package main

import (
	"fmt"

	"github.com/btcsuite/btcutil"
	"github.com/urfave/cli/v2"
)

var pendingCommand = &cli.Command{
	Name:   "pending",
	Usage:  "List payments with an invoice that were not paid yet",
	Action: pending,
}

var payCommand = &cli.Command{
	Name:        "pay",
	Usage:       "Pay a pending payment",
	Description: `Pay the invoice of a pending payment through lnd`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "id",
			Usage: "The id of the pending payment.",
		},
		&cli.Int64Flag{
			Name:  "maxfee",
			Usage: "max fee to pay for this payment (in sats)",
			Value: 10,
		},
	},
	Action: pay,
}

func pending(ctx *cli.Context) error {
	if err := requireDB(ctx); err != nil {
		return err
	}

	client, cleanup, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := client.PendingPayments(ctx.Context)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No pending payments")
		return nil
	}
	for _, record := range records {
		printPaymentRecord(record)
	}

	return nil
}

func pay(ctx *cli.Context) error {
	if err := requireDB(ctx); err != nil {
		return err
	}

	id := ctx.String("id")
	if id == "" {
		return fmt.Errorf("missing '--id' flag")
	}

	client, cleanup, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	lndClient, err := getLND(ctx)
	if err != nil {
		return fmt.Errorf("could not connect to LND: %w", err)
	}
	defer lndClient.Close()

	preimage, err := client.Pay(
		ctx.Context, id, lndClient.Client,
		btcutil.Amount(ctx.Int64("maxfee")),
	)
	if err != nil {
		return err
	}

	fmt.Printf("Successful payment! Preimage: %s\n", preimage)

	return nil
}
