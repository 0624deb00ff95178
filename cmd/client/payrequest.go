package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/btcsuite/btcutil"
	"github.com/ellemouton/lnduma/protocol"
	"github.com/ellemouton/lnduma/sending"
	"github.com/urfave/cli/v2"
)

var lookupCommand = &cli.Command{
	Name:        "lookup",
	Usage:       "Look up an UMA or lightning address",
	Description: `Resolve an address and remember the response under a new id`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "address",
			Usage: "The address to pay, e.g. $bob@vasp2.com.",
		},
	},
	Action: lookup,
}

var payRequestCommand = &cli.Command{
	Name:        "payreq",
	Usage:       "Request an invoice for a looked up address",
	Description: `Request an invoice from the receiver of a lookup`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "id",
			Usage: "The id returned by lookup.",
		},
		&cli.Int64Flag{
			Name:  "amt",
			Usage: "The amount to send, in millisats unless --currency is set",
		},
		&cli.StringFlag{
			Name:  "currency",
			Usage: "Currency code --amt is denominated in",
		},
	},
	Action: payRequest,
}

var sendCommand = &cli.Command{
	Name:        "send",
	Usage:       "Look up an address, request an invoice and pay it",
	Description: `Send to an UMA or lightning address in one go`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "address",
			Usage: "The address to pay, e.g. $bob@vasp2.com.",
		},
		&cli.Int64Flag{
			Name:  "amt",
			Usage: "The amount to send, in millisats unless --currency is set",
		},
		&cli.StringFlag{
			Name:  "currency",
			Usage: "Currency code --amt is denominated in",
		},
		&cli.Int64Flag{
			Name:  "maxfee",
			Usage: "max fee to pay for this payment (in sats)",
			Value: 10,
		},
	},
	Action: send,
}

func lookup(ctx *cli.Context) error {
	if err := requireDB(ctx); err != nil {
		return err
	}

	address := ctx.String("address")
	if address == "" {
		return fmt.Errorf("missing '--address' flag")
	}

	client, cleanup, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	id, resp, err := client.Lookup(ctx.Context, address)
	if err != nil {
		return err
	}

	printLookup(id, resp)

	return nil
}

func payRequest(ctx *cli.Context) error {
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

	record, err := client.RequestInvoice(
		ctx.Context, id, ctx.Int64("amt"), ctx.String("currency"),
	)
	if err != nil {
		return err
	}

	printPaymentRecord(record)

	return nil
}

func send(ctx *cli.Context) error {
	address := ctx.String("address")
	if address == "" {
		return fmt.Errorf("missing '--address' flag")
	}

	client, cleanup, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	id, resp, err := client.Lookup(ctx.Context, address)
	if err != nil {
		return err
	}
	printLookup(id, resp)

	amount, currency := ctx.Int64("amt"), ctx.String("currency")
	if currency == "" {
		amount, err = promptAmount(
			amount, resp.MinSendable, resp.MaxSendable,
		)
		if err != nil {
			return err
		}
	}

	record, err := client.RequestInvoice(ctx.Context, id, amount, currency)
	if err != nil {
		return err
	}
	printPaymentRecord(record)

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

// promptAmount asks for an amount in millisats until one within bounds is
// entered.
func promptAmount(millisats, minSendable, maxSendable int64) (int64, error) {
	reader := bufio.NewReader(os.Stdin)
	for millisats < minSendable || millisats > maxSendable {
		fmt.Printf("Enter an amount (in millisatoshis) between "+
			"%d and %d\n", minSendable, maxSendable)

		userInput, err := reader.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("could not read from console: %w",
				err)
		}
		userInput = strings.TrimSpace(userInput)

		millisats, err = strconv.ParseInt(userInput, 10, 64)
		if err != nil {
			fmt.Printf("error parsing input: %v\n", err)
			continue
		}

		if millisats < minSendable || millisats > maxSendable {
			fmt.Printf("Invalid amount. Expected an amount "+
				"between %d and %d, got %d\n", minSendable,
				maxSendable, millisats)
		}
	}

	return millisats, nil
}

func printLookup(id string, resp *protocol.LnurlpResponse) {
	fmt.Printf("Lookup id: %s\n", id)
	fmt.Printf("Sendable: %d - %d msat\n", resp.MinSendable,
		resp.MaxSendable)
	if !resp.IsUma() {
		fmt.Println("Protocol: LNURL-pay")
		return
	}

	fmt.Printf("Protocol: UMA %s\n", resp.UmaVersion)
	for _, currency := range resp.Currencies {
		fmt.Printf("- %s (%s): %d - %d\n", currency.Code, currency.Name,
			currency.MinSendable, currency.MaxSendable)
	}
}

func printPaymentRecord(record *sending.PaymentRecord) {
	fmt.Printf("Payment %s to %s\n", record.ID, record.ReceiverAddress)
	if record.Invoice != nil {
		fmt.Printf("- amount: %d msat\n", record.Invoice.AmountMsat)
		fmt.Printf("- payment hash: %s\n", record.Invoice.PaymentHash)
	}
	fmt.Printf("- invoice: %s\n", record.EncodedInvoice)
}
