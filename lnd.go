package lnduma

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

// LndConfig holds the connection details of the backing lnd node.
type LndConfig struct {
	LndAddr     string
	Network     lndclient.Network
	MacaroonDir string
	TLSPath     string
}

// ConnectLnd connects to the lnd node described by cfg.
func ConnectLnd(cfg *LndConfig) (*lndclient.GrpcLndServices, error) {
	return lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:  cfg.LndAddr,
		Network:     cfg.Network,
		MacaroonDir: cfg.MacaroonDir,
		TLSPath:     cfg.TLSPath,
	})
}

// ChainParams returns the chain parameters used to decode invoices on
// network.
func ChainParams(network lndclient.Network) (*chaincfg.Params, error) {
	switch network {
	case lndclient.NetworkMainnet:
		return &chaincfg.MainNetParams, nil

	case lndclient.NetworkTestnet:
		return &chaincfg.TestNet3Params, nil

	case lndclient.NetworkRegtest:
		return &chaincfg.RegressionNetParams, nil

	case lndclient.NetworkSimnet:
		return &chaincfg.SimNetParams, nil

	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// LndInvoiceIssuer issues invoices from an lnd node. It also implements
// NodeIdentifier.
type LndInvoiceIssuer struct {
	client lndclient.LightningClient
	memo   string
}

// NewLndInvoiceIssuer creates an issuer backed by client.
func NewLndInvoiceIssuer(client lndclient.LightningClient) *LndInvoiceIssuer {
	return &LndInvoiceIssuer{
		client: client,
		memo:   "lnduma",
	}
}

func (l *LndInvoiceIssuer) IssueInvoice(ctx context.Context,
	amount lnwire.MilliSatoshi, expiry time.Duration,
	descriptionHash lntypes.Hash) (string, error) {

	hash, payReq, err := l.client.AddInvoice(ctx, &invoicesrpc.AddInvoiceData{
		Memo:            l.memo,
		Value:           amount,
		DescriptionHash: descriptionHash[:],
		Expiry:          int64(expiry.Seconds()),
	})
	if err != nil {
		return "", fmt.Errorf("add invoice: %w", err)
	}

	log.Debugf("Added invoice %v for %v", hash, amount)

	return payReq, nil
}

func (l *LndInvoiceIssuer) NodePubKey(ctx context.Context) (string, error) {
	info, err := l.client.GetInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("get info: %w", err)
	}

	return hex.EncodeToString(info.IdentityPubkey[:]), nil
}
