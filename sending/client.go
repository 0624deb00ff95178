package sending

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/ellemouton/lnduma/protocol"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/zpay32"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// backcompatVersion is offered when a receiver rejects our version
	// but still speaks major version 0.
	backcompatVersion = "0.3"
)

// KeyFetcher resolves a VASP domain to its public keys.
type KeyFetcher interface {
	FetchPublicKeys(ctx context.Context, domain string) (
		*protocol.PubKeyResponse, error)
}

// Payer pays BOLT11 invoices. It is satisfied by lndclient.LightningClient.
type Payer interface {
	PayInvoice(ctx context.Context, invoice string, maxFee btcutil.Amount,
		outgoingChannel *uint64) chan lndclient.PaymentResult
}

// ErrorResponse is an error body returned by a counterparty.
type ErrorResponse struct {
	StatusCode int
	protocol.ErrorResponseBody
}

func (e *ErrorResponse) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("counterparty returned status %d",
			e.StatusCode)
	}

	return fmt.Sprintf("counterparty returned %s (%d): %s", e.Code,
		e.StatusCode, e.Reason)
}

// Config holds the dependencies of a Client.
type Config struct {
	Store Store

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client

	// ChainParams is the network invoices are decoded for.
	ChainParams *chaincfg.Params

	// SigningKey enables the UMA flow. Without it only plain LNURL is
	// used.
	SigningKey []byte

	// SenderAddress is the payer's UMA address, e.g. $alice@vasp1.com.
	// Required with SigningKey.
	SenderAddress string

	// KycStatus is declared for the payer in UMA pay requests.
	KycStatus protocol.KycStatus

	// UtxoCallback is where the receiver should post settlement UTXOs.
	UtxoCallback string

	// PubKeys defaults to an HTTP fetcher with an in-memory cache.
	PubKeys KeyFetcher

	// Nonces defaults to an in-memory cache.
	Nonces protocol.NonceCache
}

// Client performs the sending side of a payment: it looks up a receiver,
// requests an invoice and pays it, correlating the steps through a Store.
type Client struct {
	cfg        *Config
	vaspDomain string
}

// NewClient creates a client from cfg.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, errors.New("a store is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.ChainParams == nil {
		cfg.ChainParams = &chaincfg.MainNetParams
	}
	if cfg.PubKeys == nil {
		cfg.PubKeys = protocol.NewPubKeyFetcher(
			protocol.NewInMemoryPublicKeyCache(), cfg.HTTPClient,
		)
	}
	if cfg.Nonces == nil {
		cfg.Nonces = protocol.NewInMemoryNonceCache(
			time.Now().Add(-time.Hour),
		)
	}
	if cfg.KycStatus == "" {
		cfg.KycStatus = protocol.KycStatusVerified
	}

	c := &Client{cfg: cfg}
	if cfg.SigningKey != nil {
		domain, err := protocol.DomainFromAddress(cfg.SenderAddress)
		if err != nil {
			return nil, fmt.Errorf("sender address: %w", err)
		}
		c.vaspDomain = domain
	}

	return c, nil
}

func (c *Client) umaEnabled() bool {
	return c.cfg.SigningKey != nil
}

// Lookup resolves address, e.g. $bob@vasp2.com, and returns the correlation
// identifier of the lookup along with the receiver's response.
func (c *Client) Lookup(ctx context.Context, address string) (string,
	*protocol.LnurlpResponse, error) {

	receiverAddress := strings.TrimPrefix(address, "$")
	parts := strings.Split(receiverAddress, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", nil, fmt.Errorf("invalid address %q, expected "+
			"the form <username>@<domain>", address)
	}
	handle, domain := parts[0], parts[1]

	resp, err := c.lookup(ctx, receiverAddress, protocol.Version)

	var errResp *ErrorResponse
	if errors.As(err, &errResp) && c.umaEnabled() &&
		errResp.Code == protocol.CodeUnsupportedVersion.Code &&
		containsInt(errResp.SupportedMajorVersions, 0) {

		log.Infof("%s does not speak UMA %s, retrying with %s",
			domain, protocol.Version, backcompatVersion)
		resp, err = c.lookup(ctx, receiverAddress, backcompatVersion)
	}
	if err != nil {
		return "", nil, err
	}

	if resp.IsUma() {
		err := c.verify(ctx, domain, func(pubKey []byte) error {
			return protocol.VerifyLnurlpResponseSignature(
				resp, pubKey, c.cfg.Nonces,
			)
		})
		if err != nil {
			return "", nil, fmt.Errorf("lnurlp response: %w", err)
		}
	}

	id, err := c.cfg.Store.SaveLookupRecord(ctx, resp, handle, domain)
	if err != nil {
		return "", nil, err
	}

	log.Debugf("Saved lookup %s of %s (uma=%v)", id, receiverAddress,
		resp.IsUma())

	return id, resp, nil
}

func (c *Client) lookup(ctx context.Context, receiverAddress,
	version string) (*protocol.LnurlpResponse, error) {

	req := &protocol.LnurlpRequest{ReceiverAddress: receiverAddress}
	if c.umaEnabled() {
		var err error
		req, err = protocol.NewSignedLnurlpRequest(
			c.cfg.SigningKey, receiverAddress, c.vaspDomain, true,
		)
		if err != nil {
			return nil, err
		}
		req.UmaVersion = version
	}

	u, err := req.EncodeToURL()
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := protocol.ParseLnurlpResponse(body)
	if err != nil {
		return nil, fmt.Errorf("parse lnurlp response: %w", err)
	}
	if resp.Tag != protocol.TagPayRequest {
		return nil, fmt.Errorf("unexpected lnurl tag %q", resp.Tag)
	}

	return resp, nil
}

// RequestInvoice asks the receiver of lookup id for an invoice. amount is in
// msats when currencyCode is empty, and in the smallest unit of
// currencyCode otherwise. The resulting payment record is stored under id.
func (c *Client) RequestInvoice(ctx context.Context, id string, amount int64,
	currencyCode string) (*PaymentRecord, error) {

	lookup, err := c.cfg.Store.GetLookupRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := lookup.Response
	receiverAddress := "$" + lookup.ReceiverID + "@" +
		lookup.CounterpartyDomain

	uma := resp.IsUma() && c.umaEnabled()

	var payResp *protocol.PayReqResponse
	if uma {
		payResp, err = c.umaPayreq(
			ctx, lookup, receiverAddress, amount, currencyCode,
		)
	} else {
		payResp, err = c.plainPayreq(ctx, resp, amount, currencyCode)
	}
	if err != nil {
		return nil, err
	}

	invoice, err := zpay32.Decode(
		payResp.EncodedInvoice, c.cfg.ChainParams,
	)
	if err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	if currencyCode == "" && invoice.MilliSat != nil &&
		int64(*invoice.MilliSat) != amount {

		return nil, fmt.Errorf("invoice is for %v, requested %d msat",
			*invoice.MilliSat, amount)
	}

	// Only plain invoices commit to the bare metadata; UMA invoices
	// also commit to the payer data.
	if !uma {
		hash := sha256.Sum256([]byte(resp.EncodedMetadata))
		if invoice.DescriptionHash == nil ||
			!bytes.Equal(invoice.DescriptionHash[:], hash[:]) {

			return nil, errors.New("invalid invoice description hash")
		}
	}

	record := &PaymentRecord{
		ID:              id,
		ReceiverAddress: receiverAddress,
		EncodedInvoice:  payResp.EncodedInvoice,
		Invoice:         invoiceDetails(invoice),
		Currencies:      resp.Currencies,
	}
	if uma && c.cfg.UtxoCallback != "" {
		callback := c.cfg.UtxoCallback
		record.SettlementCallback = &callback
	}

	if _, err := c.cfg.Store.SavePaymentRecord(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

func (c *Client) plainPayreq(ctx context.Context,
	resp *protocol.LnurlpResponse, amount int64,
	currencyCode string) (*protocol.PayReqResponse, error) {

	if currencyCode != "" {
		return nil, fmt.Errorf("receiver does not support UMA, " +
			"amount must be in msats")
	}
	if amount < resp.MinSendable || amount > resp.MaxSendable {
		return nil, fmt.Errorf("invalid amount. Expected an amount "+
			"between %d and %d msats, got %d", resp.MinSendable,
			resp.MaxSendable, amount)
	}

	u, err := url.Parse(resp.Callback)
	if err != nil {
		return nil, fmt.Errorf("invalid callback: %w", err)
	}
	query := u.Query()
	query.Set("amount", strconv.FormatInt(amount, 10))
	u.RawQuery = query.Encode()

	body, err := c.do(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	return protocol.ParsePayReqResponse(body)
}

func (c *Client) umaPayreq(ctx context.Context, lookup *LookupRecord,
	receiverAddress string, amount int64,
	currencyCode string) (*protocol.PayReqResponse, error) {

	receivingCurrency := currencyCode
	if receivingCurrency == "" {
		receivingCurrency = protocol.SatsCurrency.Code
	}

	req, err := protocol.NewUmaPayRequest(protocol.UmaPayRequestParams{
		SigningKey:                  c.cfg.SigningKey,
		ReceivingCurrencyCode:       receivingCurrency,
		IsAmountInReceivingCurrency: currencyCode != "",
		Amount:                      amount,
		PayerIdentifier:             c.cfg.SenderAddress,
		PayerKycStatus:              c.cfg.KycStatus,
		UtxoCallback:                c.cfg.UtxoCallback,
	})
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	body, err := c.do(
		ctx, http.MethodPost, lookup.Response.Callback, encoded,
	)
	if err != nil {
		return nil, err
	}

	payResp, err := protocol.ParsePayReqResponse(body)
	if err != nil {
		return nil, fmt.Errorf("parse pay request response: %w", err)
	}
	if !payResp.IsUma() {
		return nil, errors.New("receiver answered an UMA pay request " +
			"without compliance data")
	}

	err = c.verify(ctx, lookup.CounterpartyDomain, func(pubKey []byte) error {
		return protocol.VerifyPayReqResponseSignature(
			payResp, pubKey, c.cfg.Nonces, c.cfg.SenderAddress,
			receiverAddress,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("pay request response: %w", err)
	}

	return payResp, nil
}

// PendingPayments lists the payment records that have not been completed.
func (c *Client) PendingPayments(ctx context.Context) ([]*PaymentRecord,
	error) {

	return c.cfg.Store.ListPendingPaymentRecords(ctx)
}

// Complete forgets the payment record id.
func (c *Client) Complete(ctx context.Context, id string) error {
	return c.cfg.Store.DeletePaymentRecord(ctx, id)
}

// Pay pays the invoice of payment record id and completes it on success.
func (c *Client) Pay(ctx context.Context, id string, payer Payer,
	maxFee btcutil.Amount) (lntypes.Preimage, error) {

	record, err := c.cfg.Store.GetPaymentRecord(ctx, id)
	if err != nil {
		return lntypes.Preimage{}, err
	}

	res := <-payer.PayInvoice(ctx, record.EncodedInvoice, maxFee, nil)
	if res.Err != nil {
		return lntypes.Preimage{}, fmt.Errorf("could not pay invoice: "+
			"%w", res.Err)
	}

	log.Infof("Paid %s to %s, fee %v", id, record.ReceiverAddress,
		res.PaidFee)

	if err := c.Complete(ctx, id); err != nil {
		return lntypes.Preimage{}, err
	}

	return res.Preimage, nil
}

func (c *Client) verify(ctx context.Context, domain string,
	verify func(pubKey []byte) error) error {

	pubKeys, err := c.cfg.PubKeys.FetchPublicKeys(ctx, domain)
	if err != nil {
		return fmt.Errorf("fetch public keys of %s: %w", domain, err)
	}

	pubKey, err := pubKeys.SigningPubKey()
	if err != nil {
		return err
	}

	return verify(pubKey)
}

func (c *Client) do(ctx context.Context, method, target string,
	body []byte) ([]byte, error) {

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request error: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(respBody, &errResp.ErrorResponseBody)

		return nil, errResp
	}

	return respBody, nil
}

func invoiceDetails(invoice *zpay32.Invoice) *InvoiceDetails {
	details := &InvoiceDetails{
		CreatedAt:     invoice.Timestamp.Unix(),
		ExpirySeconds: int64(invoice.Expiry().Seconds()),
	}
	if invoice.PaymentHash != nil {
		details.PaymentHash = hex.EncodeToString(invoice.PaymentHash[:])
	}
	if invoice.MilliSat != nil {
		details.AmountMsat = int64(*invoice.MilliSat)
	}
	if invoice.Destination != nil {
		details.Destination = hex.EncodeToString(
			invoice.Destination.SerializeCompressed(),
		)
	}
	if invoice.DescriptionHash != nil {
		details.DescriptionHash = hex.EncodeToString(
			invoice.DescriptionHash[:],
		)
	}

	return details
}

func containsInt(values []int, want int) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}

	return false
}
