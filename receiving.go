package lnduma

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ellemouton/lnduma/protocol"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
)

const (
	plainPayreqPath = "/api/lnurl/payreq/"
	umaPayreqPath   = "/api/uma/payreq/"

	// invoiceExpiry is safe to keep long since no currency conversion
	// rate is committed to.
	invoiceExpiry = time.Hour

	probeInvoiceAmount = lnwire.MilliSatoshi(1000)
)

// payerDataOptions is the payer data requested from UMA senders.
var payerDataOptions = protocol.CounterPartyDataOptions{
	protocol.FieldName:       {Mandatory: false},
	protocol.FieldEmail:      {Mandatory: false},
	protocol.FieldIdentifier: {Mandatory: true},
	protocol.FieldCompliance: {Mandatory: true},
}

// flowKind tags a request as part of the plain LNURL flow or the signed UMA
// flow. It is decided once when the request is parsed.
type flowKind uint8

const (
	flowPlain flowKind = iota
	flowUma
)

func (k flowKind) String() string {
	if k == flowUma {
		return "uma"
	}

	return "lnurl"
}

func (k flowKind) payreqPath() string {
	if k == flowUma {
		return umaPayreqPath
	}

	return plainPayreqPath
}

// ReceivingConfig holds the collaborators of a ReceivingFlowHandler.
type ReceivingConfig struct {
	Users          UserDirectory
	Issuer         InvoiceIssuer
	Counterparties CounterpartyDirectory
	Nonces         protocol.NonceCache

	// SigningKey is this VASP's secp256k1 signing private key.
	SigningKey []byte

	// ChainParams is used to decode probe invoices.
	ChainParams *chaincfg.Params
}

// ReceivingFlowHandler terminates both hops of the receiving side of a
// payment: the lnurlp capability query and the pay request.
type ReceivingFlowHandler struct {
	cfg *ReceivingConfig
}

// NewReceivingFlowHandler creates a handler from cfg.
func NewReceivingFlowHandler(cfg *ReceivingConfig) *ReceivingFlowHandler {
	return &ReceivingFlowHandler{cfg: cfg}
}

// HandleCapabilityQuery answers an lnurlp request for handle. requestURL is
// the full URL the request was received on. Every returned error is a
// *protocol.Error.
func (h *ReceivingFlowHandler) HandleCapabilityQuery(ctx context.Context,
	handle string, requestURL *url.URL) (*protocol.LnurlpResponse, error) {

	resp, err := h.handleCapabilityQuery(ctx, handle, requestURL)
	if err != nil {
		return nil, normalizeError(err, "Failed to generate lnurlp "+
			"response.")
	}

	return resp, nil
}

func (h *ReceivingFlowHandler) handleCapabilityQuery(ctx context.Context,
	handle string, requestURL *url.URL) (*protocol.LnurlpResponse, error) {

	receiver, err := h.receiverByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}

	query, err := protocol.ParseLnurlpRequest(requestURL)
	switch {
	case protocol.IsCode(err, protocol.CodeUnsupportedVersion):
		return nil, err

	case err != nil:
		log.Debugf("Invalid lnurlp query %v: %v", requestURL, err)
		return nil, protocol.NewError(
			protocol.CodeParseLnurlpRequest, "Invalid lnurlp query.",
		)
	}

	if !query.IsUma() {
		return protocol.NewPlainLnurlpResponse(
			callbackURL(requestURL, flowPlain, receiver),
			encodedMetadata(requestURL, receiver),
			defaultMinSendableMsat, defaultMaxSendableMsat,
		), nil
	}

	return h.umaCapability(ctx, requestURL, query, receiver)
}

func (h *ReceivingFlowHandler) umaCapability(ctx context.Context,
	requestURL *url.URL, query *protocol.LnurlpRequest,
	receiver *Receiver) (*protocol.LnurlpResponse, error) {

	pubKeys, err := h.fetchPublicKeys(ctx, query.VaspDomain)
	if err != nil {
		return nil, err
	}

	err = verifyWith(pubKeys, func(pubKey []byte) error {
		return protocol.VerifyLnurlpRequestSignature(
			query, pubKey, h.cfg.Nonces,
		)
	})
	if err != nil {
		log.Infof("Rejecting lnurlp query from %v: %v",
			query.VaspDomain, err)
		return nil, protocol.NewError(
			protocol.CodeInvalidSignature,
			"Invalid UMA query signature.",
		)
	}

	return protocol.NewUmaLnurlpResponse(protocol.UmaLnurlpResponseParams{
		Request:                query,
		SigningKey:             h.cfg.SigningKey,
		RequiresTravelRuleInfo: true,
		Callback:               callbackURL(requestURL, flowUma, receiver),
		EncodedMetadata:        encodedMetadata(requestURL, receiver),
		MinSendableMsat:        receiver.MinSendableMsat,
		MaxSendableMsat:        receiver.MaxSendableMsat,
		PayerDataOptions:       payerDataOptions,
		Currencies:             []protocol.Currency{protocol.SatsCurrency},
		ReceiverKycStatus:      protocol.KycStatusNotVerified,
	})
}

// paymentRequest is a pay request normalized from either entry shape.
type paymentRequest struct {
	kind flowKind
	req  *protocol.PayRequest
}

// parsePaymentRequest parses the JSON body of requests received on the UMA
// callback path and the query string of everything else.
func parsePaymentRequest(requestURL *url.URL, body []byte) (*paymentRequest,
	error) {

	structured := strings.HasPrefix(requestURL.Path, umaPayreqPath)

	var (
		req *protocol.PayRequest
		err error
	)
	if structured {
		req, err = protocol.ParsePayRequest(body)
	} else {
		req, err = protocol.ParsePayRequestFromQuery(requestURL.Query())
	}
	if err != nil {
		log.Debugf("Invalid pay request: %v", err)
		return nil, protocol.NewError(
			protocol.CodeParsePayreqRequest,
			fmt.Sprintf("Invalid pay request: %v", err),
		)
	}

	switch {
	case req.DeclaresUma():
		return &paymentRequest{kind: flowUma, req: req}, nil

	case structured:
		return nil, protocol.NewError(
			protocol.CodeMissingRequiredParameters,
			"Invalid UMA pay request.",
		)

	default:
		return &paymentRequest{kind: flowPlain, req: req}, nil
	}
}

// HandlePaymentRequest answers a pay request for the receiver with the
// given internal id. Requests on the UMA callback path carry a JSON body,
// the rest are read from requestURL's query. Every returned error is a
// *protocol.Error.
func (h *ReceivingFlowHandler) HandlePaymentRequest(ctx context.Context,
	receiverID string, requestURL *url.URL,
	body []byte) (*protocol.PayReqResponse, error) {

	resp, err := h.handlePaymentRequest(ctx, receiverID, requestURL, body)
	if err != nil {
		return nil, normalizeError(err, "Failed to generate UMA "+
			"response.")
	}

	return resp, nil
}

func (h *ReceivingFlowHandler) handlePaymentRequest(ctx context.Context,
	receiverID string, requestURL *url.URL,
	body []byte) (*protocol.PayReqResponse, error) {

	receiver, err := h.receiverByID(ctx, receiverID)
	if err != nil {
		return nil, err
	}

	payment, err := parsePaymentRequest(requestURL, body)
	if err != nil {
		return nil, err
	}

	if payment.kind == flowUma {
		if err := h.verifyPayer(ctx, payment.req); err != nil {
			return nil, err
		}
	}

	if err := checkPaymentAmount(payment.req, receiver); err != nil {
		return nil, err
	}

	return h.payReqResponse(ctx, payment, receiver, requestURL)
}

func (h *ReceivingFlowHandler) verifyPayer(ctx context.Context,
	req *protocol.PayRequest) error {

	identifier := req.PayerData.Identifier()
	if identifier == "" {
		return protocol.NewError(
			protocol.CodeMissingRequiredParameters,
			"Payer identifier is missing.",
		)
	}

	domain, err := protocol.DomainFromAddress(identifier)
	if err != nil {
		return protocol.NewError(
			protocol.CodeCounterpartyPubKeyFetch,
			"Payer identifier is not an UMA address.",
		)
	}

	pubKeys, err := h.fetchPublicKeys(ctx, domain)
	if err != nil {
		return err
	}

	err = verifyWith(pubKeys, func(pubKey []byte) error {
		return protocol.VerifyPayRequestSignature(
			req, pubKey, h.cfg.Nonces,
		)
	})
	if err != nil {
		log.Infof("Rejecting pay request from %v: %v", identifier, err)
		return protocol.NewError(
			protocol.CodeInvalidSignature,
			"Invalid payreq signature.",
		)
	}

	return nil
}

// checkPaymentAmount validates the currencies and the amount of req against
// the receiver's bounds. No conversion between differing currencies is
// done.
func checkPaymentAmount(req *protocol.PayRequest, receiver *Receiver) error {
	sats := protocol.SatsCurrency

	if req.ReceivingCurrencyCode != "" &&
		req.ReceivingCurrencyCode != sats.Code {

		return protocol.NewError(
			protocol.CodeInvalidCurrency,
			fmt.Sprintf("Invalid currency. This user does not "+
				"accept %s.", req.ReceivingCurrencyCode),
		)
	}

	if req.IsAmountInMsats() {
		if req.Amount < receiver.MinSendableMsat ||
			req.Amount > receiver.MaxSendableMsat {

			return protocol.NewError(
				protocol.CodeAmountOutOfRange,
				fmt.Sprintf("Invalid amount. This user only "+
					"accepts between %d and %d msats.",
					receiver.MinSendableMsat,
					receiver.MaxSendableMsat),
			)
		}
	} else if req.Amount < sats.MinSendable ||
		req.Amount > sats.MaxSendable {

		return protocol.NewError(
			protocol.CodeAmountOutOfRange,
			fmt.Sprintf("Invalid amount. This user only accepts "+
				"between %d and %d %s.", sats.MinSendable,
				sats.MaxSendable, sats.Code),
		)
	}

	if !req.IsAmountInMsats() && req.SendingAmountCurrencyCode != sats.Code {
		return protocol.NewError(
			protocol.CodeInvalidCurrency,
			fmt.Sprintf("Invalid sending currency. Cannot convert "+
				"from %s.", req.SendingAmountCurrencyCode),
		)
	}

	return nil
}

func (h *ReceivingFlowHandler) payReqResponse(ctx context.Context,
	payment *paymentRequest, receiver *Receiver,
	requestURL *url.URL) (*protocol.PayReqResponse, error) {

	req := payment.req
	sats := protocol.SatsCurrency

	descriptionHash, err := invoiceDescriptionHash(
		encodedMetadata(requestURL, receiver), req.PayerData,
	)
	if err != nil {
		return nil, err
	}

	msats, receivingAmount := protocol.ReceivingAmounts(
		req, sats.MillisatoshiPerUnit, 0,
	)
	invoice, err := h.cfg.Issuer.IssueInvoice(
		ctx, lnwire.MilliSatoshi(msats), invoiceExpiry, descriptionHash,
	)
	if err != nil {
		return nil, err
	}

	log.Infof("Issued %v invoice of %d msat for %s", payment.kind, msats,
		receiver.Handle)

	resp := &protocol.PayReqResponse{
		EncodedInvoice:  invoice,
		PayeeData:       payeeData(req, payment.kind, receiver, requestURL),
		UmaMajorVersion: protocol.MajorVersion,
	}
	if payment.kind == flowUma || req.ReceivingCurrencyCode != "" {
		resp.PaymentInfo = &protocol.PaymentInfo{
			Amount:       receivingAmount,
			CurrencyCode: sats.Code,
			Multiplier:   sats.MillisatoshiPerUnit,
			Decimals:     sats.Decimals,
		}
	}
	if payment.kind != flowUma {
		return resp, nil
	}

	nodePubKey, err := h.nodePubKey(ctx, receiver)
	if err != nil {
		return nil, err
	}
	compliance, err := protocol.SignPayeeCompliance(
		protocol.PayeeComplianceParams{
			SigningKey:      h.cfg.SigningKey,
			PayerIdentifier: req.PayerData.Identifier(),
			PayeeIdentifier: fmt.Sprintf("$%s@%s", receiver.Handle,
				requestURL.Host),
			NodePubKey: &nodePubKey,
		},
	)
	if err != nil {
		return nil, err
	}
	if err := resp.PayeeData.AttachCompliance(compliance); err != nil {
		return nil, err
	}

	return resp, nil
}

// nodePubKey returns the routing key of the receiver's node. Issuers that
// cannot report their identity are probed with a throwaway invoice.
func (h *ReceivingFlowHandler) nodePubKey(ctx context.Context,
	receiver *Receiver) (string, error) {

	if receiver.NodePubKey != "" {
		return receiver.NodePubKey, nil
	}

	if identifier, ok := h.cfg.Issuer.(NodeIdentifier); ok {
		return identifier.NodePubKey(ctx)
	}

	probe, err := h.cfg.Issuer.IssueInvoice(
		ctx, probeInvoiceAmount, invoiceExpiry, sha256.Sum256(nil),
	)
	if err != nil {
		return "", fmt.Errorf("issue probe invoice: %w", err)
	}

	invoice, err := zpay32.Decode(probe, h.cfg.ChainParams)
	if err != nil {
		return "", fmt.Errorf("decode probe invoice: %w", err)
	}
	if invoice.Destination == nil {
		return "", errors.New("probe invoice has no destination")
	}

	return hex.EncodeToString(invoice.Destination.SerializeCompressed()), nil
}

func (h *ReceivingFlowHandler) receiverByHandle(ctx context.Context,
	handle string) (*Receiver, error) {

	receiver, err := h.cfg.Users.ReceiverByHandle(ctx, handle)
	if errors.Is(err, ErrReceiverNotFound) {
		return nil, protocol.NewError(
			protocol.CodeUserNotFound, "User not found.",
		)
	}

	return receiver, err
}

func (h *ReceivingFlowHandler) receiverByID(ctx context.Context,
	id string) (*Receiver, error) {

	receiver, err := h.cfg.Users.ReceiverByID(ctx, id)
	if errors.Is(err, ErrReceiverNotFound) {
		return nil, protocol.NewError(
			protocol.CodeUserNotFound, "User not found.",
		)
	}

	return receiver, err
}

func (h *ReceivingFlowHandler) fetchPublicKeys(ctx context.Context,
	domain string) (*protocol.PubKeyResponse, error) {

	pubKeys, err := h.cfg.Counterparties.FetchPublicKeys(ctx, domain)
	if err != nil {
		log.Errorf("Unable to fetch public keys of %v: %v", domain, err)
		return nil, protocol.NewError(
			protocol.CodeCounterpartyPubKeyFetch,
			"Failed to fetch public key.",
		)
	}

	return pubKeys, nil
}

// verifyWith runs verify against the counterparty's signing key. A key that
// cannot be extracted counts as a failed verification.
func verifyWith(pubKeys *protocol.PubKeyResponse,
	verify func(pubKey []byte) error) error {

	pubKey, err := pubKeys.SigningPubKey()
	if err != nil {
		return err
	}

	return verify(pubKey)
}

// normalizeError passes protocol errors through and turns anything else into
// an INTERNAL_ERROR with the given reason.
func normalizeError(err error, reason string) error {
	if pErr, ok := protocol.AsError(err); ok {
		return pErr
	}

	log.Errorf("%s: %v", reason, err)

	return protocol.NewError(protocol.CodeInternal, reason)
}

// encodedMetadata returns the LNURL metadata of receiver as seen from the
// host the request was made to.
func encodedMetadata(requestURL *url.URL, receiver *Receiver) string {
	address := receiver.Handle + "@" + requestURL.Hostname()
	encoded, _ := json.Marshal(metadata{
		{"text/plain", "Pay " + address},
		{"text/identifier", address},
	})

	return string(encoded)
}

// invoiceDescriptionHash commits to the metadata and, if present, the payer
// data of the request.
func invoiceDescriptionHash(encodedMetadata string,
	payerData protocol.PayerData) (lntypes.Hash, error) {

	if payerData == nil {
		return sha256.Sum256([]byte(encodedMetadata)), nil
	}

	encodedPayerData, err := json.Marshal(payerData)
	if err != nil {
		return lntypes.Hash{}, err
	}

	return sha256.Sum256([]byte(
		encodedMetadata + "{" + string(encodedPayerData) + "}",
	)), nil
}

// payeeData returns the payee fields echoed back to the sender.
func payeeData(req *protocol.PayRequest, kind flowKind, receiver *Receiver,
	requestURL *url.URL) protocol.PayeeData {

	if kind != flowUma && len(req.RequestedPayeeData) == 0 {
		return nil
	}

	return protocol.PayeeData{
		protocol.FieldIdentifier: fmt.Sprintf("$%s@%s", receiver.Handle,
			requestURL.Hostname()),
	}
}

// callbackURL builds the pay request URL of receiver. Localhost requests get
// a plain http callback and default ports are dropped.
func callbackURL(requestURL *url.URL, kind flowKind,
	receiver *Receiver) string {

	hostname := requestURL.Hostname()

	scheme := "https"
	if protocol.IsDomainLocalhost(hostname) {
		scheme = "http"
	}

	host := hostname
	switch port := requestURL.Port(); port {
	case "", "80", "443":
		if strings.Contains(hostname, ":") {
			host = "[" + hostname + "]"
		}

	default:
		host = net.JoinHostPort(hostname, port)
	}

	u := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   kind.payreqPath() + receiver.ID,
	}

	return u.String()
}
