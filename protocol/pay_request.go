package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// PayRequest is the second-hop request asking the receiver for an invoice.
type PayRequest struct {
	// SendingAmountCurrencyCode is the currency Amount is denominated in.
	// Empty means Amount is in millisatoshis.
	SendingAmountCurrencyCode string

	// ReceivingCurrencyCode is the currency the receiver should receive.
	ReceivingCurrencyCode string

	// Amount is in the smallest unit of SendingAmountCurrencyCode, or msats.
	Amount int64

	// PayerData identifies the payer. UMA requests carry a signed
	// compliance block in it.
	PayerData PayerData

	// RequestedPayeeData lists the payee fields the sender wants back.
	RequestedPayeeData CounterPartyDataOptions

	Comment string
}

// DeclaresUma reports whether the request carries UMA compliance data.
func (p *PayRequest) DeclaresUma() bool {
	return p.PayerData != nil && p.PayerData[FieldCompliance] != nil
}

// IsAmountInMsats reports whether Amount is denominated in millisatoshis.
func (p *PayRequest) IsAmountInMsats() bool {
	return p.SendingAmountCurrencyCode == ""
}

type payRequestJSON struct {
	Amount             json.RawMessage         `json:"amount"`
	Convert            string                  `json:"convert,omitempty"`
	PayerData          PayerData               `json:"payerData,omitempty"`
	RequestedPayeeData CounterPartyDataOptions `json:"payeeData,omitempty"`
	Comment            string                  `json:"comment,omitempty"`
}

// MarshalJSON encodes the amount as "<amount>[.<currency>]".
func (p *PayRequest) MarshalJSON() ([]byte, error) {
	amount, err := json.Marshal(p.encodeAmount())
	if err != nil {
		return nil, err
	}

	return json.Marshal(&payRequestJSON{
		Amount:             amount,
		Convert:            p.ReceivingCurrencyCode,
		PayerData:          p.PayerData,
		RequestedPayeeData: p.RequestedPayeeData,
		Comment:            p.Comment,
	})
}

// UnmarshalJSON accepts the amount either as a string or a bare number.
func (p *PayRequest) UnmarshalJSON(data []byte) error {
	var raw payRequestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Amount) == 0 {
		return errors.New("missing amount field")
	}

	var amount string
	if err := json.Unmarshal(raw.Amount, &amount); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw.Amount, &n); err != nil {
			return errors.New("invalid amount field")
		}
		amount = n.String()
	}

	*p = PayRequest{
		ReceivingCurrencyCode: raw.Convert,
		PayerData:             raw.PayerData,
		RequestedPayeeData:    raw.RequestedPayeeData,
		Comment:               raw.Comment,
	}

	return p.decodeAmount(amount)
}

func (p *PayRequest) encodeAmount() string {
	amount := strconv.FormatInt(p.Amount, 10)
	if p.SendingAmountCurrencyCode != "" {
		amount += "." + p.SendingAmountCurrencyCode
	}

	return amount
}

func (p *PayRequest) decodeAmount(amount string) error {
	parts := strings.Split(amount, ".")
	if len(parts) > 2 {
		return fmt.Errorf("invalid amount %q", amount)
	}

	var err error
	p.Amount, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", amount)
	}
	if p.Amount < 0 {
		return fmt.Errorf("negative amount %q", amount)
	}
	if len(parts) == 2 && parts[1] != "" {
		p.SendingAmountCurrencyCode = parts[1]
	}

	return nil
}

// ParsePayRequest decodes a structured (JSON body) pay request.
func ParsePayRequest(body []byte) (*PayRequest, error) {
	var req PayRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	return &req, nil
}

// ParsePayRequestFromQuery decodes a pay request carried in URL query
// parameters. Object-valued fields are JSON-encoded.
func ParsePayRequestFromQuery(query url.Values) (*PayRequest, error) {
	amount := query.Get("amount")
	if amount == "" {
		return nil, errors.New("missing amount parameter")
	}

	req := &PayRequest{
		ReceivingCurrencyCode: query.Get("convert"),
		Comment:               query.Get("comment"),
	}
	if err := req.decodeAmount(amount); err != nil {
		return nil, err
	}

	if payerData := query.Get("payerData"); payerData != "" {
		err := json.Unmarshal([]byte(payerData), &req.PayerData)
		if err != nil {
			return nil, fmt.Errorf("invalid payerData: %w", err)
		}
	}
	if payeeData := query.Get("payeeData"); payeeData != "" {
		err := json.Unmarshal(
			[]byte(payeeData), &req.RequestedPayeeData,
		)
		if err != nil {
			return nil, fmt.Errorf("invalid payeeData: %w", err)
		}
	}

	return req, nil
}

// EncodeAsQuery encodes the request as URL query parameters.
func (p *PayRequest) EncodeAsQuery() (url.Values, error) {
	params := url.Values{}
	params.Set("amount", p.encodeAmount())
	if p.ReceivingCurrencyCode != "" {
		params.Set("convert", p.ReceivingCurrencyCode)
	}
	if p.Comment != "" {
		params.Set("comment", p.Comment)
	}
	if p.PayerData != nil {
		b, err := json.Marshal(p.PayerData)
		if err != nil {
			return nil, err
		}
		params.Set("payerData", string(b))
	}
	if p.RequestedPayeeData != nil {
		b, err := json.Marshal(p.RequestedPayeeData)
		if err != nil {
			return nil, err
		}
		params.Set("payeeData", string(b))
	}

	return params, nil
}

// SignablePayload returns the bytes covered by the payer signature.
func (p *PayRequest) SignablePayload() ([]byte, error) {
	identifier := p.PayerData.Identifier()
	if identifier == "" {
		return nil, errors.New("payer data identifier is missing")
	}

	compliance, err := p.PayerData.Compliance()
	if err != nil {
		return nil, err
	}
	if compliance == nil {
		return nil, errors.New("compliance payer data is missing")
	}

	return joinPayload(
		identifier, compliance.SignatureNonce,
		formatUnix(compliance.SignatureTimestamp),
	), nil
}

// UmaPayRequestParams are the inputs to NewUmaPayRequest.
type UmaPayRequestParams struct {
	SigningKey            []byte
	ReceivingCurrencyCode string

	// IsAmountInReceivingCurrency selects whether Amount is in the smallest
	// unit of ReceivingCurrencyCode or in msats.
	IsAmountInReceivingCurrency bool
	Amount                      int64

	PayerIdentifier    string
	PayerName          string
	PayerEmail         string
	PayerKycStatus     KycStatus
	PayerNodePubKey    *string
	UtxoCallback       string
	RequestedPayeeData CounterPartyDataOptions
}

// NewUmaPayRequest builds a pay request with a signed compliance block.
func NewUmaPayRequest(p UmaPayRequestParams) (*PayRequest, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	compliance := &CompliancePayerData{
		NodePubKey:         p.PayerNodePubKey,
		KycStatus:          p.PayerKycStatus,
		SignatureNonce:     nonce,
		SignatureTimestamp: time.Now().Unix(),
		UtxoCallback:       p.UtxoCallback,
	}
	compliance.Signature, err = SignPayload(joinPayload(
		p.PayerIdentifier, compliance.SignatureNonce,
		formatUnix(compliance.SignatureTimestamp),
	), p.SigningKey)
	if err != nil {
		return nil, err
	}

	complianceMap, err := toMap(compliance)
	if err != nil {
		return nil, err
	}
	payerData := PayerData{
		FieldIdentifier: p.PayerIdentifier,
		FieldCompliance: complianceMap,
	}
	if p.PayerName != "" {
		payerData[FieldName] = p.PayerName
	}
	if p.PayerEmail != "" {
		payerData[FieldEmail] = p.PayerEmail
	}

	payeeData := CounterPartyDataOptions{}
	for field, option := range p.RequestedPayeeData {
		payeeData[field] = option
	}
	payeeData[FieldCompliance] = CounterPartyDataOption{Mandatory: true}
	payeeData[FieldIdentifier] = CounterPartyDataOption{Mandatory: true}

	req := &PayRequest{
		ReceivingCurrencyCode: p.ReceivingCurrencyCode,
		Amount:                p.Amount,
		PayerData:             payerData,
		RequestedPayeeData:    payeeData,
	}
	if p.IsAmountInReceivingCurrency {
		req.SendingAmountCurrencyCode = p.ReceivingCurrencyCode
	}

	return req, nil
}

// VerifyPayRequestSignature checks the payer's compliance nonce against the
// replay guard and then its signature against the sender's signing key.
func VerifyPayRequestSignature(p *PayRequest, pubKey []byte,
	nonces NonceCache) error {

	compliance, err := p.PayerData.Compliance()
	if err != nil {
		return err
	}
	if compliance == nil {
		return errors.New("missing compliance data")
	}

	err = nonces.CheckAndSaveNonce(
		compliance.SignatureNonce,
		time.Unix(compliance.SignatureTimestamp, 0),
	)
	if err != nil {
		return err
	}

	payload, err := p.SignablePayload()
	if err != nil {
		return err
	}

	return VerifySignature(payload, compliance.Signature, pubKey)
}
