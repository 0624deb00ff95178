package protocol

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

// PayReqResponse is the final payable response carrying the invoice.
type PayReqResponse struct {
	// EncodedInvoice is the BOLT11 invoice the sender will pay.
	EncodedInvoice string

	// Routes is always empty; route hints live in the invoice.
	Routes []Route

	// PaymentInfo describes the amount in the receiving currency.
	PaymentInfo *PaymentInfo

	// PayeeData is the payee data requested by the sender.
	PayeeData PayeeData

	// UmaMajorVersion selects the JSON shape. It is not serialized.
	UmaMajorVersion int
}

// Route is a legacy LNURL route entry.
type Route struct {
	Pubkey string `json:"pubkey"`
}

// PaymentInfo is the currency conversion the receiver committed to.
type PaymentInfo struct {
	Amount                   int64   `json:"amount"`
	CurrencyCode             string  `json:"currencyCode"`
	Multiplier               float64 `json:"multiplier"`
	Decimals                 int     `json:"decimals"`
	ExchangeFeesMillisatoshi int64   `json:"fee"`
}

type v0PaymentInfo struct {
	CurrencyCode             string  `json:"currencyCode"`
	Multiplier               float64 `json:"multiplier"`
	Decimals                 int     `json:"decimals"`
	ExchangeFeesMillisatoshi int64   `json:"exchangeFeesMillisatoshi"`
}

type v0PayReqResponse struct {
	EncodedInvoice string               `json:"pr"`
	Routes         []Route              `json:"routes"`
	PaymentInfo    *v0PaymentInfo       `json:"paymentInfo,omitempty"`
	PayeeData      PayeeData            `json:"payeeData,omitempty"`
	Compliance     *CompliancePayeeData `json:"compliance,omitempty"`
}

type v1PayReqResponse struct {
	EncodedInvoice string       `json:"pr"`
	Routes         []Route      `json:"routes"`
	PaymentInfo    *PaymentInfo `json:"converted,omitempty"`
	PayeeData      PayeeData    `json:"payeeData,omitempty"`
}

// IsUma reports whether the response carries UMA payee compliance data.
func (p *PayReqResponse) IsUma() bool {
	if p.PaymentInfo == nil || p.PayeeData == nil {
		return false
	}
	compliance, err := p.PayeeData.Compliance()

	return err == nil && compliance != nil
}

// MarshalJSON writes the v0 shape for major version 0 and the v1 shape
// otherwise.
func (p *PayReqResponse) MarshalJSON() ([]byte, error) {
	routes := p.Routes
	if routes == nil {
		routes = []Route{}
	}

	if p.UmaMajorVersion != 0 {
		return json.Marshal(&v1PayReqResponse{
			EncodedInvoice: p.EncodedInvoice,
			Routes:         routes,
			PaymentInfo:    p.PaymentInfo,
			PayeeData:      p.PayeeData,
		})
	}

	compliance, err := p.PayeeData.Compliance()
	if err != nil {
		return nil, err
	}
	v0 := &v0PayReqResponse{
		EncodedInvoice: p.EncodedInvoice,
		Routes:         routes,
		PayeeData:      p.PayeeData,
		Compliance:     compliance,
	}
	if p.PaymentInfo != nil {
		v0.PaymentInfo = &v0PaymentInfo{
			CurrencyCode:             p.PaymentInfo.CurrencyCode,
			Multiplier:               p.PaymentInfo.Multiplier,
			Decimals:                 p.PaymentInfo.Decimals,
			ExchangeFeesMillisatoshi: p.PaymentInfo.ExchangeFeesMillisatoshi,
		}
	}

	return json.Marshal(v0)
}

// UnmarshalJSON accepts either shape.
func (p *PayReqResponse) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if _, ok := raw["paymentInfo"]; ok {
		var v0 v0PayReqResponse
		if err := json.Unmarshal(data, &v0); err != nil {
			return err
		}
		*p = PayReqResponse{
			EncodedInvoice: v0.EncodedInvoice,
			Routes:         v0.Routes,
			PayeeData:      v0.PayeeData,
		}
		if v0.PaymentInfo != nil {
			p.PaymentInfo = &PaymentInfo{
				CurrencyCode:             v0.PaymentInfo.CurrencyCode,
				Multiplier:               v0.PaymentInfo.Multiplier,
				Decimals:                 v0.PaymentInfo.Decimals,
				ExchangeFeesMillisatoshi: v0.PaymentInfo.ExchangeFeesMillisatoshi,
			}
		}
		if v0.Compliance != nil {
			complianceMap, err := toMap(v0.Compliance)
			if err != nil {
				return err
			}
			if p.PayeeData == nil {
				p.PayeeData = PayeeData{}
			}
			p.PayeeData[FieldCompliance] = complianceMap
		}
		return nil
	}

	var v1 v1PayReqResponse
	if err := json.Unmarshal(data, &v1); err != nil {
		return err
	}
	*p = PayReqResponse{
		EncodedInvoice:  v1.EncodedInvoice,
		Routes:          v1.Routes,
		PaymentInfo:     v1.PaymentInfo,
		PayeeData:       v1.PayeeData,
		UmaMajorVersion: 1,
	}

	return nil
}

// ParsePayReqResponse decodes a pay request response body.
func ParsePayReqResponse(body []byte) (*PayReqResponse, error) {
	var resp PayReqResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// ReceivingAmounts converts a pay request amount into the msat amount to
// invoice and the amount credited in the receiving currency.
func ReceivingAmounts(req *PayRequest, multiplier float64,
	feesMsat int64) (msats int64, receivingAmount int64) {

	if req.IsAmountInMsats() {
		receivingAmount = int64(math.Round(
			float64(req.Amount-feesMsat) / multiplier,
		))
		return req.Amount, receivingAmount
	}

	msats = int64(math.Round(float64(req.Amount)*multiplier)) + feesMsat

	return msats, req.Amount
}

// PayeeComplianceParams are the inputs to SignPayeeCompliance.
type PayeeComplianceParams struct {
	SigningKey      []byte
	PayerIdentifier string
	PayeeIdentifier string
	NodePubKey      *string
	Utxos           []string
	UtxoCallback    *string
}

// SignPayeeCompliance builds the signed payee compliance block of an UMA
// pay request response.
func SignPayeeCompliance(p PayeeComplianceParams) (*CompliancePayeeData,
	error) {

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	utxos := p.Utxos
	if utxos == nil {
		utxos = []string{}
	}
	compliance := &CompliancePayeeData{
		NodePubKey:         p.NodePubKey,
		Utxos:              utxos,
		UtxoCallback:       p.UtxoCallback,
		SignatureNonce:     nonce,
		SignatureTimestamp: time.Now().Unix(),
	}
	compliance.Signature, err = SignPayload(
		compliance.SignablePayload(p.PayerIdentifier, p.PayeeIdentifier),
		p.SigningKey,
	)
	if err != nil {
		return nil, err
	}

	return compliance, nil
}

// AttachCompliance stores the compliance block in the payee data.
func (p PayeeData) AttachCompliance(c *CompliancePayeeData) error {
	complianceMap, err := toMap(c)
	if err != nil {
		return err
	}
	p[FieldCompliance] = complianceMap

	return nil
}

// VerifyPayReqResponseSignature checks the payee compliance signature of an
// UMA pay request response.
func VerifyPayReqResponseSignature(p *PayReqResponse, pubKey []byte,
	nonces NonceCache, payerIdentifier, payeeIdentifier string) error {

	compliance, err := p.PayeeData.Compliance()
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

	return VerifySignature(
		compliance.SignablePayload(payerIdentifier, payeeIdentifier),
		compliance.Signature, pubKey,
	)
}
