package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// TagPayRequest is the LNURL tag of a pay request response.
const TagPayRequest = "payRequest"

// LnurlpResponse is the capability response to an lnurlp request. The UMA
// fields are only present when answering a signed UMA request.
type LnurlpResponse struct {
	Tag             string `json:"tag"`
	Callback        string `json:"callback"`
	MinSendable     int64  `json:"minSendable"`
	MaxSendable     int64  `json:"maxSendable"`
	EncodedMetadata string `json:"metadata"`

	Currencies        []Currency               `json:"currencies,omitempty"`
	RequiredPayerData CounterPartyDataOptions  `json:"payerData,omitempty"`
	Compliance        *LnurlComplianceResponse `json:"compliance,omitempty"`
	UmaVersion        string                   `json:"umaVersion,omitempty"`

	// CommentCharsAllowed is the max comment length accepted (LUD-12).
	CommentCharsAllowed *int `json:"commentAllowed,omitempty"`
}

// LnurlComplianceResponse is the signed compliance block of an UMA lnurlp
// response.
type LnurlComplianceResponse struct {
	KycStatus             KycStatus `json:"kycStatus"`
	Signature             string    `json:"signature"`
	Nonce                 string    `json:"signatureNonce"`
	Timestamp             int64     `json:"signatureTimestamp"`
	IsSubjectToTravelRule bool      `json:"isSubjectToTravelRule"`
	ReceiverIdentifier    string    `json:"receiverIdentifier"`
}

// IsUma reports whether the response carries the UMA fields.
func (r *LnurlpResponse) IsUma() bool {
	return r.Compliance != nil && r.UmaVersion != "" &&
		r.Currencies != nil && r.RequiredPayerData != nil
}

// SignablePayload returns the bytes covered by the compliance signature.
func (r *LnurlpResponse) SignablePayload() ([]byte, error) {
	if r.Compliance == nil {
		return nil, fmt.Errorf("response has no compliance data")
	}

	return joinPayload(
		r.Compliance.ReceiverIdentifier, r.Compliance.Nonce,
		formatUnix(r.Compliance.Timestamp),
	), nil
}

// ParseLnurlpResponse decodes a capability response body.
func ParseLnurlpResponse(body []byte) (*LnurlpResponse, error) {
	var resp LnurlpResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// NewPlainLnurlpResponse builds the LNURL (non-UMA) capability response.
func NewPlainLnurlpResponse(callback, encodedMetadata string, minMsat,
	maxMsat int64) *LnurlpResponse {

	return &LnurlpResponse{
		Tag:             TagPayRequest,
		Callback:        callback,
		MinSendable:     minMsat,
		MaxSendable:     maxMsat,
		EncodedMetadata: encodedMetadata,
	}
}

// UmaLnurlpResponseParams are the inputs to NewUmaLnurlpResponse.
type UmaLnurlpResponseParams struct {
	Request                *LnurlpRequest
	SigningKey             []byte
	RequiresTravelRuleInfo bool
	Callback               string
	EncodedMetadata        string
	MinSendableMsat        int64
	MaxSendableMsat        int64
	PayerDataOptions       CounterPartyDataOptions
	Currencies             []Currency
	ReceiverKycStatus      KycStatus
}

// NewUmaLnurlpResponse builds and signs the UMA capability response for a
// verified UMA lnurlp request.
func NewUmaLnurlpResponse(p UmaLnurlpResponseParams) (*LnurlpResponse, error) {
	umaVersion, err := SelectLowerVersion(p.Request.UmaVersion, Version)
	if err != nil {
		return nil, err
	}
	major := MajorVersionOf(umaVersion)

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}
	compliance := &LnurlComplianceResponse{
		KycStatus:             p.ReceiverKycStatus,
		Nonce:                 nonce,
		Timestamp:             time.Now().Unix(),
		IsSubjectToTravelRule: p.RequiresTravelRuleInfo,
		ReceiverIdentifier:    p.Request.ReceiverAddress,
	}
	compliance.Signature, err = SignPayload(joinPayload(
		compliance.ReceiverIdentifier, compliance.Nonce,
		formatUnix(compliance.Timestamp),
	), p.SigningKey)
	if err != nil {
		return nil, err
	}

	// UMA always requires the compliance and identifier fields.
	payerData := CounterPartyDataOptions{}
	for field, option := range p.PayerDataOptions {
		payerData[field] = option
	}
	payerData[FieldCompliance] = CounterPartyDataOption{Mandatory: true}
	payerData[FieldIdentifier] = CounterPartyDataOption{Mandatory: true}

	currencies := make([]Currency, len(p.Currencies))
	for i, currency := range p.Currencies {
		currency.UmaMajorVersion = major
		currencies[i] = currency
	}

	return &LnurlpResponse{
		Tag:               TagPayRequest,
		Callback:          p.Callback,
		MinSendable:       p.MinSendableMsat,
		MaxSendable:       p.MaxSendableMsat,
		EncodedMetadata:   p.EncodedMetadata,
		Currencies:        currencies,
		RequiredPayerData: payerData,
		Compliance:        compliance,
		UmaVersion:        umaVersion,
	}, nil
}

// VerifyLnurlpResponseSignature checks an UMA lnurlp response against the
// receiving VASP's signing key.
func VerifyLnurlpResponseSignature(r *LnurlpResponse, pubKey []byte,
	nonces NonceCache) error {

	payload, err := r.SignablePayload()
	if err != nil {
		return err
	}

	err = nonces.CheckAndSaveNonce(
		r.Compliance.Nonce, time.Unix(r.Compliance.Timestamp, 0),
	)
	if err != nil {
		return err
	}

	return VerifySignature(payload, r.Compliance.Signature, pubKey)
}
