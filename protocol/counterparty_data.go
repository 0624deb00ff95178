package protocol

import (
	"encoding/json"
)

// KycStatus indicates whether a VASP holds KYC information about a user.
type KycStatus string

const (
	KycStatusUnknown     KycStatus = "UNKNOWN"
	KycStatusNotVerified KycStatus = "NOT_VERIFIED"
	KycStatusPending     KycStatus = "PENDING"
	KycStatusVerified    KycStatus = "VERIFIED"
)

// CounterPartyDataOption describes whether a single data field is required.
type CounterPartyDataOption struct {
	Mandatory bool `json:"mandatory"`
}

// CounterPartyDataOptions describes which fields one side needs to know
// about the other. Used for both payerData and payeeData requests.
type CounterPartyDataOptions map[string]CounterPartyDataOption

const (
	FieldIdentifier = "identifier"
	FieldName       = "name"
	FieldEmail      = "email"
	FieldCompliance = "compliance"
)

// PayerData is the free-form data the sender attaches about the payer.
type PayerData map[string]interface{}

func (p PayerData) stringField(field string) string {
	if p == nil {
		return ""
	}
	value, _ := p[field].(string)

	return value
}

// Identifier returns the payer's UMA address, or "" if absent.
func (p PayerData) Identifier() string {
	return p.stringField(FieldIdentifier)
}

// Name returns the payer's name, or "" if absent.
func (p PayerData) Name() string {
	return p.stringField(FieldName)
}

// Email returns the payer's email, or "" if absent.
func (p PayerData) Email() string {
	return p.stringField(FieldEmail)
}

// Compliance decodes the compliance block, returning nil if it is absent.
func (p PayerData) Compliance() (*CompliancePayerData, error) {
	if p == nil {
		return nil, nil
	}
	raw, ok := p[FieldCompliance]
	if !ok || raw == nil {
		return nil, nil
	}

	var compliance CompliancePayerData
	if err := remarshal(raw, &compliance); err != nil {
		return nil, err
	}

	return &compliance, nil
}

// CompliancePayerData is the signed compliance block of a pay request.
type CompliancePayerData struct {
	Utxos                   []string  `json:"utxos,omitempty"`
	NodePubKey              *string   `json:"nodePubKey,omitempty"`
	KycStatus               KycStatus `json:"kycStatus"`
	EncryptedTravelRuleInfo *string   `json:"encryptedTravelRuleInfo,omitempty"`
	TravelRuleFormat        *string   `json:"travelRuleFormat,omitempty"`

	// Signature is the hex DER signature of sha256(identifier|nonce|ts).
	Signature          string `json:"signature"`
	SignatureNonce     string `json:"signatureNonce"`
	SignatureTimestamp int64  `json:"signatureTimestamp"`

	// UtxoCallback is where the receiver posts settlement UTXOs.
	UtxoCallback string `json:"utxoCallback"`
}

// PayeeData is the data returned about the payee.
type PayeeData map[string]interface{}

// Identifier returns the payee's identifier, or "" if absent.
func (p PayeeData) Identifier() string {
	if p == nil {
		return ""
	}
	value, _ := p[FieldIdentifier].(string)

	return value
}

// Compliance decodes the compliance block, returning nil if it is absent.
func (p PayeeData) Compliance() (*CompliancePayeeData, error) {
	if p == nil {
		return nil, nil
	}
	raw, ok := p[FieldCompliance]
	if !ok || raw == nil {
		return nil, nil
	}

	var compliance CompliancePayeeData
	if err := remarshal(raw, &compliance); err != nil {
		return nil, err
	}

	return &compliance, nil
}

// CompliancePayeeData is the signed compliance block of a pay request
// response.
type CompliancePayeeData struct {
	NodePubKey   *string  `json:"nodePubKey,omitempty"`
	Utxos        []string `json:"utxos"`
	UtxoCallback *string  `json:"utxoCallback,omitempty"`

	// Signature is the hex DER signature of
	// sha256(payer|payee|nonce|ts).
	Signature          string `json:"signature"`
	SignatureNonce     string `json:"signatureNonce"`
	SignatureTimestamp int64  `json:"signatureTimestamp"`
}

// SignablePayload returns the bytes covered by the payee signature.
func (c *CompliancePayeeData) SignablePayload(payer, payee string) []byte {
	return joinPayload(
		payer, payee, c.SignatureNonce, formatUnix(c.SignatureTimestamp),
	)
}

// remarshal converts a decoded JSON value into a typed struct.
func remarshal(in interface{}, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, out)
}

// toMap converts a struct into a generic JSON object.
func toMap(in interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := remarshal(in, &out); err != nil {
		return nil, err
	}

	return out, nil
}
