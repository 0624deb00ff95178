package protocol

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// PubKeyResponse is served at /.well-known/lnurlpubkey and lists a VASP's
// signing and encryption keys.
type PubKeyResponse struct {
	// SigningCertChain is the hex DER encoded certificate chain, leaf
	// first.
	SigningCertChain []string `json:"signingCertChain,omitempty"`

	// EncryptionCertChain is the hex DER encoded certificate chain, leaf
	// first.
	EncryptionCertChain []string `json:"encryptionCertChain,omitempty"`

	SigningPubKeyHex    string `json:"signingPubKey,omitempty"`
	EncryptionPubKeyHex string `json:"encryptionPubKey,omitempty"`

	// ExpirationTimestamp is the unix time after which the keys must be
	// refetched. Nil means they can be cached forever.
	ExpirationTimestamp *int64 `json:"expirationTimestamp,omitempty"`
}

// NewPubKeyResponse builds the response from PEM certificate chains and
// hex public keys. Empty chains are omitted.
func NewPubKeyResponse(signingChainPEM, encryptionChainPEM, signingPubKeyHex,
	encryptionPubKeyHex string) (*PubKeyResponse, error) {

	signingChain, err := pemChainToHexDER(signingChainPEM)
	if err != nil {
		return nil, fmt.Errorf("signing cert chain: %w", err)
	}
	encryptionChain, err := pemChainToHexDER(encryptionChainPEM)
	if err != nil {
		return nil, fmt.Errorf("encryption cert chain: %w", err)
	}

	return &PubKeyResponse{
		SigningCertChain:    signingChain,
		EncryptionCertChain: encryptionChain,
		SigningPubKeyHex:    signingPubKeyHex,
		EncryptionPubKeyHex: encryptionPubKeyHex,
	}, nil
}

// SigningPubKey returns the serialized signing key, taken from the leaf
// certificate when a chain is present.
func (r *PubKeyResponse) SigningPubKey() ([]byte, error) {
	return pubKeyFrom(r.SigningCertChain, r.SigningPubKeyHex)
}

// EncryptionPubKey returns the serialized encryption key, taken from the
// leaf certificate when a chain is present.
func (r *PubKeyResponse) EncryptionPubKey() ([]byte, error) {
	return pubKeyFrom(r.EncryptionCertChain, r.EncryptionPubKeyHex)
}

// IsExpired reports whether the keys must be refetched at now.
func (r *PubKeyResponse) IsExpired(now time.Time) bool {
	return r.ExpirationTimestamp != nil &&
		time.Unix(*r.ExpirationTimestamp, 0).Before(now)
}

// ParsePubKeyResponse decodes a pubkey response body.
func ParsePubKeyResponse(body []byte) (*PubKeyResponse, error) {
	var resp PubKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func pubKeyFrom(chain []string, pubKeyHex string) ([]byte, error) {
	if len(chain) > 0 {
		der, err := hex.DecodeString(chain[0])
		if err != nil {
			return nil, fmt.Errorf("decode leaf certificate: %w", err)
		}
		pubKey, err := pubKeyFromCertificate(der)
		if err != nil {
			return nil, err
		}

		return pubKey.SerializeUncompressed(), nil
	}

	if pubKeyHex == "" {
		return nil, errors.New("no public key or certificate chain")
	}

	return hex.DecodeString(pubKeyHex)
}

func pemChainToHexDER(chainPEM string) ([]string, error) {
	var (
		rest  = []byte(chainPEM)
		chain []string
	)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		chain = append(chain, hex.EncodeToString(block.Bytes))
	}

	if len(chain) == 0 && len(rest) > 0 && chainPEM != "" {
		return nil, errors.New("no PEM certificates found")
	}

	return chain, nil
}

// The standard library's x509 parser rejects secp256k1 keys, so the leaf
// certificate is decoded with just enough structure to reach its public
// key.
type certificate struct {
	TBSCertificate     tbsCertificate
	SignatureAlgorithm pkix.AlgorithmIdentifier
	SignatureValue     asn1.BitString
}

type tbsCertificate struct {
	Version            int `asn1:"optional,explicit,default:0,tag:0"`
	SerialNumber       *big.Int
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Issuer             asn1.RawValue
	Validity           validity
	Subject            asn1.RawValue
	PublicKey          publicKeyInfo
	UniqueID           asn1.BitString   `asn1:"optional,tag:1"`
	SubjectUniqueID    asn1.BitString   `asn1:"optional,tag:2"`
	Extensions         []pkix.Extension `asn1:"optional,explicit,tag:3"`
}

type validity struct {
	NotBefore, NotAfter time.Time
}

type publicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

func pubKeyFromCertificate(der []byte) (*secp256k1.PublicKey, error) {
	var cert certificate
	if _, err := asn1.Unmarshal(der, &cert); err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	return secp256k1.ParsePubKey(
		cert.TBSCertificate.PublicKey.PublicKey.RightAlign(),
	)
}
