package lnduma

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// UmaKeys is the key material of this VASP, read from the environment.
type UmaKeys struct {
	SigningPrivKeyHex string `env:"UMA_SIGNING_PRIVKEY,required"`
	SigningPubKeyHex  string `env:"UMA_SIGNING_PUBKEY"`
	SigningCertChain  string `env:"UMA_SIGNING_CERT_CHAIN"`

	EncryptionPrivKeyHex string `env:"UMA_ENCRYPTION_PRIVKEY"`
	EncryptionPubKeyHex  string `env:"UMA_ENCRYPTION_PUBKEY"`
	EncryptionCertChain  string `env:"UMA_ENCRYPTION_CERT_CHAIN"`

	// VaspDomain is the domain this VASP signs outbound requests as. When
	// empty the listen host is used.
	VaspDomain string `env:"UMA_VASP_DOMAIN"`
}

// LoadUmaKeys reads the key material from the process environment.
func LoadUmaKeys() (*UmaKeys, error) {
	return loadUmaKeys(env.Options{})
}

func loadUmaKeys(opts env.Options) (*UmaKeys, error) {
	var keys UmaKeys
	if err := env.ParseWithOptions(&keys, opts); err != nil {
		return nil, fmt.Errorf("parse uma env: %w", err)
	}

	// Cert chains are commonly passed with escaped newlines.
	keys.SigningCertChain = unescapeNewlines(keys.SigningCertChain)
	keys.EncryptionCertChain = unescapeNewlines(keys.EncryptionCertChain)

	if err := keys.validate(); err != nil {
		return nil, err
	}

	return &keys, nil
}

func (k *UmaKeys) validate() error {
	priv, err := k.SigningPrivKey()
	if err != nil {
		return err
	}

	if k.SigningPubKeyHex == "" {
		privKey := secp256k1.PrivKeyFromBytes(priv)
		k.SigningPubKeyHex = hex.EncodeToString(
			privKey.PubKey().SerializeCompressed(),
		)
	}
	if k.EncryptionPubKeyHex == "" {
		k.EncryptionPubKeyHex = k.SigningPubKeyHex
	}

	return nil
}

// SigningPrivKey returns the raw signing private key.
func (k *UmaKeys) SigningPrivKey() ([]byte, error) {
	if k.SigningPrivKeyHex == "" {
		return nil, errors.New("signing private key is not set")
	}

	priv, err := hex.DecodeString(k.SigningPrivKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode signing private key: %w", err)
	}
	if len(priv) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("signing private key must be %d bytes, "+
			"got %d", secp256k1.PrivKeyBytesLen, len(priv))
	}

	return priv, nil
}

func unescapeNewlines(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
