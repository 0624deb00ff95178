package lnduma

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUmaKeys(t *testing.T) {
	priv := newSecpKey(t)
	privHex := hex.EncodeToString(priv.Serialize())
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	keys, err := loadUmaKeys(env.Options{Environment: map[string]string{
		"UMA_SIGNING_PRIVKEY":       privHex,
		"UMA_SIGNING_CERT_CHAIN":    `-----BEGIN CERTIFICATE-----\nabc`,
		"UMA_ENCRYPTION_CERT_CHAIN": "",
		"UMA_VASP_DOMAIN":           "vasp2.com",
	}})
	require.NoError(t, err)

	assert.Equal(t, pubHex, keys.SigningPubKeyHex)
	assert.Equal(t, pubHex, keys.EncryptionPubKeyHex)
	assert.Equal(t, "vasp2.com", keys.VaspDomain)
	assert.Equal(t, "-----BEGIN CERTIFICATE-----\nabc",
		keys.SigningCertChain)

	raw, err := keys.SigningPrivKey()
	require.NoError(t, err)
	assert.Equal(t, priv.Serialize(), raw)
}

func TestLoadUmaKeysExplicitPubKeys(t *testing.T) {
	keys, err := loadUmaKeys(env.Options{Environment: map[string]string{
		"UMA_SIGNING_PRIVKEY":    strings.Repeat("01", 32),
		"UMA_SIGNING_PUBKEY":     "02aa",
		"UMA_ENCRYPTION_PUBKEY":  "03bb",
		"UMA_ENCRYPTION_PRIVKEY": strings.Repeat("02", 32),
	}})
	require.NoError(t, err)

	assert.Equal(t, "02aa", keys.SigningPubKeyHex)
	assert.Equal(t, "03bb", keys.EncryptionPubKeyHex)
	assert.Equal(t, strings.Repeat("02", 32), keys.EncryptionPrivKeyHex)
}

func TestLoadUmaKeysInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"missing":   {},
		"not hex":   {"UMA_SIGNING_PRIVKEY": "zz"},
		"too short": {"UMA_SIGNING_PRIVKEY": "0102"},
	}
	for name, environment := range tests {
		_, err := loadUmaKeys(env.Options{Environment: environment})
		assert.Error(t, err, name)
	}
}
