package protocol

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// ErrInvalidSignature is returned when a signature does not match its
// payload and public key.
var ErrInvalidSignature = errors.New("invalid uma signature")

// GenerateNonce returns a random decimal nonce.
func GenerateNonce() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(0xFFFFFFFF))
	if err != nil {
		return "", err
	}

	return strconv.FormatUint(n.Uint64(), 10), nil
}

// SignPayload signs sha256(payload) with a secp256k1 private key and returns
// the hex-encoded DER signature.
func SignPayload(payload []byte, privKeyBytes []byte) (string, error) {
	if len(privKeyBytes) != secp256k1.PrivKeyBytesLen {
		return "", fmt.Errorf("invalid private key length %d",
			len(privKeyBytes))
	}

	privKey := secp256k1.PrivKeyFromBytes(privKeyBytes)
	hash := sha256.Sum256(payload)
	sig := ecdsa.Sign(privKey, hash[:])

	return hex.EncodeToString(sig.Serialize()), nil
}

// VerifySignature checks a hex-encoded DER signature over sha256(payload).
func VerifySignature(payload []byte, signature string, pubKeyBytes []byte) error {
	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}

	pubKey, err := secp256k1.ParsePubKey(pubKeyBytes)
	if err != nil {
		return fmt.Errorf("parse public key: %w", err)
	}

	hash := sha256.Sum256(payload)
	if !sig.Verify(hash[:], pubKey) {
		return ErrInvalidSignature
	}

	return nil
}

func joinPayload(parts ...string) []byte {
	return []byte(strings.Join(parts, "|"))
}
