package protocol

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	return priv
}

func TestParseLnurlpRequestPlain(t *testing.T) {
	u, err := url.Parse("https://vasp2.com/.well-known/lnurlp/bob")
	require.NoError(t, err)

	req, err := ParseLnurlpRequest(u)
	require.NoError(t, err)
	assert.False(t, req.IsUma())
	assert.Equal(t, "bob@vasp2.com", req.ReceiverAddress)
}

func TestParseLnurlpRequestUma(t *testing.T) {
	ts := time.Date(2023, 7, 27, 22, 46, 8, 0, time.UTC)
	u, err := url.Parse("https://vasp2.com/.well-known/lnurlp/bob?" +
		"signature=signature&nonce=12345&vaspDomain=vasp1.com&" +
		"umaVersion=1.0&isSubjectToTravelRule=true&timestamp=" +
		strconv.FormatInt(ts.Unix(), 10))
	require.NoError(t, err)

	req, err := ParseLnurlpRequest(u)
	require.NoError(t, err)
	require.True(t, req.IsUma())

	assert.Equal(t, "bob@vasp2.com", req.ReceiverAddress)
	assert.Equal(t, "vasp1.com", req.VaspDomain)
	assert.Equal(t, "12345", req.Nonce)
	assert.Equal(t, "signature", req.Signature)
	assert.Equal(t, "1.0", req.UmaVersion)
	assert.True(t, req.IsSubjectToTravelRule)
	assert.True(t, ts.Equal(req.Timestamp))
}

func TestParseLnurlpRequestMissingParams(t *testing.T) {
	queries := []string{
		"nonce=12345&vaspDomain=vasp1.com&umaVersion=1.0&timestamp=1",
		"signature=s&nonce=12345&vaspDomain=vasp1.com&timestamp=1",
		"signature=s&vaspDomain=vasp1.com&umaVersion=1.0&timestamp=1",
		"signature=s&nonce=1&umaVersion=1.0&timestamp=1",
		"signature=s&nonce=1&vaspDomain=vasp1.com&umaVersion=1.0",
		"signature=s&nonce=1&vaspDomain=v.com&umaVersion=1.0&timestamp=x",
	}
	for _, query := range queries {
		u, err := url.Parse(
			"https://vasp2.com/.well-known/lnurlp/bob?" + query,
		)
		require.NoError(t, err)

		_, err = ParseLnurlpRequest(u)
		require.Error(t, err, query)
		assert.False(t, IsCode(err, CodeUnsupportedVersion), query)
	}
}

func TestParseLnurlpRequestUnsupportedVersion(t *testing.T) {
	u, err := url.Parse("https://vasp2.com/.well-known/lnurlp/bob?" +
		"signature=s&nonce=1&vaspDomain=vasp1.com&umaVersion=2.0&" +
		"timestamp=12345678")
	require.NoError(t, err)

	_, err = ParseLnurlpRequest(u)
	require.True(t, IsCode(err, CodeUnsupportedVersion))

	pErr, _ := AsError(err)
	assert.Equal(t, "2.0", pErr.UnsupportedVersion)
	assert.Equal(t, []int{1, 0}, pErr.SupportedMajorVersions)

	body, err := json.Marshal(pErr)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"supportedMajorVersions":[1,0]`)
}

func TestSignedLnurlpRequestRoundTrip(t *testing.T) {
	priv := newTestKey(t)

	req, err := NewSignedLnurlpRequest(
		priv.Serialize(), "$bob@vasp2.com", "vasp1.com", true,
	)
	require.NoError(t, err)

	u, err := req.EncodeToURL()
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)

	parsed, err := ParseLnurlpRequest(u)
	require.NoError(t, err)
	require.True(t, parsed.IsUma())

	nonces := NewInMemoryNonceCache(time.Now().Add(-time.Hour))
	pub := priv.PubKey().SerializeCompressed()
	require.NoError(t, VerifyLnurlpRequestSignature(parsed, pub, nonces))

	// The same request again is a replay.
	err = VerifyLnurlpRequestSignature(parsed, pub, nonces)
	require.ErrorIs(t, err, ErrNonceReused)
}

func TestLnurlpRequestTamperedSignature(t *testing.T) {
	priv := newTestKey(t)

	req, err := NewSignedLnurlpRequest(
		priv.Serialize(), "bob@vasp2.com", "vasp1.com", false,
	)
	require.NoError(t, err)

	sig, err := hex.DecodeString(req.Signature)
	require.NoError(t, err)
	sig[len(sig)-1] ^= 0x01
	req.Signature = hex.EncodeToString(sig)

	nonces := NewInMemoryNonceCache(time.Now().Add(-time.Hour))
	err = VerifyLnurlpRequestSignature(
		req, priv.PubKey().SerializeCompressed(), nonces,
	)
	require.Error(t, err)
}

func TestNonceCacheWindow(t *testing.T) {
	now := time.Now()
	nonces := NewInMemoryNonceCache(now.Add(-time.Minute))

	err := nonces.CheckAndSaveNonce("old", now.Add(-time.Hour))
	require.ErrorIs(t, err, ErrTimestampTooOld)

	require.NoError(t, nonces.CheckAndSaveNonce("a", now))
	require.ErrorIs(t, nonces.CheckAndSaveNonce("a", now), ErrNonceReused)

	nonces.PurgeNoncesOlderThan(now.Add(time.Second))
	err = nonces.CheckAndSaveNonce("b", now)
	require.ErrorIs(t, err, ErrTimestampTooOld)
}

func TestUmaLnurlpResponse(t *testing.T) {
	receiver := newTestKey(t)
	req := &LnurlpRequest{
		ReceiverAddress: "bob@vasp2.com",
		UmaVersion:      "0.3",
	}

	resp, err := NewUmaLnurlpResponse(UmaLnurlpResponseParams{
		Request:                req,
		SigningKey:             receiver.Serialize(),
		RequiresTravelRuleInfo: true,
		Callback:               "https://vasp2.com/api/uma/payreq/1",
		EncodedMetadata:        "[]",
		MinSendableMsat:        1000,
		MaxSendableMsat:        2000,
		PayerDataOptions: CounterPartyDataOptions{
			FieldName: {Mandatory: false},
		},
		Currencies:        []Currency{SatsCurrency},
		ReceiverKycStatus: KycStatusNotVerified,
	})
	require.NoError(t, err)
	require.True(t, resp.IsUma())

	assert.Equal(t, "0.3", resp.UmaVersion)
	assert.True(t, resp.RequiredPayerData[FieldIdentifier].Mandatory)
	assert.True(t, resp.RequiredPayerData[FieldCompliance].Mandatory)
	assert.False(t, resp.RequiredPayerData[FieldName].Mandatory)
	assert.Equal(t, 0, resp.Currencies[0].UmaMajorVersion)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"minSendable":1`)

	parsed, err := ParseLnurlpResponse(body)
	require.NoError(t, err)

	nonces := NewInMemoryNonceCache(time.Now().Add(-time.Hour))
	err = VerifyLnurlpResponseSignature(
		parsed, receiver.PubKey().SerializeCompressed(), nonces,
	)
	require.NoError(t, err)
}

func TestPlainLnurlpResponseOmitsUmaFields(t *testing.T) {
	resp := NewPlainLnurlpResponse("https://x/cb", "[]", 1000, 10_000_000)

	body, err := json.Marshal(resp)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.Len(t, fields, 5)
	assert.Equal(t, "payRequest", fields["tag"])
	assert.EqualValues(t, 1000, fields["minSendable"])
	assert.EqualValues(t, 10_000_000, fields["maxSendable"])
}

func TestCurrencyShapes(t *testing.T) {
	v1 := SatsCurrency
	body, err := json.Marshal(v1)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"convertible":{"min":1,"max":10000000}`)

	var decoded Currency
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, SatsCurrency, decoded)

	v0 := SatsCurrency
	v0.UmaMajorVersion = 0
	body, err = json.Marshal(v0)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"minSendable":1`)

	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, v0, decoded)
}

func TestParsePayRequestAmounts(t *testing.T) {
	req, err := ParsePayRequest([]byte(`{"amount":"1000.SAT","convert":"SAT"}`))
	require.NoError(t, err)
	assert.EqualValues(t, 1000, req.Amount)
	assert.Equal(t, "SAT", req.SendingAmountCurrencyCode)
	assert.Equal(t, "SAT", req.ReceivingCurrencyCode)
	assert.False(t, req.IsAmountInMsats())
	assert.False(t, req.DeclaresUma())

	req, err = ParsePayRequest([]byte(`{"amount":5000}`))
	require.NoError(t, err)
	assert.EqualValues(t, 5000, req.Amount)
	assert.True(t, req.IsAmountInMsats())

	_, err = ParsePayRequest([]byte(`{"amount":"1.2.3"}`))
	require.Error(t, err)

	_, err = ParsePayRequest([]byte(`{"convert":"SAT"}`))
	require.Error(t, err)
}

func TestPayRequestQueryRoundTrip(t *testing.T) {
	sender := newTestKey(t)
	req, err := NewUmaPayRequest(UmaPayRequestParams{
		SigningKey:                  sender.Serialize(),
		ReceivingCurrencyCode:       "SAT",
		IsAmountInReceivingCurrency: true,
		Amount:                      100,
		PayerIdentifier:             "$alice@vasp1.com",
		PayerKycStatus:              KycStatusVerified,
	})
	require.NoError(t, err)

	query, err := req.EncodeAsQuery()
	require.NoError(t, err)
	assert.Equal(t, "100.SAT", query.Get("amount"))

	parsed, err := ParsePayRequestFromQuery(query)
	require.NoError(t, err)
	require.True(t, parsed.DeclaresUma())
	assert.Equal(t, "$alice@vasp1.com", parsed.PayerData.Identifier())

	nonces := NewInMemoryNonceCache(time.Now().Add(-time.Hour))
	err = VerifyPayRequestSignature(
		parsed, sender.PubKey().SerializeCompressed(), nonces,
	)
	require.NoError(t, err)

	_, err = ParsePayRequestFromQuery(url.Values{})
	require.Error(t, err)
}

func TestUmaPayRequestJSONSignature(t *testing.T) {
	sender := newTestKey(t)
	other := newTestKey(t)

	req, err := NewUmaPayRequest(UmaPayRequestParams{
		SigningKey:            sender.Serialize(),
		ReceivingCurrencyCode: "SAT",
		Amount:                100_000,
		PayerIdentifier:       "$alice@vasp1.com",
		PayerName:             "Alice",
		PayerKycStatus:        KycStatusVerified,
		UtxoCallback:          "https://vasp1.com/utxo",
	})
	require.NoError(t, err)
	assert.True(t, req.IsAmountInMsats())

	body, err := json.Marshal(req)
	require.NoError(t, err)

	parsed, err := ParsePayRequest(body)
	require.NoError(t, err)
	assert.Equal(t, "Alice", parsed.PayerData.Name())
	assert.True(t, parsed.RequestedPayeeData[FieldCompliance].Mandatory)

	nonces := NewInMemoryNonceCache(time.Now().Add(-time.Hour))
	err = VerifyPayRequestSignature(
		parsed, other.PubKey().SerializeCompressed(), nonces,
	)
	require.Error(t, err)
}

func TestPayReqResponseShapes(t *testing.T) {
	receiver := newTestKey(t)
	nodeKey := "02abcd"

	compliance, err := SignPayeeCompliance(PayeeComplianceParams{
		SigningKey:      receiver.Serialize(),
		PayerIdentifier: "$alice@vasp1.com",
		PayeeIdentifier: "$bob@vasp2.com",
		NodePubKey:      &nodeKey,
	})
	require.NoError(t, err)

	payee := PayeeData{FieldIdentifier: "$bob@vasp2.com"}
	require.NoError(t, payee.AttachCompliance(compliance))

	resp := &PayReqResponse{
		EncodedInvoice: "lnbc1",
		PaymentInfo: &PaymentInfo{
			Amount:       10,
			CurrencyCode: "SAT",
			Multiplier:   1000,
		},
		PayeeData:       payee,
		UmaMajorVersion: 1,
	}
	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"converted"`)
	assert.Contains(t, string(body), `"routes":[]`)

	parsed, err := ParsePayReqResponse(body)
	require.NoError(t, err)
	require.True(t, parsed.IsUma())

	nonces := NewInMemoryNonceCache(time.Now().Add(-time.Hour))
	err = VerifyPayReqResponseSignature(
		parsed, receiver.PubKey().SerializeCompressed(), nonces,
		"$alice@vasp1.com", "$bob@vasp2.com",
	)
	require.NoError(t, err)

	resp.UmaMajorVersion = 0
	body, err = json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"paymentInfo"`)
	assert.Contains(t, string(body), `"compliance"`)

	parsed, err = ParsePayReqResponse(body)
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.UmaMajorVersion)
	assert.True(t, parsed.IsUma())
}

func TestReceivingAmounts(t *testing.T) {
	msats, amount := ReceivingAmounts(&PayRequest{Amount: 5000}, 1000, 0)
	assert.EqualValues(t, 5000, msats)
	assert.EqualValues(t, 5, amount)

	msats, amount = ReceivingAmounts(&PayRequest{
		Amount:                    5,
		SendingAmountCurrencyCode: "SAT",
	}, 1000, 0)
	assert.EqualValues(t, 5000, msats)
	assert.EqualValues(t, 5, amount)
}

func TestPubKeyFromCertChain(t *testing.T) {
	priv := newTestKey(t)
	pub := priv.PubKey().SerializeUncompressed()

	emptySeq := asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
	}
	ecdsaWithSHA256 := pkix.AlgorithmIdentifier{
		Algorithm: asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2},
	}
	der, err := asn1.Marshal(certificate{
		TBSCertificate: tbsCertificate{
			SerialNumber:       big.NewInt(1),
			SignatureAlgorithm: ecdsaWithSHA256,
			Issuer:             emptySeq,
			Validity: validity{
				NotBefore: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				NotAfter:  time.Date(2034, 1, 1, 0, 0, 0, 0, time.UTC),
			},
			Subject: emptySeq,
			PublicKey: publicKeyInfo{
				Algorithm: pkix.AlgorithmIdentifier{
					Algorithm: asn1.ObjectIdentifier{
						1, 2, 840, 10045, 2, 1,
					},
				},
				PublicKey: asn1.BitString{
					Bytes: pub, BitLength: len(pub) * 8,
				},
			},
		},
		SignatureAlgorithm: ecdsaWithSHA256,
		SignatureValue:     asn1.BitString{Bytes: []byte{0}, BitLength: 8},
	})
	require.NoError(t, err)

	chainPEM := string(pem.EncodeToMemory(&pem.Block{
		Type: "CERTIFICATE", Bytes: der,
	}))

	resp, err := NewPubKeyResponse(chainPEM, "", "", "")
	require.NoError(t, err)
	require.Len(t, resp.SigningCertChain, 1)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	parsed, err := ParsePubKeyResponse(body)
	require.NoError(t, err)

	signing, err := parsed.SigningPubKey()
	require.NoError(t, err)
	assert.Equal(t, pub, signing)

	_, err = parsed.EncryptionPubKey()
	require.Error(t, err)

	_, err = NewPubKeyResponse("not a pem", "", "", "")
	require.Error(t, err)
}

func TestPubKeyResponseExpiry(t *testing.T) {
	past := time.Now().Add(-time.Minute).Unix()
	resp := &PubKeyResponse{
		SigningPubKeyHex:    "02ab",
		ExpirationTimestamp: &past,
	}
	assert.True(t, resp.IsExpired(time.Now()))

	cache := NewInMemoryPublicKeyCache()
	cache.AddPublicKeyForVasp("vasp1.com", resp)
	assert.Nil(t, cache.FetchPublicKeyForVasp("vasp1.com"))

	resp.ExpirationTimestamp = nil
	assert.Equal(t, resp, cache.FetchPublicKeyForVasp("vasp1.com"))

	cache.RemovePublicKeyForVasp("vasp1.com")
	assert.Nil(t, cache.FetchPublicKeyForVasp("vasp1.com"))
}

func TestVersionHelpers(t *testing.T) {
	lower, err := SelectLowerVersion("1.0", "0.3")
	require.NoError(t, err)
	assert.Equal(t, "0.3", lower)

	lower, err = SelectLowerVersion("1.2", "1.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0", lower)

	_, err = SelectLowerVersion("x", "1.0")
	require.Error(t, err)

	assert.True(t, IsVersionSupported("1.7"))
	assert.True(t, IsVersionSupported("0.3"))
	assert.False(t, IsVersionSupported("2.0"))
	assert.False(t, IsVersionSupported("garbage"))
}

func TestIsDomainLocalhost(t *testing.T) {
	assert.True(t, IsDomainLocalhost("localhost"))
	assert.True(t, IsDomainLocalhost("localhost:8080"))
	assert.True(t, IsDomainLocalhost("127.0.0.1:1234"))
	assert.True(t, IsDomainLocalhost("[::1]:80"))
	assert.True(t, IsDomainLocalhost("vasp.local"))
	assert.True(t, IsDomainLocalhost("svc.internal:9000"))
	assert.False(t, IsDomainLocalhost("vasp2.com"))
	assert.False(t, IsDomainLocalhost("vasp2.com:443"))
}
