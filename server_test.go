package lnduma

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ellemouton/lnduma/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverHarness struct {
	server      *Server
	issuer      *testIssuer
	receiverKey *secp256k1.PrivateKey
	senderKey   *secp256k1.PrivateKey
}

func newServerHarness(t *testing.T) *serverHarness {
	t.Helper()

	users, err := NewStaticUserDirectory(&Receiver{
		ID:              testReceiverID,
		Handle:          "alice",
		MinSendableMsat: 1_000,
		MaxSendableMsat: 10_000_000,
	})
	require.NoError(t, err)

	h := &serverHarness{
		issuer:      newTestIssuer(t),
		receiverKey: newSecpKey(t),
		senderKey:   newSecpKey(t),
	}
	pubKey := hex.EncodeToString(
		h.receiverKey.PubKey().SerializeCompressed(),
	)

	h.server, err = NewServer(&Config{
		ListenAddr: "localhost:0",
		PublicHost: "localhost:8080",
		Users:      users,
		Issuer:     h.issuer,
		Keys: &UmaKeys{
			SigningPrivKeyHex:   hex.EncodeToString(h.receiverKey.Serialize()),
			SigningPubKeyHex:    pubKey,
			EncryptionPubKeyHex: pubKey,
		},
		Counterparties: staticCounterparties{
			testSenderVasp: pubKeyResponse(h.senderKey),
		},
		ChainParams: &chaincfg.RegressionNetParams,
	})
	require.NoError(t, err)

	return h
}

func (h *serverHarness) do(t *testing.T, method, target string,
	body string) *httptest.ResponseRecorder {

	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	return rec
}

func decodeErrorBody(t *testing.T,
	rec *httptest.ResponseRecorder) protocol.ErrorResponseBody {

	t.Helper()

	var body protocol.ErrorResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ERROR", body.Status)

	return body
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	_, err := NewServer(&Config{})
	require.Error(t, err)
}

func TestServerNotFound(t *testing.T) {
	h := newServerHarness(t)

	rec := h.do(t, http.MethodGet, "http://localhost:8080/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"status":"ERROR","reason":"Not found."}`,
		rec.Body.String())
}

func TestServerPlainFlow(t *testing.T) {
	h := newServerHarness(t)

	rec := h.do(t, http.MethodGet,
		"http://localhost:8080/.well-known/lnurlp/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var lnurlp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lnurlp))
	assert.Equal(t, "payRequest", lnurlp["tag"])
	assert.EqualValues(t, 1000, lnurlp["minSendable"])
	assert.EqualValues(t, 10000000, lnurlp["maxSendable"])
	assert.NotContains(t, lnurlp, "compliance")

	callback, ok := lnurlp["callback"].(string)
	require.True(t, ok)
	assert.Contains(t, callback, "/api/lnurl/payreq/")

	// Below the minimum no invoice is issued.
	rec = h.do(t, http.MethodGet, callback+"?amount=500", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, protocol.CodeAmountOutOfRange.Code,
		decodeErrorBody(t, rec).Code)
	assert.Empty(t, h.issuer.calls())

	rec = h.do(t, http.MethodGet, callback+"?amount=5000", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payreq map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payreq))
	assert.True(t, strings.HasPrefix(payreq["pr"].(string), "lnbcrt"))
	assert.Equal(t, []interface{}{}, payreq["routes"])
	assert.Len(t, h.issuer.calls(), 1)
}

func TestServerUnknownUser(t *testing.T) {
	h := newServerHarness(t)

	rec := h.do(t, http.MethodGet,
		"http://localhost:8080/.well-known/lnurlp/carol", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, protocol.CodeUserNotFound.Code,
		decodeErrorBody(t, rec).Code)

	rec = h.do(t, http.MethodGet,
		"http://localhost:8080/api/lnurl/payreq/nobody?amount=5000", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, protocol.CodeUserNotFound.Code,
		decodeErrorBody(t, rec).Code)
}

func TestServerUnsupportedVersion(t *testing.T) {
	h := newServerHarness(t)

	rec := h.do(t, http.MethodGet,
		"http://localhost:8080/.well-known/lnurlp/alice?signature=s&"+
			"vaspDomain=vasp1.com&nonce=1&timestamp=1&umaVersion=9.0",
		"")
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)

	body := decodeErrorBody(t, rec)
	assert.Equal(t, protocol.CodeUnsupportedVersion.Code, body.Code)
	assert.Equal(t, []int{1, 0}, body.SupportedMajorVersions)
}

func TestServerUmaPayreqBadBody(t *testing.T) {
	h := newServerHarness(t)

	rec := h.do(t, http.MethodPost,
		"http://localhost:8080/api/uma/payreq/"+testReceiverID, "{")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, protocol.CodeParsePayreqRequest.Code,
		decodeErrorBody(t, rec).Code)
}

func TestServerUmaPayreqWithoutCompliance(t *testing.T) {
	h := newServerHarness(t)

	rec := h.do(t, http.MethodPost,
		"http://localhost:8080/api/uma/payreq/"+testReceiverID,
		`{"amount":5000}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, protocol.CodeMissingRequiredParameters.Code,
		decodeErrorBody(t, rec).Code)
}

func TestServerPubKeys(t *testing.T) {
	h := newServerHarness(t)

	rec := h.do(t, http.MethodGet,
		"http://localhost:8080/.well-known/lnurlpubkey", "")
	require.Equal(t, http.StatusOK, rec.Code)

	pubKeys, err := protocol.ParsePubKeyResponse(rec.Body.Bytes())
	require.NoError(t, err)

	signingKey, err := pubKeys.SigningPubKey()
	require.NoError(t, err)
	assert.Equal(t, h.receiverKey.PubKey().SerializeCompressed(),
		signingKey)
}

func TestServerUmaConfiguration(t *testing.T) {
	h := newServerHarness(t)

	rec := h.do(t, http.MethodGet,
		"http://localhost:8080/.well-known/uma-configuration", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"uma_major_versions": [0, 1],
		"uma_request_endpoint":
			"http://localhost:8080/api/uma/request_invoice_payment"
	}`, rec.Body.String())
}

func TestServerForwardedProto(t *testing.T) {
	h := newServerHarness(t)

	req := httptest.NewRequest(http.MethodGet,
		"http://vasp2.com/.well-known/lnurlp/alice", nil)
	req.Header.Set("X-Forwarded-Proto", "https")

	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp, err := protocol.ParseLnurlpResponse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "https://vasp2.com/api/lnurl/payreq/"+testReceiverID,
		resp.Callback)
}
