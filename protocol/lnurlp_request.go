package protocol

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const lnurlpPathPrefix = "/.well-known/lnurlp/"

// LnurlpRequest is the first-hop address lookup. Plain LNURL requests only
// carry ReceiverAddress; UMA requests carry the signed fields as well.
type LnurlpRequest struct {
	// ReceiverAddress is "<user>@<host>" of the receiver being looked up.
	ReceiverAddress string

	// VaspDomain is the sender's domain, used to fetch its public keys.
	VaspDomain string

	// Signature is the hex DER signature of
	// sha256(ReceiverAddress|Nonce|Timestamp).
	Signature string

	Nonce     string
	Timestamp time.Time

	// IsSubjectToTravelRule is set when the sender needs travel rule
	// information.
	IsSubjectToTravelRule bool

	// UmaVersion is the sender's preferred protocol version.
	UmaVersion string
}

// IsUma reports whether the request carries the signed UMA fields.
func (q *LnurlpRequest) IsUma() bool {
	return q.VaspDomain != "" && q.Signature != "" && q.Nonce != "" &&
		!q.Timestamp.IsZero() && q.UmaVersion != ""
}

// SignablePayload returns the bytes covered by the request signature.
func (q *LnurlpRequest) SignablePayload() []byte {
	return joinPayload(
		q.ReceiverAddress, q.Nonce, formatUnix(q.Timestamp.Unix()),
	)
}

var umaQueryParams = []string{
	"signature", "vaspDomain", "nonce", "timestamp", "umaVersion",
	"isSubjectToTravelRule",
}

// ParseLnurlpRequest parses the full URL of an inbound lnurlp request. A
// request without any UMA query parameters parses as a plain LNURL request.
// An unsupported umaVersion yields an *Error with CodeUnsupportedVersion;
// every other failure is a plain error.
func ParseLnurlpRequest(u *url.URL) (*LnurlpRequest, error) {
	if !strings.HasPrefix(u.Path, lnurlpPathPrefix) {
		return nil, fmt.Errorf("invalid lnurlp request path %q", u.Path)
	}
	user := strings.TrimPrefix(u.Path, lnurlpPathPrefix)
	if user == "" || strings.Contains(user, "/") {
		return nil, fmt.Errorf("invalid lnurlp request path %q", u.Path)
	}

	req := &LnurlpRequest{
		ReceiverAddress: user + "@" + u.Host,
	}

	query := u.Query()
	hasUmaParams := false
	for _, param := range umaQueryParams {
		if query.Get(param) != "" {
			hasUmaParams = true
			break
		}
	}
	if !hasUmaParams {
		return req, nil
	}

	req.Signature = query.Get("signature")
	req.VaspDomain = query.Get("vaspDomain")
	req.Nonce = query.Get("nonce")
	req.UmaVersion = query.Get("umaVersion")
	req.IsSubjectToTravelRule = strings.EqualFold(
		query.Get("isSubjectToTravelRule"), "true",
	)

	timestamp := query.Get("timestamp")
	if req.Signature == "" || req.VaspDomain == "" || req.Nonce == "" ||
		timestamp == "" || req.UmaVersion == "" {

		return nil, errors.New("missing uma query parameters. " +
			"vaspDomain, umaVersion, signature, nonce, and " +
			"timestamp are required")
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q", timestamp)
	}
	req.Timestamp = time.Unix(unix, 0)

	if !IsVersionSupported(req.UmaVersion) {
		return nil, unsupportedVersionError(req.UmaVersion)
	}

	return req, nil
}

// EncodeToURL builds the lnurlp URL for the request, including the signed
// fields for UMA requests.
func (q *LnurlpRequest) EncodeToURL() (*url.URL, error) {
	parts := strings.Split(q.ReceiverAddress, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid receiver address %q",
			q.ReceiverAddress)
	}

	scheme := "https"
	if IsDomainLocalhost(parts[1]) {
		scheme = "http"
	}

	u := &url.URL{
		Scheme: scheme,
		Host:   parts[1],
		Path:   lnurlpPathPrefix + strings.TrimPrefix(parts[0], "$"),
	}
	if q.IsUma() {
		params := url.Values{}
		params.Set("signature", q.Signature)
		params.Set("vaspDomain", q.VaspDomain)
		params.Set("nonce", q.Nonce)
		params.Set("isSubjectToTravelRule",
			strconv.FormatBool(q.IsSubjectToTravelRule))
		params.Set("timestamp", formatUnix(q.Timestamp.Unix()))
		params.Set("umaVersion", q.UmaVersion)
		u.RawQuery = params.Encode()
	}

	return u, nil
}

// NewSignedLnurlpRequest creates a UMA lnurlp request for receiverAddress,
// signed with the sending VASP's private key.
func NewSignedLnurlpRequest(signingKey []byte, receiverAddress,
	vaspDomain string, isSubjectToTravelRule bool) (*LnurlpRequest, error) {

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	req := &LnurlpRequest{
		ReceiverAddress:       strings.TrimPrefix(receiverAddress, "$"),
		VaspDomain:            vaspDomain,
		Nonce:                 nonce,
		Timestamp:             time.Unix(time.Now().Unix(), 0),
		IsSubjectToTravelRule: isSubjectToTravelRule,
		UmaVersion:            Version,
	}

	req.Signature, err = SignPayload(req.SignablePayload(), signingKey)
	if err != nil {
		return nil, err
	}

	return req, nil
}

// VerifyLnurlpRequestSignature checks the request's nonce against the replay
// guard and then its signature against the sender's signing key.
func VerifyLnurlpRequestSignature(q *LnurlpRequest, pubKey []byte,
	nonces NonceCache) error {

	if err := nonces.CheckAndSaveNonce(q.Nonce, q.Timestamp); err != nil {
		return err
	}

	return VerifySignature(q.SignablePayload(), q.Signature, pubKey)
}

// IsDomainLocalhost reports whether domain (optionally with a port) refers to
// the local machine.
func IsDomainLocalhost(domain string) bool {
	host, _, err := net.SplitHostPort(domain)
	if err != nil {
		host = domain
	}
	host = strings.Trim(host, "[]")

	labels := strings.Split(host, ".")
	tld := labels[len(labels)-1]

	return host == "localhost" || host == "127.0.0.1" || host == "::1" ||
		tld == "local" || tld == "internal"
}

// DomainFromAddress returns the domain part of an UMA address such as
// "$alice@vasp.com".
func DomainFromAddress(address string) (string, error) {
	parts := strings.Split(address, "@")
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("invalid uma address %q", address)
	}

	return parts[1], nil
}

func formatUnix(ts int64) string {
	return strconv.FormatInt(ts, 10)
}
