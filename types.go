package lnduma

import (
	"context"
	"errors"
	"time"

	"github.com/ellemouton/lnduma/protocol"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

// Receiver is a payee that can be paid through this server.
type Receiver struct {
	// ID is the stable internal identifier embedded in callback URLs.
	ID string

	// Handle is the user part of the receiver's address.
	Handle string

	// NodePubKey is the hex encoded routing key of the receiver's node.
	// When empty the invoice issuer's identity is used.
	NodePubKey string

	// MinSendableMsat and MaxSendableMsat bound a single payment.
	MinSendableMsat int64
	MaxSendableMsat int64
}

// ErrReceiverNotFound is returned by a UserDirectory for unknown receivers.
var ErrReceiverNotFound = errors.New("receiver not found")

// UserDirectory maps address handles and identifiers to receivers.
type UserDirectory interface {
	// ReceiverByHandle looks up a receiver by the user part of its
	// address.
	ReceiverByHandle(ctx context.Context, handle string) (*Receiver, error)

	// ReceiverByID looks up a receiver by its internal identifier.
	ReceiverByID(ctx context.Context, id string) (*Receiver, error)
}

// InvoiceIssuer creates payment invoices.
type InvoiceIssuer interface {
	// IssueInvoice returns a BOLT11 invoice for amount that commits to
	// descriptionHash and expires after expiry.
	IssueInvoice(ctx context.Context, amount lnwire.MilliSatoshi,
		expiry time.Duration, descriptionHash lntypes.Hash) (string,
		error)
}

// NodeIdentifier is implemented by issuers that can report the identity key
// of the node their invoices pay to.
type NodeIdentifier interface {
	// NodePubKey returns the hex encoded compressed node key.
	NodePubKey(ctx context.Context) (string, error)
}

// CounterpartyDirectory resolves a VASP domain to its public keys.
type CounterpartyDirectory interface {
	FetchPublicKeys(ctx context.Context, domain string) (
		*protocol.PubKeyResponse, error)
}

// UmaConfiguration is served at /.well-known/uma-configuration.
type UmaConfiguration struct {
	UmaMajorVersions   []int  `json:"uma_major_versions"`
	UmaRequestEndpoint string `json:"uma_request_endpoint"`
}

// metadata is the LNURL metadata list: pairs of mime type and content.
type metadata [][2]string
