// Package sending implements the sending side of a payment: the client that
// talks to the receiving VASP and the store correlating its two calls.
package sending

import (
	"context"
	"errors"

	"github.com/ellemouton/lnduma/protocol"
)

// ErrRecordNotFound is returned for an unknown correlation identifier.
var ErrRecordNotFound = errors.New("correlation record not found")

// LookupRecord is what the sender remembers after the lnurlp lookup.
type LookupRecord struct {
	// Response is the lnurlp response as received from the counterparty.
	Response *protocol.LnurlpResponse

	// ReceiverID is the receiver's identifier as known to the
	// counterparty.
	ReceiverID string

	// CounterpartyDomain is the domain of the receiving VASP.
	CounterpartyDomain string
}

// InvoiceDetails is the decoded content of an invoice.
type InvoiceDetails struct {
	PaymentHash     string `json:"paymentHash"`
	AmountMsat      int64  `json:"amountMsat"`
	Destination     string `json:"destination"`
	CreatedAt       int64  `json:"createdAt"`
	ExpirySeconds   int64  `json:"expirySeconds"`
	DescriptionHash string `json:"descriptionHash,omitempty"`
}

// PaymentRecord is what the sender remembers once an invoice is obtained.
type PaymentRecord struct {
	// ID is the correlation identifier. SavePaymentRecord allocates one
	// when it is empty.
	ID string

	// ReceiverAddress is the receiver's full UMA address.
	ReceiverAddress string

	EncodedInvoice string

	// SettlementCallback is where settlement information is posted once
	// the payment completes.
	SettlementCallback *string

	Invoice *InvoiceDetails

	// Currencies are the currencies the counterparty declared.
	Currencies []protocol.Currency
}

// Store correlates the lnurlp lookup of a send with its pay request and
// settlement. Lookup and payment records share one identifier space.
// Records are never expired; they live until they are deleted.
type Store interface {
	// SaveLookupRecord stores the lookup result under a fresh identifier
	// and returns it.
	SaveLookupRecord(ctx context.Context, response *protocol.LnurlpResponse,
		receiverID, counterpartyDomain string) (string, error)

	// GetLookupRecord returns ErrRecordNotFound for unknown identifiers.
	GetLookupRecord(ctx context.Context, id string) (*LookupRecord, error)

	// SavePaymentRecord stores record under record.ID, replacing any
	// previous record with that identifier. An empty ID is allocated.
	SavePaymentRecord(ctx context.Context, record *PaymentRecord) (string,
		error)

	// GetPaymentRecord returns ErrRecordNotFound for unknown identifiers.
	GetPaymentRecord(ctx context.Context, id string) (*PaymentRecord, error)

	// ListPendingPaymentRecords returns a snapshot of every payment
	// record in insertion order.
	ListPendingPaymentRecords(ctx context.Context) ([]*PaymentRecord, error)

	// DeletePaymentRecord removes a payment record. Deleting an unknown
	// identifier is not an error.
	DeletePaymentRecord(ctx context.Context, id string) error
}
