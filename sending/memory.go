package sending

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ellemouton/lnduma/protocol"
	"github.com/google/uuid"
)

// MemoryStore is a Store that lives in process memory. It does not survive
// restarts and is not shared between server instances.
type MemoryStore struct {
	mu sync.Mutex

	lookups  map[string]*LookupRecord
	payments map[string]*PaymentRecord

	// order holds payment record ids in insertion order.
	order []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lookups:  make(map[string]*LookupRecord),
		payments: make(map[string]*PaymentRecord),
	}
}

func (m *MemoryStore) SaveLookupRecord(_ context.Context,
	response *protocol.LnurlpResponse, receiverID,
	counterpartyDomain string) (string, error) {

	stored, err := cloneLnurlpResponse(response)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()

	m.mu.Lock()
	m.lookups[id] = &LookupRecord{
		Response:           stored,
		ReceiverID:         receiverID,
		CounterpartyDomain: counterpartyDomain,
	}
	m.mu.Unlock()

	return id, nil
}

func (m *MemoryStore) GetLookupRecord(_ context.Context,
	id string) (*LookupRecord, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.lookups[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *record

	var err error
	cp.Response, err = cloneLnurlpResponse(record.Response)
	if err != nil {
		return nil, err
	}

	return &cp, nil
}

func (m *MemoryStore) SavePaymentRecord(_ context.Context,
	record *PaymentRecord) (string, error) {

	cp := *record
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// An overwrite keeps the original position.
	if _, ok := m.payments[cp.ID]; !ok {
		m.order = append(m.order, cp.ID)
	}
	m.payments[cp.ID] = &cp

	return cp.ID, nil
}

func (m *MemoryStore) GetPaymentRecord(_ context.Context,
	id string) (*PaymentRecord, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.payments[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *record

	return &cp, nil
}

func (m *MemoryStore) ListPendingPaymentRecords(
	_ context.Context) ([]*PaymentRecord, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]*PaymentRecord, 0, len(m.order))
	for _, id := range m.order {
		cp := *m.payments[id]
		records = append(records, &cp)
	}

	return records, nil
}

func (m *MemoryStore) DeletePaymentRecord(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.payments[id]; !ok {
		return nil
	}
	delete(m.payments, id)

	for i, orderedID := range m.order {
		if orderedID == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	return nil
}

// cloneLnurlpResponse deep copies resp so that stored lookups never share
// maps or slices with callers.
func cloneLnurlpResponse(
	resp *protocol.LnurlpResponse) (*protocol.LnurlpResponse, error) {

	encoded, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}

	return protocol.ParseLnurlpResponse(encoded)
}
