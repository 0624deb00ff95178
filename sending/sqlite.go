package sending

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ellemouton/lnduma/protocol"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS lookup_records (
		id TEXT PRIMARY KEY,
		response TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		counterparty_domain TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_records (
		id TEXT PRIMARY KEY,
		receiver_address TEXT NOT NULL,
		encoded_invoice TEXT NOT NULL,
		settlement_callback TEXT,
		invoice TEXT,
		currencies TEXT
	)`,
}

// SQLiteStore is a Store persisted in a SQLite database, so pending sends
// survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the store at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveLookupRecord(ctx context.Context,
	response *protocol.LnurlpResponse, receiverID,
	counterpartyDomain string) (string, error) {

	encoded, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("encode lnurlp response: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lookup_records (
		   id, response, receiver_id, counterparty_domain
		 ) VALUES (?, ?, ?, ?)`,
		id, string(encoded), receiverID, counterpartyDomain,
	)
	if err != nil {
		return "", fmt.Errorf("insert lookup record: %w", err)
	}

	return id, nil
}

func (s *SQLiteStore) GetLookupRecord(ctx context.Context,
	id string) (*LookupRecord, error) {

	var (
		encoded string
		record  LookupRecord
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT response, receiver_id, counterparty_domain
		 FROM lookup_records WHERE id = ?`, id,
	).Scan(&encoded, &record.ReceiverID, &record.CounterpartyDomain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lookup record: %w", err)
	}

	record.Response, err = protocol.ParseLnurlpResponse([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode lnurlp response: %w", err)
	}

	return &record, nil
}

func (s *SQLiteStore) SavePaymentRecord(ctx context.Context,
	record *PaymentRecord) (string, error) {

	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}

	invoice, err := encodeNullable(record.Invoice != nil, record.Invoice)
	if err != nil {
		return "", fmt.Errorf("encode invoice details: %w", err)
	}
	currencies, err := encodeNullable(
		record.Currencies != nil, record.Currencies,
	)
	if err != nil {
		return "", fmt.Errorf("encode currencies: %w", err)
	}

	var callback sql.NullString
	if record.SettlementCallback != nil {
		callback = sql.NullString{
			String: *record.SettlementCallback, Valid: true,
		}
	}

	// The upsert keeps the rowid, and with it the insertion order.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO payment_records (
		   id, receiver_address, encoded_invoice, settlement_callback,
		   invoice, currencies
		 ) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   receiver_address = excluded.receiver_address,
		   encoded_invoice = excluded.encoded_invoice,
		   settlement_callback = excluded.settlement_callback,
		   invoice = excluded.invoice,
		   currencies = excluded.currencies`,
		id, record.ReceiverAddress, record.EncodedInvoice, callback,
		invoice, currencies,
	)
	if err != nil {
		return "", fmt.Errorf("upsert payment record: %w", err)
	}

	return id, nil
}

func (s *SQLiteStore) GetPaymentRecord(ctx context.Context,
	id string) (*PaymentRecord, error) {

	row := s.db.QueryRowContext(ctx,
		`SELECT id, receiver_address, encoded_invoice,
		   settlement_callback, invoice, currencies
		 FROM payment_records WHERE id = ?`, id,
	)

	record, err := scanPaymentRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment record: %w", err)
	}

	return record, nil
}

func (s *SQLiteStore) ListPendingPaymentRecords(
	ctx context.Context) ([]*PaymentRecord, error) {

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, receiver_address, encoded_invoice,
		   settlement_callback, invoice, currencies
		 FROM payment_records ORDER BY rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("list payment records: %w", err)
	}
	defer rows.Close()

	records := []*PaymentRecord{}
	for rows.Next() {
		record, err := scanPaymentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func (s *SQLiteStore) DeletePaymentRecord(ctx context.Context,
	id string) error {

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM payment_records WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("delete payment record: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaymentRecord(row rowScanner) (*PaymentRecord, error) {
	var record PaymentRecord
	var callback, invoice, currencies sql.NullString
	err := row.Scan(
		&record.ID, &record.ReceiverAddress, &record.EncodedInvoice,
		&callback, &invoice, &currencies,
	)
	if err != nil {
		return nil, err
	}

	if callback.Valid {
		record.SettlementCallback = &callback.String
	}
	if invoice.Valid {
		record.Invoice = &InvoiceDetails{}
		err := json.Unmarshal([]byte(invoice.String), record.Invoice)
		if err != nil {
			return nil, err
		}
	}
	if currencies.Valid {
		err := json.Unmarshal([]byte(currencies.String), &record.Currencies)
		if err != nil {
			return nil, err
		}
	}

	return &record, nil
}

func encodeNullable(present bool, v any) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}

	encoded, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}

	return sql.NullString{String: string(encoded), Valid: true}, nil
}
