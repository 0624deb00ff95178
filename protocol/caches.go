package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// NonceCache guards against replayed signatures. Implementations must be
// safe for concurrent use.
type NonceCache interface {
	// CheckAndSaveNonce records nonce, failing if it was seen before or
	// if timestamp is older than the look-back window.
	CheckAndSaveNonce(nonce string, timestamp time.Time) error

	// PurgeNoncesOlderThan forgets nonces older than timestamp and moves
	// the look-back window forward to it.
	PurgeNoncesOlderThan(timestamp time.Time)
}

var (
	// ErrNonceReused is returned for a nonce that was already seen.
	ErrNonceReused = errors.New("nonce already used")

	// ErrTimestampTooOld is returned for a signature older than the
	// look-back window.
	ErrTimestampTooOld = errors.New("timestamp too old")
)

// InMemoryNonceCache is a NonceCache that does not survive restarts.
type InMemoryNonceCache struct {
	mu          sync.Mutex
	nonces      map[string]time.Time
	oldestValid time.Time
}

// NewInMemoryNonceCache creates a cache rejecting signatures older than
// oldestValid.
func NewInMemoryNonceCache(oldestValid time.Time) *InMemoryNonceCache {
	return &InMemoryNonceCache{
		nonces:      make(map[string]time.Time),
		oldestValid: oldestValid,
	}
}

func (c *InMemoryNonceCache) CheckAndSaveNonce(nonce string,
	timestamp time.Time) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	if timestamp.Before(c.oldestValid) {
		return ErrTimestampTooOld
	}
	if _, ok := c.nonces[nonce]; ok {
		return ErrNonceReused
	}
	c.nonces[nonce] = timestamp

	return nil
}

func (c *InMemoryNonceCache) PurgeNoncesOlderThan(timestamp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for nonce, ts := range c.nonces {
		if ts.Before(timestamp) {
			delete(c.nonces, nonce)
		}
	}
	c.oldestValid = timestamp
}

// PublicKeyCache caches counterparty public keys by domain.
type PublicKeyCache interface {
	// FetchPublicKeyForVasp returns the cached entry, or nil if it is
	// absent or expired.
	FetchPublicKeyForVasp(domain string) *PubKeyResponse

	AddPublicKeyForVasp(domain string, pubKey *PubKeyResponse)

	RemovePublicKeyForVasp(domain string)
}

// InMemoryPublicKeyCache is a mutex-guarded PublicKeyCache.
type InMemoryPublicKeyCache struct {
	mu    sync.RWMutex
	cache map[string]*PubKeyResponse
}

func NewInMemoryPublicKeyCache() *InMemoryPublicKeyCache {
	return &InMemoryPublicKeyCache{
		cache: make(map[string]*PubKeyResponse),
	}
}

func (c *InMemoryPublicKeyCache) FetchPublicKeyForVasp(
	domain string) *PubKeyResponse {

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry := c.cache[domain]
	if entry == nil || entry.IsExpired(time.Now()) {
		return nil
	}

	return entry
}

func (c *InMemoryPublicKeyCache) AddPublicKeyForVasp(domain string,
	pubKey *PubKeyResponse) {

	c.mu.Lock()
	c.cache[domain] = pubKey
	c.mu.Unlock()
}

func (c *InMemoryPublicKeyCache) RemovePublicKeyForVasp(domain string) {
	c.mu.Lock()
	delete(c.cache, domain)
	c.mu.Unlock()
}

// PubKeyFetcher resolves a VASP domain to its public keys, consulting the
// cache before going to the network.
type PubKeyFetcher struct {
	cache  PublicKeyCache
	client *http.Client
}

// NewPubKeyFetcher creates a fetcher. A nil client uses
// http.DefaultClient.
func NewPubKeyFetcher(cache PublicKeyCache,
	client *http.Client) *PubKeyFetcher {

	if client == nil {
		client = http.DefaultClient
	}

	return &PubKeyFetcher{
		cache:  cache,
		client: client,
	}
}

// FetchPublicKeys returns the public keys of the VASP at domain. Localhost
// domains are fetched over plain http.
func (f *PubKeyFetcher) FetchPublicKeys(ctx context.Context,
	domain string) (*PubKeyResponse, error) {

	if cached := f.cache.FetchPublicKeyForVasp(domain); cached != nil {
		return cached, nil
	}

	scheme := "https://"
	if IsDomainLocalhost(domain) {
		scheme = "http://"
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, scheme+domain+"/.well-known/lnurlpubkey",
		nil,
	)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET lnurlpubkey: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s",
			resp.StatusCode, domain)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read lnurlpubkey body: %w", err)
	}

	pubKeys, err := ParsePubKeyResponse(body)
	if err != nil {
		return nil, fmt.Errorf("parse lnurlpubkey body: %w", err)
	}

	f.cache.AddPublicKeyForVasp(domain, pubKeys)

	return pubKeys, nil
}
