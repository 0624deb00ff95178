package lnduma

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ellemouton/lnduma/protocol"
	"github.com/gin-gonic/gin"
)

const (
	// DefaultNonceWindow is how far back signed requests are accepted.
	DefaultNonceWindow = 6 * time.Hour

	noncePurgeInterval = 10 * time.Minute

	shutdownTimeout = 5 * time.Second
)

// Config holds everything the server needs.
type Config struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string

	// PublicHost is the host:port lightning addresses are printed with
	// in the startup banner.
	PublicHost string

	Users  UserDirectory
	Issuer InvoiceIssuer
	Keys   *UmaKeys

	// Counterparties resolves counterparty keys. If nil, keys are
	// fetched over HTTP and cached in memory.
	Counterparties CounterpartyDirectory

	ChainParams *chaincfg.Params

	// NonceWindow defaults to DefaultNonceWindow.
	NonceWindow time.Duration
}

// Server serves the receiving side of UMA and LNURL-pay.
type Server struct {
	cfg *Config

	receiving *ReceivingFlowHandler
	nonces    *protocol.InMemoryNonceCache
	pubKeys   *protocol.PubKeyResponse
	router    *gin.Engine

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewServer creates a server and registers its routes.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Users == nil || cfg.Issuer == nil || cfg.Keys == nil {
		return nil, errors.New("users, issuer and keys are required")
	}
	if cfg.NonceWindow == 0 {
		cfg.NonceWindow = DefaultNonceWindow
	}
	if cfg.ChainParams == nil {
		cfg.ChainParams = &chaincfg.MainNetParams
	}

	signingKey, err := cfg.Keys.SigningPrivKey()
	if err != nil {
		return nil, err
	}

	pubKeys, err := protocol.NewPubKeyResponse(
		cfg.Keys.SigningCertChain, cfg.Keys.EncryptionCertChain,
		cfg.Keys.SigningPubKeyHex, cfg.Keys.EncryptionPubKeyHex,
	)
	if err != nil {
		return nil, err
	}

	counterparties := cfg.Counterparties
	if counterparties == nil {
		counterparties = protocol.NewPubKeyFetcher(
			protocol.NewInMemoryPublicKeyCache(), nil,
		)
	}

	s := &Server{
		cfg:     cfg,
		nonces:  protocol.NewInMemoryNonceCache(time.Now().Add(-cfg.NonceWindow)),
		pubKeys: pubKeys,
		quit:    make(chan struct{}),
	}
	s.receiving = NewReceivingFlowHandler(&ReceivingConfig{
		Users:          cfg.Users,
		Issuer:         cfg.Issuer,
		Counterparties: counterparties,
		Nonces:         s.nonces,
		SigningKey:     signingKey,
		ChainParams:    cfg.ChainParams,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.CustomRecovery(s.recoverPanic))

	router.GET("/.well-known/lnurlp/:handle", s.lnurlp)
	router.GET("/.well-known/lnurlpubkey", s.lnurlPubKey)
	router.GET("/.well-known/uma-configuration", s.umaConfiguration)
	router.GET(plainPayreqPath+":id", s.lnurlPayreq)
	router.POST(umaPayreqPath+":id", s.umaPayreq)
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"status": "ERROR",
			"reason": "Not found.",
		})
	})
	s.router = router

	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.printHello(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.purgeNonces()
	defer func() {
		close(s.quit)
		s.wg.Wait()
	}()

	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	log.Infof("Listening on %s", s.cfg.ListenAddr)

	select {
	case err := <-errChan:
		return err

	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// purgeNonces forgets nonces that fell out of the look-back window.
func (s *Server) purgeNonces() {
	defer s.wg.Done()

	ticker := time.NewTicker(noncePurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.nonces.PurgeNoncesOlderThan(
				time.Now().Add(-s.cfg.NonceWindow),
			)

		case <-s.quit:
			return
		}
	}
}

func (s *Server) printHello(ctx context.Context) error {
	if identifier, ok := s.cfg.Issuer.(NodeIdentifier); ok {
		nodePubKey, err := identifier.NodePubKey(ctx)
		if err != nil {
			return err
		}
		fmt.Println("Connected to node:", nodePubKey)
	}

	lister, ok := s.cfg.Users.(interface{ Receivers() []*Receiver })
	if !ok {
		return nil
	}

	scheme := "https"
	if protocol.IsDomainLocalhost(s.cfg.PublicHost) {
		scheme = "http"
	}

	var b strings.Builder
	b.WriteString("=======================================\n")
	b.WriteString("Welcome to LNDUMA!\n")
	for _, r := range lister.Receivers() {
		payCode := fmt.Sprintf("%s://%s/.well-known/lnurlp/%s",
			scheme, s.cfg.PublicHost, r.Handle)

		payLNURL, err := EncodeURL(payCode)
		if err != nil {
			return err
		}

		fmt.Fprintf(&b, "$%s@%s (id %s)\n", r.Handle,
			s.cfg.PublicHost, r.ID)
		fmt.Fprintf(&b, "- lightning:%s\n", payLNURL)
	}
	b.WriteString("=======================================\n")

	fmt.Print(b.String())

	return nil
}

func (s *Server) lnurlp(c *gin.Context) {
	resp, err := s.receiving.HandleCapabilityQuery(
		c.Request.Context(), c.Param("handle"), requestURL(c),
	)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) lnurlPayreq(c *gin.Context) {
	resp, err := s.receiving.HandlePaymentRequest(
		c.Request.Context(), c.Param("id"), requestURL(c), nil,
	)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) umaPayreq(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		renderError(c, protocol.NewError(
			protocol.CodeParsePayreqRequest, "Unable to read body.",
		))
		return
	}

	resp, err := s.receiving.HandlePaymentRequest(
		c.Request.Context(), c.Param("id"), requestURL(c), body,
	)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) lnurlPubKey(c *gin.Context) {
	c.JSON(http.StatusOK, s.pubKeys)
}

func (s *Server) umaConfiguration(c *gin.Context) {
	u := requestURL(c)
	origin := u.Scheme + "://" + u.Host

	c.JSON(http.StatusOK, &UmaConfiguration{
		UmaMajorVersions:   []int{0, 1},
		UmaRequestEndpoint: origin + "/api/uma/request_invoice_payment",
	})
}

func (s *Server) recoverPanic(c *gin.Context, recovered any) {
	log.Errorf("Panic serving %s: %v", c.Request.URL.Path, recovered)

	renderError(c, protocol.NewError(
		protocol.CodeInternal, "Something broke!",
	))
}

// renderError writes err as a protocol error body.
func renderError(c *gin.Context, err error) {
	pErr, ok := protocol.AsError(err)
	if !ok {
		log.Errorf("Unexpected error serving %s: %v",
			c.Request.URL.Path, err)
		pErr = protocol.NewError(protocol.CodeInternal, "Something broke!")
	}

	c.AbortWithStatusJSON(pErr.HTTPStatus(), pErr)
}

// requestURL reconstructs the full URL a request was made to.
func requestURL(c *gin.Context) *url.URL {
	u := *c.Request.URL

	u.Scheme = "http"
	if c.Request.TLS != nil ||
		strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {

		u.Scheme = "https"
	}
	u.Host = c.Request.Host

	return &u
}
