// Package web exposes the engine over HTTP: readiness status, purchases,
// session control and two server-sent event streams.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/datex/internal/domain"
	"github.com/vadiminshakov/datex/internal/services/txbuilder"
	"github.com/vadiminshakov/datex/internal/session"
)

const (
	deliveryPollInterval = 2 * time.Second
	heartbeatInterval    = 30 * time.Second
	shutdownTimeout      = 5 * time.Second
	maxBodyBytes         = 1 << 16
)

type readinessReader interface {
	Snapshot() domain.Readiness
}

type purchaser interface {
	Buy(ctx context.Context, item domain.Item) (domain.PurchaseResult, error)
	LastTransactionHash() string
}

type sessions interface {
	Connect(address string) (domain.Session, error)
	Disconnect()
	Active() (domain.Session, bool)
}

type deliveryReader interface {
	RecordsAfter(index uint64) ([]domain.DeliveryRecordEntry, error)
}

type statusFeed interface {
	Subscribe() chan domain.StatusEvent
	Unsubscribe(ch chan domain.StatusEvent)
}

type streamInfo interface {
	LastTransactionHash() string
}

// Deps are the engine components served by the API.
type Deps struct {
	Readiness  readinessReader
	Purchases  purchaser
	Sessions   sessions
	Deliveries deliveryReader
	Events     statusFeed
	Stream     streamInfo
}

// Server is the HTTP API of the engine.
type Server struct {
	l    *zap.Logger
	addr string
	deps Deps

	pollInterval time.Duration
}

// NewServer creates a server listening on addr.
func NewServer(l *zap.Logger, addr string, deps Deps) *Server {
	return &Server{
		l:            l,
		addr:         addr,
		deps:         deps,
		pollInterval: deliveryPollInterval,
	}
}

// Handler returns the routed API with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /deliveries/stream", s.handleDeliveryStream)
	mux.HandleFunc("POST /purchases", s.handlePurchase)
	mux.HandleFunc("PUT /session", s.handleConnect)
	mux.HandleFunc("DELETE /session", s.handleDisconnect)
	mux.Handle("GET /metrics", promhttp.Handler())

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go s.shutdownOnDone(ctx, server)

	s.l.Info("starting http api", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http api stopped")
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with ACME certificates for domains.
// A plain HTTP server on :80 answers the HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
	}
	httpsSrv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go s.shutdownOnDone(ctx, httpSrv)
	go s.shutdownOnDone(ctx, httpsSrv)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("acme challenge server stopped", zap.Error(err))
		}
	}()

	s.l.Info("starting https api", zap.String("addr", s.addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "https api stopped")
	}
	return nil
}

func (s *Server) shutdownOnDone(ctx context.Context, server *http.Server) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.l.Warn("http server shutdown", zap.String("addr", server.Addr), zap.Error(err))
	}
}

type statusResponse struct {
	State        domain.ReadinessState `json:"state"`
	Status       string                `json:"status"`
	Error        string                `json:"error,omitempty"`
	ErrorKind    string                `json:"error_kind,omitempty"`
	Address      string                `json:"address,omitempty"`
	SessionID    string                `json:"session_id,omitempty"`
	Asset        string                `json:"asset,omitempty"`
	Sequence     int64                 `json:"sequence,omitempty"`
	Balances     []balanceResponse     `json:"balances,omitempty"`
	LastTxHash   string                `json:"last_tx_hash,omitempty"`
	LastPurchase string                `json:"last_purchase_hash,omitempty"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

type balanceResponse struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Readiness.Snapshot()

	resp := statusResponse{
		State:     snap.State,
		Status:    snap.Status,
		Address:   snap.Address,
		UpdatedAt: snap.UpdatedAt,
	}
	if snap.Err != nil {
		resp.Error = domain.StatusMessage(snap.Err)
		resp.ErrorKind = string(domain.KindOf(snap.Err))
	}
	if snap.Address != "" {
		resp.Asset = snap.Asset.String()
	}
	if sess, ok := s.deps.Sessions.Active(); ok {
		resp.SessionID = sess.ID
	}
	if snap.Account != nil {
		resp.Sequence = snap.Account.Sequence
		for _, b := range snap.Account.Balances {
			resp.Balances = append(resp.Balances, balanceResponse{Asset: b.Asset.String(), Amount: b.Amount.String()})
		}
	}
	if s.deps.Stream != nil {
		resp.LastTxHash = s.deps.Stream.LastTransactionHash()
	}
	resp.LastPurchase = s.deps.Purchases.LastTransactionHash()

	writeJSON(w, http.StatusOK, resp)
}

type purchaseRequest struct {
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Seller string          `json:"seller"`
	Price  decimal.Decimal `json:"price"`
}

type purchaseResponse struct {
	OrderID     string    `json:"order_id"`
	Hash        string    `json:"hash"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	res, err := s.deps.Purchases.Buy(r.Context(), domain.Item{
		ID:     req.ID,
		Title:  req.Title,
		Seller: req.Seller,
		Price:  req.Price,
	})
	if err != nil {
		s.l.Debug("purchase request failed", zap.String("order_id", req.ID), zap.Error(err))
		writeError(w, statusFor(err), domain.StatusMessage(err), string(domain.KindOf(err)))
		return
	}

	writeJSON(w, http.StatusCreated, purchaseResponse{
		OrderID:     res.OrderID,
		Hash:        res.Hash,
		SubmittedAt: res.SubmittedAt,
	})
}

type sessionRequest struct {
	Address string `json:"address"`
}

type sessionResponse struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	sess, err := s.deps.Sessions.Connect(req.Address)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrInvalidAddress) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error(), "")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{ID: sess.ID, Address: sess.Address, Asset: sess.Asset.String()})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.deps.Sessions.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	ch := s.deps.Events.Subscribe()
	defer s.deps.Events.Unsubscribe(ch)

	// the current state first, so late subscribers do not start blank
	snap := s.deps.Readiness.Snapshot()
	if err := writeEvent(w, "status", domain.StatusEvent{
		Timestamp: snap.UpdatedAt,
		Source:    domain.SourceReadiness,
		State:     snap.State.String(),
		Message:   snap.Status,
		Address:   snap.Address,
	}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, "status", ev); err != nil {
				s.l.Debug("status stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleDeliveryStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Deliveries == nil {
		http.Error(w, "delivery journal not available", http.StatusServiceUnavailable)
		return
	}

	var lastIndex uint64
	if after := r.URL.Query().Get("after"); after != "" {
		idx, err := strconv.ParseUint(after, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'after' index", "")
			return
		}
		lastIndex = idx
	}

	// load before switching to a stream so a broken journal is a plain 500
	entries, err := s.deps.Deliveries.RecordsAfter(lastIndex)
	if err != nil {
		s.l.Error("delivery stream initial load", zap.Error(err))
		http.Error(w, "failed to load deliveries", http.StatusInternalServerError)
		return
	}

	flusher, ok := startStream(w)
	if !ok {
		return
	}

	send := func(entries []domain.DeliveryRecordEntry) error {
		for _, entry := range entries {
			fmt.Fprintf(w, "id: %d\n", entry.Index)
			if err := writeEvent(w, "delivery", entry.Record); err != nil {
				return err
			}
			lastIndex = entry.Index
		}
		flusher.Flush()
		return nil
	}
	if err := send(entries); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-poll.C:
			entries, err := s.deps.Deliveries.RecordsAfter(lastIndex)
			if err != nil {
				s.l.Warn("delivery stream poll", zap.Error(err))
				continue
			}
			if err := send(entries); err != nil {
				s.l.Debug("delivery stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return flusher, true
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return errors.Wrap(err, "failed to write event")
	}
	return nil
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, txbuilder.ErrInvalidOrder) {
		return http.StatusBadRequest
	}

	switch domain.KindOf(err) {
	case domain.KindNotReady, domain.KindSelfTrade, domain.KindNoAccount, domain.KindStaleSequence:
		return http.StatusConflict
	case domain.KindInsufficientBalance:
		return http.StatusPaymentRequired
	case domain.KindSignerRejected:
		return http.StatusForbidden
	case domain.KindNetwork, domain.KindSignerUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRejected, domain.KindDecode:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}
