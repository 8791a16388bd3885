// Package dashboard serves the user-facing surface: the current session view,
// live SSE streams, the connect, refresh, reset and trade actions and the
// wallet account switch.
package dashboard

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/tokensync/internal/domain"
)

const snapshotPollInterval = 3 * time.Second

type snapshotReader interface {
	SnapshotsAfter(index uint64) ([]domain.SnapshotRecord, error)
}

type viewFeed interface {
	Subscribe() chan domain.View
	Unsubscribe(ch chan domain.View)
}

type session interface {
	View() domain.View
	Connect(ctx context.Context) error
	Refresh(ctx context.Context) error
	Reset(ctx context.Context) error
	Trade(ctx context.Context, direction domain.Direction, amount decimal.Decimal) error
}

// accountSwitcher is the wallet side of the surface. Switching only notifies
// the wallet; the session follows through its account-changed event.
type accountSwitcher interface {
	Accounts() []common.Address
	Selected() (common.Address, bool)
	Select(i int) error
	Disconnect()
}

// Server exposes HTTP endpoints serving the HTML UI, SSE streams and actions.
type Server struct {
	Addr    string
	Session session
	Views   viewFeed
	Store   snapshotReader
	// Wallet enables the account endpoints when set.
	Wallet  accountSwitcher
	logger  *zap.Logger
}

// NewServer creates a new dashboard server instance. views and store may be nil.
func NewServer(addr string, s session, views viewFeed, store snapshotReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Addr: addr, Session: s, Views: views, Store: store, logger: logger}
}

// Handler returns the routes served by the dashboard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /", s.staticHandler())
	mux.HandleFunc("GET /session", s.handleSession)
	mux.HandleFunc("GET /session/stream", s.handleSessionStream)
	mux.HandleFunc("GET /snapshots/stream", s.handleSnapshotStream)
	mux.HandleFunc("POST /connect", s.action(func(ctx context.Context) error { return s.Session.Connect(ctx) }))
	mux.HandleFunc("POST /refresh", s.action(func(ctx context.Context) error { return s.Session.Refresh(ctx) }))
	mux.HandleFunc("POST /reset", s.action(func(ctx context.Context) error { return s.Session.Reset(ctx) }))
	mux.HandleFunc("POST /trade", s.handleTrade)
	mux.HandleFunc("GET /accounts", s.handleAccounts)
	mux.HandleFunc("POST /account", s.handleSelectAccount)
	mux.HandleFunc("POST /disconnect", s.handleDisconnect)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("dashboard listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via ACME.
// It also starts an HTTP server on port 80 to handle ACME HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("http (acme) server shutdown error", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("https server shutdown error", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http (acme) server error", zap.Error(err))
		}
	}()

	s.logger.Info("dashboard listening with TLS", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Session.View())
}

type tradeRequest struct {
	Direction string `json:"direction"`
	Amount    string `json:"amount"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Remediation string `json:"remediation,omitempty"`
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, errors.Wrap(domain.ErrInvalidAmount, "malformed trade request"))
		return
	}
	direction, ok := domain.ParseDirection(strings.ToLower(strings.TrimSpace(req.Direction)))
	if !ok {
		writeError(w, errors.Wrapf(domain.ErrInvalidAmount, "unknown direction %q", req.Direction))
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	s.action(func(ctx context.Context) error {
		return s.Session.Trade(ctx, direction, amount)
	})(w, r)
}

type accountsResponse struct {
	Accounts []common.Address `json:"accounts"`
	Selected *common.Address  `json:"selected,omitempty"`
}

type selectAccountRequest struct {
	Index *int `json:"index"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if s.Wallet == nil {
		http.Error(w, "wallet not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.accounts())
}

func (s *Server) handleSelectAccount(w http.ResponseWriter, r *http.Request) {
	if s.Wallet == nil {
		http.Error(w, "wallet not available", http.StatusServiceUnavailable)
		return
	}
	var req selectAccountRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil || req.Index == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request must be {\"index\": n}"})
		return
	}
	if err := s.Wallet.Select(*req.Index); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.logger.Info("wallet account selected", zap.Int("index", *req.Index))
	// the session reloads asynchronously once the change event arrives
	writeJSON(w, http.StatusAccepted, s.accounts())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.Wallet == nil {
		http.Error(w, "wallet not available", http.StatusServiceUnavailable)
		return
	}
	s.Wallet.Disconnect()
	s.action(func(ctx context.Context) error { return s.Session.Reset(ctx) })(w, r)
}

func (s *Server) accounts() accountsResponse {
	resp := accountsResponse{Accounts: s.Wallet.Accounts()}
	if selected, ok := s.Wallet.Selected(); ok {
		resp.Selected = &selected
	}
	return resp
}

// action runs fn and answers with the resulting view or a mapped error.
func (s *Server) action(fn func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			s.logger.Debug("dashboard action failed", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Session.View())
	}
}

func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	if s.Views == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "view stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	setStreamHeaders(w)

	views := s.Views.Subscribe()
	defer s.Views.Unsubscribe(views)

	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	// current state first, the broadcaster only carries changes
	if err := writeEvent(w, "session", 0, s.Session.View()); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case v, ok := <-views:
			if !ok {
				return
			}
			if err := writeEvent(w, "session", 0, v); err != nil {
				s.logger.Warn("session stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleSnapshotStream(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "snapshot store not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	setStreamHeaders(w)

	// send a comment heartbeat every 20s so proxies keep connection
	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(snapshotPollInterval)
	defer pollTicker.Stop()

	lastIndex := s.parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	isFirstLoad := lastIndex == 0
	sendSnapshots := func() error {
		records, err := s.Store.SnapshotsAfter(lastIndex)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			isFirstLoad = false
			return nil
		}

		// apply exponential thinning on first load for large datasets
		recordsToSend := records
		if isFirstLoad && len(records) > 100 {
			recordsToSend = thinRecords(records)
		}

		for _, record := range recordsToSend {
			if err := writeEvent(w, "snapshot", record.Index, record.Snapshot); err != nil {
				return err
			}
			flusher.Flush()
			lastIndex = record.Index
		}
		isFirstLoad = false
		return nil
	}

	if err := sendSnapshots(); err != nil {
		http.Error(w, "failed to load snapshots", http.StatusInternalServerError)
		s.logger.Error("snapshot stream initial load", zap.Error(err))
		return
	}

	// lets the client leave its loading state
	if lastIndex == 0 {
		fmt.Fprintf(w, "event: no_data\n")
		fmt.Fprintf(w, "data: {}\n\n")
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendSnapshots(); err != nil {
				s.logger.Warn("snapshot stream poll err", zap.Error(err))
			}
		}
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

// writeEvent writes one SSE event. A zero id is omitted.
func writeEvent(w http.ResponseWriter, event string, id uint64, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if id > 0 {
		fmt.Fprintf(w, "id: %d\n", id)
	}
	fmt.Fprintf(w, "event: %s\n", event)
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Remediation: domain.Remediation(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyPending), errors.Is(err, domain.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUserRejected):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotReady), errors.Is(err, domain.ErrNoAccount),
		errors.Is(err, domain.ErrNoProvider), errors.Is(err, domain.ErrWrongNetwork):
		return http.StatusPreconditionFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) staticHandler() http.Handler {
	fileServer := http.StripPrefix("/", http.FileServer(http.Dir("dashboard/static")))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assetPath := r.URL.Path
		if assetPath == "" || assetPath == "/" {
			assetPath = "/index.html"
		}

		if !shouldCompress(assetPath) || !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			fileServer.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Vary", "Accept-Encoding")

		gz := gzip.NewWriter(w)
		defer gz.Close()

		gzw := &gzipResponseWriter{ResponseWriter: w, writer: gz}
		fileServer.ServeHTTP(gzw, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	writer *gzip.Writer
}

func (w *gzipResponseWriter) WriteHeader(statusCode int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.writer.Write(b)
}

func shouldCompress(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return true
	}
	switch ext {
	case ".html", ".css", ".js", ".json", ".svg", ".txt":
		return true
	default:
		return false
	}
}

// parseLastEventID extracts an SSE event ID from either the Last-Event-ID header or a query parameter.
// The header is preferred; the query parameter allows manual reconnects to resume from a known index.
func (s *Server) parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.logger.Debug("invalid last event id", zap.String("id", idStr), zap.Error(err))
		return 0
	}
	return id
}

// thinRecords keeps the last 100 records and exponentially thins the rest.
func thinRecords(records []domain.SnapshotRecord) []domain.SnapshotRecord {
	if len(records) <= 100 {
		return records
	}

	keepLast := 100
	older := records[:len(records)-keepLast]
	var thinned []domain.SnapshotRecord

	skip := 1 // start by skipping 1 (send every 2nd)
	for i := len(older) - 1; i >= 0; i-- {
		thinned = append([]domain.SnapshotRecord{older[i]}, thinned...)
		i -= skip
		// double skip every 12 records (exponential)
		if (len(older)-1-i)%12 == 0 {
			skip *= 2
		}
	}

	return append(thinned, records[len(records)-keepLast:]...)
}
