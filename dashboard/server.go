// Package dashboard exposes the HTTP surface of the trading operations core:
// portfolio history with stats, a liquidation trigger and an SSE activity
// stream over the journal.
package dashboard

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/dkruglov/flatten/internal/domain"
	"github.com/dkruglov/flatten/internal/journal"
	"github.com/dkruglov/flatten/internal/services/liquidator"
	"github.com/dkruglov/flatten/internal/services/portfolio"
)

const activityPollInterval = 3 * time.Second

type activityReader interface {
	EntriesAfter(index uint64) ([]journal.Record, error)
}

type historyProvider interface {
	RangeStartTime(r domain.TimeRange) int64
	GetHistory(start, end int64) []domain.Snapshot
	ShouldBackfill(r domain.TimeRange) bool
	Backfill(ctx context.Context, holdings domain.Holdings, start, end int64, interval portfolio.Interval) int
	Holdings() domain.Holdings
	LatestSnapshot() *domain.Snapshot
}

type liquidatorService interface {
	Run(ctx context.Context) (liquidator.Report, error)
}

type ordersReader interface {
	OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error)
	AllOrders(ctx context.Context, symbol string) ([]domain.Order, error)
}

// Server serves the HTTP API.
type Server struct {
	Addr       string
	History    historyProvider
	Liquidator liquidatorService
	Orders     ordersReader
	Activity   activityReader
	Log        *zap.Logger

	now         func() time.Time
	liquidating atomic.Bool
}

// NewServer creates a new API server instance.
func NewServer(addr string, history historyProvider, liq liquidatorService, orders ordersReader, activity activityReader, log *zap.Logger) *Server {
	return &Server{
		Addr:       addr,
		History:    history,
		Liquidator: liq,
		Orders:     orders,
		Activity:   activity,
		Log:        log,
		now:        time.Now,
	}
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/orders", s.handleOrders)
	mux.HandleFunc("/liquidate", s.handleLiquidate)
	mux.HandleFunc("/activity/stream", s.handleActivityStream)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.mux(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic ACME certificates,
// plus an HTTP server on port 80 for the HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
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
		Handler:           s.mux(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Warn("acme server shutdown error", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Warn("https server shutdown error", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Warn("acme server error", zap.Error(err))
		}
	}()

	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type historyResponse struct {
	Range      domain.TimeRange  `json:"range"`
	Snapshots  []domain.Snapshot `json:"snapshots"`
	Stats      portfolio.Stats   `json:"stats"`
	Backfilled int               `json:"backfilled,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	timeRange := domain.TimeRange(r.URL.Query().Get("range"))
	if timeRange == "" {
		timeRange = domain.RangeWeek
	}

	start := s.History.RangeStartTime(timeRange)
	end := s.now().Unix()

	resp := historyResponse{Range: timeRange}
	if s.History.ShouldBackfill(timeRange) {
		resp.Backfilled = s.History.Backfill(r.Context(), s.History.Holdings(), start, end,
			portfolio.IntervalForRange(timeRange))
	}

	resp.Snapshots = s.History.GetHistory(start, end)
	resp.Stats = portfolio.CalculateStats(resp.Snapshots)
	s.Log.Debug("history served",
		zap.String("range", string(timeRange)),
		zap.Int("points", len(resp.Snapshots)),
		zap.String("stats", resp.Stats.Describe()))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.Log.Warn("failed to encode history response", zap.Error(err))
	}
}

type statusResponse struct {
	Latest   *domain.Snapshot `json:"latest_snapshot"`
	Holdings domain.Holdings  `json:"holdings"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		Latest:   s.History.LatestSnapshot(),
		Holdings: s.History.Holdings(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.Log.Warn("failed to encode status response", zap.Error(err))
	}
}

type ordersResponse struct {
	Open    []domain.Order `json:"open"`
	History []domain.Order `json:"history,omitempty"`
}

// handleOrders lists open orders, plus the order history when a symbol is
// given (the venue serves history per symbol only).
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	symbol := r.URL.Query().Get("symbol")

	open, err := s.Orders.OpenOrders(r.Context(), symbol)
	if err != nil {
		s.Log.Warn("failed to fetch open orders", zap.Error(err))
		http.Error(w, "failed to fetch open orders", http.StatusBadGateway)
		return
	}

	resp := ordersResponse{Open: open}
	if symbol != "" {
		// degrades to empty on venue errors, never fails the page
		resp.History, _ = s.Orders.AllOrders(r.Context(), symbol)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.Log.Warn("failed to encode orders response", zap.Error(err))
	}
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.liquidating.CompareAndSwap(false, true) {
		http.Error(w, "liquidation already in progress", http.StatusConflict)
		return
	}
	defer s.liquidating.Store(false)

	report, err := s.Liquidator.Run(r.Context())
	if err != nil {
		s.Log.Error("liquidation run failed", zap.Error(err))
		http.Error(w, "liquidation failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.Log.Warn("failed to encode liquidation report", zap.Error(err))
	}
}

func (s *Server) handleActivityStream(w http.ResponseWriter, r *http.Request) {
	if s.Activity == nil {
		http.Error(w, "activity journal not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	poll := time.NewTicker(activityPollInterval)
	defer poll.Stop()

	lastIndex := parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))

	send := func() error {
		records, err := s.Activity.EntriesAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record.Entry)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: activity\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	if err := send(); err != nil {
		http.Error(w, "failed to load activity", http.StatusInternalServerError)
		s.Log.Warn("activity stream initial load failed", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-poll.C:
			if err := send(); err != nil {
				s.Log.Warn("activity stream poll failed", zap.Error(err))
			}
		}
	}
}

func parseLastEventID(header, query string) uint64 {
	for _, candidate := range []string{header, query} {
		if candidate == "" {
			continue
		}
		if id, err := strconv.ParseUint(candidate, 10, 64); err == nil {
			return id
		}
	}
	return 0
}
