// Package http exposes the ingestion and dashboard API. Handlers stay thin:
// decode, delegate to the service or aggregator, encode.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"subtrack/internal/cache"
	"subtrack/internal/core"
	"subtrack/internal/dashboard"
	"subtrack/internal/detect"
	"subtrack/internal/email"
	"subtrack/internal/middleware/trace"
	"subtrack/internal/services"
)

const summaryCacheTTL = 30 * time.Second

// Options tunes the server without threading the whole app config through.
type Options struct {
	Addr               string
	DefaultHorizonDays int
	RateLimitPerSecond float64
	RateLimitBurst     int
}

type Server struct {
	httpServer   *http.Server
	service      *services.SubscriptionService
	aggregator   *dashboard.Aggregator
	summaryCache *cache.LRUCache[dashboard.Summary]
	limiter      *rateLimiter
	horizonDays  int
}

func NewServer(opts Options, svc *services.SubscriptionService, agg *dashboard.Aggregator) *Server {
	if opts.DefaultHorizonDays <= 0 {
		opts.DefaultHorizonDays = 14
	}
	s := &Server{
		service:      svc,
		aggregator:   agg,
		summaryCache: cache.NewLRUCache[dashboard.Summary](32, summaryCacheTTL),
		limiter:      newRateLimiter(opts.RateLimitPerSecond, opts.RateLimitBurst),
		horizonDays:  opts.DefaultHorizonDays,
	}
	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transactions", s.handleIngestTransaction)
	mux.HandleFunc("POST /emails", s.handleIngestEmail)
	mux.HandleFunc("GET /subscriptions", s.handleListSubscriptions)
	mux.HandleFunc("POST /subscriptions/{id}/decision", s.handleDecide)
	mux.HandleFunc("GET /dashboard", s.handleDashboard)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	return trace.Middleware(s.rateLimit(mux))
}

// Handler exposes the fully wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(trace.ClientIP(r)) {
			slog.WarnContext(r.Context(), "Rate limit exceeded", "client_ip", trace.ClientIP(r))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type (
	transactionRequest struct {
		ID          string    `json:"id"`
		Description string    `json:"description"`
		AmountCents int64     `json:"amount_cents"`
		Currency    string    `json:"currency"`
		PostedAt    core.Date `json:"posted_at"`
		AccountRef  string    `json:"account_ref,omitempty"`
	}

	transactionResponse struct {
		MerchantKey  string                `json:"merchant_key"`
		Detection    string                `json:"detection"`
		Duplicate    bool                  `json:"duplicate"`
		Subscription *subscriptionResponse `json:"subscription,omitempty"`
	}

	emailRequest struct {
		ID         string    `json:"id"`
		Subject    string    `json:"subject"`
		Body       string    `json:"body"`
		ReceivedAt core.Date `json:"received_at"`
	}

	emailResponse struct {
		Applied      bool                  `json:"applied"`
		SignalKind   string                `json:"signal_kind"`
		Note         string                `json:"note,omitempty"`
		Subscription *subscriptionResponse `json:"subscription,omitempty"`
	}

	decisionRequest struct {
		Decision string `json:"decision"`
	}

	subscriptionResponse struct {
		ID           string               `json:"id"`
		MerchantKey  string               `json:"merchant_key"`
		Name         string               `json:"name"`
		Amount       core.Money           `json:"amount"`
		Currency     string               `json:"currency"`
		Period       core.Period          `json:"period"`
		Status       core.Status          `json:"status"`
		FirstSeen    core.Date            `json:"first_seen"`
		NextRenewal  core.Date            `json:"next_renewal"`
		PriceHistory []pricePointResponse `json:"price_history"`
		SavedAmount  core.Money           `json:"saved_amount"`
		CanceledAt   core.Date            `json:"canceled_at"`
		Reopened     bool                 `json:"reopened"`
		Version      int64                `json:"version"`
	}

	pricePointResponse struct {
		Date        core.Date  `json:"date"`
		Amount      core.Money `json:"amount"`
		Provisional bool       `json:"provisional,omitempty"`
	}
)

func toSubscriptionResponse(sub *core.Subscription) *subscriptionResponse {
	if sub == nil {
		return nil
	}
	resp := &subscriptionResponse{
		ID:          sub.ID,
		MerchantKey: string(sub.MerchantKey),
		Name:        sub.Name,
		Amount:      sub.Amount,
		Currency:    sub.Currency,
		Period:      sub.Period,
		Status:      sub.Status,
		FirstSeen:   sub.FirstSeen,
		NextRenewal: sub.NextRenewal,
		SavedAmount: sub.SavedAmount,
		CanceledAt:  sub.CanceledAt,
		Reopened:    sub.Reopened,
		Version:     sub.Version,
	}
	for _, pp := range sub.PriceHistory {
		resp.PriceHistory = append(resp.PriceHistory, pricePointResponse{
			Date:        pp.Date,
			Amount:      pp.Amount,
			Provisional: pp.Provisional,
		})
	}
	return resp
}

func (s *Server) handleIngestTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	txn := core.Transaction{
		ID:          req.ID,
		Description: req.Description,
		Amount:      core.Money{Cents: req.AmountCents},
		Currency:    req.Currency,
		PostedAt:    req.PostedAt,
		AccountRef:  req.AccountRef,
	}
	outcome, err := s.service.IngestTransaction(r.Context(), txn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !outcome.Duplicate && outcome.Result.Kind != detect.Unrelated {
		s.summaryCache.Purge()
	}

	status := http.StatusOK
	if outcome.Result.Kind == detect.NewSubscriptionDetected {
		status = http.StatusCreated
	}
	writeJSON(w, status, transactionResponse{
		MerchantKey:  string(outcome.MerchantKey),
		Detection:    string(outcome.Result.Kind),
		Duplicate:    outcome.Duplicate,
		Subscription: toSubscriptionResponse(outcome.Subscription),
	})
}

func (s *Server) handleIngestEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	outcome, err := s.service.IngestEmail(r.Context(), email.Email{
		ID:         req.ID,
		Subject:    req.Subject,
		Body:       req.Body,
		ReceivedAt: req.ReceivedAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if outcome.Applied {
		s.summaryCache.Purge()
	}

	writeJSON(w, http.StatusOK, emailResponse{
		Applied:      outcome.Applied,
		SignalKind:   string(outcome.Signal.Kind),
		Note:         outcome.Note,
		Subscription: toSubscriptionResponse(outcome.Subscription),
	})
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.aggregator.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]*subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionResponse(sub))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req decisionRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	sub, err := s.service.Decide(r.Context(), id, core.Decision(req.Decision))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.summaryCache.Purge()

	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	horizon := s.horizonDays
	if raw := r.URL.Query().Get("horizon_days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 365 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "horizon_days must be an integer between 1 and 365"})
			return
		}
		horizon = v
	}

	today := time.Now().UTC()
	ref := core.NewDate(today.Year(), int(today.Month()), today.Day())
	cacheKey := ref.Format("2006-01-02") + ":" + strconv.Itoa(horizon)
	if summary, ok := s.summaryCache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, summary)
		return
	}

	summary, err := s.aggregator.Summarize(r.Context(), ref, horizon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.summaryCache.Set(cacheKey, summary)
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// Readiness means the read path works end to end.
	if _, err := s.aggregator.List(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
