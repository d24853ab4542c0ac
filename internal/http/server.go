package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"kakeibo/internal/auth"
	applog "kakeibo/internal/log"
	"kakeibo/internal/middleware/ratelimit"
	"kakeibo/internal/middleware/security"
	"kakeibo/internal/middleware/trace"
	"kakeibo/internal/services"
)

// Services are the application services the API exposes. Receipts may be
// nil when receipt scanning is not configured.
type Services struct {
	Ledger    *services.LedgerService
	Billing   *services.BillingService
	Dashboard *services.DashboardService
	Receipts  *services.ReceiptService
	Auth      *auth.Service
}

// Options configure the server.
type Options struct {
	Logger             *applog.Logger
	Location           *time.Location
	RateLimitPerMinute int
	// Ready reports whether dependencies such as the database are reachable.
	Ready func(ctx context.Context) error
}

type Server struct {
	http.Server
	svc     Services
	loc     *time.Location
	ready   func(ctx context.Context) error
	now     func() time.Time
	limiter *ratelimit.Limiter
	tracer  *trace.Middleware
	guard   *security.Detector

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, svc Services, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.DefaultConfig())
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Ready == nil {
		opts.Ready = func(context.Context) error { return nil }
	}

	guard := security.NewDetector()
	s := &Server{
		svc:     svc,
		loc:     opts.Location,
		ready:   opts.Ready,
		now:     time.Now,
		limiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		tracer:  trace.NewMiddleware(opts.Logger.WithComponent(applog.ComponentHTTP), guard.ExtractClientIP),
		guard:   guard,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.limiter.Middleware(guard.ExtractClientIP, isMutating, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").Write(w)
	})

	var h http.Handler = mux
	h = limit(h)
	h = guard.Middleware(h)
	h = headers.Middleware(h)
	h = s.tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func isMutating(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /auth/login", s.svc.Auth.HandleLogin)
	mux.HandleFunc("GET /auth/callback", s.svc.Auth.HandleCallback)
	mux.HandleFunc("POST /auth/logout", s.svc.Auth.HandleLogout)

	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.svc.Auth.RequireUser(h))
	}

	api("GET /api/me", s.handleMe)

	api("GET /api/accounts", s.handleListAccounts)
	api("POST /api/accounts", s.handleCreateAccount)
	api("PUT /api/accounts/{id}", s.handleUpdateAccount)
	api("DELETE /api/accounts/{id}", s.handleDeleteAccount)

	api("GET /api/categories", s.handleListCategories)
	api("POST /api/categories", s.handleCreateCategory)
	api("DELETE /api/categories/{id}", s.handleDeleteCategory)

	api("GET /api/transactions", s.handleListTransactions)
	api("GET /api/transactions/export.csv", s.handleExportCSV)
	api("POST /api/transactions", s.handleCreateTransaction)
	api("PUT /api/transactions/{id}", s.handleUpdateTransaction)
	api("DELETE /api/transactions/{id}", s.handleDeleteTransaction)

	api("GET /api/credit-card-rules", s.handleListRules)
	api("PUT /api/credit-card-rules/{cardID}", s.handleSaveRule)
	api("DELETE /api/credit-card-rules/{cardID}", s.handleDeleteRule)

	api("GET /api/bills", s.handleBills)
	api("POST /api/bills/prepare-payment", s.handlePreparePayment)
	api("POST /api/bills/payments", s.handleRecordPayment)
	api("POST /api/bills/mark-paid", s.handleMarkPaid)

	api("GET /api/dashboard", s.handleDashboard)
	api("GET /api/balances", s.handleBalances)
	api("GET /api/net-worth", s.handleNetWorth)

	api("GET /api/receipts", s.handleListReceipts)
	api("POST /api/receipts", s.handleUploadReceipt)
	api("GET /api/receipts/{id}", s.handleGetReceipt)
	api("POST /api/receipts/{id}/confirm", s.handleConfirmReceipt)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("no such endpoint").Write(w)
	})
}

// Shutdown stops accepting requests, waits for in-flight ones and stops the
// rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().Raw("text/plain; charset=utf-8", []byte("ok")).Write(w)
}

type readyBody struct {
	Status    string                    `json:"status"`
	Error     string                    `json:"error,omitempty"`
	Requests  trace.Metrics             `json:"requests"`
	RateLimit ratelimit.Metrics         `json:"rateLimit"`
	Security  security.DetectionMetrics `json:"security"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	body := readyBody{
		Status:    "ready",
		Requests:  s.tracer.GetMetrics(),
		RateLimit: s.limiter.GetMetrics(),
		Security:  s.guard.GetMetrics(),
	}
	status := http.StatusOK
	if err := s.ready(ctx); err != nil {
		applog.FromContext(ctx).WarnContext(ctx, "Readiness check failed", applog.FieldError, err)
		body.Status = "unavailable"
		body.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	NewResponse().Status(status).JSON(body).Write(w)
}
