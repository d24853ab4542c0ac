package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kakeibo/internal/auth"
	"kakeibo/internal/billing"
	"kakeibo/internal/blob"
	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/ports/memory"
	"kakeibo/internal/receipt"
	"kakeibo/internal/services"
)

var jst = time.FixedZone("JST", 9*60*60)

type testServer struct {
	*Server
	store *memory.Store
}

func newTestServer(t *testing.T, mode string, opts Options) *testServer {
	t.Helper()
	store := memory.New()
	logger := applog.New(applog.Config{Output: io.Discard})
	ledger := services.NewLedgerService(store)
	dashboard := services.NewDashboardService(store, jst, nil)
	ledger.OnChange = dashboard.Invalidate
	bills := services.NewBillingService(store, billing.NewCalendar(jst))
	bills.OnChange = dashboard.Invalidate

	authSvc := auth.NewService(store, auth.Config{Mode: mode, DevUserEmail: "dev@example.com"}, logger)
	authSvc.OnSignIn = ledger.EnsureDefaultCategories

	opts.Logger = logger
	opts.Location = jst
	s := NewServer(":0", Services{
		Ledger:    ledger,
		Billing:   bills,
		Dashboard: dashboard,
		Auth:      authSvc,
	}, opts)
	s.now = func() time.Time { return time.Date(2024, 1, 25, 9, 0, 0, 0, jst) }
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return &testServer{Server: s, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status %d, want %d: %s", rr.Code, want, rr.Body.String())
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, auth.ModeDev, Options{})

	rr := ts.do(t, http.MethodGet, "/healthz", nil)
	expectStatus(t, rr, http.StatusOK)
	if rr.Body.String() != "ok" {
		t.Fatalf("body %q", rr.Body.String())
	}

	rr = ts.do(t, http.MethodGet, "/readyz", nil)
	expectStatus(t, rr, http.StatusOK)
	if body := decode[readyBody](t, rr); body.Status != "ready" {
		t.Fatalf("ready body %+v", body)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("middleware headers missing: %v", rr.Header())
	}

	down := newTestServer(t, auth.ModeDev, Options{Ready: func(context.Context) error { return errors.New("db down") }})
	rr = down.do(t, http.MethodGet, "/readyz", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
}

func TestAPIRequiresSession(t *testing.T) {
	ts := newTestServer(t, auth.ModeGoogle, Options{})
	for _, path := range []string{"/api/me", "/api/bills", "/api/transactions"} {
		rr := ts.do(t, http.MethodGet, path, nil)
		expectStatus(t, rr, http.StatusUnauthorized)
	}
	rr := ts.do(t, http.MethodGet, "/nope", nil)
	expectStatus(t, rr, http.StatusNotFound)
}

// TestBillingFlow walks the card bill lifecycle through the API: set up a
// card, record expenses, pay one cycle and check nothing regresses.
func TestBillingFlow(t *testing.T) {
	ts := newTestServer(t, auth.ModeDev, Options{RateLimitPerMinute: 1000})

	me := decode[core.User](t, ts.do(t, http.MethodGet, "/api/me", nil))
	if me.Email != "dev@example.com" || me.ID == "" {
		t.Fatalf("me = %+v", me)
	}

	rr := ts.do(t, http.MethodPost, "/api/accounts", map[string]any{"name": "銀行", "type": "asset"})
	expectStatus(t, rr, http.StatusCreated)
	bank := decode[core.Account](t, rr)
	rr = ts.do(t, http.MethodPost, "/api/accounts", map[string]any{"name": "Visa", "type": "liability"})
	expectStatus(t, rr, http.StatusCreated)
	visa := decode[core.Account](t, rr)

	cats := decode[[]core.Category](t, ts.do(t, http.MethodGet, "/api/categories", nil))
	var food string
	for _, c := range cats {
		if c.Name == "食費" {
			food = c.ID
		}
	}
	if food == "" {
		t.Fatalf("default categories not seeded: %+v", cats)
	}

	rr = ts.do(t, http.MethodPut, "/api/credit-card-rules/"+visa.ID, map[string]any{
		"closingDay": 15, "paymentDay": 10, "paymentMonthOffset": 1, "defaultPaymentAccountId": bank.ID,
	})
	expectStatus(t, rr, http.StatusOK)

	for _, e := range []struct {
		date   string
		amount any
	}{
		{"2024-01-10", "¥5,000"},
		{"2024-01-20", 3000},
	} {
		rr = ts.do(t, http.MethodPost, "/api/transactions", map[string]any{
			"type": "expense", "date": e.date, "amount": e.amount,
			"accountId": visa.ID, "categoryId": food, "description": "groceries",
		})
		expectStatus(t, rr, http.StatusCreated)
	}

	bills := decode[[]billing.Bill](t, ts.do(t, http.MethodGet, "/api/bills", nil))
	if len(bills) != 2 || bills[0].ClosingDate != "2024-01-15" || bills[0].Amount != 5000 || bills[1].ClosingDate != "2024-02-15" {
		t.Fatalf("bills = %+v", bills)
	}
	if bills[0].PaymentDate != "2024-02-10" || bills[0].AmountLabel != "¥5,000" {
		t.Fatalf("bill formatting = %+v", bills[0])
	}

	rr = ts.do(t, http.MethodPost, "/api/bills/prepare-payment", map[string]any{"cardId": visa.ID, "closingDate": "2024-01-15"})
	expectStatus(t, rr, http.StatusOK)
	draft := decode[services.PaymentDraft](t, rr)
	if draft.Transfer.FromAccountID != bank.ID || draft.Transfer.ToAccountID != visa.ID || draft.Transfer.Amount != 5000 {
		t.Fatalf("draft = %+v", draft)
	}

	rr = ts.do(t, http.MethodPost, "/api/bills/payments", map[string]any{
		"pending": map[string]any{"cardId": visa.ID, "closingDate": "2024-01-15"},
		"transfer": map[string]any{
			"type": "transfer", "date": "2024-02-10", "amount": 5000,
			"fromAccountId": bank.ID, "toAccountId": visa.ID, "description": "Visa 1月分",
		},
	})
	expectStatus(t, rr, http.StatusCreated)
	if paid := decode[paymentResponse](t, rr); !paid.Advanced || paid.Transaction.Source != core.SourceBillPayment {
		t.Fatalf("payment = %+v", paid)
	}

	bills = decode[[]billing.Bill](t, ts.do(t, http.MethodGet, "/api/bills", nil))
	if len(bills) != 1 || bills[0].ClosingDate != "2024-02-15" {
		t.Fatalf("bills after payment = %+v", bills)
	}

	rr = ts.do(t, http.MethodPost, "/api/bills/mark-paid", map[string]any{"cardId": visa.ID, "closingDate": "2024-01-15"})
	expectStatus(t, rr, http.StatusOK)
	if decode[markPaidResponse](t, rr).Advanced {
		t.Fatal("older cycle must not move the watermark")
	}

	rules := decode[map[string]core.CreditCardRule](t, ts.do(t, http.MethodGet, "/api/credit-card-rules", nil))
	if rules[visa.ID].LastPaidCycle != "2024-01-15" {
		t.Fatalf("rules = %+v", rules)
	}

	ov := decode[core.MonthOverview](t, ts.do(t, http.MethodGet, "/api/dashboard", nil))
	if ov.Year != 2024 || ov.Month != 1 || ov.Expense != 8000 {
		t.Fatalf("overview = %+v", ov)
	}

	rr = ts.do(t, http.MethodGet, "/api/transactions/export.csv?from=2024-01-01&to=2024-01-31", nil)
	expectStatus(t, rr, http.StatusOK)
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("content type %q", rr.Header().Get("Content-Type"))
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "date,type,amount") {
		t.Fatalf("csv = %q", rr.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, auth.ModeDev, Options{RateLimitPerMinute: 1000})
	bank := decode[core.Account](t, ts.do(t, http.MethodPost, "/api/accounts", map[string]any{"name": "銀行", "type": "asset"}))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown account", http.MethodPost, "/api/transactions",
			map[string]any{"type": "expense", "date": "2024-01-10", "amount": 100, "accountId": "nope"}, http.StatusUnprocessableEntity},
		{"bad amount", http.MethodPost, "/api/transactions",
			map[string]any{"type": "expense", "date": "2024-01-10", "amount": "-5", "accountId": bank.ID}, http.StatusUnprocessableEntity},
		{"bad date", http.MethodPost, "/api/transactions",
			map[string]any{"type": "expense", "date": "10/01/2024", "amount": 100, "accountId": bank.ID}, http.StatusUnprocessableEntity},
		{"missing transaction", http.MethodPut, "/api/transactions/missing",
			map[string]any{"type": "expense", "date": "2024-01-10", "amount": 100, "accountId": bank.ID}, http.StatusNotFound},
		{"rule on asset", http.MethodPut, "/api/credit-card-rules/" + bank.ID,
			map[string]any{"closingDay": 15, "paymentDay": 10, "paymentMonthOffset": 1, "defaultPaymentAccountId": bank.ID}, http.StatusUnprocessableEntity},
		{"bad cycle key", http.MethodPost, "/api/bills/mark-paid",
			map[string]any{"cardId": "visa", "closingDate": "2024-1-15"}, http.StatusUnprocessableEntity},
		{"mark paid without rule", http.MethodPost, "/api/bills/mark-paid",
			map[string]any{"cardId": "visa", "closingDate": "2024-01-15"}, http.StatusNotFound},
		{"unknown cycle", http.MethodPost, "/api/bills/prepare-payment",
			map[string]any{"cardId": "visa", "closingDate": "2024-01-15"}, http.StatusNotFound},
		{"bad month", http.MethodGet, "/api/dashboard?month=13", nil, http.StatusBadRequest},
		{"bad months", http.MethodGet, "/api/net-worth?months=0", nil, http.StatusUnprocessableEntity},
		{"bad filter", http.MethodGet, "/api/transactions?type=loan", nil, http.StatusBadRequest},
		{"receipts disabled", http.MethodGet, "/api/receipts", nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, tt.method, tt.path, tt.body)
			expectStatus(t, rr, tt.want)
			if body := decode[errorBody](t, rr); body.Error == "" {
				t.Fatalf("missing error message: %s", rr.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/accounts", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	ts := newTestServer(t, auth.ModeDev, Options{RateLimitPerMinute: 1})

	rr := ts.do(t, http.MethodPost, "/api/accounts", map[string]any{"name": "A", "type": "asset"})
	expectStatus(t, rr, http.StatusCreated)
	rr = ts.do(t, http.MethodPost, "/api/accounts", map[string]any{"name": "B", "type": "asset"})
	expectStatus(t, rr, http.StatusTooManyRequests)
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	expectStatus(t, ts.do(t, http.MethodGet, "/api/accounts", nil), http.StatusOK)
}

type stubParser struct{}

func (stubParser) Parse(_ context.Context, _ []byte, _ string, hints receipt.Hints) ([]core.ReceiptDraft, error) {
	return []core.ReceiptDraft{{Date: hints.Today, Amount: 640, Description: "コーヒー"}}, nil
}

func TestReceiptUploadAndConfirm(t *testing.T) {
	ts := newTestServer(t, auth.ModeDev, Options{RateLimitPerMinute: 1000})
	blobs, err := blob.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ts.svc.Receipts = services.NewReceiptService(ts.store, blobs, stubParser{}, nil, ts.svc.Ledger, jst)
	bank := decode[core.Account](t, ts.do(t, http.MethodPost, "/api/accounts", map[string]any{"name": "財布", "type": "asset"}))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("receipt", "receipt.png")
	if err != nil {
		t.Fatal(err)
	}
	// PNG signature so content sniffing detects image/png.
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\n0000"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/receipts", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusCreated)
	scan := decode[core.ReceiptScan](t, rr)
	if scan.Status != core.ScanDone || len(scan.Drafts) != 1 {
		t.Fatalf("scan = %+v", scan)
	}

	expectStatus(t, ts.do(t, http.MethodGet, "/api/receipts/"+scan.ID, nil), http.StatusOK)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/receipts/other", nil), http.StatusNotFound)

	rr = ts.do(t, http.MethodPost, "/api/receipts/"+scan.ID+"/confirm", map[string]any{"accountId": bank.ID})
	expectStatus(t, rr, http.StatusCreated)
	txs := decode[[]core.Transaction](t, rr)
	if len(txs) != 1 || txs[0].Amount != 640 || txs[0].Source != core.SourceReceipt {
		t.Fatalf("confirmed = %+v", txs)
	}
}
