package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/saini-30/chargemint/services/testutil"
	"github.com/saini-30/chargemint/services/wallet/internal/accrual"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/saini-30/chargemint/services/wallet/internal/payment"
	"github.com/saini-30/chargemint/services/wallet/internal/rate"
	"github.com/saini-30/chargemint/services/wallet/internal/service"
	"github.com/saini-30/chargemint/services/wallet/internal/storage"
	"github.com/shopspring/decimal"
)

var (
	jwtSecret     = []byte("secret")
	paymentSecret = []byte("gateway")
)

type testServer struct {
	router *gin.Engine
	store  *storage.MemoryStore
}

func newTestServer(t *testing.T, limiter rate.Limiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := storage.NewMemoryStore()
	svc := service.NewWalletService(store, service.Options{
		PaymentSecret: paymentSecret,
		Limiter:       limiter,
		Sweeper:       accrual.NewSweeper(store, accrual.Options{}),
	})
	router := gin.New()
	New(svc, nil).Register(router, jwtSecret)
	return &testServer{router: router, store: store}
}

func userToken(t *testing.T, id uuid.UUID) string {
	t.Helper()
	token, err := testutil.GenerateJWT(id, jwtSecret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	return token
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := testutil.GenerateAdminJWT(testutil.AdminAccountID, jwtSecret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	return token
}

func (s *testServer) register(t *testing.T, id uuid.UUID, name, referralCode string) accountItem {
	t.Helper()
	resp := testutil.MakeAuthRequest(s.router, http.MethodPost, "/accounts", map[string]string{
		"name":          name,
		"email":         name + "@example.com",
		"referral_code": referralCode,
	}, userToken(t, id))
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	var item accountItem
	if err := json.Unmarshal(resp.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	return item
}

func TestRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, nil)
	resp := testutil.MakeAPIRequest(s.router, http.MethodGet, "/wallet/dashboard", nil)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	s := newTestServer(t, nil)
	resp := testutil.MakeAuthRequest(s.router, http.MethodGet, "/admin/stats", nil, userToken(t, testutil.DemoAccountID))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeForbidden)
}

func TestRegisterAndDashboard(t *testing.T) {
	s := newTestServer(t, nil)
	rootID, childID := uuid.New(), uuid.New()
	root := s.register(t, rootID, "root", "")
	child := s.register(t, childID, "child", root.ReferralCode)
	if child.ReferredBy != root.ReferralCode {
		t.Fatalf("expected referred_by %s, got %q", root.ReferralCode, child.ReferredBy)
	}

	resp := testutil.MakeAuthRequest(s.router, http.MethodPost, "/accounts", map[string]string{
		"name": "again", "email": "again@example.com",
	}, userToken(t, rootID))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeAccountExists)

	resp = testutil.MakeAuthRequest(s.router, http.MethodGet, "/wallet/dashboard", nil, userToken(t, rootID))
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var dash dashboardResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &dash); err != nil {
		t.Fatalf("decode dashboard: %v", err)
	}
	if dash.Stats.ReferralCount != 1 || dash.Stats.DailyRate != "2" {
		t.Fatalf("unexpected stats %+v", dash.Stats)
	}
	if dash.ReferralTree == nil || len(dash.ReferralTree.Children) != 1 {
		t.Fatalf("expected one child in tree")
	}
}

func TestDashboardUnknownAccount(t *testing.T) {
	s := newTestServer(t, nil)
	resp := testutil.MakeAuthRequest(s.router, http.MethodGet, "/wallet/dashboard", nil, userToken(t, uuid.New()))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeAccountNotFound)
}

func TestRegisterRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t, nil)
	token := userToken(t, uuid.New())

	resp := testutil.MakeAuthRequest(s.router, http.MethodPost, "/accounts", []byte(`{"name":`), token)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)

	resp = testutil.MakeAuthRequest(s.router, http.MethodPost, "/accounts", nil, token)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, uuid.New(), "dup", "")
	resp := testutil.MakeAuthRequest(s.router, http.MethodPost, "/accounts", map[string]string{
		"name": "other", "email": "dup@example.com",
	}, userToken(t, uuid.New()))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeEmailTaken)
}

func TestVerifyPayment(t *testing.T) {
	s := newTestServer(t, nil)
	rootID, payerID := uuid.New(), uuid.New()
	root := s.register(t, rootID, "root", "")
	s.register(t, payerID, "payer", root.ReferralCode)
	token := userToken(t, payerID)

	resp := testutil.MakeAuthRequest(s.router, http.MethodPost, "/payments/orders", map[string]string{"amount": "1000"}, token)
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	var order depositIntentResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &order); err != nil {
		t.Fatalf("decode order: %v", err)
	}

	resp = testutil.MakeAuthRequest(s.router, http.MethodPost, "/payments/verify", map[string]string{
		"order_id":   order.OrderID,
		"payment_id": "pay_1",
		"amount":     "1000",
		"signature":  "deadbeef",
	}, token)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidSignature)

	resp = testutil.MakeAuthRequest(s.router, http.MethodPost, "/payments/verify", map[string]string{
		"order_id":   order.OrderID,
		"payment_id": "pay_1",
		"amount":     "1000",
		"signature":  payment.Sign(paymentSecret, order.OrderID, "pay_1"),
	}, token)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var verified verifyPaymentResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &verified); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if verified.Account.Wallet.Balance != "1000" || verified.Account.Wallet.PendingTopUp != "0" || verified.CommissionPayouts != 1 {
		t.Fatalf("unexpected verify response %+v", verified)
	}

	referrer, err := s.store.GetAccount(context.Background(), rootID)
	if err != nil {
		t.Fatalf("get referrer: %v", err)
	}
	if referrer.Wallet.CommissionEarnings.String() != "200" {
		t.Fatalf("expected 200 commission, got %s", referrer.Wallet.CommissionEarnings)
	}

	resp = testutil.MakeAuthRequest(s.router, http.MethodGet, "/wallet/transactions", nil, token)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
}

func TestActivateTwiceSameDay(t *testing.T) {
	s := newTestServer(t, nil)
	id := uuid.New()
	s.register(t, id, "owner", "")
	token := userToken(t, id)

	resp := testutil.MakeAuthRequest(s.router, http.MethodPost, "/wallet/activate", nil, token)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	resp = testutil.MakeAuthRequest(s.router, http.MethodPost, "/wallet/activate", nil, token)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeAlreadyActivatedToday)
}

func TestActivateRateLimited(t *testing.T) {
	s := newTestServer(t, rate.NewMemory(1, time.Minute))
	id := uuid.New()
	s.register(t, id, "owner", "")
	token := userToken(t, id)

	testutil.MakeAuthRequest(s.router, http.MethodPost, "/wallet/activate", nil, token)
	resp := testutil.MakeAuthRequest(s.router, http.MethodPost, "/wallet/activate", nil, token)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeRateLimited)
	if resp.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestWithdrawalBeforeROIComplete(t *testing.T) {
	s := newTestServer(t, nil)
	id := uuid.New()
	s.register(t, id, "owner", "")
	token := userToken(t, id)

	resp := testutil.MakeAuthRequest(s.router, http.MethodPost, "/wallet/withdrawals", map[string]string{"amount": "10"}, token)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInsufficientFunds)

	if _, err := s.store.MutateAccount(context.Background(), id, func(a *ledger.Account) error {
		_, err := a.ConfirmTopUp(decimal.NewFromInt(100), "pay_seed", time.Now().UTC())
		return err
	}); err != nil {
		t.Fatalf("seed topup: %v", err)
	}
	resp = testutil.MakeAuthRequest(s.router, http.MethodPost, "/wallet/withdrawals", map[string]string{"amount": "10"}, token)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeROINotComplete)

	resp = testutil.MakeAuthRequest(s.router, http.MethodPost, "/wallet/withdrawals", map[string]string{"amount": "-1"}, token)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	id := uuid.New()
	s.register(t, id, "alice", "")
	token := adminToken(t)

	resp := testutil.MakeAuthRequest(s.router, http.MethodGet, "/admin/stats", nil, token)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var stats platformStatsResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalUsers != 1 || stats.TotalTopUps != "0" {
		t.Fatalf("unexpected stats %+v", stats)
	}

	resp = testutil.MakeAuthRequest(s.router, http.MethodGet, "/admin/accounts?search=ali", nil, token)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	resp = testutil.MakeAuthRequest(s.router, http.MethodPatch, "/admin/accounts/"+id.String()+"/status", map[string]bool{"is_active": true}, token)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var acct accountItem
	if err := json.Unmarshal(resp.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if !acct.ROI.IsActive {
		t.Fatalf("expected account to be active")
	}

	resp = testutil.MakeAuthRequest(s.router, http.MethodPatch, "/admin/accounts/"+id.String()+"/status", map[string]string{}, token)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)

	resp = testutil.MakeAuthRequest(s.router, http.MethodPatch, "/admin/withdrawals/"+uuid.NewString(), map[string]string{"status": "approved"}, token)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeWithdrawalNotFound)

	resp = testutil.MakeAuthRequest(s.router, http.MethodGet, "/admin/withdrawals", nil, token)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	resp = testutil.MakeAuthRequest(s.router, http.MethodPost, "/admin/accrual/run", nil, token)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	resp = testutil.MakeAuthRequest(s.router, http.MethodPost, "/admin/accrual/run", nil, token)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeAlreadySwept)
	resp = testutil.MakeAuthRequest(s.router, http.MethodPost, "/admin/accrual/run", map[string]bool{"force": true}, token)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
}
