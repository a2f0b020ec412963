package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/agenthub/backend/internal/models"
	"gorm.io/gorm"
)

func newBillingService(t *testing.T) (*BillingService, *gorm.DB, *models.User) {
	t.Helper()
	db := testDB(t)
	user := createTestUser(t, db, "payer@example.com")
	return NewBillingService(db), db, user
}

func balanceOf(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		t.Fatal(err)
	}
	return user.TokenBalance
}

func TestCreateOrder_CodeFormat(t *testing.T) {
	svc, _, user := newBillingService(t)

	order, err := svc.CreateOrder(user.ID, &CreateOrderRequest{Amount: 500})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if !strings.HasPrefix(order.OrderCode, "DEP") || len(order.OrderCode) != 15 {
		t.Errorf("order code %q, expected DEP + 12 hex chars", order.OrderCode)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("status = %q, expected pending", order.Status)
	}
	if order.TokenAmount != 500 {
		t.Errorf("token amount = %d", order.TokenAmount)
	}
	if !order.ExpiresAt.After(time.Now()) {
		t.Error("new order must not be born expired")
	}
}

func TestProcessPayment_CompletesAndCredits(t *testing.T) {
	svc, db, user := newBillingService(t)
	order, _ := svc.CreateOrder(user.ID, &CreateOrderRequest{Amount: 500})

	if err := svc.ProcessPaymentNotification("txn-1", 500, order.OrderCode, time.Now()); err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	var updated models.DepositOrder
	db.First(&updated, order.ID)
	if updated.Status != models.OrderStatusCompleted {
		t.Errorf("status = %q, expected completed", updated.Status)
	}
	if updated.PaymentRef != "txn-1" {
		t.Errorf("payment_ref = %q", updated.PaymentRef)
	}
	if updated.PaidAt == nil {
		t.Error("paid_at should be set")
	}
	if got := balanceOf(t, db, user.ID); got != 500 {
		t.Errorf("balance = %d, expected 500", got)
	}
}

func TestProcessPayment_ReplayCreditsOnce(t *testing.T) {
	svc, db, user := newBillingService(t)
	order, _ := svc.CreateOrder(user.ID, &CreateOrderRequest{Amount: 300})

	// The provider retries the same notification until it sees success.
	for i := 0; i < 5; i++ {
		if err := svc.ProcessPaymentNotification("txn-replay", 300, order.OrderCode, time.Now()); err != nil {
			t.Fatalf("replay %d failed: %v", i, err)
		}
	}

	if got := balanceOf(t, db, user.ID); got != 300 {
		t.Errorf("balance = %d after replays, expected a single credit of 300", got)
	}
}

func TestProcessPayment_ExpiredOrderRecovered(t *testing.T) {
	svc, db, user := newBillingService(t)
	order, _ := svc.CreateOrder(user.ID, &CreateOrderRequest{Amount: 200})

	db.Model(&models.DepositOrder{}).Where("id = ?", order.ID).
		Updates(map[string]interface{}{
			"status":     models.OrderStatusExpired,
			"expires_at": time.Now().Add(-time.Hour),
		})

	// A slow bank transfer landing after expiry still counts.
	if err := svc.ProcessPaymentNotification("txn-late", 200, order.OrderCode, time.Now()); err != nil {
		t.Fatalf("late payment refused: %v", err)
	}

	var updated models.DepositOrder
	db.First(&updated, order.ID)
	if updated.Status != models.OrderStatusCompleted {
		t.Errorf("status = %q, expected completed", updated.Status)
	}
	if got := balanceOf(t, db, user.ID); got != 200 {
		t.Errorf("balance = %d, expected 200", got)
	}
}

func TestProcessPayment_CancelledIsTerminal(t *testing.T) {
	svc, db, user := newBillingService(t)
	order, _ := svc.CreateOrder(user.ID, &CreateOrderRequest{Amount: 200})

	if err := svc.CancelOrder(user.ID, order.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if err := svc.ProcessPaymentNotification("txn-dead", 200, order.OrderCode, time.Now()); err == nil {
		t.Error("payment against a cancelled order should be refused")
	}
	if got := balanceOf(t, db, user.ID); got != 0 {
		t.Errorf("balance = %d, expected no credit", got)
	}
}

func TestProcessPayment_NoPartialCredit(t *testing.T) {
	svc, db, user := newBillingService(t)
	order, _ := svc.CreateOrder(user.ID, &CreateOrderRequest{Amount: 1000})

	if err := svc.ProcessPaymentNotification("txn-short", 999, order.OrderCode, time.Now()); err == nil {
		t.Error("underpayment should be refused")
	}
	if got := balanceOf(t, db, user.ID); got != 0 {
		t.Errorf("balance = %d, expected no credit", got)
	}

	var updated models.DepositOrder
	db.First(&updated, order.ID)
	if updated.Status != models.OrderStatusPending {
		t.Errorf("underpaid order status = %q, expected still pending", updated.Status)
	}

	// Overpayment credits the order amount, not the paid amount.
	if err := svc.ProcessPaymentNotification("txn-over", 1500, order.OrderCode, time.Now()); err != nil {
		t.Fatalf("overpayment refused: %v", err)
	}
	if got := balanceOf(t, db, user.ID); got != 1000 {
		t.Errorf("balance = %d, expected the order's 1000", got)
	}
}

func TestProcessPayment_UnknownOrderCode(t *testing.T) {
	svc, _, _ := newBillingService(t)

	if err := svc.ProcessPaymentNotification("txn-lost", 100, "DEPAAAAAAAAAAAA", time.Now()); err == nil {
		t.Error("payment with no matching order should error")
	}
	if err := svc.ProcessPaymentNotification("", 100, "DEPAAAAAAAAAAAA", time.Now()); err == nil {
		t.Error("payment without a reference should error")
	}
}

func TestCancelOrder_OnlyPending(t *testing.T) {
	svc, _, user := newBillingService(t)
	order, _ := svc.CreateOrder(user.ID, &CreateOrderRequest{Amount: 100})

	if err := svc.ProcessPaymentNotification("txn-c", 100, order.OrderCode, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := svc.CancelOrder(user.ID, order.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("cancelling a completed order should conflict, got %v", err)
	}
}

func TestExpireStaleOrders(t *testing.T) {
	svc, db, user := newBillingService(t)

	stale, _ := svc.CreateOrder(user.ID, &CreateOrderRequest{Amount: 100})
	db.Model(&models.DepositOrder{}).Where("id = ?", stale.ID).
		Update("expires_at", time.Now().Add(-time.Minute))
	fresh, _ := svc.CreateOrder(user.ID, &CreateOrderRequest{Amount: 100})

	if err := svc.ExpireStaleOrders(); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	var updated models.DepositOrder
	db.First(&updated, stale.ID)
	if updated.Status != models.OrderStatusExpired {
		t.Errorf("stale order status = %q, expected expired", updated.Status)
	}
	db.First(&updated, fresh.ID)
	if updated.Status != models.OrderStatusPending {
		t.Errorf("fresh order status = %q, expected pending", updated.Status)
	}
}

func TestGetOrder_OwnershipEnforced(t *testing.T) {
	svc, db, user := newBillingService(t)
	other := createTestUser(t, db, "snoop@example.com")
	order, _ := svc.CreateOrder(user.ID, &CreateOrderRequest{Amount: 100})

	if _, err := svc.GetOrder(other.ID, order.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.GetOrder(user.ID, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExtractOrderCode(t *testing.T) {
	cases := []struct {
		memo string
		want string
	}{
		{"DEP0123456789AB", "DEP0123456789AB"},
		{"transfer dep0123456789ab thanks", "DEP0123456789AB"},
		{"MBVCB.12345.DEPABCDEF123456.note", "DEPABCDEF123456"},
		{"no code here", ""},
		{"DEP12345", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ExtractOrderCode(tc.memo); got != tc.want {
			t.Errorf("ExtractOrderCode(%q) = %q, expected %q", tc.memo, got, tc.want)
		}
	}
}
