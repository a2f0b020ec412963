package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/agenthub/backend/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/agenthub/backend/pkg/logger"
)

const (
	// OrderExpiry is how long a deposit order stays pending before the
	// expiry sweep marks it expired. Soft state only: a matching payment
	// arriving later still completes the order (bank transfers can land
	// well after a client-side timeout).
	OrderExpiry = 15 * time.Minute
)

// BillingService manages deposit orders and reconciles external payment
// notifications into token-balance credits.
type BillingService struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewBillingService(db *gorm.DB) *BillingService {
	return &BillingService{db: db, log: logger.With("billing")}
}

type CreateOrderRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// CreateOrder opens a pending deposit order. The order code is the
// correlation key the payer must carry in the transfer memo.
func (s *BillingService) CreateOrder(userID uint, req *CreateOrderRequest) (*models.DepositOrder, error) {
	order := models.DepositOrder{
		UserID:      userID,
		OrderCode:   newOrderCode(),
		Status:      models.OrderStatusPending,
		Amount:      req.Amount,
		TokenAmount: req.Amount,
		ExpiresAt:   time.Now().Add(OrderExpiry),
	}
	if err := s.db.Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder returns an order owned by userID.
func (s *BillingService) GetOrder(userID, orderID uint) (*models.DepositOrder, error) {
	var order models.DepositOrder
	if err := s.db.First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrForbidden
	}
	return &order, nil
}

// ListOrders returns a user's orders, newest first.
func (s *BillingService) ListOrders(userID uint) ([]models.DepositOrder, error) {
	var orders []models.DepositOrder
	if err := s.db.Where("user_id = ?", userID).Order("id DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// CancelOrder cancels a pending order. Cancelled is terminal: a later
// payment against it is refused.
func (s *BillingService) CancelOrder(userID, orderID uint) error {
	order, err := s.GetOrder(userID, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusPending {
		return fmt.Errorf("%w: order is %s", ErrConflict, order.Status)
	}
	return s.db.Model(order).Update("status", models.OrderStatusCancelled).Error
}

// ExpireStaleOrders moves pending orders past their expiry into the expired
// state. Runs as a scheduler sweep.
func (s *BillingService) ExpireStaleOrders() error {
	res := s.db.Model(&models.DepositOrder{}).
		Where("status = ? AND expires_at < ?", models.OrderStatusPending, time.Now()).
		Update("status", models.OrderStatusExpired)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info().Int64("expired", res.RowsAffected).Msg("stale deposit orders expired")
	}
	return nil
}

// ProcessPaymentNotification reconciles an external payment confirmation.
//
// The notifier retries indefinitely and must always see success, so the
// whole operation is idempotent: a payment reference is applied at most
// once, and replays of an already-completed order are no-ops. Completion
// and the balance credit commit in one transaction or not at all.
func (s *BillingService) ProcessPaymentNotification(paymentRef string, amount int64, orderCode string, paidAt time.Time) error {
	if paymentRef == "" {
		return errors.New("payment reference required")
	}

	var applied models.DepositOrder
	err := s.db.Where("payment_ref = ?", paymentRef).First(&applied).Error
	if err == nil {
		s.log.Info().Str("payment_ref", paymentRef).Msg("payment already applied, ignoring replay")
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	var order models.DepositOrder
	if err := s.db.Where("order_code = ?", orderCode).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("no order matches code %q", orderCode)
		}
		return err
	}

	if order.Status == models.OrderStatusCompleted {
		return nil
	}
	// Pending orders credit normally; expired orders are recovered because
	// expiry is advisory. Anything else (cancelled) is terminal.
	if order.Status != models.OrderStatusPending && order.Status != models.OrderStatusExpired {
		return fmt.Errorf("order %s is %s, refusing credit", order.OrderCode, order.Status)
	}

	if amount < order.Amount {
		return fmt.Errorf("payment amount %d below order amount %d, refusing partial credit", amount, order.Amount)
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.DepositOrder{}).
			Where("id = ? AND status IN ?", order.ID, []string{models.OrderStatusPending, models.OrderStatusExpired}).
			Updates(map[string]interface{}{
				"status":      models.OrderStatusCompleted,
				"payment_ref": paymentRef,
				"paid_at":     paidAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost a race against a concurrent notification for the same
			// order; the winner credited it.
			return nil
		}

		return tx.Model(&models.User{}).
			Where("id = ?", order.UserID).
			Update("token_balance", gorm.Expr("token_balance + ?", order.TokenAmount)).Error
	}); err != nil {
		return err
	}

	s.log.Info().
		Str("order_code", order.OrderCode).
		Str("payment_ref", paymentRef).
		Int64("tokens", order.TokenAmount).
		Uint("user_id", order.UserID).
		Msg("deposit order completed")
	return nil
}

func newOrderCode() string {
	return "DEP" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

var orderCodeRe = regexp.MustCompile(`DEP[0-9A-F]{12}`)

// ExtractOrderCode pulls the order code out of a free-text transfer memo.
// Banks mangle memos (prefixes, stripped spaces), so match the code anywhere
// in the text rather than expecting an exact field.
func ExtractOrderCode(content string) string {
	return orderCodeRe.FindString(strings.ToUpper(content))
}
