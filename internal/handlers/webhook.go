package handlers

import (
	"net/http"
	"time"

	"github.com/agenthub/backend/internal/services"
	"github.com/agenthub/backend/pkg/logger"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type WebhookHandler struct {
	billingService *services.BillingService
}

func NewWebhookHandler(db *gorm.DB) *WebhookHandler {
	return &WebhookHandler{
		billingService: services.NewBillingService(db),
	}
}

// paymentNotification is the payment provider's callback body. ReferenceCode
// is the provider-side idempotency key; Content carries the transfer memo
// with the order code.
type paymentNotification struct {
	ReferenceCode   string `json:"reference_code"`
	Amount          int64  `json:"amount"`
	Content         string `json:"content"`
	TransactionDate string `json:"transaction_date"`
}

// HandlePaymentWebhook processes a payment confirmation
// POST /webhooks/payment
//
// Always answers 200 {success:true}: the provider retries on anything else
// and a redelivery storm helps nobody. Internal failures are logged only;
// reconciliation is idempotent, so dropping a bad notification is safe.
func (h *WebhookHandler) HandlePaymentWebhook(c *gin.Context) {
	var notif paymentNotification
	if err := c.ShouldBindJSON(&notif); err != nil {
		logger.Warnf("[Webhook] Unparseable payment notification: %v", err)
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	paidAt := time.Now()
	if notif.TransactionDate != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", notif.TransactionDate); err == nil {
			paidAt = t
		}
	}

	orderCode := services.ExtractOrderCode(notif.Content)
	if err := h.billingService.ProcessPaymentNotification(notif.ReferenceCode, notif.Amount, orderCode, paidAt); err != nil {
		logger.Errorf("[Webhook] Payment reconciliation failed (ref=%s): %v", notif.ReferenceCode, err)
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
