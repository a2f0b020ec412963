package handlers

import (
	"strconv"

	"github.com/agenthub/backend/internal/middleware"
	"github.com/agenthub/backend/internal/services"
	"github.com/agenthub/backend/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type DepositHandler struct {
	billingService *services.BillingService
}

func NewDepositHandler(db *gorm.DB) *DepositHandler {
	return &DepositHandler{
		billingService: services.NewBillingService(db),
	}
}

// Create opens a pending deposit order
// POST /api/deposits
func (h *DepositHandler) Create(c *gin.Context) {
	var req services.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	order, err := h.billingService.CreateOrder(middleware.GetUserID(c), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Created(c, order)
}

// List returns the caller's deposit orders
// GET /api/deposits
func (h *DepositHandler) List(c *gin.Context) {
	orders, err := h.billingService.ListOrders(middleware.GetUserID(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, orders)
}

// GetByID returns a single deposit order
// GET /api/deposits/:id
func (h *DepositHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid order id")
		return
	}

	order, err := h.billingService.GetOrder(middleware.GetUserID(c), uint(id))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, order)
}

// Cancel cancels a pending order
// POST /api/deposits/:id/cancel
func (h *DepositHandler) Cancel(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid order id")
		return
	}

	if err := h.billingService.CancelOrder(middleware.GetUserID(c), uint(id)); err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "cancelled"})
}
