package handlers

import (
	"strconv"

	"github.com/agenthub/backend/internal/middleware"
	"github.com/agenthub/backend/internal/services"
	"github.com/agenthub/backend/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type CronjobHandler struct {
	cronjobService *services.CronjobService
	scheduler      *services.Scheduler
}

func NewCronjobHandler(db *gorm.DB, scheduler *services.Scheduler) *CronjobHandler {
	return &CronjobHandler{
		cronjobService: services.NewCronjobService(db),
		scheduler:      scheduler,
	}
}

func jobIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid job id")
		return 0, false
	}
	return uint(id), true
}

// Create registers a new cronjob
// POST /api/cronjobs
func (h *CronjobHandler) Create(c *gin.Context) {
	var req services.CronjobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	job, err := h.cronjobService.Create(middleware.GetUserID(c), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Created(c, job)
}

// List returns the caller's cronjobs
// GET /api/cronjobs
func (h *CronjobHandler) List(c *gin.Context) {
	jobs, err := h.cronjobService.List(middleware.GetUserID(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, jobs)
}

// GetByID returns a single cronjob
// GET /api/cronjobs/:id
func (h *CronjobHandler) GetByID(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.cronjobService.Get(middleware.GetUserID(c), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, job)
}

// Update replaces a cronjob definition
// PUT /api/cronjobs/:id
func (h *CronjobHandler) Update(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}

	var req services.CronjobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	job, err := h.cronjobService.Update(middleware.GetUserID(c), id, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, job)
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetEnabled toggles a cronjob
// PATCH /api/cronjobs/:id/enabled
func (h *CronjobHandler) SetEnabled(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}

	var req setEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	job, err := h.cronjobService.SetEnabled(middleware.GetUserID(c), id, *req.Enabled)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, job)
}

// Delete removes a cronjob and its history
// DELETE /api/cronjobs/:id
func (h *CronjobHandler) Delete(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}

	if err := h.cronjobService.Delete(middleware.GetUserID(c), id); err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "deleted"})
}

// RunNow triggers an immediate run, serialized against scheduled runs
// POST /api/cronjobs/:id/run
func (h *CronjobHandler) RunNow(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}

	exec, err := h.scheduler.RunNow(middleware.GetUserID(c), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, exec)
}

// Stop sends an advisory stop signal to the gateway
// POST /api/cronjobs/:id/stop
func (h *CronjobHandler) Stop(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}

	if err := h.scheduler.StopJob(middleware.GetUserID(c), id); err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "stop signal sent"})
}

// ListExecutions returns a job's run history
// GET /api/cronjobs/:id/executions
func (h *CronjobHandler) ListExecutions(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	execs, err := h.cronjobService.ListExecutions(middleware.GetUserID(c), id, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, execs)
}
