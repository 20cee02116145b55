package handlers

import (
	"log"
	"strconv"
	"time"

	"github.com/amirphl/sms-dispatcher/app/dto"
	"github.com/amirphl/sms-dispatcher/app/middleware"
	businessflow "github.com/amirphl/sms-dispatcher/business_flow"
	"github.com/amirphl/sms-dispatcher/config"
	"github.com/amirphl/sms-dispatcher/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const exportTimeout = 2 * time.Minute

// DispatchAdminHandlerInterface defines the contract for SMS queue admin handlers
type DispatchAdminHandlerInterface interface {
	List(c fiber.Ctx) error
	Export(c fiber.Ctx) error
	Stats(c fiber.Ctx) error
	Enqueue(c fiber.Ctx) error
	Delete(c fiber.Ctx) error
	Requeue(c fiber.Ctx) error
	Health(c fiber.Ctx) error
}

// DispatchAdminHandler implements DispatchAdminHandlerInterface
type DispatchAdminHandler struct {
	flow       businessflow.DispatchAdminFlow
	deployment config.DeploymentConfig
	validator  *validator.Validate
}

func NewDispatchAdminHandler(flow businessflow.DispatchAdminFlow, deployment config.DeploymentConfig) DispatchAdminHandlerInterface {
	return &DispatchAdminHandler{
		flow:       flow,
		deployment: deployment,
		validator:  validator.New(),
	}
}

// ErrorResponse standard JSON error
func (h *DispatchAdminHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

// SuccessResponse standard JSON success
func (h *DispatchAdminHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// List returns one page of the SMS queue
// @Summary List SMS queue
// @Tags Admin SMS Queue
// @Produce json
// @Security BearerAuth
// @Param status query string false "waiting | sent | rejected | dead_letter"
// @Param phone query string false "Recipient phone"
// @Param forced query bool false "Forced flag"
// @Param message_id query int false "Originating message id"
// @Param page query int false "Page number (default 1)"
// @Param page_size query int false "Page size (default 50, max 500)"
// @Success 200 {object} dto.APIResponse{data=dto.ListDispatchRecordsResponse} "Records retrieved"
// @Failure 400 {object} dto.APIResponse "Invalid filter"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/admin/sms-queue [get]
func (h *DispatchAdminHandler) List(c fiber.Ctx) error {
	req, failure := h.parseListRequest(c)
	if failure != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, failure.message, failure.code, failure.details)
	}

	ctx, cancel := newRequestContext(c, "/api/v1/admin/sms-queue", defaultRequestTimeout)
	defer cancel()

	resp, err := h.flow.List(ctx, req)
	if err != nil {
		return h.flowError(c, "List SMS queue failed", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Records retrieved successfully", resp)
}

// Export returns the filtered SMS queue as an XLSX workbook
// @Summary Export SMS queue
// @Tags Admin SMS Queue
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param status query string false "waiting | sent | rejected | dead_letter"
// @Param phone query string false "Recipient phone"
// @Param forced query bool false "Forced flag"
// @Param message_id query int false "Originating message id"
// @Success 200 {string} string "XLSX file"
// @Failure 400 {object} dto.APIResponse "Invalid filter"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/admin/sms-queue/export [get]
func (h *DispatchAdminHandler) Export(c fiber.Ctx) error {
	req, failure := h.parseListRequest(c)
	if failure != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, failure.message, failure.code, failure.details)
	}

	ctx, cancel := newRequestContext(c, "/api/v1/admin/sms-queue/export", exportTimeout)
	defer cancel()

	filename, data, err := h.flow.Export(ctx, req)
	if err != nil {
		return h.flowError(c, "Export SMS queue failed", err)
	}
	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}

// Stats returns record counts per status together with the engine state
// @Summary SMS queue statistics
// @Tags Admin SMS Queue
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.APIResponse{data=dto.DispatchStatsResponse} "Statistics retrieved"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/admin/sms-queue/stats [get]
func (h *DispatchAdminHandler) Stats(c fiber.Ctx) error {
	ctx, cancel := newRequestContext(c, "/api/v1/admin/sms-queue/stats", defaultRequestTimeout)
	defer cancel()

	resp, err := h.flow.Stats(ctx)
	if err != nil {
		return h.flowError(c, "SMS queue stats failed", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Statistics retrieved successfully", resp)
}

// Enqueue creates waiting records for an existing message
// @Summary Enqueue SMS recipients
// @Tags Admin SMS Queue
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.EnqueueDispatchRequest true "Message and recipients"
// @Success 201 {object} dto.APIResponse{data=dto.EnqueueDispatchResponse} "Records enqueued"
// @Failure 400 {object} dto.APIResponse "Invalid request"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 404 {object} dto.APIResponse "Message not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/admin/sms-queue/enqueue [post]
func (h *DispatchAdminHandler) Enqueue(c fiber.Ctx) error {
	var req dto.EnqueueDispatchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := newRequestContext(c, "/api/v1/admin/sms-queue/enqueue", defaultRequestTimeout)
	defer cancel()

	resp, err := h.flow.Enqueue(ctx, &req, h.metadata(c))
	if err != nil {
		return h.flowError(c, "Enqueue SMS recipients failed", err)
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Records enqueued successfully", resp)
}

// Delete removes one record by id, or all records
// @Summary Delete SMS queue records
// @Tags Admin SMS Queue
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.DeleteDispatchRecordsRequest true "Record id or all=true"
// @Success 200 {object} dto.APIResponse{data=dto.DeleteDispatchRecordsResponse} "Records deleted"
// @Failure 400 {object} dto.APIResponse "Invalid request"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 404 {object} dto.APIResponse "Record not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/admin/sms-queue/delete [post]
func (h *DispatchAdminHandler) Delete(c fiber.Ctx) error {
	var req dto.DeleteDispatchRecordsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := newRequestContext(c, "/api/v1/admin/sms-queue/delete", defaultRequestTimeout)
	defer cancel()

	resp, err := h.flow.Delete(ctx, &req, h.metadata(c))
	if err != nil {
		return h.flowError(c, "Delete SMS queue records failed", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Records deleted successfully", resp)
}

// Requeue puts a record back to waiting with priority
// @Summary Force requeue an SMS queue record
// @Tags Admin SMS Queue
// @Produce json
// @Security BearerAuth
// @Param id path string true "Record id (UUID)"
// @Success 200 {object} dto.APIResponse{data=dto.RequeueDispatchRecordResponse} "Record requeued"
// @Failure 400 {object} dto.APIResponse "Invalid id"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 404 {object} dto.APIResponse "Record not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/admin/sms-queue/{id}/requeue [post]
func (h *DispatchAdminHandler) Requeue(c fiber.Ctx) error {
	ctx, cancel := newRequestContext(c, "/api/v1/admin/sms-queue/:id/requeue", defaultRequestTimeout)
	defer cancel()

	resp, err := h.flow.Requeue(ctx, c.Params("id"), h.metadata(c))
	if err != nil {
		return h.flowError(c, "Requeue SMS queue record failed", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Record requeued successfully", resp)
}

// Health reports service liveness and the dispatch engine state
// @Summary Health check
// @Tags System
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.HealthResponse} "Service is healthy"
// @Router /api/v1/health [get]
func (h *DispatchAdminHandler) Health(c fiber.Ctx) error {
	return h.SuccessResponse(c, fiber.StatusOK, "Service is healthy", dto.HealthResponse{
		Status:      "ok",
		Timestamp:   utils.UTCNow().Format(time.RFC3339),
		Version:     h.deployment.Version,
		Environment: h.deployment.Environment,
		Engine:      h.flow.EngineState(),
	})
}

type requestFailure struct {
	message string
	code    string
	details any
}

func (h *DispatchAdminHandler) parseListRequest(c fiber.Ctx) (*dto.ListDispatchRecordsRequest, *requestFailure) {
	var req dto.ListDispatchRecordsRequest
	if err := c.Bind().Query(&req); err != nil {
		return nil, &requestFailure{message: "Invalid query parameters", code: "INVALID_REQUEST", details: err.Error()}
	}
	if err := h.validator.Struct(&req); err != nil {
		return nil, &requestFailure{message: "Validation failed", code: "VALIDATION_ERROR", details: validationMessages(err)}
	}
	return &req, nil
}

func (h *DispatchAdminHandler) flowError(c fiber.Ctx, logMsg string, err error) error {
	code := businessflow.ErrorCode(err, "INTERNAL_ERROR")
	switch {
	case businessflow.IsValidationError(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), code, nil)
	case businessflow.IsMessageNotFound(err), businessflow.IsDispatchRecordNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, err.Error(), code, nil)
	default:
		log.Println(logMsg, err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, logMsg, code, nil)
	}
}

func (h *DispatchAdminHandler) metadata(c fiber.Ctx) *businessflow.ClientMetadata {
	md := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	md.SetRequestID(c.Get("X-Request-ID"))
	if adminID, ok := middleware.GetAdminIDFromContext(c); ok {
		md.AddAdditional("admin_id", strconv.FormatUint(uint64(adminID), 10))
	}
	return md
}
