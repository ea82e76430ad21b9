package handlers

import (
	"net/http"

	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/services"
	"github.com/upb/image-gateway/services/generation"
	"github.com/upb/image-gateway/utils"
	"go.uber.org/zap"
)

// FailureResponse is the body written for a failed generation call
type FailureResponse struct {
	ErrorMessage   string                 `json:"error_message"`
	Reason         string                 `json:"reason"`
	Attempts       []models.AttemptReport `json:"attempts"`
	HTTPStatusHint int                    `json:"http_status_hint"`
}

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	if report, ok := generation.AsFailureReport(err); ok {
		writeFailureReport(w, report, logger)
		return
	}

	details := services.GetErrorDetails(err)

	var status int
	switch {
	case services.IsNotFoundError(err):
		status = http.StatusNotFound
	case services.IsValidationError(err):
		status = http.StatusBadRequest
	case services.IsUnauthorizedError(err):
		status = http.StatusUnauthorized
	case services.IsUnavailableError(err):
		status = http.StatusServiceUnavailable
	case services.IsTimeoutError(err):
		status = http.StatusGatewayTimeout
	case services.IsExternalError(err):
		status = http.StatusBadGateway
	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		if err := utils.WriteInternalServerError(w, "An internal error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
		return
	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if err := utils.WriteInternalServerError(w, "An unexpected error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteError(w, status, err.Error(), details); err != nil {
		logger.Error("failed to write error response",
			zap.Int("status", status),
			zap.Error(err))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

func writeFailureReport(w http.ResponseWriter, report *generation.FailureReport, logger *zap.Logger) {
	status := report.HTTPStatusHint()
	body := FailureResponse{
		ErrorMessage:   report.Message,
		Reason:         string(report.Reason),
		Attempts:       report.Attempts,
		HTTPStatusHint: status,
	}

	if err := utils.WriteJSON(w, status, body); err != nil {
		logger.Error("failed to write failure report", zap.Error(err))
	}
}
