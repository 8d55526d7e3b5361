package httpapi

import (
	"errors"
	"net/http"

	"device-management/internal/domain"

	"go.uber.org/zap"
)

// statusFor 领域错误 -> HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrIntegrity),
		errors.Is(err, domain.ErrConflict):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError 写错误响应；500 不暴露内部错误
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, op string, err error) {
	status := statusFor(err)
	message := err.Error()

	var ie *domain.IntegrityError
	switch {
	case status == http.StatusInternalServerError:
		logger.Error(op+" failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r)),
			zap.Error(err),
		)
		message = "internal server error"
	case errors.As(err, &ie):
		logger.Warn(op+" rejected by store constraint", zap.Error(err))
		message = "request conflicts with existing data"
	}

	writeJSON(w, status, Fail(message))
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, Fail(message))
}
