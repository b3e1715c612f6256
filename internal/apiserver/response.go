package apiserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
)

// 统一响应辅助, 所有 handler 共用。

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": data})
}

func failure(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": gin.H{"code": code, "message": message}})
}

func badRequest(c *gin.Context, message string) {
	failure(c, http.StatusBadRequest, apperrors.CodeInvalidInput, message)
}

// fail 按错误码映射 HTTP 状态。
func fail(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.CodeInvalidInput:
		status = http.StatusBadRequest
	case apperrors.CodeNotFound:
		status = http.StatusNotFound
	case apperrors.CodeRateLimited:
		status = http.StatusTooManyRequests
	case apperrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	case apperrors.CodeUpstream:
		status = http.StatusBadGateway
	case apperrors.CodeAborted:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("apiserver: request failed",
			logger.FieldPath, c.FullPath(),
			logger.FieldError, err)
	}
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}
	if code == apperrors.CodeInternal {
		message = "internal server error"
	}
	failure(c, status, code, message)
}
