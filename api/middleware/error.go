package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/fyerfyer/doc-ingest-worker/api/model"
	"github.com/fyerfyer/doc-ingest-worker/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 定义应用中的错误类型常量
const (
	ErrorTypeValidation  = "VALIDATION_ERROR"  // 输入验证错误
	ErrorTypeNotFound    = "NOT_FOUND_ERROR"   // 资源不存在错误
	ErrorTypeInternal    = "INTERNAL_ERROR"    // 内部服务器错误
	ErrorTypeUnavailable = "UNAVAILABLE_ERROR" // 依赖服务不可用
)

// AppError 应用错误结构体
type AppError struct {
	Type    string // 错误类型
	Message string // 错误消息
	Details string // 详细错误信息
	Code    int    // HTTP状态码
}

// Error 实现error接口的方法
func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewValidationError 创建输入验证错误
func NewValidationError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) AppError {
	return AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

// NewInternalError 创建内部服务器错误
func NewInternalError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusInternalServerError,
	}
}

// NewUnavailableError 创建依赖不可用错误
func NewUnavailableError(message string) AppError {
	return AppError{
		Type:    ErrorTypeUnavailable,
		Message: message,
		Code:    http.StatusServiceUnavailable,
	}
}

// ErrorMiddleware 统一错误处理中间件
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					FieldError:   r,
					"stack":      string(debug.Stack()),
					FieldPath:    c.Request.URL.Path,
					FieldTraceID: traceID(c),
				}).Error("Panic recovered in API request")

				resp := model.NewErrorResponse(http.StatusInternalServerError, "An unexpected error occurred")
				if gin.Mode() == gin.DebugMode {
					resp.Message = fmt.Sprintf("Panic: %v", r)
				}
				resp.TraceID = traceID(c)
				c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		writeError(c, c.Errors.Last().Err)
		c.Abort()
	}
}

// writeError 按错误类型写出响应
func writeError(c *gin.Context, err error) {
	tid := traceID(c)
	entry := log.WithFields(logrus.Fields{
		FieldTraceID: tid,
		FieldPath:    c.Request.URL.Path,
	})

	var (
		appErr  AppError
		appPtr  *AppError
		ingestE *services.IngestError
	)
	switch {
	case errors.As(err, &ingestE):
		code := http.StatusInternalServerError
		if ingestE.Kind == services.KindInvalidRequest {
			code = http.StatusBadRequest
		}
		entry.WithFields(logrus.Fields{
			FieldFileID: ingestE.FileID,
			"stage":     ingestE.Stage,
			"kind":      ingestE.Kind,
		}).Warn(ingestE.Error())
		c.JSON(code, model.ProcessErrorResponse{
			Detail:  ingestE.Error(),
			FileID:  ingestE.FileID,
			Stage:   string(ingestE.Stage),
			Kind:    string(ingestE.Kind),
			TraceID: tid,
		})

	case errors.As(err, &appErr), errors.As(err, &appPtr):
		if appPtr != nil {
			appErr = *appPtr
		}
		entry.WithField("error_type", appErr.Type).Error(appErr.Error())
		resp := model.NewErrorResponse(appErr.Code, appErr.Message)
		resp.TraceID = tid
		c.JSON(appErr.Code, resp)

	default:
		entry.Error(err.Error())
		resp := model.NewErrorResponse(http.StatusInternalServerError, "Internal server error")
		if gin.Mode() == gin.DebugMode {
			resp.Message = err.Error()
		}
		resp.TraceID = tid
		c.JSON(http.StatusInternalServerError, resp)
	}
}

// HandleError 在处理器中使用的错误处理辅助函数
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
}
