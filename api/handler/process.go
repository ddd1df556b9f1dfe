package handler

import (
	"net/http"

	"github.com/fyerfyer/doc-ingest-worker/api/middleware"
	"github.com/fyerfyer/doc-ingest-worker/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ProcessHandler 同步摄取接口
type ProcessHandler struct {
	svc    *services.IngestService
	logger *logrus.Logger
}

// NewProcessHandler 创建同步摄取处理器
func NewProcessHandler(svc *services.IngestService) *ProcessHandler {
	return &ProcessHandler{
		svc:    svc,
		logger: middleware.GetLogger(),
	}
}

// Process 执行一次完整的摄取流程并返回结果
// POST /process
func (h *ProcessHandler) Process(c *gin.Context) {
	var req services.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid process request body")
		middleware.HandleError(c, middleware.NewValidationError("无效的请求体", err.Error()))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"file_id":   req.ID,
		"file_name": req.FileName,
		"file_type": req.FileType,
	}).Info("Received ingest request")

	result, err := h.svc.Process(c.Request.Context(), req)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
