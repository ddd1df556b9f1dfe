package handler

import (
	"errors"
	"net/http"

	"github.com/fyerfyer/doc-ingest-worker/api/middleware"
	"github.com/fyerfyer/doc-ingest-worker/api/model"
	"github.com/fyerfyer/doc-ingest-worker/internal/models"
	"github.com/fyerfyer/doc-ingest-worker/internal/services"
	"github.com/fyerfyer/doc-ingest-worker/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// IngestionHandler 异步摄取和摄取记录查询
type IngestionHandler struct {
	dispatcher *services.IngestDispatcher       // 为nil时不支持异步入队
	status     *services.IngestionStatusManager // 摄取记录
	logger     *logrus.Logger
}

// NewIngestionHandler 创建摄取记录处理器
func NewIngestionHandler(dispatcher *services.IngestDispatcher, status *services.IngestionStatusManager) *IngestionHandler {
	return &IngestionHandler{
		dispatcher: dispatcher,
		status:     status,
		logger:     middleware.GetLogger(),
	}
}

// Enqueue 把摄取请求放入任务队列
// POST /api/ingestions
func (h *IngestionHandler) Enqueue(c *gin.Context) {
	if h.dispatcher == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("任务队列未启用"))
		return
	}

	var req services.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("无效的请求体", err.Error()))
		return
	}

	taskID, err := h.dispatcher.Enqueue(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			middleware.HandleError(c, middleware.NewValidationError("请求参数错误", err.Error()))
			return
		}
		h.logger.WithError(err).WithField("file_id", req.ID).Error("Failed to enqueue ingestion")
		middleware.HandleError(c, middleware.NewInternalError("任务入队失败", err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.EnqueueResponse{
		TaskID: taskID,
		FileID: req.ID,
		Status: string(taskqueue.StatusPending),
	}))
}

// GetIngestion 查询单个文件的摄取记录
// GET /api/ingestions/:id
func (h *IngestionHandler) GetIngestion(c *gin.Context) {
	var req model.IngestionStatusRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("文件ID不能为空"))
		return
	}

	rec, err := h.status.Get(c.Request.Context(), req.ID)
	if err != nil {
		if errors.Is(err, models.ErrIngestionNotFound) {
			middleware.HandleError(c, middleware.NewNotFoundError("摄取记录不存在"))
			return
		}
		middleware.HandleError(c, middleware.NewInternalError("查询摄取记录失败", err.Error()))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewIngestionInfo(rec)))
}

// ListIngestions 分页列出摄取记录
// GET /api/ingestions?page=1&page_size=10&status=failed
func (h *IngestionHandler) ListIngestions(c *gin.Context) {
	var req model.IngestionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("无效的查询参数", err.Error()))
		return
	}

	page, pageSize := req.GetPage(), req.GetPageSize()
	recs, total, err := h.status.List(c.Request.Context(), page, pageSize, models.IngestionStatus(req.Status))
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("查询摄取记录失败", err.Error()))
		return
	}

	items := make([]model.IngestionInfo, 0, len(recs))
	for _, rec := range recs {
		items = append(items, model.NewIngestionInfo(rec))
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.IngestionListResponse{
		PaginationResponse: model.PaginationResponse{
			Total:    int(total),
			Page:     page,
			PageSize: pageSize,
		},
		Ingestions: items,
	}))
}
