package handler

import (
	"errors"
	"net/http"

	"github.com/fyerfyer/doc-ingest-worker/api/middleware"
	"github.com/fyerfyer/doc-ingest-worker/api/model"
	"github.com/fyerfyer/doc-ingest-worker/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler 处理任务相关的API请求
type TaskHandler struct {
	queue  taskqueue.Queue // 任务队列
	logger *logrus.Logger  // 日志记录器
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(queue taskqueue.Queue) *TaskHandler {
	return &TaskHandler{
		queue:  queue,
		logger: middleware.GetLogger(),
	}
}

// GetTaskStatus 获取任务状态
// GET /api/tasks/:id
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	var req model.TaskStatusRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("任务ID不能为空"))
		return
	}

	task, err := h.queue.GetTask(c.Request.Context(), req.ID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) {
			middleware.HandleError(c, middleware.NewNotFoundError("任务未找到"))
			return
		}
		h.logger.WithError(err).WithField("task_id", req.ID).Error("Failed to get task")
		middleware.HandleError(c, middleware.NewInternalError("获取任务状态失败", err.Error()))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(taskqueue.NewTaskInfo(task)))
}

// GetFileTasks 获取文件相关的所有任务
// GET /api/ingestions/:id/tasks
func (h *TaskHandler) GetFileTasks(c *gin.Context) {
	fileID := c.Param("id")

	tasks, err := h.queue.GetTasksByFile(c.Request.Context(), fileID)
	if err != nil {
		h.logger.WithError(err).WithField("file_id", fileID).Error("Failed to get file tasks")
		middleware.HandleError(c, middleware.NewInternalError("获取任务列表失败", err.Error()))
		return
	}

	infos := make([]*taskqueue.TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, taskqueue.NewTaskInfo(task))
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"file_id": fileID,
		"tasks":   infos,
	}))
}
