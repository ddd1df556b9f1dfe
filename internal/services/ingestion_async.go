package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyerfyer/doc-ingest-worker/pkg/taskqueue"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// IngestDispatcher 把摄取请求放入任务队列
type IngestDispatcher struct {
	queue    taskqueue.Queue
	status   *IngestionStatusManager
	validate *validator.Validate
	logger   *logrus.Logger
}

// NewIngestDispatcher 创建分发器，status可以为nil
func NewIngestDispatcher(queue taskqueue.Queue, status *IngestionStatusManager, logger *logrus.Logger) *IngestDispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &IngestDispatcher{
		queue:    queue,
		status:   status,
		validate: validator.New(),
		logger:   logger,
	}
}

// Enqueue 校验请求并入队，返回任务ID
func (d *IngestDispatcher) Enqueue(ctx context.Context, req IngestRequest) (string, error) {
	if err := d.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	taskID, err := d.queue.Enqueue(ctx, taskqueue.TaskIngestFile, req.ID, req)
	if err != nil {
		return "", fmt.Errorf("enqueue ingestion %s: %w", req.ID, err)
	}

	if d.status != nil {
		if err := d.status.MarkQueued(ctx, req.ID, taskID); err != nil {
			d.logger.WithError(err).WithField("file_id", req.ID).Warn("Failed to record task id")
		}
	}
	return taskID, nil
}

// Task 查询任务
func (d *IngestDispatcher) Task(ctx context.Context, taskID string) (*taskqueue.Task, error) {
	return d.queue.GetTask(ctx, taskID)
}

// IngestTaskHandler 在worker中执行ingest:file任务
type IngestTaskHandler struct {
	svc *IngestService
}

// NewIngestTaskHandler 创建任务处理器
func NewIngestTaskHandler(svc *IngestService) *IngestTaskHandler {
	return &IngestTaskHandler{svc: svc}
}

// ProcessTask 解码载荷并执行完整流程
// 不可重试的失败类型标记为Permanent，其余交给队列按重试策略重新投递
func (h *IngestTaskHandler) ProcessTask(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
	var req IngestRequest
	if err := json.Unmarshal(task.Payload, &req); err != nil {
		return nil, taskqueue.Permanent(fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err))
	}

	result, err := h.svc.Process(ctx, req)
	if err != nil {
		if ierr, ok := AsIngestError(err); ok && ierr.Kind.Permanent() {
			return nil, taskqueue.Permanent(err)
		}
		return nil, err
	}
	return result, nil
}
