package model

import (
	"time"

	"github.com/fyerfyer/doc-ingest-worker/internal/models"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// ProcessErrorResponse /process 失败时的响应体
// detail 与上游约定的错误消息一致
type ProcessErrorResponse struct {
	Detail  string `json:"detail"`
	FileID  string `json:"file_id,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Kind    string `json:"kind,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// EnqueueResponse 异步摄取入队响应
type EnqueueResponse struct {
	TaskID string `json:"task_id"` // 任务ID
	FileID string `json:"file_id"` // 文件ID
	Status string `json:"status"`  // 任务状态
}

// IngestionInfo 摄取记录
type IngestionInfo struct {
	FileID     string     `json:"file_id"`
	FileName   string     `json:"filename"`
	FileType   string     `json:"file_type"`
	Source     string     `json:"source"`
	Status     string     `json:"status"`
	Stage      string     `json:"stage"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty"`
	Chunks     int        `json:"chunks"`
	Attempts   int        `json:"attempts"`
	TaskID     string     `json:"task_id,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewIngestionInfo 从摄取记录转换
func NewIngestionInfo(rec *models.Ingestion) IngestionInfo {
	return IngestionInfo{
		FileID:     rec.FileID,
		FileName:   rec.FileName,
		FileType:   rec.FileType,
		Source:     rec.Source,
		Status:     string(rec.Status),
		Stage:      rec.Stage,
		ErrorKind:  rec.ErrorKind,
		Error:      rec.Error,
		Chunks:     rec.ChunkCount,
		Attempts:   rec.Attempts,
		TaskID:     rec.TaskID,
		StartedAt:  &rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

// IngestionListResponse 摄取记录列表响应
type IngestionListResponse struct {
	PaginationResponse
	Ingestions []IngestionInfo `json:"ingestions"`
}

// PaginationResponse 分页响应信息
type PaginationResponse struct {
	Total    int `json:"total"`     // 总记录数
	Page     int `json:"page"`      // 当前页码
	PageSize int `json:"page_size"` // 每页大小
}
