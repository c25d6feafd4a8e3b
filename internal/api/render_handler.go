package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"printgrid/internal/api/middleware"
	"printgrid/internal/errcode"
	"printgrid/internal/jobs"
	"printgrid/internal/tasks"
)

// renderGuardTTL 内同一订单只接受一次生成请求。
const renderGuardTTL = 10 * time.Second

type taskQueue interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type progressReader interface {
	Get(ctx context.Context, jobKey string) (jobs.Progress, error)
}

type bulkJobs interface {
	StartBulk(ctx context.Context, orderIDs []string) (jobs.BulkJob, error)
	Bulk(ctx context.Context, jobID string) (jobs.BulkJob, error)
}

// redisCounter 是请求去重用到的 redis 命令。
type redisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RenderHandler 负责处理生成请求与进度查询。
type RenderHandler struct {
	queue     taskQueue
	progress  progressReader
	bulk      bulkJobs
	guard     redisCounter
	maxOrders int
	maxRetry  int
}

// NewRenderHandler 构造 RenderHandler。guard 为 nil 时不做重复请求拦截。
func NewRenderHandler(queue taskQueue, progress progressReader, bulk bulkJobs, guard redisCounter, maxOrders int) *RenderHandler {
	return &RenderHandler{
		queue:     queue,
		progress:  progress,
		bulk:      bulk,
		guard:     guard,
		maxOrders: maxOrders,
		maxRetry:  3,
	}
}

type bulkRequest struct {
	OrderIDs []string `json:"order_ids" binding:"required"`
}

type bulkEntryResponse struct {
	OrderID string   `json:"order_id"`
	OK      bool     `json:"ok"`
	Message string   `json:"message,omitempty"`
	Entries []string `json:"entries,omitempty"`
}

type bulkResponse struct {
	JobID   string              `json:"job_id"`
	Status  jobs.Status         `json:"status"`
	Percent int                 `json:"percent"`
	Cursor  int                 `json:"cursor"`
	Total   int                 `json:"total"`
	Message string              `json:"message,omitempty"`
	Results []bulkEntryResponse `json:"results"`
	URL     string              `json:"url,omitempty"`
}

func newBulkResponse(job jobs.BulkJob) bulkResponse {
	resp := bulkResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Percent: job.Percent(),
		Cursor:  job.Cursor,
		Total:   job.Total(),
		Message: job.Message,
		Results: make([]bulkEntryResponse, 0, len(job.Results)),
	}
	if job.Status == jobs.StatusDone {
		resp.URL = job.Location
	}
	for _, r := range job.Results {
		e := bulkEntryResponse{OrderID: r.OrderID, OK: r.OK, Message: r.Message}
		for _, f := range r.Files {
			e.Entries = append(e.Entries, f.Entry)
		}
		resp.Results = append(resp.Results, e)
	}
	return resp
}

// claim 报告当前请求是否是窗口期内对 key 的第一次请求。redis 不可用时放行。
func (h *RenderHandler) claim(c *gin.Context, key string) bool {
	if h.guard == nil {
		return true
	}
	ctx := c.Request.Context()
	count, err := h.guard.Incr(ctx, key).Result()
	if err != nil {
		middleware.LoggerFromContext(c).Warn("render guard unavailable", slog.Any("error", err))
		return true
	}
	if count == 1 {
		_ = h.guard.Expire(ctx, key, renderGuardTTL).Err()
	}
	return count == 1
}

// RenderOrder 将单订单生成任务放入队列。
func (h *RenderHandler) RenderOrder(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("id"))
	if orderID == "" {
		BadRequest(c, "invalid order id")
		return
	}
	if !h.claim(c, "render_guard:"+orderID) {
		Conflict(c, "render already requested for this order")
		return
	}

	task, err := tasks.NewRenderOrderTask(orderID, middleware.GetCorrelationID(c))
	if err != nil {
		Internal(c, "failed to create task")
		return
	}
	info, err := h.queue.Enqueue(task, asynq.MaxRetry(h.maxRetry))
	if err != nil {
		middleware.LoggerFromContext(c).Error("enqueue render failed", slog.String("order_id", orderID), slog.Any("error", err))
		Internal(c, "failed to enqueue render")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":  "render request accepted",
		"order_id": orderID,
		"task_id":  info.ID,
	})
}

// GetProgress 返回订单的生成进度；没有记录时为 idle。
func (h *RenderHandler) GetProgress(c *gin.Context) {
	p, err := h.progress.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		middleware.LoggerFromContext(c).Error("read progress failed", slog.Any("error", err))
		Internal(c, "failed to read progress")
		return
	}
	c.JSON(http.StatusOK, p)
}

// StartBulk 创建批量任务并放入第一步。
func (h *RenderHandler) StartBulk(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "order_ids is required")
		return
	}
	if len(req.OrderIDs) == 0 || len(req.OrderIDs) > h.maxOrders {
		BadRequest(c, "select between 1 and the maximum number of orders")
		return
	}

	job, err := h.bulk.StartBulk(c.Request.Context(), req.OrderIDs)
	if err != nil {
		if errcode.KindOf(err) != errcode.KindInput {
			middleware.LoggerFromContext(c).Error("start bulk failed", slog.Any("error", err))
		}
		FromError(c, err, "failed to start bulk job")
		return
	}

	task, err := tasks.NewBulkStepTask(job.ID, middleware.GetCorrelationID(c))
	if err != nil {
		Internal(c, "failed to create task")
		return
	}
	if _, err := h.queue.Enqueue(task, asynq.MaxRetry(h.maxRetry)); err != nil {
		middleware.LoggerFromContext(c).Error("enqueue bulk step failed", slog.String("job_id", job.ID), slog.Any("error", err))
		Internal(c, "failed to enqueue bulk job")
		return
	}

	c.JSON(http.StatusAccepted, newBulkResponse(job))
}

// GetBulk 返回批量任务状态。任务过期时返回 410。
func (h *RenderHandler) GetBulk(c *gin.Context) {
	job, err := h.bulk.Bulk(c.Request.Context(), strings.TrimSpace(c.Param("job_id")))
	if err != nil {
		if errcode.KindOf(err) != errcode.KindJobState {
			middleware.LoggerFromContext(c).Error("read bulk job failed", slog.Any("error", err))
		}
		FromError(c, err, "failed to read bulk job")
		return
	}
	c.JSON(http.StatusOK, newBulkResponse(job))
}
