package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/service/job"
	"github.com/gin-gonic/gin"
)

type itemReq struct {
	RecipientId      string `json:"recipient_id" binding:"required"`
	Address          string `json:"address" binding:"required"`
	Body             string `json:"body" binding:"required"`
	NotificationType string `json:"notification_type"`
	CycleKey         string `json:"cycle_key"`
}

type createJobReq struct {
	OwnerId          string `json:"owner_id" binding:"required"`
	NotificationType string `json:"notification_type"`
	CycleKey         string `json:"cycle_key"`
	// IntervalSeconds 不传时使用默认间隔
	IntervalSeconds *float64  `json:"interval_seconds" binding:"omitempty,gte=0"`
	Items           []itemReq `json:"items" binding:"required,min=1,dive"`
}

func (r createJobReq) toCreateReq() job.CreateReq {
	req := job.CreateReq{
		OwnerId:          r.OwnerId,
		NotificationType: r.NotificationType,
		CycleKey:         r.CycleKey,
		Items:            make([]domain.JobItem, 0, len(r.Items)),
	}
	if r.IntervalSeconds != nil {
		interval := time.Duration(*r.IntervalSeconds * float64(time.Second))
		req.Interval = &interval
	}
	for _, item := range r.Items {
		req.Items = append(req.Items, domain.JobItem{
			RecipientId:      item.RecipientId,
			Address:          item.Address,
			Body:             item.Body,
			NotificationType: item.NotificationType,
			CycleKey:         item.CycleKey,
		})
	}
	return req
}

type createJobResp struct {
	JobId       string               `json:"job_id"`
	Corrections []job.ItemCorrection `json:"corrections"`
}

// jobVO 任务快照，不返回条目明细
type jobVO struct {
	Id              string  `json:"id"`
	OwnerId         string  `json:"owner_id"`
	Status          string  `json:"status"`
	Total           int     `json:"total"`
	Cursor          int     `json:"cursor"`
	SuccessCount    int     `json:"success_count"`
	ErrorCount      int     `json:"error_count"`
	IntervalSeconds float64 `json:"interval_seconds"`
	LastError       string  `json:"last_error,omitempty"`
	CreatedAt       int64   `json:"created_at"`
	UpdatedAt       int64   `json:"updated_at"`
}

func newJobVO(j domain.Job) jobVO {
	return jobVO{
		Id:              j.Id,
		OwnerId:         j.OwnerId,
		Status:          j.Status.String(),
		Total:           len(j.Items),
		Cursor:          j.Cursor,
		SuccessCount:    j.SuccessCount,
		ErrorCount:      j.ErrorCount,
		IntervalSeconds: j.Interval.Seconds(),
		LastError:       j.LastError,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

func (h *Handler) CreateJob(c *gin.Context) {
	var req createJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	res, err := h.engine.Create(c.Request.Context(), req.toCreateReq())
	if err != nil {
		h.abort(c, err)
		return
	}

	corrections := res.Corrections
	if corrections == nil {
		corrections = []job.ItemCorrection{}
	}
	c.JSON(http.StatusCreated, NewSuccessResponse(createJobResp{
		JobId:       res.Job.Id,
		Corrections: corrections,
	}))
}

func (h *Handler) GetJob(c *gin.Context) {
	j, err := h.engine.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(newJobVO(j)))
}

func (h *Handler) ListJobs(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	jobs, err := h.engine.List(c.Request.Context(), c.Query("owner_id"), limit)
	if err != nil {
		h.abort(c, err)
		return
	}

	res := make([]jobVO, 0, len(jobs))
	for _, j := range jobs {
		res = append(res, newJobVO(j))
	}
	c.JSON(http.StatusOK, NewSuccessResponse(res))
}

func (h *Handler) PauseJob(c *gin.Context) {
	h.mutate(c, h.engine.Pause)
}

func (h *Handler) ResumeJob(c *gin.Context) {
	h.mutate(c, h.engine.Resume)
}

func (h *Handler) CancelJob(c *gin.Context) {
	h.mutate(c, h.engine.Cancel)
}

func (h *Handler) mutate(c *gin.Context, fn func(ctx context.Context, id string) (domain.Job, error)) {
	j, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(newJobVO(j)))
}

func (h *Handler) ListEvents(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	events := h.engine.Events(limit)
	if jobId := c.Query("job_id"); jobId != "" {
		filtered := make([]domain.JobEvent, 0, len(events))
		for _, event := range events {
			if event.JobId == jobId {
				filtered = append(filtered, event)
			}
		}
		events = filtered
	}
	c.JSON(http.StatusOK, NewSuccessResponse(events))
}
