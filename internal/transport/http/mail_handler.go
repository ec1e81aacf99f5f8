package httptransport

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/queue"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// MailHandler 处理发送与外发队列相关的请求。
type MailHandler struct {
	mail  *mailserver.Service
	store storage.Store
}

// NewMailHandler 创建发送处理器
func NewMailHandler(mail *mailserver.Service, store storage.Store) *MailHandler {
	return &MailHandler{mail: mail, store: store}
}

// sendRequest 发送邮件请求体
type sendRequest struct {
	To       string `json:"to" binding:"required,email"`
	Subject  string `json:"subject" binding:"required"`
	Text     string `json:"text"`
	HTML     string `json:"html"`
	Category string `json:"category"`
}

// Send 以默认发件人发送一封邮件。
//
// POST /api/v1/mail/send
func (h *MailHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if req.Text == "" && req.HTML == "" {
		BadRequest(c, "text 和 html 不能同时为空")
		return
	}

	id, err := h.mail.SendEmail(c.Request.Context(), req.To, req.Subject, req.Text, req.HTML, req.Category)
	if err != nil {
		if errors.Is(err, queue.ErrHourlyLimitExceeded) {
			TooManyRequests(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgSendFailed)
		return
	}
	if id == "" {
		// 没有配置可外发的域名，调用方降级为站内通知
		Conflict(c, "未配置可外发的域名")
		return
	}

	Created(c, gin.H{"id": id})
}

// ListOutbound 分页查询外发队列。
//
// GET /api/v1/mail/outbound?status=pending&limit=20&offset=0
func (h *MailHandler) ListOutbound(c *gin.Context) {
	limit, offset := pagination(c)

	var status *domain.OutboundStatus
	if raw := c.Query("status"); raw != "" {
		s := domain.OutboundStatus(raw)
		status = &s
	}

	items, total, err := h.store.ListOutboundEmails(c.Request.Context(), status, limit, offset)
	if err != nil {
		InternalError(c, MsgQueueListFailed)
		return
	}

	Success(c, gin.H{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetOutbound 查询单封外发邮件。
//
// GET /api/v1/mail/outbound/:id
func (h *MailHandler) GetOutbound(c *gin.Context) {
	email, err := h.store.GetOutboundEmail(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgQueueGetFailed)
		return
	}
	Success(c, email)
}

// CancelOutbound 取消一封尚未投递成功的外发邮件。
//
// POST /api/v1/mail/outbound/:id/cancel
func (h *MailHandler) CancelOutbound(c *gin.Context) {
	ctx := c.Request.Context()

	email, err := h.store.GetOutboundEmail(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgQueueGetFailed)
		return
	}

	if email.Status == domain.OutboundStatusSent {
		Conflict(c, "邮件已投递成功，无法取消")
		return
	}

	email.Status = domain.OutboundStatusCancelled
	email.NextAttemptAt = nil
	if err := h.store.UpdateOutboundEmail(ctx, email); err != nil {
		InternalError(c, MsgQueueGetFailed)
		return
	}
	Success(c, email)
}

// pagination 解析分页参数，限制单页最多 100 条。
func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
