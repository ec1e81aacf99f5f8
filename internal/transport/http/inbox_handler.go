package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// InboxHandler 处理收件箱请求。
type InboxHandler struct {
	store storage.Store
}

// NewInboxHandler 创建收件箱处理器
func NewInboxHandler(store storage.Store) *InboxHandler {
	return &InboxHandler{store: store}
}

// List 分页查询收件箱。
//
// GET /api/v1/mail/inbox?domainId=xxx&limit=20&offset=0
func (h *InboxHandler) List(c *gin.Context) {
	limit, offset := pagination(c)

	items, total, err := h.store.ListInboxMessages(c.Request.Context(), c.Query("domainId"), limit, offset)
	if err != nil {
		InternalError(c, MsgInboxListFailed)
		return
	}

	Success(c, gin.H{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get 查询单封入站邮件。
//
// GET /api/v1/mail/inbox/:id
func (h *InboxHandler) Get(c *gin.Context) {
	msg, err := h.store.GetInboxMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgInboxGetFailed)
		return
	}
	Success(c, msg)
}

// markRequest 标记请求体
type markRequest struct {
	Value *bool `json:"value"`
}

// MarkRead 标记已读/未读。
//
// POST /api/v1/mail/inbox/:id/read
func (h *InboxHandler) MarkRead(c *gin.Context) {
	value := true
	var req markRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.Value != nil {
		value = *req.Value
	}

	if err := h.store.MarkInboxMessageRead(c.Request.Context(), c.Param("id"), value); err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgInboxUpdateFailed)
		return
	}
	Success(c, gin.H{"isRead": value})
}

// MarkSpam 标记垃圾邮件。
//
// POST /api/v1/mail/inbox/:id/spam
func (h *InboxHandler) MarkSpam(c *gin.Context) {
	value := true
	var req markRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.Value != nil {
		value = *req.Value
	}

	if err := h.store.MarkInboxMessageSpam(c.Request.Context(), c.Param("id"), value); err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgInboxUpdateFailed)
		return
	}
	Success(c, gin.H{"isSpam": value})
}

// Delete 删除一封入站邮件。
//
// DELETE /api/v1/mail/inbox/:id
func (h *InboxHandler) Delete(c *gin.Context) {
	if err := h.store.DeleteInboxMessage(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgInboxDeleteFailed)
		return
	}
	Success(c, nil)
}
