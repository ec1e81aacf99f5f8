package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// CredentialHandler 处理提交中继凭据管理请求。
type CredentialHandler struct {
	mail  *mailserver.Service
	store storage.Store
}

// NewCredentialHandler 创建凭据处理器
func NewCredentialHandler(mail *mailserver.Service, store storage.Store) *CredentialHandler {
	return &CredentialHandler{mail: mail, store: store}
}

// createCredentialRequest 创建凭据请求体
type createCredentialRequest struct {
	Username           string   `json:"username" binding:"required,min=3,max=255"`
	Password           string   `json:"password" binding:"required,min=12"`
	AllowedFromDomains []string `json:"allowedFromDomains"`
	HourlyLimit        int      `json:"hourlyLimit"`
}

// List 列出全部凭据（不含密码哈希）。
//
// GET /api/v1/mail/credentials
func (h *CredentialHandler) List(c *gin.Context) {
	creds, err := h.store.ListSMTPCredentials(c.Request.Context())
	if err != nil {
		InternalError(c, MsgCredentialListFailed)
		return
	}
	Success(c, creds)
}

// Create 创建一个提交中继凭据。
//
// POST /api/v1/mail/credentials
func (h *CredentialHandler) Create(c *gin.Context) {
	var req createCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		InternalError(c, MsgCredentialCreateFailed)
		return
	}

	hourlyLimit := req.HourlyLimit
	if hourlyLimit <= 0 {
		hourlyLimit = 100
	}

	cred := &domain.SMTPCredential{
		ID:                 uuid.NewString(),
		Username:           req.Username,
		PasswordHash:       string(hash),
		IsActive:           true,
		AllowedFromDomains: req.AllowedFromDomains,
		HourlyLimit:        hourlyLimit,
	}

	ctx := c.Request.Context()
	if err := h.store.SaveSMTPCredential(ctx, cred); err != nil {
		if errors.Is(err, storage.ErrCredentialExists) {
			Conflict(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgCredentialCreateFailed)
		return
	}

	// 让提交端口立即识别新凭据
	_ = h.mail.RefreshSMTPCredentials(ctx)

	Created(c, cred)
}

// Delete 删除一个凭据。
//
// DELETE /api/v1/mail/credentials/:id
func (h *CredentialHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.store.DeleteSMTPCredential(ctx, c.Param("id")); err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgCredentialDeleteFailed)
		return
	}

	_ = h.mail.RefreshSMTPCredentials(ctx)
	Success(c, nil)
}

// Refresh 立即重载凭据缓存。
//
// POST /api/v1/mail/credentials/refresh
func (h *CredentialHandler) Refresh(c *gin.Context) {
	if err := h.mail.RefreshSMTPCredentials(c.Request.Context()); err != nil {
		InternalError(c, MsgCredentialListFailed)
		return
	}
	Success(c, nil)
}
