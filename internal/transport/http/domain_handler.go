package httptransport

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Case211/remnawave-admin-sub001/internal/mailserver"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/dkim"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// DomainHandler 处理邮件域名管理请求。
type DomainHandler struct {
	mail  *mailserver.Service
	store storage.Store
}

// NewDomainHandler 创建域名处理器
func NewDomainHandler(mail *mailserver.Service, store storage.Store) *DomainHandler {
	return &DomainHandler{mail: mail, store: store}
}

// setupDomainRequest 配置域名请求体
type setupDomainRequest struct {
	Domain          string `json:"domain" binding:"required,fqdn"`
	DisplayName     string `json:"displayName"`
	InboundEnabled  *bool  `json:"inboundEnabled"`
	OutboundEnabled *bool  `json:"outboundEnabled"`
}

// List 列出全部邮件域名。
//
// GET /api/v1/mail/domains
func (h *DomainHandler) List(c *gin.Context) {
	domains, err := h.store.ListMailDomains(c.Request.Context())
	if err != nil {
		InternalError(c, MsgDomainListFailed)
		return
	}
	Success(c, domains)
}

// Setup 创建或更新一个邮件域名。
//
// POST /api/v1/mail/domains
func (h *DomainHandler) Setup(c *gin.Context) {
	var req setupDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	inbound := true
	if req.InboundEnabled != nil {
		inbound = *req.InboundEnabled
	}
	outbound := true
	if req.OutboundEnabled != nil {
		outbound = *req.OutboundEnabled
	}

	name := strings.ToLower(strings.TrimSpace(req.Domain))
	d, err := h.mail.SetupDomain(c.Request.Context(), name, req.DisplayName, inbound, outbound)
	if err != nil {
		InternalError(c, MsgDomainSetupFailed)
		return
	}
	Created(c, d)
}

// Get 查询单个域名。
//
// GET /api/v1/mail/domains/:id
func (h *DomainHandler) Get(c *gin.Context) {
	d, err := h.store.GetMailDomain(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrDomainNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgDomainListFailed)
		return
	}
	Success(c, d)
}

// CheckDNS 对域名运行 DNS 检查并返回结果。
//
// POST /api/v1/mail/domains/:id/dns-check
func (h *DomainHandler) CheckDNS(c *gin.Context) {
	result, err := h.mail.CheckDomainDNS(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrDomainNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgDNSCheckFailed)
		return
	}
	Success(c, result)
}

// DNSRecords 返回域名需要发布的 DNS 记录清单。
//
// GET /api/v1/mail/domains/:id/dns-records
func (h *DomainHandler) DNSRecords(c *gin.Context) {
	records, err := h.mail.GetDomainDNSRecords(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrDomainNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgDNSCheckFailed)
		return
	}

	// 方便面板直接展示选择器记录值
	d, err := h.store.GetMailDomain(c.Request.Context(), c.Param("id"))
	if err != nil {
		InternalError(c, MsgDNSCheckFailed)
		return
	}

	Success(c, gin.H{
		"records":      records,
		"dkimSelector": d.DKIMSelector,
		"dkimHost":     dkim.SelectorHost(d.DKIMSelector, d.Domain),
		"dkimValue":    dkim.TXTRecordValue(d.DKIMPublicKey),
	})
}
