package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// SettingHandler 处理运行时配置项请求。
type SettingHandler struct {
	store storage.Store
}

// NewSettingHandler 创建配置项处理器
func NewSettingHandler(store storage.Store) *SettingHandler {
	return &SettingHandler{store: store}
}

// Get 读取一个配置项。
//
// GET /api/v1/mail/settings/:name
func (h *SettingHandler) Get(c *gin.Context) {
	name := c.Param("name")
	value, err := h.store.GetSetting(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrSettingNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		InternalError(c, MsgSettingGetFailed)
		return
	}
	Success(c, gin.H{"name": name, "value": value})
}

// setSettingRequest 写配置项请求体
type setSettingRequest struct {
	Value string `json:"value" binding:"required"`
}

// Set 写入一个配置项。
//
// 监听端口类的配置项需要重启进程后生效，功能开关在下次
// 读取时生效。
//
// PUT /api/v1/mail/settings/:name
func (h *SettingHandler) Set(c *gin.Context) {
	var req setSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	name := c.Param("name")
	if err := h.store.SetSetting(c.Request.Context(), name, req.Value); err != nil {
		InternalError(c, MsgSettingSetFailed)
		return
	}
	Success(c, gin.H{"name": name, "value": req.Value})
}
