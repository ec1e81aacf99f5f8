package httptransport

import (
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/queue"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	storage.ErrDomainNotFound:     "域名不存在",
	storage.ErrDomainExists:       "域名已存在",
	storage.ErrMessageNotFound:    "邮件不存在",
	storage.ErrCredentialNotFound: "SMTP凭据不存在",
	storage.ErrCredentialExists:   "SMTP凭据已存在",
	storage.ErrSettingNotFound:    "配置项不存在",

	queue.ErrHourlyLimitExceeded: "该域名本小时发送配额已用尽",
	queue.ErrDomainNotSendable:   "发件域名不存在或未启用外发",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	MsgInvalidRequest = "请求参数格式错误"

	MsgSendFailed        = "发送邮件失败"
	MsgDomainSetupFailed = "配置域名失败"
	MsgDomainListFailed  = "获取域名列表失败"
	MsgDNSCheckFailed    = "DNS检查失败"

	MsgQueueListFailed = "获取外发队列失败"
	MsgQueueGetFailed  = "获取外发邮件详情失败"

	MsgInboxListFailed   = "获取收件箱失败"
	MsgInboxGetFailed    = "获取邮件详情失败"
	MsgInboxUpdateFailed = "更新邮件状态失败"
	MsgInboxDeleteFailed = "删除邮件失败"

	MsgCredentialCreateFailed = "创建SMTP凭据失败"
	MsgCredentialListFailed   = "获取SMTP凭据列表失败"
	MsgCredentialDeleteFailed = "删除SMTP凭据失败"

	MsgSettingGetFailed = "获取配置项失败"
	MsgSettingSetFailed = "保存配置项失败"

	MsgInternalError = "服务器内部错误，请稍后重试"
)
