package domain

import "time"

// OutboundStatus 外发邮件生命周期状态。
type OutboundStatus string

const (
	// OutboundStatusPending 等待投递
	OutboundStatusPending OutboundStatus = "pending"
	// OutboundStatusSending 投递中（已被某个 worker 认领）
	OutboundStatusSending OutboundStatus = "sending"
	// OutboundStatusSent 投递成功
	OutboundStatusSent OutboundStatus = "sent"
	// OutboundStatusFailed 投递失败（attempts < max_attempts 时可重试）
	OutboundStatusFailed OutboundStatus = "failed"
	// OutboundStatusCancelled 已取消
	OutboundStatusCancelled OutboundStatus = "cancelled"
)

// DefaultMaxAttempts 默认最大投递次数。
const DefaultMaxAttempts = 5

// OutboundEmail 表示外发队列中的一封邮件。
//
// 不变量：status 为 pending/sending 时 attempts < max_attempts；
// 一旦 attempts >= max_attempts，status 永久为 failed 且不再重试。
// 行只由队列 worker 修改，不自动删除。
type OutboundEmail struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	DomainID string `json:"domainId" gorm:"type:varchar(36);index"`

	FromAddress string `json:"from" gorm:"type:varchar(255);not null"`
	FromName    string `json:"fromName" gorm:"type:varchar(255)"`
	ToAddress   string `json:"to" gorm:"type:varchar(255);not null"`
	Subject     string `json:"subject" gorm:"type:varchar(500)"`
	TextBody    string `json:"textBody" gorm:"type:text"`
	HTMLBody    string `json:"htmlBody" gorm:"type:text"`
	Category    string `json:"category" gorm:"type:varchar(50);index"`

	// 优先级越高越先投递
	Priority int `json:"priority" gorm:"default:0;index"`

	Status        OutboundStatus `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	Attempts      int            `json:"attempts" gorm:"default:0"`
	MaxAttempts   int            `json:"maxAttempts" gorm:"default:5"`
	NextAttemptAt *time.Time     `json:"nextAttemptAt" gorm:"index"`
	LastError     string         `json:"lastError" gorm:"type:varchar(500)"`
	SMTPResponse  string         `json:"smtpResponse" gorm:"type:varchar(500)"`
	MessageID     string         `json:"messageId" gorm:"type:varchar(255)"`
	SentAt        *time.Time     `json:"sentAt"`

	CreatedAt time.Time `json:"createdAt" gorm:"index"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Exhausted 判断投递次数是否已用尽。
func (m *OutboundEmail) Exhausted() bool {
	return m.Attempts >= m.MaxAttempts
}
