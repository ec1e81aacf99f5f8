package domain

import "time"

// InboxMessage 表示一封已接收的入站邮件。
//
// 每个信封收件人对应一行：同一封邮件有多个本地收件人时会
// 产生多行。只由入站接收器创建，由面板标记已读/垃圾，
// 由管理员显式删除。
type InboxMessage struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	DomainID string `json:"domainId" gorm:"type:varchar(36);index"`

	// 信封地址
	EnvelopeFrom string `json:"envelopeFrom" gorm:"type:varchar(255)"`
	EnvelopeTo   string `json:"envelopeTo" gorm:"type:varchar(255);index"`

	// 解码后的头部
	FromHeader string     `json:"from" gorm:"type:varchar(500)"`
	ToHeader   string     `json:"to" gorm:"type:varchar(500)"`
	Subject    string     `json:"subject" gorm:"type:varchar(500)"`
	Date       *time.Time `json:"date"`
	MessageID  string     `json:"messageId" gorm:"type:varchar(255);index"`
	InReplyTo  string     `json:"inReplyTo" gorm:"type:varchar(255)"`

	TextBody string `json:"textBody" gorm:"type:text"`
	HTMLBody string `json:"htmlBody" gorm:"type:text"`
	// 原始邮件（最多保留 500KB）
	Raw string `json:"-" gorm:"type:text"`

	// 连接来源
	SourceIP   string `json:"sourceIp" gorm:"type:varchar(45)"`
	SourceHost string `json:"sourceHost" gorm:"type:varchar(255)"`

	HasAttachments  bool `json:"hasAttachments" gorm:"default:false"`
	AttachmentCount int  `json:"attachmentCount" gorm:"default:0"`

	IsRead bool `json:"isRead" gorm:"default:false;index"`
	IsSpam bool `json:"isSpam" gorm:"default:false;index"`

	ReceivedAt time.Time `json:"receivedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MaxRawSize 入站邮件原始内容的最大保留字节数。
const MaxRawSize = 500 * 1024
