package domain

import "time"

// MailDomain 表示一个可收发邮件的域名配置。
//
// 每个域名持有一对 DKIM 签名密钥与选择器标签，以及最近一次
// DNS 检查的结果。域名不做物理删除，通过 IsActive 软禁用。
type MailDomain struct {
	ID          string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Domain      string `json:"domain" gorm:"uniqueIndex;type:varchar(255);not null"`
	DisplayName string `json:"displayName" gorm:"type:varchar(255)"`
	IsActive    bool   `json:"isActive" gorm:"default:true;index"`

	// 收发开关
	InboundEnabled  bool `json:"inboundEnabled" gorm:"default:true"`
	OutboundEnabled bool `json:"outboundEnabled" gorm:"default:true"`

	// DKIM 签名材料
	DKIMSelector   string `json:"dkimSelector" gorm:"type:varchar(63);default:'mail'"`
	DKIMPrivateKey string `json:"-" gorm:"type:text"`
	DKIMPublicKey  string `json:"dkimPublicKey" gorm:"type:text"`

	// 每小时发送上限（0 表示不限制）
	HourlySendLimit int `json:"hourlySendLimit" gorm:"default:100"`

	// 最近一次 DNS 检查结果
	MXVerified    bool       `json:"mxVerified" gorm:"default:false"`
	SPFVerified   bool       `json:"spfVerified" gorm:"default:false"`
	DKIMVerified  bool       `json:"dkimVerified" gorm:"default:false"`
	DMARCVerified bool       `json:"dmarcVerified" gorm:"default:false"`
	DNSCheckedAt  *time.Time `json:"dnsCheckedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CanSend 判断域名当前是否允许外发。
func (d *MailDomain) CanSend() bool {
	return d.IsActive && d.OutboundEnabled
}

// CanReceive 判断域名当前是否允许接收。
func (d *MailDomain) CanReceive() bool {
	return d.IsActive && d.InboundEnabled
}
