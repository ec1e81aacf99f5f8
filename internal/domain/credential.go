package domain

import (
	"strings"
	"time"
)

// SMTPCredential 表示一个外部提交中继账号。
//
// 密码以 bcrypt 哈希保存。AllowedFromDomains 为空表示不限制
// 发件人域名。每小时计数器是进程内派生缓存，不落库。
type SMTPCredential struct {
	ID           string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Username     string `json:"username" gorm:"uniqueIndex;type:varchar(255);not null"`
	PasswordHash string `json:"-" gorm:"type:varchar(255);not null"`
	IsActive     bool   `json:"isActive" gorm:"default:true;index"`

	// 允许的发件人域名列表（空 = 不限制）
	AllowedFromDomains []string `json:"allowedFromDomains" gorm:"serializer:json;type:json"`

	// 每小时提交上限
	HourlyLimit int `json:"hourlyLimit" gorm:"default:100"`

	LastLoginAt *time.Time `json:"lastLoginAt"`
	LastLoginIP string     `json:"lastLoginIp" gorm:"type:varchar(45)"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AllowsFromDomain 判断凭据是否允许以该域名作为发件人。
func (c *SMTPCredential) AllowsFromDomain(domain string) bool {
	if len(c.AllowedFromDomains) == 0 {
		return true
	}
	for _, d := range c.AllowedFromDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}
