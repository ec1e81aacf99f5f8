package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Case211/remnawave-admin-sub001/internal/domain"
)

var (
	// ErrDomainNotFound 域名未找到错误
	ErrDomainNotFound = errors.New("mail domain not found")
	// ErrDomainExists 域名已存在错误
	ErrDomainExists = errors.New("mail domain already exists")
	// ErrMessageNotFound 邮件未找到错误
	ErrMessageNotFound = errors.New("message not found")
	// ErrCredentialNotFound 凭据未找到错误
	ErrCredentialNotFound = errors.New("smtp credential not found")
	// ErrCredentialExists 凭据已存在错误
	ErrCredentialExists = errors.New("smtp credential already exists")
	// ErrSettingNotFound 配置项未找到错误
	ErrSettingNotFound = errors.New("setting not found")
)

// MailDomainRepository 定义邮件域名配置的存取操作。
type MailDomainRepository interface {
	SaveMailDomain(ctx context.Context, d *domain.MailDomain) error
	GetMailDomain(ctx context.Context, id string) (*domain.MailDomain, error)
	GetMailDomainByName(ctx context.Context, name string) (*domain.MailDomain, error)
	ListMailDomains(ctx context.Context) ([]*domain.MailDomain, error)
	ListActiveMailDomains(ctx context.Context) ([]*domain.MailDomain, error)
}

// OutboundRepository 定义外发队列的存取操作。
//
// ClaimDueOutbound 是唯一的并发协调点：在一个事务内选出到期
// 条目（跳过已被其他 worker 锁定的行）、置为 sending 并递增
// attempts，保证多个 worker 不会重复处理同一条目。
type OutboundRepository interface {
	SaveOutboundEmail(ctx context.Context, m *domain.OutboundEmail) error
	GetOutboundEmail(ctx context.Context, id string) (*domain.OutboundEmail, error)
	UpdateOutboundEmail(ctx context.Context, m *domain.OutboundEmail) error
	ListOutboundEmails(ctx context.Context, status *domain.OutboundStatus, limit, offset int) ([]*domain.OutboundEmail, int64, error)
	// CountOutboundSince 统计某域名自 since 起创建的条目数（小时配额用）。
	CountOutboundSince(ctx context.Context, domainID string, since time.Time) (int64, error)
	// ClaimDueOutbound 认领一批到期条目，按优先级降序、创建时间升序。
	ClaimDueOutbound(ctx context.Context, now time.Time, batch int) ([]*domain.OutboundEmail, error)
}

// InboxRepository 定义入站邮件的存取操作。
type InboxRepository interface {
	SaveInboxMessage(ctx context.Context, m *domain.InboxMessage) error
	GetInboxMessage(ctx context.Context, id string) (*domain.InboxMessage, error)
	ListInboxMessages(ctx context.Context, domainID string, limit, offset int) ([]*domain.InboxMessage, int64, error)
	MarkInboxMessageRead(ctx context.Context, id string, read bool) error
	MarkInboxMessageSpam(ctx context.Context, id string, spam bool) error
	DeleteInboxMessage(ctx context.Context, id string) error
}

// CredentialRepository 定义提交中继凭据的存取操作。
type CredentialRepository interface {
	SaveSMTPCredential(ctx context.Context, c *domain.SMTPCredential) error
	GetSMTPCredential(ctx context.Context, id string) (*domain.SMTPCredential, error)
	GetSMTPCredentialByUsername(ctx context.Context, username string) (*domain.SMTPCredential, error)
	ListSMTPCredentials(ctx context.Context) ([]*domain.SMTPCredential, error)
	DeleteSMTPCredential(ctx context.Context, id string) error
	// RecordCredentialLogin 记录最近一次成功认证的时间与来源 IP。
	RecordCredentialLogin(ctx context.Context, id, ip string, at time.Time) error
}

// SettingRepository 定义键值配置项的存取操作。
type SettingRepository interface {
	GetSetting(ctx context.Context, name string) (string, error)
	SetSetting(ctx context.Context, name, value string) error
}

// Store 定义完整的存储接口。
type Store interface {
	MailDomainRepository
	OutboundRepository
	InboxRepository
	CredentialRepository
	SettingRepository

	// 工具方法
	Close() error
	Health() error
}
