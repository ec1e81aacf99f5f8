package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 8+ 和 PostgreSQL）。
//
// 外发队列的 ClaimDueOutbound 依赖 FOR UPDATE SKIP LOCKED，
// 两种数据库均支持。
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库存储
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var gormDB *gorm.DB
	switch driverName {
	case "mysql":
		gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: db}), gormConfig)
	case "postgres":
		gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}

// migrate 执行数据库迁移（使用 GORM AutoMigrate）
func (s *Store) migrate() error {
	return s.gormDB.AutoMigrate(
		&domain.MailDomain{},
		&domain.OutboundEmail{},
		&domain.InboxMessage{},
		&domain.SMTPCredential{},
		&domain.Setting{},
	)
}

// --- MailDomainRepository ---

// SaveMailDomain 保存（新建或更新）域名配置。
// 域名在表内唯一，归属于其他 ID 的同名记录视为冲突。
func (s *Store) SaveMailDomain(ctx context.Context, d *domain.MailDomain) error {
	existing, err := s.GetMailDomainByName(ctx, d.Domain)
	if err != nil && !errors.Is(err, storage.ErrDomainNotFound) {
		return err
	}
	if existing != nil && existing.ID != d.ID {
		return storage.ErrDomainExists
	}
	return s.gormDB.WithContext(ctx).Save(d).Error
}

// GetMailDomain 按 ID 获取域名配置
func (s *Store) GetMailDomain(ctx context.Context, id string) (*domain.MailDomain, error) {
	var d domain.MailDomain
	if err := s.gormDB.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrDomainNotFound
		}
		return nil, err
	}
	return &d, nil
}

// GetMailDomainByName 按域名获取配置
func (s *Store) GetMailDomainByName(ctx context.Context, name string) (*domain.MailDomain, error) {
	var d domain.MailDomain
	if err := s.gormDB.WithContext(ctx).First(&d, "domain = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrDomainNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListMailDomains 列出全部域名配置
func (s *Store) ListMailDomains(ctx context.Context) ([]*domain.MailDomain, error) {
	var list []*domain.MailDomain
	if err := s.gormDB.WithContext(ctx).Order("created_at ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ListActiveMailDomains 列出激活的域名配置
func (s *Store) ListActiveMailDomains(ctx context.Context) ([]*domain.MailDomain, error) {
	var list []*domain.MailDomain
	if err := s.gormDB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// --- InboxRepository ---

// SaveInboxMessage 保存入站邮件
func (s *Store) SaveInboxMessage(ctx context.Context, m *domain.InboxMessage) error {
	return s.gormDB.WithContext(ctx).Save(m).Error
}

// GetInboxMessage 按 ID 获取入站邮件
func (s *Store) GetInboxMessage(ctx context.Context, id string) (*domain.InboxMessage, error) {
	var m domain.InboxMessage
	if err := s.gormDB.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListInboxMessages 分页列出入站邮件（domainID 为空时不过滤）
func (s *Store) ListInboxMessages(ctx context.Context, domainID string, limit, offset int) ([]*domain.InboxMessage, int64, error) {
	q := s.gormDB.WithContext(ctx).Model(&domain.InboxMessage{})
	if domainID != "" {
		q = q.Where("domain_id = ?", domainID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []*domain.InboxMessage
	if err := q.Order("received_at DESC").Limit(limit).Offset(offset).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// MarkInboxMessageRead 设置已读标记
func (s *Store) MarkInboxMessageRead(ctx context.Context, id string, read bool) error {
	return s.markInboxFlag(ctx, id, "is_read", read)
}

// MarkInboxMessageSpam 设置垃圾邮件标记
func (s *Store) MarkInboxMessageSpam(ctx context.Context, id string, spam bool) error {
	return s.markInboxFlag(ctx, id, "is_spam", spam)
}

func (s *Store) markInboxFlag(ctx context.Context, id, column string, value bool) error {
	res := s.gormDB.WithContext(ctx).
		Model(&domain.InboxMessage{}).
		Where("id = ?", id).
		Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// DeleteInboxMessage 删除入站邮件
func (s *Store) DeleteInboxMessage(ctx context.Context, id string) error {
	res := s.gormDB.WithContext(ctx).Delete(&domain.InboxMessage{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// --- CredentialRepository ---

// SaveSMTPCredential 保存提交中继凭据。用户名唯一。
func (s *Store) SaveSMTPCredential(ctx context.Context, c *domain.SMTPCredential) error {
	existing, err := s.GetSMTPCredentialByUsername(ctx, c.Username)
	if err != nil && !errors.Is(err, storage.ErrCredentialNotFound) {
		return err
	}
	if existing != nil && existing.ID != c.ID {
		return storage.ErrCredentialExists
	}
	return s.gormDB.WithContext(ctx).Save(c).Error
}

// GetSMTPCredential 按 ID 获取凭据
func (s *Store) GetSMTPCredential(ctx context.Context, id string) (*domain.SMTPCredential, error) {
	var c domain.SMTPCredential
	if err := s.gormDB.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrCredentialNotFound
		}
		return nil, err
	}
	return &c, nil
}

// GetSMTPCredentialByUsername 按用户名获取凭据
func (s *Store) GetSMTPCredentialByUsername(ctx context.Context, username string) (*domain.SMTPCredential, error) {
	var c domain.SMTPCredential
	if err := s.gormDB.WithContext(ctx).First(&c, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrCredentialNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListSMTPCredentials 列出全部凭据
func (s *Store) ListSMTPCredentials(ctx context.Context) ([]*domain.SMTPCredential, error) {
	var list []*domain.SMTPCredential
	if err := s.gormDB.WithContext(ctx).Order("created_at ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// DeleteSMTPCredential 删除凭据
func (s *Store) DeleteSMTPCredential(ctx context.Context, id string) error {
	res := s.gormDB.WithContext(ctx).Delete(&domain.SMTPCredential{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrCredentialNotFound
	}
	return nil
}

// RecordCredentialLogin 记录最近一次成功认证
func (s *Store) RecordCredentialLogin(ctx context.Context, id, ip string, at time.Time) error {
	return s.gormDB.WithContext(ctx).
		Model(&domain.SMTPCredential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_login_at": at,
			"last_login_ip": ip,
		}).Error
}

// --- SettingRepository ---

// GetSetting 获取配置项的值
func (s *Store) GetSetting(ctx context.Context, name string) (string, error) {
	var setting domain.Setting
	if err := s.gormDB.WithContext(ctx).First(&setting, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", storage.ErrSettingNotFound
		}
		return "", err
	}
	return setting.Value, nil
}

// SetSetting 写入配置项
func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	return s.gormDB.WithContext(ctx).Save(&domain.Setting{
		Name:  name,
		Value: value,
	}).Error
}
