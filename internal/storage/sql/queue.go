package sql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// SaveOutboundEmail 保存外发队列条目
func (s *Store) SaveOutboundEmail(ctx context.Context, m *domain.OutboundEmail) error {
	return s.gormDB.WithContext(ctx).Save(m).Error
}

// GetOutboundEmail 按 ID 获取外发条目
func (s *Store) GetOutboundEmail(ctx context.Context, id string) (*domain.OutboundEmail, error) {
	var m domain.OutboundEmail
	if err := s.gormDB.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

// UpdateOutboundEmail 更新外发条目（投递结果回写）
func (s *Store) UpdateOutboundEmail(ctx context.Context, m *domain.OutboundEmail) error {
	return s.gormDB.WithContext(ctx).Save(m).Error
}

// ListOutboundEmails 分页列出外发条目（status 为 nil 时不过滤）
func (s *Store) ListOutboundEmails(ctx context.Context, status *domain.OutboundStatus, limit, offset int) ([]*domain.OutboundEmail, int64, error) {
	q := s.gormDB.WithContext(ctx).Model(&domain.OutboundEmail{})
	if status != nil {
		q = q.Where("status = ?", *status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []*domain.OutboundEmail
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// CountOutboundSince 统计某域名自 since 起创建的条目数
func (s *Store) CountOutboundSince(ctx context.Context, domainID string, since time.Time) (int64, error) {
	var count int64
	err := s.gormDB.WithContext(ctx).
		Model(&domain.OutboundEmail{}).
		Where("domain_id = ? AND created_at >= ?", domainID, since).
		Count(&count).Error
	return count, err
}

// ClaimDueOutbound 认领一批到期的外发条目。
//
// 在单个事务内完成 SELECT ... FOR UPDATE SKIP LOCKED 与状态翻转：
// 到期条件为 status ∈ {pending, failed} 且 next_attempt_at 已到期
// 且 attempts < max_attempts；排序为优先级降序、创建时间升序。
// 返回的条目已置为 sending 且 attempts 已递增。
func (s *Store) ClaimDueOutbound(ctx context.Context, now time.Time, batch int) ([]*domain.OutboundEmail, error) {
	var claimed []*domain.OutboundEmail

	err := s.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []*domain.OutboundEmail
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status IN ?", []domain.OutboundStatus{domain.OutboundStatusPending, domain.OutboundStatusFailed}).
			Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
			Where("attempts < max_attempts").
			Order("priority DESC").
			Order("created_at ASC").
			Limit(batch).
			Find(&due).Error; err != nil {
			return err
		}

		for _, m := range due {
			m.Status = domain.OutboundStatusSending
			m.Attempts++
			if err := tx.Model(&domain.OutboundEmail{}).
				Where("id = ?", m.ID).
				Updates(map[string]interface{}{
					"status":   domain.OutboundStatusSending,
					"attempts": m.Attempts,
				}).Error; err != nil {
				return err
			}
		}

		claimed = due
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
