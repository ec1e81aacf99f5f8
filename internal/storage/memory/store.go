package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// Store 内存存储实现，用于开发环境与测试。
//
// 所有方法在同一把读写锁下执行，ClaimDueOutbound 因此天然满足
// "认领互斥" 的语义，与 SQL 存储的 SKIP LOCKED 行为一致。
type Store struct {
	mu sync.RWMutex

	domains     map[string]*domain.MailDomain
	outbound    map[string]*domain.OutboundEmail
	inbox       map[string]*domain.InboxMessage
	credentials map[string]*domain.SMTPCredential
	settings    map[string]string
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		domains:     make(map[string]*domain.MailDomain),
		outbound:    make(map[string]*domain.OutboundEmail),
		inbox:       make(map[string]*domain.InboxMessage),
		credentials: make(map[string]*domain.SMTPCredential),
		settings:    make(map[string]string),
	}
}

// Close 关闭存储（内存实现为空操作）
func (s *Store) Close() error { return nil }

// Health 健康检查（内存实现总是健康）
func (s *Store) Health() error { return nil }

// --- MailDomainRepository ---

func (s *Store) SaveMailDomain(_ context.Context, d *domain.MailDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.UpdatedAt = time.Now()

	cp := *d
	s.domains[d.ID] = &cp
	return nil
}

func (s *Store) GetMailDomain(_ context.Context, id string) (*domain.MailDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.domains[id]
	if !ok {
		return nil, storage.ErrDomainNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) GetMailDomainByName(_ context.Context, name string) (*domain.MailDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.domains {
		if strings.EqualFold(d.Domain, name) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, storage.ErrDomainNotFound
}

func (s *Store) ListMailDomains(_ context.Context) ([]*domain.MailDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*domain.MailDomain, 0, len(s.domains))
	for _, d := range s.domains {
		cp := *d
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (s *Store) ListActiveMailDomains(ctx context.Context) ([]*domain.MailDomain, error) {
	all, err := s.ListMailDomains(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, d := range all {
		if d.IsActive {
			active = append(active, d)
		}
	}
	return active, nil
}

// --- OutboundRepository ---

func (s *Store) SaveOutboundEmail(_ context.Context, m *domain.OutboundEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.UpdatedAt = time.Now()

	cp := *m
	s.outbound[m.ID] = &cp
	return nil
}

func (s *Store) GetOutboundEmail(_ context.Context, id string) (*domain.OutboundEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.outbound[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) UpdateOutboundEmail(ctx context.Context, m *domain.OutboundEmail) error {
	return s.SaveOutboundEmail(ctx, m)
}

func (s *Store) ListOutboundEmails(_ context.Context, status *domain.OutboundStatus, limit, offset int) ([]*domain.OutboundEmail, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*domain.OutboundEmail
	for _, m := range s.outbound {
		if status != nil && m.Status != *status {
			continue
		}
		cp := *m
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })

	total := int64(len(list))
	if offset >= len(list) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(list) {
		end = len(list)
	}
	return list[offset:end], total, nil
}

func (s *Store) CountOutboundSince(_ context.Context, domainID string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, m := range s.outbound {
		if m.DomainID == domainID && !m.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) ClaimDueOutbound(_ context.Context, now time.Time, batch int) ([]*domain.OutboundEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.OutboundEmail
	for _, m := range s.outbound {
		if m.Status != domain.OutboundStatusPending && m.Status != domain.OutboundStatusFailed {
			continue
		}
		if m.Attempts >= m.MaxAttempts {
			continue
		}
		if m.NextAttemptAt != nil && m.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, m)
	}

	// 优先级降序，创建时间升序
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})

	if batch > 0 && len(due) > batch {
		due = due[:batch]
	}

	claimed := make([]*domain.OutboundEmail, 0, len(due))
	for _, m := range due {
		m.Status = domain.OutboundStatusSending
		m.Attempts++
		cp := *m
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// --- InboxRepository ---

func (s *Store) SaveInboxMessage(_ context.Context, m *domain.InboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	cp := *m
	s.inbox[m.ID] = &cp
	return nil
}

func (s *Store) GetInboxMessage(_ context.Context, id string) (*domain.InboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.inbox[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) ListInboxMessages(_ context.Context, domainID string, limit, offset int) ([]*domain.InboxMessage, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*domain.InboxMessage
	for _, m := range s.inbox {
		if domainID != "" && m.DomainID != domainID {
			continue
		}
		cp := *m
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ReceivedAt.After(list[j].ReceivedAt) })

	total := int64(len(list))
	if offset >= len(list) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(list) {
		end = len(list)
	}
	return list[offset:end], total, nil
}

func (s *Store) MarkInboxMessageRead(_ context.Context, id string, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.inbox[id]
	if !ok {
		return storage.ErrMessageNotFound
	}
	m.IsRead = read
	return nil
}

func (s *Store) MarkInboxMessageSpam(_ context.Context, id string, spam bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.inbox[id]
	if !ok {
		return storage.ErrMessageNotFound
	}
	m.IsSpam = spam
	return nil
}

func (s *Store) DeleteInboxMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inbox[id]; !ok {
		return storage.ErrMessageNotFound
	}
	delete(s.inbox, id)
	return nil
}

// --- CredentialRepository ---

func (s *Store) SaveSMTPCredential(_ context.Context, c *domain.SMTPCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 用户名唯一
	for _, existing := range s.credentials {
		if existing.ID != c.ID && strings.EqualFold(existing.Username, c.Username) {
			return storage.ErrCredentialExists
		}
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = time.Now()

	cp := *c
	s.credentials[c.ID] = &cp
	return nil
}

func (s *Store) GetSMTPCredential(_ context.Context, id string) (*domain.SMTPCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[id]
	if !ok {
		return nil, storage.ErrCredentialNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) GetSMTPCredentialByUsername(_ context.Context, username string) (*domain.SMTPCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.credentials {
		if c.Username == username {
			cp := *c
			return &cp, nil
		}
	}
	return nil, storage.ErrCredentialNotFound
}

func (s *Store) ListSMTPCredentials(_ context.Context) ([]*domain.SMTPCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*domain.SMTPCredential, 0, len(s.credentials))
	for _, c := range s.credentials {
		cp := *c
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (s *Store) DeleteSMTPCredential(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credentials[id]; !ok {
		return storage.ErrCredentialNotFound
	}
	delete(s.credentials, id)
	return nil
}

func (s *Store) RecordCredentialLogin(_ context.Context, id, ip string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[id]
	if !ok {
		return storage.ErrCredentialNotFound
	}
	c.LastLoginAt = &at
	c.LastLoginIP = ip
	return nil
}

// --- SettingRepository ---

func (s *Store) GetSetting(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.settings[name]
	if !ok {
		return "", storage.ErrSettingNotFound
	}
	return v, nil
}

func (s *Store) SetSetting(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[name] = value
	return nil
}
