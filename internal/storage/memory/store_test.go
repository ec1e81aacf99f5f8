package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

func TestMailDomainRoundTrip(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	d := &domain.MailDomain{
		ID:       "dom-1",
		Domain:   "example.com",
		IsActive: true,
	}
	require.NoError(t, store.SaveMailDomain(ctx, d))
	assert.False(t, d.CreatedAt.IsZero())

	got, err := store.GetMailDomain(ctx, "dom-1")
	require.NoError(t, err)
	assert.Equal(t, "example.com", got.Domain)

	byName, err := store.GetMailDomainByName(ctx, "EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "dom-1", byName.ID)

	_, err = store.GetMailDomain(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrDomainNotFound)
}

func TestListActiveMailDomains(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.SaveMailDomain(ctx, &domain.MailDomain{ID: "a", Domain: "a.com", IsActive: true}))
	require.NoError(t, store.SaveMailDomain(ctx, &domain.MailDomain{ID: "b", Domain: "b.com", IsActive: false}))

	active, err := store.ListActiveMailDomains(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)
}

func seedOutbound(t *testing.T, store *Store, id string, priority int, next time.Time) {
	t.Helper()
	require.NoError(t, store.SaveOutboundEmail(context.Background(), &domain.OutboundEmail{
		ID:            id,
		DomainID:      "dom-1",
		ToAddress:     "user@example.org",
		Status:        domain.OutboundStatusPending,
		Priority:      priority,
		MaxAttempts:   domain.DefaultMaxAttempts,
		NextAttemptAt: &next,
	}))
}

func TestClaimDueOutboundOrdering(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()

	seedOutbound(t, store, "low-old", 0, now.Add(-time.Minute))
	time.Sleep(time.Millisecond)
	seedOutbound(t, store, "low-new", 0, now.Add(-time.Minute))
	time.Sleep(time.Millisecond)
	seedOutbound(t, store, "high", 5, now.Add(-time.Minute))
	seedOutbound(t, store, "future", 9, now.Add(time.Hour))

	claimed, err := store.ClaimDueOutbound(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	// 优先级降序，同优先级按创建时间升序；未到期的不认领
	assert.Equal(t, "high", claimed[0].ID)
	assert.Equal(t, "low-old", claimed[1].ID)
	assert.Equal(t, "low-new", claimed[2].ID)

	for _, m := range claimed {
		assert.Equal(t, domain.OutboundStatusSending, m.Status)
		assert.Equal(t, 1, m.Attempts)
	}
}

func TestClaimDueOutboundIsExclusive(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()

	seedOutbound(t, store, "only", 0, now.Add(-time.Minute))

	first, err := store.ClaimDueOutbound(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// 已置为 sending 的条目不会被再次认领
	second, err := store.ClaimDueOutbound(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestClaimDueOutboundSkipsExhausted(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.SaveOutboundEmail(ctx, &domain.OutboundEmail{
		ID:          "spent",
		Status:      domain.OutboundStatusFailed,
		Attempts:    domain.DefaultMaxAttempts,
		MaxAttempts: domain.DefaultMaxAttempts,
	}))

	claimed, err := store.ClaimDueOutbound(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimDueOutboundBatchLimit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		seedOutbound(t, store, id, 0, now.Add(-time.Minute))
	}

	claimed, err := store.ClaimDueOutbound(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func TestCountOutboundSince(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	now := time.Now()
	seedOutbound(t, store, "recent", 0, now)
	seedOutbound(t, store, "other-domain", 0, now)

	// 手动改写归属域，验证按域过滤
	m, err := store.GetOutboundEmail(ctx, "other-domain")
	require.NoError(t, err)
	m.DomainID = "dom-2"
	require.NoError(t, store.UpdateOutboundEmail(ctx, m))

	count, err := store.CountOutboundSince(ctx, "dom-1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = store.CountOutboundSince(ctx, "dom-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestListOutboundEmailsFilterAndPaging(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()

	seedOutbound(t, store, "a", 0, now)
	require.NoError(t, store.SaveOutboundEmail(ctx, &domain.OutboundEmail{
		ID:     "sent",
		Status: domain.OutboundStatusSent,
	}))

	pending := domain.OutboundStatusPending
	list, total, err := store.ListOutboundEmails(ctx, &pending, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ID)

	_, total, err = store.ListOutboundEmails(ctx, nil, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestInboxLifecycle(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	msg := &domain.InboxMessage{
		ID:         "msg-1",
		DomainID:   "dom-1",
		EnvelopeTo: "user@example.com",
		ReceivedAt: time.Now(),
	}
	require.NoError(t, store.SaveInboxMessage(ctx, msg))

	require.NoError(t, store.MarkInboxMessageRead(ctx, "msg-1", true))
	require.NoError(t, store.MarkInboxMessageSpam(ctx, "msg-1", true))

	got, err := store.GetInboxMessage(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	assert.True(t, got.IsSpam)

	list, total, err := store.ListInboxMessages(ctx, "dom-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)

	_, total, err = store.ListInboxMessages(ctx, "dom-2", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)

	require.NoError(t, store.DeleteInboxMessage(ctx, "msg-1"))
	assert.ErrorIs(t, store.DeleteInboxMessage(ctx, "msg-1"), storage.ErrMessageNotFound)
}

func TestCredentialUsernameUnique(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.SaveSMTPCredential(ctx, &domain.SMTPCredential{
		ID:       "cred-1",
		Username: "panel",
	}))

	err := store.SaveSMTPCredential(ctx, &domain.SMTPCredential{
		ID:       "cred-2",
		Username: "PANEL",
	})
	assert.ErrorIs(t, err, storage.ErrCredentialExists)

	// 同一条记录可以重复保存
	require.NoError(t, store.SaveSMTPCredential(ctx, &domain.SMTPCredential{
		ID:       "cred-1",
		Username: "panel",
	}))
}

func TestRecordCredentialLogin(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.SaveSMTPCredential(ctx, &domain.SMTPCredential{
		ID:       "cred-1",
		Username: "panel",
	}))

	at := time.Now()
	require.NoError(t, store.RecordCredentialLogin(ctx, "cred-1", "203.0.113.7", at))

	got, err := store.GetSMTPCredential(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", got.LastLoginIP)
	require.NotNil(t, got.LastLoginAt)

	assert.ErrorIs(t, store.RecordCredentialLogin(ctx, "missing", "ip", at), storage.ErrCredentialNotFound)
}

func TestSettings(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_, err := store.GetSetting(ctx, "mailserver_enabled")
	assert.ErrorIs(t, err, storage.ErrSettingNotFound)

	require.NoError(t, store.SetSetting(ctx, "mailserver_enabled", "true"))

	v, err := store.GetSetting(ctx, "mailserver_enabled")
	require.NoError(t, err)
	assert.Equal(t, "true", v)
}
