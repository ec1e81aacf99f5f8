package submission

import (
	"context"
	"strings"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/queue"
	"github.com/Case211/remnawave-admin-sub001/internal/monitoring"
	"github.com/Case211/remnawave-admin-sub001/internal/ratelimit"
	"github.com/Case211/remnawave-admin-sub001/internal/storage/memory"
)

var testMetrics = monitoring.NewMetrics()

// noopDeliverer 队列只入队不投递，测试不触网
type noopDeliverer struct{}

func (noopDeliverer) Deliver(_ context.Context, _, _ string, _ []byte) (string, error) {
	return "250 ok", nil
}

func newTestSession(t *testing.T) (*session, *memory.Store, *ratelimit.MemoryCounter) {
	t.Helper()
	store := memory.NewStore()
	counter := ratelimit.NewMemoryCounter(time.Hour)
	logger := zap.NewNop()

	q := queue.New(store, noopDeliverer{}, testMetrics, logger, queue.Options{})
	credentials := NewCredentialCache(store, logger)
	backend := NewBackend(q, credentials, store, counter, testMetrics, logger)

	return &session{backend: backend, sourceIP: "198.51.100.9"}, store, counter
}

func seedCredential(t *testing.T, store *memory.Store, s *session, password string, allowed []string) *domain.SMTPCredential {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)

	cred := &domain.SMTPCredential{
		ID:                 "cred-1",
		Username:           "billing",
		PasswordHash:       string(hash),
		IsActive:           true,
		AllowedFromDomains: allowed,
		HourlyLimit:        100,
	}
	require.NoError(t, store.SaveSMTPCredential(context.Background(), cred))
	require.NoError(t, s.backend.credentials.Refresh(context.Background()))
	return cred
}

func seedSendingDomain(t *testing.T, store *memory.Store) {
	t.Helper()
	require.NoError(t, store.SaveMailDomain(context.Background(), &domain.MailDomain{
		ID:              "dom-1",
		Domain:          "panel.example.com",
		IsActive:        true,
		OutboundEnabled: true,
	}))
}

func smtpCode(t *testing.T, err error) int {
	t.Helper()
	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	return smtpErr.Code
}

func TestAuthenticateSuccess(t *testing.T) {
	s, store, _ := newTestSession(t)
	seedCredential(t, store, s, "correct-horse-battery", nil)

	require.NoError(t, s.authenticate("billing", "correct-horse-battery"))
	require.NotNil(t, s.credential)
	assert.Equal(t, "cred-1", s.credential.ID)

	// 成功认证会记录来源
	saved, err := store.GetSMTPCredential(context.Background(), "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.9", saved.LastLoginIP)
}

func TestAuthenticateBadPassword(t *testing.T) {
	s, store, _ := newTestSession(t)
	seedCredential(t, store, s, "correct-horse-battery", nil)

	err := s.authenticate("billing", "wrong")
	assert.Equal(t, 535, smtpCode(t, err))
	assert.Nil(t, s.credential)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	s, _, _ := newTestSession(t)

	err := s.authenticate("nobody", "whatever")
	assert.Equal(t, 535, smtpCode(t, err))
}

func TestAuthenticateInactiveCredential(t *testing.T) {
	s, store, _ := newTestSession(t)
	cred := seedCredential(t, store, s, "correct-horse-battery", nil)

	cred.IsActive = false
	require.NoError(t, store.SaveSMTPCredential(context.Background(), cred))
	require.NoError(t, s.backend.credentials.Refresh(context.Background()))

	err := s.authenticate("billing", "correct-horse-battery")
	assert.Equal(t, 535, smtpCode(t, err))
}

func TestAuthenticateHourlyLimit(t *testing.T) {
	s, store, counter := newTestSession(t)
	seedCredential(t, store, s, "correct-horse-battery", nil)

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_, err := counter.Increment(ctx, "submission:cred-1")
		require.NoError(t, err)
	}

	err := s.authenticate("billing", "correct-horse-battery")
	assert.Equal(t, 454, smtpCode(t, err))
}

func TestCommandsRequireAuth(t *testing.T) {
	s, _, _ := newTestSession(t)

	assert.Equal(t, 530, smtpCode(t, s.Mail("a@example.com", nil)))
	assert.Equal(t, 530, smtpCode(t, s.Rcpt("b@example.com", nil)))
	assert.Equal(t, 530, smtpCode(t, s.Data(strings.NewReader("x"))))
}

func TestDataQueuesPerRecipient(t *testing.T) {
	s, store, counter := newTestSession(t)
	seedCredential(t, store, s, "correct-horse-battery", nil)
	seedSendingDomain(t, store)

	require.NoError(t, s.authenticate("billing", "correct-horse-battery"))
	require.NoError(t, s.Mail("<Billing@Panel.Example.Com>", nil))
	require.NoError(t, s.Rcpt("alice@example.org", nil))
	require.NoError(t, s.Rcpt("bob@example.org", nil))

	raw := "From: \"Billing\" <billing@panel.example.com>\r\n" +
		"To: alice@example.org\r\n" +
		"Subject: invoice\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		"your invoice\r\n"

	require.NoError(t, s.Data(strings.NewReader(raw)))

	list, total, err := store.ListOutboundEmails(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	for _, m := range list {
		assert.Equal(t, "billing@panel.example.com", m.FromAddress)
		assert.Equal(t, "Billing", m.FromName)
		assert.Equal(t, "invoice", m.Subject)
		assert.Equal(t, "submission", m.Category)
		assert.Equal(t, domain.OutboundStatusPending, m.Status)
	}

	count, err := counter.Current(context.Background(), "submission:cred-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDataRejectsDisallowedFromDomain(t *testing.T) {
	s, store, _ := newTestSession(t)
	seedCredential(t, store, s, "correct-horse-battery", []string{"panel.example.com"})
	seedSendingDomain(t, store)

	require.NoError(t, s.authenticate("billing", "correct-horse-battery"))
	require.NoError(t, s.Mail("spoof@other.example.net", nil))
	require.NoError(t, s.Rcpt("victim@example.org", nil))

	err := s.Data(strings.NewReader("Subject: x\r\n\r\nbody\r\n"))
	assert.Equal(t, 550, smtpCode(t, err))
}

func TestDataRejectsUnmanagedSenderDomain(t *testing.T) {
	s, store, _ := newTestSession(t)
	seedCredential(t, store, s, "correct-horse-battery", nil)
	// 没有配置任何发送域

	require.NoError(t, s.authenticate("billing", "correct-horse-battery"))
	require.NoError(t, s.Mail("billing@panel.example.com", nil))
	require.NoError(t, s.Rcpt("user@example.org", nil))

	err := s.Data(strings.NewReader("Subject: x\r\n\r\nbody\r\n"))
	assert.Equal(t, 550, smtpCode(t, err))

	_, total, listErr := store.ListOutboundEmails(context.Background(), nil, 10, 0)
	require.NoError(t, listErr)
	assert.Zero(t, total)
}

func TestResetKeepsAuthentication(t *testing.T) {
	s, store, _ := newTestSession(t)
	seedCredential(t, store, s, "correct-horse-battery", nil)

	require.NoError(t, s.authenticate("billing", "correct-horse-battery"))
	require.NoError(t, s.Mail("billing@panel.example.com", nil))

	s.Reset()
	assert.Empty(t, s.from)
	assert.Empty(t, s.recipients)
	assert.NotNil(t, s.credential)
}

func TestAuthMechanisms(t *testing.T) {
	s, _, _ := newTestSession(t)
	assert.Equal(t, []string{"PLAIN", "LOGIN"}, s.AuthMechanisms())

	_, err := s.Auth("PLAIN")
	require.NoError(t, err)
	_, err = s.Auth("CRAM-MD5")
	assert.Error(t, err)
}

func TestLoginMechanism(t *testing.T) {
	s, store, _ := newTestSession(t)
	seedCredential(t, store, s, "correct-horse-battery", nil)

	srv, err := s.Auth("LOGIN")
	require.NoError(t, err)

	chal, done, err := srv.Next(nil)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, []byte("Username:"), chal)

	chal, done, err = srv.Next([]byte("billing"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, []byte("Password:"), chal)

	_, done, err = srv.Next([]byte("correct-horse-battery"))
	require.NoError(t, err)
	assert.True(t, done)
	require.NotNil(t, s.credential)
	assert.Equal(t, "cred-1", s.credential.ID)
}

func TestLoginMechanismInitialResponse(t *testing.T) {
	s, store, _ := newTestSession(t)
	seedCredential(t, store, s, "correct-horse-battery", nil)

	srv, err := s.Auth("LOGIN")
	require.NoError(t, err)

	// 客户端把用户名作为 initial response 直接带上
	chal, done, err := srv.Next([]byte("billing"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, []byte("Password:"), chal)

	_, done, err = srv.Next([]byte("correct-horse-battery"))
	require.NoError(t, err)
	assert.True(t, done)
	assert.NotNil(t, s.credential)
}

func TestLoginMechanismBadPassword(t *testing.T) {
	s, store, _ := newTestSession(t)
	seedCredential(t, store, s, "correct-horse-battery", nil)

	srv, err := s.Auth("LOGIN")
	require.NoError(t, err)

	_, _, err = srv.Next(nil)
	require.NoError(t, err)
	_, _, err = srv.Next([]byte("billing"))
	require.NoError(t, err)

	_, done, err := srv.Next([]byte("wrong"))
	assert.True(t, done)
	assert.Equal(t, 535, smtpCode(t, err))
	assert.Nil(t, s.credential)
}

func TestDataRejectsSpoofedFromHeader(t *testing.T) {
	s, store, _ := newTestSession(t)
	seedCredential(t, store, s, "correct-horse-battery", []string{"panel.example.com"})
	seedSendingDomain(t, store)

	require.NoError(t, s.authenticate("billing", "correct-horse-battery"))
	// 信封地址在允许列表里，但收件人看到的 From 头不在
	require.NoError(t, s.Mail("ok@panel.example.com", nil))
	require.NoError(t, s.Rcpt("victim@example.org", nil))

	raw := "From: Someone <someone@other.com>\r\n" +
		"Subject: spoof\r\n" +
		"\r\n" +
		"body\r\n"
	err := s.Data(strings.NewReader(raw))
	assert.Equal(t, 550, smtpCode(t, err))

	_, total, listErr := store.ListOutboundEmails(context.Background(), nil, 10, 0)
	require.NoError(t, listErr)
	assert.Zero(t, total)
}

func TestDataKeepsQueuedWhenQuotaHitsMidBatch(t *testing.T) {
	s, store, _ := newTestSession(t)
	seedCredential(t, store, s, "correct-horse-battery", nil)
	require.NoError(t, store.SaveMailDomain(context.Background(), &domain.MailDomain{
		ID:              "dom-1",
		Domain:          "panel.example.com",
		IsActive:        true,
		OutboundEnabled: true,
		HourlySendLimit: 1,
	}))

	require.NoError(t, s.authenticate("billing", "correct-horse-battery"))
	require.NoError(t, s.Mail("billing@panel.example.com", nil))
	require.NoError(t, s.Rcpt("alice@example.org", nil))
	require.NoError(t, s.Rcpt("bob@example.org", nil))

	raw := "From: billing@panel.example.com\r\n" +
		"Subject: x\r\n" +
		"\r\n" +
		"body\r\n"

	// 第二个收件人触发域配额，但第一个已入队：整个 DATA 仍被
	// 接受，客户端重试不会把第一封重复投递
	require.NoError(t, s.Data(strings.NewReader(raw)))

	_, total, err := store.ListOutboundEmails(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestDataFailsWhenNothingQueued(t *testing.T) {
	s, store, _ := newTestSession(t)
	seedCredential(t, store, s, "correct-horse-battery", nil)
	require.NoError(t, store.SaveMailDomain(context.Background(), &domain.MailDomain{
		ID:              "dom-1",
		Domain:          "panel.example.com",
		IsActive:        true,
		OutboundEnabled: true,
		HourlySendLimit: 1,
	}))

	// 配额已被之前的发送用完
	require.NoError(t, store.SaveOutboundEmail(context.Background(), &domain.OutboundEmail{
		ID:       "sent-1",
		DomainID: "dom-1",
		Status:   domain.OutboundStatusSent,
	}))

	require.NoError(t, s.authenticate("billing", "correct-horse-battery"))
	require.NoError(t, s.Mail("billing@panel.example.com", nil))
	require.NoError(t, s.Rcpt("alice@example.org", nil))

	raw := "From: billing@panel.example.com\r\nSubject: x\r\n\r\nbody\r\n"
	err := s.Data(strings.NewReader(raw))
	assert.Equal(t, 454, smtpCode(t, err))
}
