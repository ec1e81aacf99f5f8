package mailserver

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Case211/remnawave-admin-sub001/internal/config"
	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	"github.com/Case211/remnawave-admin-sub001/internal/monitoring"
	"github.com/Case211/remnawave-admin-sub001/internal/storage/memory"
)

var testMetrics = monitoring.NewMetrics()

// fakeResolver 测试用解析器
type fakeResolver struct {
	mx  map[string][]*net.MX
	txt map[string][]string
}

func (f *fakeResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	if records, ok := f.mx[name]; ok {
		return records, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func (f *fakeResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	if records, ok := f.txt[name]; ok {
		return records, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func (f *fakeResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	return nil, &net.DNSError{Err: "no such host", Name: addr, IsNotFound: true}
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := New(store, config.MailConfig{Hostname: "mail.panel.example"}, nil, testMetrics, zap.NewNop())
	return svc, store
}

func TestSetupDomainCreates(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	d, err := svc.SetupDomain(ctx, "Example.COM", "Admin Panel", true, true)
	require.NoError(t, err)

	assert.Equal(t, "example.com", d.Domain)
	assert.Equal(t, "Admin Panel", d.DisplayName)
	assert.True(t, d.IsActive)
	assert.Equal(t, "mail", d.DKIMSelector)
	assert.Contains(t, d.DKIMPrivateKey, "RSA PRIVATE KEY")
	assert.NotEmpty(t, d.DKIMPublicKey)
	assert.Equal(t, 100, d.HourlySendLimit)

	saved, err := store.GetMailDomainByName(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, d.ID, saved.ID)
}

func TestSetupDomainRejectsInvalidName(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SetupDomain(context.Background(), "not a domain", "", true, true)
	assert.ErrorIs(t, err, domain.ErrInvalidDomain)
}

func TestSetupDomainUpdatePreservesKeys(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	created, err := svc.SetupDomain(ctx, "example.com", "Old Name", true, true)
	require.NoError(t, err)

	// 手动写入一次 DNS 检查结果，更新后必须保留
	created.DKIMVerified = true
	require.NoError(t, store.SaveMailDomain(ctx, created))

	updated, err := svc.SetupDomain(ctx, "example.com", "New Name", false, true)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "New Name", updated.DisplayName)
	assert.False(t, updated.InboundEnabled)
	assert.Equal(t, created.DKIMPrivateKey, updated.DKIMPrivateKey)
	assert.True(t, updated.DKIMVerified)
}

func TestGetActiveOutboundDomain(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	got, err := svc.GetActiveOutboundDomain(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.SaveMailDomain(ctx, &domain.MailDomain{
		ID:              "inbound-only",
		Domain:          "in.example.com",
		IsActive:        true,
		InboundEnabled:  true,
		OutboundEnabled: false,
	}))
	require.NoError(t, store.SaveMailDomain(ctx, &domain.MailDomain{
		ID:              "sender",
		Domain:          "out.example.com",
		IsActive:        true,
		OutboundEnabled: true,
	}))

	got, err = svc.GetActiveOutboundDomain(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sender", got.ID)
}

func TestStartAlignsDelivererHostname(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	require.NoError(t, store.SetSetting(ctx, domain.SettingMailserverEnabled, "true"))
	require.NoError(t, store.SetSetting(ctx, domain.SettingMailserverHostname, "mx.override.example"))
	require.NoError(t, store.SetSetting(ctx, domain.SettingMailserverSubmissionEnabled, "false"))

	require.NoError(t, svc.Start(ctx))
	defer func() { require.NoError(t, svc.Stop()) }()

	// settings 覆盖主机名后，投递端的 HELO 必须跟监听器一致
	assert.Equal(t, "mx.override.example", svc.deliverer.Hostname())
}

func TestSendEmailWithoutDomainIsNoop(t *testing.T) {
	svc, _ := newTestService(t)

	id, err := svc.SendEmail(context.Background(), "user@example.org", "subject", "text", "", "notification")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSendEmailEnqueues(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetupDomain(ctx, "panel.example.com", "Admin Panel", true, true)
	require.NoError(t, err)

	id, err := svc.SendEmail(ctx, "user@example.org", "订阅到期提醒", "您的订阅即将到期。", "", "notification")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	queued, err := store.GetOutboundEmail(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "noreply@panel.example.com", queued.FromAddress)
	assert.Equal(t, "Admin Panel", queued.FromName)
	assert.Equal(t, "notification", queued.Category)
	assert.Equal(t, domain.OutboundStatusPending, queued.Status)
}

func TestCheckDomainDNSPersistsResults(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	d, err := svc.SetupDomain(ctx, "example.com", "", true, true)
	require.NoError(t, err)

	svc.Checker().WithServerIP("203.0.113.7").WithResolver(&fakeResolver{
		mx: map[string][]*net.MX{
			"example.com": {{Host: "mail.panel.example.", Pref: 10}},
		},
		txt: map[string][]string{
			"mail._domainkey.example.com": {"v=DKIM1; k=rsa; p=" + d.DKIMPublicKey},
			"_dmarc.example.com":          {"v=DMARC1; p=none"},
		},
	})

	result, err := svc.CheckDomainDNS(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, result.MXOK)
	assert.False(t, result.SPFOK)
	assert.True(t, result.DKIMOK)
	assert.True(t, result.DMARCOK)

	saved, err := store.GetMailDomain(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, saved.MXVerified)
	assert.False(t, saved.SPFVerified)
	assert.True(t, saved.DKIMVerified)
	assert.True(t, saved.DMARCVerified)
	require.NotNil(t, saved.DNSCheckedAt)
}

func TestGetDomainDNSRecords(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, err := svc.SetupDomain(ctx, "example.com", "", true, true)
	require.NoError(t, err)

	svc.Checker().WithResolver(&fakeResolver{}).WithServerIP("203.0.113.7")

	records, err := svc.GetDomainDNSRecords(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, records, 5)

	_, err = svc.GetDomainDNSRecords(ctx, "missing")
	assert.Error(t, err)
}
