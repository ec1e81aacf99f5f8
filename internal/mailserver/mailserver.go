// Package mailserver 组装邮件子系统：外发队列、入站接收器、
// 提交中继与 DNS 态势检查，对外提供面板调用的门面。
package mailserver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Case211/remnawave-admin-sub001/internal/config"
	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/dkim"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/dnscheck"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/inbound"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/queue"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/submission"
	"github.com/Case211/remnawave-admin-sub001/internal/monitoring"
	"github.com/Case211/remnawave-admin-sub001/internal/ratelimit"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// Service 邮件子系统门面。
//
// 面板通过它发送邮件、管理域名与检查 DNS；SMTP 监听器与
// 队列 worker 的生命周期也由它统一管理。
type Service struct {
	store   storage.Store
	cfg     config.MailConfig
	checker *dnscheck.Checker
	counter ratelimit.HourlyCounter
	metrics *monitoring.Metrics
	logger  *zap.Logger

	queue       *queue.Queue
	deliverer   *queue.MXDeliverer
	credentials *submission.CredentialCache

	inboundBackend   *inbound.Backend
	inboundServer    *gosmtp.Server
	submissionServer *gosmtp.Server

	started bool
}

// New 组装邮件子系统。
//
// counter 为空时使用进程内计数器；多副本部署时传入 Redis
// 计数器以共享配额。
func New(store storage.Store, cfg config.MailConfig, counter ratelimit.HourlyCounter, metrics *monitoring.Metrics, logger *zap.Logger) *Service {
	if counter == nil {
		counter = ratelimit.NewMemoryCounter(time.Hour)
	}

	deliverer := queue.NewMXDeliverer(cfg.Hostname, logger.Named("deliver"))
	q := queue.New(store, deliverer, metrics, logger.Named("queue"), queue.Options{
		PollInterval: cfg.QueuePollInterval,
		BatchSize:    cfg.QueueBatchSize,
	})

	credentials := submission.NewCredentialCache(store, logger.Named("credentials"))

	return &Service{
		store:       store,
		cfg:         cfg,
		checker:     dnscheck.NewChecker(cfg.DNSResolver, logger.Named("dnscheck")),
		counter:     counter,
		metrics:     metrics,
		logger:      logger,
		queue:       q,
		deliverer:   deliverer,
		credentials: credentials,
	}
}

// Queue 返回外发队列（管理 API 查询队列状态用）。
func (s *Service) Queue() *queue.Queue {
	return s.queue
}

// Checker 返回 DNS 态势检查器。
func (s *Service) Checker() *dnscheck.Checker {
	return s.checker
}

// Start 启动邮件子系统。
//
// 功能开关以 settings 表为准，环境变量只提供默认值。
// 子系统关闭时整个调用是空操作。
func (s *Service) Start(ctx context.Context) error {
	enabled := s.boolSetting(ctx, domain.SettingMailserverEnabled, s.cfg.Enabled)
	if !enabled {
		s.logger.Info("mail subsystem disabled, nothing to start")
		return nil
	}

	hostname := s.stringSetting(ctx, domain.SettingMailserverHostname, s.cfg.Hostname)
	inboundPort := s.intSetting(ctx, domain.SettingMailserverInboundPort, s.cfg.InboundPort)
	submissionEnabled := s.boolSetting(ctx, domain.SettingMailserverSubmissionEnabled, s.cfg.SubmissionEnabled)
	submissionPort := s.intSetting(ctx, domain.SettingMailserverSubmissionPort, s.cfg.SubmissionPort)

	// 投递端的 HELO 主机名与监听器用同一份解析结果
	s.deliverer.SetHostname(hostname)

	s.queue.Start()
	s.credentials.Start()

	s.inboundBackend = inbound.NewBackend(s.store, s.counter, s.metrics, s.logger.Named("inbound"))
	s.inboundServer = newSMTPServer(s.inboundBackend, fmt.Sprintf(":%d", inboundPort), hostname)

	go func() {
		s.logger.Info("starting inbound SMTP server",
			zap.String("address", s.inboundServer.Addr),
			zap.String("hostname", hostname),
		)
		if err := s.inboundServer.ListenAndServe(); err != nil {
			s.logger.Error("inbound SMTP server stopped", zap.Error(err))
		}
	}()

	if submissionEnabled {
		backend := submission.NewBackend(s.queue, s.credentials, s.store, s.counter, s.metrics, s.logger.Named("submission"))
		s.submissionServer = newSMTPServer(backend, fmt.Sprintf(":%d", submissionPort), hostname)
		s.submissionServer.AllowInsecureAuth = true

		go func() {
			s.logger.Info("starting submission server",
				zap.String("address", s.submissionServer.Addr),
			)
			if err := s.submissionServer.ListenAndServe(); err != nil {
				s.logger.Error("submission server stopped", zap.Error(err))
			}
		}()
	}

	s.started = true
	return nil
}

// Stop 停止邮件子系统。
//
// 每个组件独立停止，任一失败不影响其余组件。
func (s *Service) Stop() error {
	if !s.started {
		return nil
	}

	var errs []error
	if s.inboundServer != nil {
		if err := s.inboundServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close inbound server: %w", err))
		}
	}
	if s.submissionServer != nil {
		if err := s.submissionServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close submission server: %w", err))
		}
	}
	if s.inboundBackend != nil {
		s.inboundBackend.Close()
	}
	s.credentials.Stop()
	s.queue.Stop()

	s.started = false
	return errors.Join(errs...)
}

// SendEmail 以默认发件人发送一封邮件（面板内部调用）。
//
// 发件人是第一个允许外发的激活域名的 noreply 地址；没有
// 可用域名时返回空 ID 且不报错，调用方据此降级为站内通知。
func (s *Service) SendEmail(ctx context.Context, to, subject, text, html, category string) (string, error) {
	outboundDomain, err := s.GetActiveOutboundDomain(ctx)
	if err != nil {
		return "", err
	}
	if outboundDomain == nil {
		s.logger.Warn("no outbound domain configured, email dropped",
			zap.String("to", to),
			zap.String("category", category),
		)
		return "", nil
	}

	from := "noreply@" + outboundDomain.Domain
	fromName := outboundDomain.DisplayName

	return s.queue.Enqueue(ctx, queue.EnqueueInput{
		From:     from,
		FromName: fromName,
		To:       to,
		Subject:  subject,
		Text:     text,
		HTML:     html,
		Category: category,
	})
}

// GetActiveOutboundDomain 返回第一个允许外发的激活域名，
// 没有时返回 nil 且不报错。
func (s *Service) GetActiveOutboundDomain(ctx context.Context) (*domain.MailDomain, error) {
	domains, err := s.store.ListActiveMailDomains(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active domains: %w", err)
	}
	for _, d := range domains {
		if d.CanSend() {
			return d, nil
		}
	}
	return nil, nil
}

// SetupDomain 创建或更新一个邮件域名。
//
// 新域名生成一对 DKIM 密钥；已存在的域名保留密钥与此前的
// DNS 检查结果，只更新开关与展示名。
func (s *Service) SetupDomain(ctx context.Context, name, displayName string, inboundEnabled, outboundEnabled bool) (*domain.MailDomain, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if err := domain.ValidateDomainName(name); err != nil {
		return nil, err
	}

	existing, err := s.store.GetMailDomainByName(ctx, name)
	if err != nil && !errors.Is(err, storage.ErrDomainNotFound) {
		return nil, fmt.Errorf("lookup domain: %w", err)
	}

	if existing != nil {
		existing.DisplayName = displayName
		existing.InboundEnabled = inboundEnabled
		existing.OutboundEnabled = outboundEnabled
		existing.IsActive = true
		if err := s.store.SaveMailDomain(ctx, existing); err != nil {
			return nil, fmt.Errorf("update domain: %w", err)
		}
		s.logger.Info("mail domain updated", zap.String("domain", name))
		return existing, nil
	}

	keys, err := dkim.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate dkim keys: %w", err)
	}

	d := &domain.MailDomain{
		ID:              uuid.NewString(),
		Domain:          name,
		DisplayName:     displayName,
		IsActive:        true,
		InboundEnabled:  inboundEnabled,
		OutboundEnabled: outboundEnabled,
		DKIMSelector:    "mail",
		DKIMPrivateKey:  keys.PrivatePEM,
		DKIMPublicKey:   keys.PublicBase64,
		HourlySendLimit: 100,
	}
	if err := s.store.SaveMailDomain(ctx, d); err != nil {
		return nil, fmt.Errorf("save domain: %w", err)
	}

	s.logger.Info("mail domain created",
		zap.String("domain", name),
		zap.String("selector", d.DKIMSelector),
	)
	return d, nil
}

// CheckDomainDNS 对域名运行全部 DNS 检查并把结果落库。
func (s *Service) CheckDomainDNS(ctx context.Context, id string) (*dnscheck.DomainResult, error) {
	d, err := s.store.GetMailDomain(ctx, id)
	if err != nil {
		return nil, err
	}

	result := s.checker.CheckDomain(ctx, d.Domain, d.DKIMSelector, "")

	now := time.Now()
	d.MXVerified = result.MXOK
	d.SPFVerified = result.SPFOK
	d.DKIMVerified = result.DKIMOK
	d.DMARCVerified = result.DMARCOK
	d.DNSCheckedAt = &now
	if err := s.store.SaveMailDomain(ctx, d); err != nil {
		return nil, fmt.Errorf("persist dns check: %w", err)
	}

	s.logger.Info("dns check completed",
		zap.String("domain", d.Domain),
		zap.Bool("mx", result.MXOK),
		zap.Bool("spf", result.SPFOK),
		zap.Bool("dkim", result.DKIMOK),
		zap.Bool("dmarc", result.DMARCOK),
	)
	return &result, nil
}

// GetDomainDNSRecords 返回操作者需要为域名发布的 DNS 记录清单。
func (s *Service) GetDomainDNSRecords(ctx context.Context, id string) ([]dnscheck.Record, error) {
	d, err := s.store.GetMailDomain(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.checker.RequiredRecords(ctx, d.Domain, d.DKIMSelector, d.DKIMPublicKey, ""), nil
}

// RefreshSMTPCredentials 立即重载提交中继凭据缓存。
func (s *Service) RefreshSMTPCredentials(ctx context.Context) error {
	return s.credentials.Refresh(ctx)
}

// boolSetting 读取布尔配置项，缺失或非法时用默认值。
func (s *Service) boolSetting(ctx context.Context, name string, fallback bool) bool {
	value, err := s.store.GetSetting(ctx, name)
	if err != nil {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// intSetting 读取整数配置项，缺失或非法时用默认值。
func (s *Service) intSetting(ctx context.Context, name string, fallback int) int {
	value, err := s.store.GetSetting(ctx, name)
	if err != nil {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// stringSetting 读取字符串配置项，缺失时用默认值。
func (s *Service) stringSetting(ctx context.Context, name, fallback string) string {
	value, err := s.store.GetSetting(ctx, name)
	if err != nil || value == "" {
		return fallback
	}
	return value
}

// newSMTPServer 按统一参数创建 go-smtp 服务器。
func newSMTPServer(backend gosmtp.Backend, addr, hostname string) *gosmtp.Server {
	server := gosmtp.NewServer(backend)
	server.Addr = addr
	server.Domain = hostname
	server.ReadTimeout = 10 * time.Second
	server.WriteTimeout = 10 * time.Second
	server.MaxMessageBytes = 10 * 1024 * 1024
	server.MaxRecipients = 50
	return server
}
