// Package inbound 实现入站 SMTP 接收器。
//
// 只接收发往已启用收信域名的邮件，其余一律以 550 拒绝，
// 绝不充当开放中继。
package inbound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Case211/remnawave-admin-sub001/internal/cache"
	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/message"
	"github.com/Case211/remnawave-admin-sub001/internal/monitoring"
	"github.com/Case211/remnawave-admin-sub001/internal/ratelimit"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// maxMessageBytes 单封邮件的最大字节数
const maxMessageBytes = 10 << 20

// hourlyMessageLimit 单个来源 IP 每小时可投递的邮件数
const hourlyMessageLimit = 100

// domainCacheTTL 域名查询结果的缓存时间
const domainCacheTTL = time.Minute

// Backend 实现 go-smtp 的 Backend 接口。
//
// 域名查询结果缓存一分钟（含负缓存），面板上新增或禁用域名
// 最迟一分钟后生效。
type Backend struct {
	store   storage.Store
	counter ratelimit.HourlyCounter
	metrics *monitoring.Metrics
	logger  *zap.Logger

	// connLimiter 限制新建连接速率，防止连接风暴
	connLimiter *rate.Limiter
	domainCache *cache.TTL[*domain.MailDomain]
}

// NewBackend 创建入站接收器 Backend。
func NewBackend(store storage.Store, counter ratelimit.HourlyCounter, metrics *monitoring.Metrics, logger *zap.Logger) *Backend {
	return &Backend{
		store:       store,
		counter:     counter,
		metrics:     metrics,
		logger:      logger,
		connLimiter: rate.NewLimiter(rate.Limit(50), 100),
		domainCache: cache.NewTTL[*domain.MailDomain](domainCacheTTL),
	}
}

// Close 释放后台资源。
func (b *Backend) Close() {
	b.domainCache.Stop()
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if !b.connLimiter.Allow() {
		b.metrics.InboundRejected.WithLabelValues("conn_rate").Inc()
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}

	sourceIP := ""
	sourceHost := ""
	if addr := c.Conn().RemoteAddr(); addr != nil {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			sourceIP = host
		} else {
			sourceIP = addr.String()
		}
	}
	if c.Hostname() != "" {
		sourceHost = c.Hostname()
	}

	return &session{
		backend:    b,
		sourceIP:   sourceIP,
		sourceHost: sourceHost,
	}, nil
}

// lookupDomain 查找收信域名，结果（含未找到）缓存一分钟。
func (b *Backend) lookupDomain(ctx context.Context, name string) *domain.MailDomain {
	if cached, ok := b.domainCache.Get(name); ok {
		return cached
	}

	d, err := b.store.GetMailDomainByName(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrDomainNotFound) {
			// 负缓存
			b.domainCache.Set(name, nil)
			return nil
		}
		b.logger.Error("inbound domain lookup failed",
			zap.String("domain", name),
			zap.Error(err),
		)
		return nil
	}

	b.domainCache.Set(name, d)
	return d
}

type session struct {
	backend    *Backend
	sourceIP   string
	sourceHost string

	from       string
	recipients []recipient
}

type recipient struct {
	address string
	domain  *domain.MailDomain
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 这里是防止开放中继的关键：只有已启用收信的域名才会被接受。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	recipientDomain := message.AddressDomain(addr)
	if recipientDomain == "" {
		s.backend.metrics.InboundRejected.WithLabelValues("bad_address").Inc()
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	ctx := context.Background()

	// 来源 IP 配额先查（不递增，递增在 Data 成功时）
	if s.sourceIP != "" {
		count, err := s.backend.counter.Current(ctx, "inbound:"+s.sourceIP)
		if err == nil && count >= hourlyMessageLimit {
			s.backend.metrics.InboundRejected.WithLabelValues("rate_limit").Inc()
			return &gosmtp.SMTPError{
				Code:         450,
				EnhancedCode: gosmtp.EnhancedCode{4, 7, 1},
				Message:      "too many messages from your address, try again later",
			}
		}
	}

	d := s.backend.lookupDomain(ctx, recipientDomain)
	if d == nil || !d.CanReceive() {
		s.backend.metrics.InboundRejected.WithLabelValues("relay_denied").Inc()
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	s.recipients = append(s.recipients, recipient{address: addr, domain: d})
	return nil
}

// Data 处理邮件内容：解析 MIME 并为每个收件人落库一行。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(r, maxMessageBytes+1))
	if err != nil {
		return err
	}
	if len(raw) > maxMessageBytes {
		s.backend.metrics.InboundRejected.WithLabelValues("too_large").Inc()
		return &gosmtp.SMTPError{
			Code:         552,
			EnhancedCode: gosmtp.EnhancedCode{5, 3, 4},
			Message:      "message exceeds maximum size",
		}
	}

	ctx := context.Background()
	if s.sourceIP != "" {
		if _, err := s.backend.counter.Increment(ctx, "inbound:"+s.sourceIP); err != nil {
			s.backend.logger.Warn("inbound rate counter increment failed",
				zap.String("ip", s.sourceIP),
				zap.Error(err),
			)
		}
	}

	parsed, err := message.Parse(raw)
	if err != nil {
		s.backend.metrics.InboundRejected.WithLabelValues("parse_error").Inc()
		return fmt.Errorf("parse message: %w", err)
	}

	storedRaw := string(raw)
	if len(storedRaw) > domain.MaxRawSize {
		storedRaw = storedRaw[:domain.MaxRawSize]
	}

	for _, rcpt := range s.recipients {
		msg := &domain.InboxMessage{
			ID:              uuid.NewString(),
			DomainID:        rcpt.domain.ID,
			EnvelopeFrom:    s.from,
			EnvelopeTo:      rcpt.address,
			FromHeader:      parsed.From,
			ToHeader:        parsed.To,
			Subject:         parsed.Subject,
			Date:            parsed.Date,
			MessageID:       parsed.MessageID,
			InReplyTo:       parsed.InReplyTo,
			TextBody:        parsed.Text,
			HTMLBody:        parsed.HTML,
			Raw:             storedRaw,
			SourceIP:        s.sourceIP,
			SourceHost:      s.sourceHost,
			HasAttachments:  parsed.AttachmentCount > 0,
			AttachmentCount: parsed.AttachmentCount,
			ReceivedAt:      time.Now(),
		}

		if err := s.backend.store.SaveInboxMessage(ctx, msg); err != nil {
			s.backend.logger.Error("save inbound message failed",
				zap.String("to", rcpt.address),
				zap.Error(err),
			)
			return &gosmtp.SMTPError{
				Code:         451,
				EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
				Message:      "temporary storage failure, try again later",
			}
		}

		s.backend.metrics.InboundAccepted.Inc()
		s.backend.logger.Info("inbound message accepted",
			zap.String("id", msg.ID),
			zap.String("from", s.from),
			zap.String("to", rcpt.address),
			zap.String("source_ip", s.sourceIP),
		)
	}

	return nil
}

// Reset 重置会话状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
