// Package submission 实现带认证的 SMTP 提交中继。
//
// 外部系统（计费、工单、告警）用用户名密码连上来投递邮件，
// 通过认证与发件域校验后进入外发队列，由队列统一签名投递。
package submission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/message"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/queue"
	"github.com/Case211/remnawave-admin-sub001/internal/monitoring"
	"github.com/Case211/remnawave-admin-sub001/internal/ratelimit"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// maxMessageBytes 单封提交邮件的最大字节数
const maxMessageBytes = 10 << 20

// Backend 实现 go-smtp 的 Backend 接口（提交端口）。
type Backend struct {
	queue       *queue.Queue
	credentials *CredentialCache
	store       storage.CredentialRepository
	counter     ratelimit.HourlyCounter
	metrics     *monitoring.Metrics
	logger      *zap.Logger
}

// NewBackend 创建提交中继 Backend。
func NewBackend(q *queue.Queue, credentials *CredentialCache, store storage.CredentialRepository, counter ratelimit.HourlyCounter, metrics *monitoring.Metrics, logger *zap.Logger) *Backend {
	return &Backend{
		queue:       q,
		credentials: credentials,
		store:       store,
		counter:     counter,
		metrics:     metrics,
		logger:      logger,
	}
}

// NewSession 创建新的提交会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	sourceIP := ""
	if addr := c.Conn().RemoteAddr(); addr != nil {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			sourceIP = host
		} else {
			sourceIP = addr.String()
		}
	}
	return &session{backend: b, sourceIP: sourceIP}, nil
}

type session struct {
	backend  *Backend
	sourceIP string

	credential *domain.SMTPCredential
	from       string
	recipients []string
}

// AuthMechanisms 支持的认证机制。
func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain, sasl.Login}
}

// Auth 处理 AUTH 命令。
func (s *session) Auth(mech string) (sasl.Server, error) {
	switch mech {
	case sasl.Plain:
		return sasl.NewPlainServer(func(identity, username, password string) error {
			return s.authenticate(username, password)
		}), nil
	case sasl.Login:
		return newLoginServer(func(username, password string) error {
			return s.authenticate(username, password)
		}), nil
	default:
		return nil, fmt.Errorf("unsupported auth mechanism: %s", mech)
	}
}

// authenticate 校验用户名密码并检查提交配额。
func (s *session) authenticate(username, password string) error {
	cred, ok := s.backend.credentials.Lookup(username)
	if !ok || !cred.IsActive {
		s.backend.metrics.AuthFailures.Inc()
		s.backend.logger.Warn("submission auth failed",
			zap.String("username", username),
			zap.String("source_ip", s.sourceIP),
			zap.Bool("known", ok),
		)
		return &gosmtp.SMTPError{
			Code:         535,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
			Message:      "authentication credentials invalid",
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		s.backend.metrics.AuthFailures.Inc()
		s.backend.logger.Warn("submission auth failed, bad password",
			zap.String("username", username),
			zap.String("source_ip", s.sourceIP),
		)
		return &gosmtp.SMTPError{
			Code:         535,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
			Message:      "authentication credentials invalid",
		}
	}

	ctx := context.Background()

	// 认证即检查配额，超限的客户端连 MAIL 都发不了
	if cred.HourlyLimit > 0 {
		count, err := s.backend.counter.Current(ctx, "submission:"+cred.ID)
		if err == nil && count >= int64(cred.HourlyLimit) {
			s.backend.metrics.SubmissionRejected.WithLabelValues("rate_limit").Inc()
			return &gosmtp.SMTPError{
				Code:         454,
				EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
				Message:      "hourly submission limit reached, try again later",
			}
		}
	}

	if err := s.backend.store.RecordCredentialLogin(ctx, cred.ID, s.sourceIP, time.Now()); err != nil {
		s.backend.logger.Warn("record credential login failed",
			zap.String("username", username),
			zap.Error(err),
		)
	}

	s.credential = cred
	s.backend.logger.Info("submission authenticated",
		zap.String("username", username),
		zap.String("source_ip", s.sourceIP),
	)
	return nil
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.credential == nil {
		return &gosmtp.SMTPError{
			Code:         530,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
			Message:      "authentication required",
		}
	}
	s.from = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if s.credential == nil {
		return &gosmtp.SMTPError{
			Code:         530,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
			Message:      "authentication required",
		}
	}

	addr := normalizeAddress(to)
	if message.AddressDomain(addr) == "" {
		s.backend.metrics.SubmissionRejected.WithLabelValues("bad_address").Inc()
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容：解析、校验发件域并逐收件人入队。
func (s *session) Data(r io.Reader) error {
	if s.credential == nil {
		return &gosmtp.SMTPError{
			Code:         530,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
			Message:      "authentication required",
		}
	}

	raw, err := io.ReadAll(io.LimitReader(r, maxMessageBytes+1))
	if err != nil {
		return err
	}
	if len(raw) > maxMessageBytes {
		s.backend.metrics.SubmissionRejected.WithLabelValues("too_large").Inc()
		return &gosmtp.SMTPError{
			Code:         552,
			EnhancedCode: gosmtp.EnhancedCode{5, 3, 4},
			Message:      "message exceeds maximum size",
		}
	}

	parsed, err := message.Parse(raw)
	if err != nil {
		s.backend.metrics.SubmissionRejected.WithLabelValues("parse_error").Inc()
		return fmt.Errorf("parse message: %w", err)
	}

	// 发件域以 From 头为准，信封地址只在头缺失时兜底。
	// 收件人看到的是头里的地址，伪造的头必须被拦下。
	fromDomain := message.AddressDomain(message.ExtractAddress(parsed.From))
	if fromDomain == "" {
		fromDomain = message.AddressDomain(s.from)
	}
	if !s.credential.AllowsFromDomain(fromDomain) {
		s.backend.metrics.SubmissionRejected.WithLabelValues("from_denied").Inc()
		s.backend.logger.Warn("submission rejected, sender domain not allowed",
			zap.String("username", s.credential.Username),
			zap.String("envelope_from", s.from),
			zap.String("header_from", parsed.From),
		)
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "sender domain not allowed for this account",
		}
	}

	ctx := context.Background()
	if _, err := s.backend.counter.Increment(ctx, "submission:"+s.credential.ID); err != nil {
		s.backend.logger.Warn("submission rate counter increment failed",
			zap.String("username", s.credential.Username),
			zap.Error(err),
		)
	}

	fromName := ""
	if parsed.From != "" {
		if addr, err := mail.ParseAddress(parsed.From); err == nil {
			fromName = addr.Name
		}
	}

	// 部分收件人入队后再失败时不能让整个 DATA 报错：客户端
	// 重试会把已入队的收件人重复投递。只在一个都没入队时返回
	// 错误，否则接受并把失败的收件人记入日志。
	queued := 0
	var firstErr *gosmtp.SMTPError
	for _, rcpt := range s.recipients {
		id, err := s.backend.queue.Enqueue(ctx, queue.EnqueueInput{
			From:     s.from,
			FromName: fromName,
			To:       rcpt,
			Subject:  parsed.Subject,
			Text:     parsed.Text,
			HTML:     parsed.HTML,
			Category: "submission",
		})
		if err != nil {
			smtpErr := s.mapEnqueueError(rcpt, err)
			if firstErr == nil {
				firstErr = smtpErr
			}
			continue
		}

		queued++
		s.backend.metrics.SubmissionAccepted.Inc()
		s.backend.logger.Info("submission queued",
			zap.String("id", id),
			zap.String("username", s.credential.Username),
			zap.String("from", s.from),
			zap.String("to", rcpt),
		)
	}

	if queued == 0 {
		if firstErr != nil {
			return firstErr
		}
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 0, 0},
			Message:      "no recipients accepted",
		}
	}
	if firstErr != nil {
		s.backend.logger.Warn("submission partially queued",
			zap.String("username", s.credential.Username),
			zap.Int("queued", queued),
			zap.Int("recipients", len(s.recipients)),
		)
	}
	return nil
}

// mapEnqueueError 把入队错误映射为 SMTP 响应并计数。
func (s *session) mapEnqueueError(rcpt string, err error) *gosmtp.SMTPError {
	if errors.Is(err, queue.ErrHourlyLimitExceeded) {
		s.backend.metrics.SubmissionRejected.WithLabelValues("domain_limit").Inc()
		return &gosmtp.SMTPError{
			Code:         454,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "sending quota for domain exhausted, try again later",
		}
	}
	if errors.Is(err, queue.ErrDomainNotSendable) {
		s.backend.metrics.SubmissionRejected.WithLabelValues("from_denied").Inc()
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "sender domain not enabled for outbound mail",
		}
	}
	s.backend.logger.Error("submission enqueue failed",
		zap.String("to", rcpt),
		zap.Error(err),
	)
	return &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "temporary queue failure, try again later",
	}
}

// Reset 重置会话状态（保留认证身份）。
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
