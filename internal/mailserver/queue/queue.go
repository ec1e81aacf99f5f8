// Package queue 实现持久化外发队列：入队限额、轮询认领、
// DKIM 签名、直连 MX 投递与指数退避重试。
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/dkim"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/message"
	"github.com/Case211/remnawave-admin-sub001/internal/monitoring"
	"github.com/Case211/remnawave-admin-sub001/internal/pool"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// ErrHourlyLimitExceeded 发送域的小时配额已用尽
var ErrHourlyLimitExceeded = errors.New("hourly send limit exceeded for domain")

// ErrDomainNotSendable 发送域不存在或未启用外发
var ErrDomainNotSendable = errors.New("sender domain is not enabled for outbound mail")

// maxErrorLength 落库错误信息的最大长度
const maxErrorLength = 500

// Deliverer 投递客户端抽象（测试时替换为假实现）。
type Deliverer interface {
	Deliver(ctx context.Context, from, to string, raw []byte) (string, error)
}

// EnqueueInput 入队参数。
type EnqueueInput struct {
	From     string
	FromName string
	To       string
	Subject  string
	Text     string
	HTML     string
	Category string
	Priority int
}

// Queue 外发邮件队列服务。
//
// Enqueue 同步落库，投递由后台轮询循环驱动：认领到期条目、
// 构造并签名邮件、直连收件域 MX 投递，失败按指数退避重试。
type Queue struct {
	store     storage.Store
	deliverer Deliverer
	workers   *pool.WorkerPool
	metrics   *monitoring.Metrics
	logger    *zap.Logger

	pollInterval time.Duration
	batchSize    int

	cancel context.CancelFunc
	done   chan struct{}
}

// Options 队列服务配置。
type Options struct {
	PollInterval time.Duration
	BatchSize    int
	Workers      int
}

// New 创建队列服务
func New(store storage.Store, deliverer Deliverer, metrics *monitoring.Metrics, logger *zap.Logger, opts Options) *Queue {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Workers <= 0 {
		opts.Workers = opts.BatchSize
	}
	return &Queue{
		store:        store,
		deliverer:    deliverer,
		workers:      pool.NewWorkerPool(opts.Workers, opts.BatchSize),
		metrics:      metrics,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
	}
}

// Enqueue 将一封邮件加入外发队列。
//
// 发送域从发件地址解析；域不存在或未启用外发时返回
// ErrDomainNotSendable，小时配额用尽时返回 ErrHourlyLimitExceeded，
// 两种情况均不落库。
func (q *Queue) Enqueue(ctx context.Context, in EnqueueInput) (string, error) {
	senderDomain := message.AddressDomain(in.From)
	if senderDomain == "" {
		return "", fmt.Errorf("invalid sender address: %s", in.From)
	}
	if err := domain.ValidateEmailAddress(in.To); err != nil {
		return "", fmt.Errorf("invalid recipient address %q: %w", in.To, err)
	}

	mailDomain, err := q.store.GetMailDomainByName(ctx, senderDomain)
	if err != nil {
		if errors.Is(err, storage.ErrDomainNotFound) {
			q.metrics.QueueRejected.WithLabelValues("unknown_domain").Inc()
			return "", ErrDomainNotSendable
		}
		return "", fmt.Errorf("lookup sender domain: %w", err)
	}
	if !mailDomain.CanSend() {
		q.metrics.QueueRejected.WithLabelValues("domain_disabled").Inc()
		return "", ErrDomainNotSendable
	}

	if mailDomain.HourlySendLimit > 0 {
		count, err := q.store.CountOutboundSince(ctx, mailDomain.ID, time.Now().Add(-time.Hour))
		if err != nil {
			return "", fmt.Errorf("count outbound: %w", err)
		}
		if count >= int64(mailDomain.HourlySendLimit) {
			q.metrics.QueueRejected.WithLabelValues("hourly_limit").Inc()
			q.logger.Warn("enqueue rejected, hourly limit reached",
				zap.String("domain", mailDomain.Domain),
				zap.Int64("count", count),
				zap.Int("limit", mailDomain.HourlySendLimit),
			)
			return "", ErrHourlyLimitExceeded
		}
	}

	now := time.Now()
	email := &domain.OutboundEmail{
		ID:            uuid.NewString(),
		DomainID:      mailDomain.ID,
		FromAddress:   in.From,
		FromName:      in.FromName,
		ToAddress:     in.To,
		Subject:       in.Subject,
		TextBody:      in.Text,
		HTMLBody:      in.HTML,
		Category:      in.Category,
		Priority:      in.Priority,
		Status:        domain.OutboundStatusPending,
		MaxAttempts:   domain.DefaultMaxAttempts,
		NextAttemptAt: &now,
	}
	if err := q.store.SaveOutboundEmail(ctx, email); err != nil {
		return "", fmt.Errorf("save outbound email: %w", err)
	}

	q.metrics.QueueEnqueued.Inc()
	q.logger.Info("email enqueued",
		zap.String("id", email.ID),
		zap.String("from", in.From),
		zap.String("to", in.To),
		zap.String("category", in.Category),
	)
	return email.ID, nil
}

// Start 启动后台投递循环。
func (q *Queue) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})

	q.workers.Start(ctx)

	go func() {
		defer close(q.done)
		ticker := time.NewTicker(q.pollInterval)
		defer ticker.Stop()

		q.logger.Info("outbound queue started",
			zap.Duration("poll_interval", q.pollInterval),
			zap.Int("batch_size", q.batchSize),
		)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.processBatch(ctx)
			}
		}
	}()
}

// Stop 停止投递循环，等待在途任务结束。
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	<-q.done
	q.workers.Stop()
	q.logger.Info("outbound queue stopped")
}

// processBatch 认领一批到期条目并并行投递。
func (q *Queue) processBatch(ctx context.Context) {
	claimed, err := q.store.ClaimDueOutbound(ctx, time.Now(), q.batchSize)
	if err != nil {
		q.logger.Error("claim due outbound failed", zap.Error(err))
		return
	}
	if len(claimed) == 0 {
		return
	}

	for _, email := range claimed {
		email := email
		q.workers.Submit(func() {
			q.Process(ctx, email)
		})
	}
}

// Process 投递单封邮件并落库结果。
//
// 条目已由 ClaimDueOutbound 置为 sending 且 attempts 已递增。
func (q *Queue) Process(ctx context.Context, email *domain.OutboundEmail) {
	start := time.Now()

	mailDomain, err := q.store.GetMailDomain(ctx, email.DomainID)
	if err != nil {
		q.recordFailure(ctx, email, fmt.Errorf("load sender domain: %w", err))
		return
	}

	raw, messageID := message.Build(message.BuildInput{
		From:     email.FromAddress,
		FromName: email.FromName,
		To:       email.ToAddress,
		Subject:  email.Subject,
		Text:     email.TextBody,
		HTML:     email.HTMLBody,
		Domain:   mailDomain.Domain,
	})
	email.MessageID = messageID

	if mailDomain.DKIMPrivateKey != "" {
		signed, err := dkim.Sign(raw, mailDomain.Domain, mailDomain.DKIMSelector, mailDomain.DKIMPrivateKey)
		if err != nil {
			// 签名失败不阻断投递，以未签名邮件继续
			q.metrics.SigningFailures.Inc()
			q.logger.Warn("dkim signing failed, sending unsigned",
				zap.String("id", email.ID),
				zap.String("domain", mailDomain.Domain),
				zap.Error(err),
			)
		} else {
			raw = signed
		}
	}

	resp, err := q.deliverer.Deliver(ctx, email.FromAddress, email.ToAddress, raw)
	q.metrics.DeliveryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		q.recordFailure(ctx, email, err)
		return
	}

	now := time.Now()
	email.Status = domain.OutboundStatusSent
	email.SentAt = &now
	email.SMTPResponse = resp
	email.NextAttemptAt = nil
	email.LastError = ""
	if err := q.store.UpdateOutboundEmail(ctx, email); err != nil {
		q.logger.Error("update delivered email failed",
			zap.String("id", email.ID),
			zap.Error(err),
		)
		return
	}

	q.metrics.QueueDelivered.Inc()
	q.logger.Info("email delivered",
		zap.String("id", email.ID),
		zap.String("to", email.ToAddress),
		zap.Int("attempts", email.Attempts),
		zap.Duration("duration", time.Since(start)),
	)
}

// recordFailure 落库一次投递失败：未用尽尝试次数时按退避
// 重新排期，否则标记为终态 failed。
func (q *Queue) recordFailure(ctx context.Context, email *domain.OutboundEmail, deliverErr error) {
	email.Status = domain.OutboundStatusFailed
	email.LastError = truncateError(deliverErr)

	if email.Exhausted() {
		email.NextAttemptAt = nil
		q.metrics.QueueExhausted.Inc()
		q.logger.Error("email delivery exhausted",
			zap.String("id", email.ID),
			zap.String("to", email.ToAddress),
			zap.Int("attempts", email.Attempts),
			zap.Error(deliverErr),
		)
	} else {
		next := time.Now().Add(RetryDelay(email.Attempts))
		email.NextAttemptAt = &next
		q.metrics.QueueRetried.Inc()
		q.logger.Warn("email delivery failed, will retry",
			zap.String("id", email.ID),
			zap.String("to", email.ToAddress),
			zap.Int("attempts", email.Attempts),
			zap.Time("next_attempt", next),
			zap.Error(deliverErr),
		)
	}

	if err := q.store.UpdateOutboundEmail(ctx, email); err != nil {
		q.logger.Error("update failed email failed",
			zap.String("id", email.ID),
			zap.Error(err),
		)
	}
}

// RetryDelay 第 attempts 次失败后的重试延迟：
// 60 秒起指数翻倍，上限 1 小时。
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := attempts - 1
	if shift > 6 {
		// 2^6 分钟已超过上限
		return time.Hour
	}
	delay := time.Minute << shift
	if delay > time.Hour {
		return time.Hour
	}
	return delay
}

// truncateError 截断错误信息到数据库列宽
func truncateError(err error) string {
	msg := strings.TrimSpace(err.Error())
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength]
	}
	return msg
}
