package queue

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxMXHosts 单次投递最多尝试的 MX 主机数
const maxMXHosts = 3

// connectTimeout 单个连接的超时
const connectTimeout = 30 * time.Second

// MXDeliverer 直连收件域 MX 的投递客户端，实现 Deliverer。
//
// 每台主机先尝试 STARTTLS（不校验证书，公网投递路径的加密
// 本来就是机会性的），协议或 TLS 协商失败时回退明文重试同一
// 台主机，再失败才移到下一台。
type MXDeliverer struct {
	mu sync.Mutex
	// hostname HELO/EHLO 使用的主机名
	hostname string

	resolver *net.Resolver
	logger   *zap.Logger
}

var _ Deliverer = (*MXDeliverer)(nil)

// NewMXDeliverer 创建投递客户端
func NewMXDeliverer(hostname string, logger *zap.Logger) *MXDeliverer {
	if hostname == "" {
		hostname = "localhost"
	}
	return &MXDeliverer{
		hostname: hostname,
		resolver: net.DefaultResolver,
		logger:   logger,
	}
}

// SetHostname 更新 HELO/EHLO 主机名。
//
// settings 表里的 mailserver_hostname 覆盖环境默认值时，
// 启动流程用它把投递端与监听器对齐。空值忽略。
func (d *MXDeliverer) SetHostname(hostname string) {
	if hostname == "" {
		return
	}
	d.mu.Lock()
	d.hostname = hostname
	d.mu.Unlock()
}

// Hostname 返回当前的 HELO/EHLO 主机名。
func (d *MXDeliverer) Hostname() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hostname
}

// Deliver 将邮件投递到收件地址所在域的 MX 主机。
//
// 返回用于记录的服务器响应描述。没有可解析的 MX、所有主机均
// 失败时返回错误，由队列按退避策略重试。
func (d *MXDeliverer) Deliver(ctx context.Context, from, to string, raw []byte) (string, error) {
	recipientDomain := addressDomain(to)
	if recipientDomain == "" {
		return "", fmt.Errorf("invalid recipient address: %s", to)
	}

	hosts, err := d.lookupMXHosts(ctx, recipientDomain)
	if err != nil {
		return "", err
	}

	var lastErr error
	for _, host := range hosts {
		// 先加密后明文，同一台主机两次机会
		resp, err := d.deliverToHost(ctx, host, from, to, raw, true)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		d.logger.Debug("encrypted delivery attempt failed, falling back to plaintext",
			zap.String("host", host),
			zap.Error(err),
		)

		resp, err = d.deliverToHost(ctx, host, from, to, raw, false)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		d.logger.Debug("plaintext delivery attempt failed",
			zap.String("host", host),
			zap.Error(err),
		)
	}

	return "", fmt.Errorf("all MX hosts failed for %s: %w", recipientDomain, lastErr)
}

// lookupMXHosts 解析收件域的 MX 并按优先级排序，最多取前三台。
func (d *MXDeliverer) lookupMXHosts(ctx context.Context, domain string) ([]string, error) {
	records, err := d.resolver.LookupMX(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("MX lookup failed for %s: %w", domain, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no MX records for %s", domain)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })

	hosts := make([]string, 0, maxMXHosts)
	for _, mx := range records {
		host := strings.TrimSuffix(mx.Host, ".")
		if host == "" {
			continue
		}
		hosts = append(hosts, host)
		if len(hosts) == maxMXHosts {
			break
		}
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no usable MX hosts for %s", domain)
	}
	return hosts, nil
}

// deliverToHost 向单台 MX 主机投递一次。
func (d *MXDeliverer) deliverToHost(ctx context.Context, host, from, to string, raw []byte, useTLS bool) (string, error) {
	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, "25"))
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", host, err)
	}
	// 整个会话的硬超时，避免慢速主机拖住批次
	_ = conn.SetDeadline(time.Now().Add(connectTimeout))

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("smtp handshake %s: %w", host, err)
	}
	defer client.Close()

	if err := client.Hello(d.Hostname()); err != nil {
		return "", fmt.Errorf("HELO rejected by %s: %w", host, err)
	}

	if useTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return "", fmt.Errorf("%s does not offer STARTTLS", host)
		}
		tlsConfig := &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return "", fmt.Errorf("STARTTLS with %s: %w", host, err)
		}
	}

	if err := client.Mail(from); err != nil {
		return "", fmt.Errorf("MAIL FROM rejected by %s: %w", host, err)
	}
	if err := client.Rcpt(to); err != nil {
		return "", fmt.Errorf("RCPT TO rejected by %s: %w", host, err)
	}

	w, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("DATA rejected by %s: %w", host, err)
	}
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("write message to %s: %w", host, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("message rejected by %s: %w", host, err)
	}

	if err := client.Quit(); err != nil {
		// 已被接受，QUIT 失败只记录
		d.logger.Debug("QUIT failed after accepted delivery",
			zap.String("host", host),
			zap.Error(err),
		)
	}

	mode := "plaintext"
	if useTLS {
		mode = "starttls"
	}
	return fmt.Sprintf("250 message accepted by %s (%s)", host, mode), nil
}

// addressDomain 提取地址的域名部分（小写）
func addressDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}
