// Package dnscheck 检查域名的邮件相关 DNS 配置
// （MX / SPF / DKIM 选择器 / DMARC / 反向解析）。
package dnscheck

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	mdns "github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/Case211/remnawave-admin-sub001/internal/mailserver/dkim"
)

// Resolver 抽象出检查所需的 DNS 查询操作，*net.Resolver 直接满足。
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// CheckResult 单条记录的检查结果。
type CheckResult struct {
	IsConfigured bool   `json:"isConfigured"`
	CurrentValue string `json:"currentValue"`
}

// DomainResult 一个域名的完整检查结果（四个布尔值落库）。
type DomainResult struct {
	MXOK    bool `json:"mxOk"`
	SPFOK   bool `json:"spfOk"`
	DKIMOK  bool `json:"dkimOk"`
	DMARCOK bool `json:"dmarcOk"`
	PTROK   bool `json:"ptrOk"`
}

// Record 操作者需要发布的一条 DNS 记录。
type Record struct {
	Type          string `json:"type"` // MX / TXT / PTR
	Host          string `json:"host"`
	ExpectedValue string `json:"expectedValue"`
	Purpose       string `json:"purpose"`
	IsConfigured  bool   `json:"isConfigured"`
	CurrentValue  string `json:"currentValue"`
}

// Checker DNS 态势检查器。
//
// 所有检查彼此独立：任一记录解析失败只会把该记录降级为
// "未配置"，不会让整个检查失败。
type Checker struct {
	resolver Resolver
	// directResolver 直连解析器地址（host:port），为空时不启用兜底查询
	directResolver string
	httpClient     *http.Client
	logger         *zap.Logger

	mu sync.Mutex
	// serverIP 已探测到的公网 IP，避免每次检查都发起外部查询
	serverIP string
}

// NewChecker 创建检查器
func NewChecker(directResolver string, logger *zap.Logger) *Checker {
	return &Checker{
		resolver:       net.DefaultResolver,
		directResolver: directResolver,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		logger:         logger,
	}
}

// WithResolver 替换解析器（测试用）
func (c *Checker) WithResolver(r Resolver) *Checker {
	c.resolver = r
	return c
}

// WithServerIP 预置服务器公网 IP，跳过自动探测（测试用）。
func (c *Checker) WithServerIP(ip string) *Checker {
	c.mu.Lock()
	c.serverIP = ip
	c.mu.Unlock()
	return c
}

// CheckMX 检查域名是否配置了 MX 记录。
func (c *Checker) CheckMX(ctx context.Context, domain string) CheckResult {
	records, err := c.resolver.LookupMX(ctx, domain)
	if err != nil || len(records) == 0 {
		return CheckResult{}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })
	hosts := make([]string, 0, len(records))
	for _, mx := range records {
		hosts = append(hosts, fmt.Sprintf("%s (pref %d)", strings.TrimSuffix(mx.Host, "."), mx.Pref))
	}
	return CheckResult{IsConfigured: true, CurrentValue: strings.Join(hosts, ", ")}
}

// CheckSPF 检查域名顶点的 SPF 策略。
//
// 已配置的标准：存在以 v=spf1 开头的 TXT 记录，且其中包含
// 服务器 IP 或某种委托机制（include / a / mx / redirect）。
func (c *Checker) CheckSPF(ctx context.Context, domain, serverIP string) CheckResult {
	records := c.lookupTXT(ctx, domain)
	for _, txt := range records {
		if !strings.HasPrefix(txt, "v=spf1") {
			continue
		}
		return CheckResult{
			IsConfigured: spfAuthorizes(txt, serverIP),
			CurrentValue: txt,
		}
	}
	return CheckResult{}
}

// spfAuthorizes 判断 SPF 记录是否覆盖了给定 IP
func spfAuthorizes(record, serverIP string) bool {
	if serverIP != "" && strings.Contains(record, serverIP) {
		return true
	}
	for _, mech := range strings.Fields(record) {
		switch {
		case strings.HasPrefix(mech, "include:"),
			strings.HasPrefix(mech, "redirect="),
			mech == "a", mech == "mx",
			strings.HasPrefix(mech, "a:"),
			strings.HasPrefix(mech, "mx:"):
			return true
		}
	}
	return false
}

// CheckDKIM 检查选择器 TXT 记录是否发布了签名公钥。
func (c *Checker) CheckDKIM(ctx context.Context, domain, selector string) CheckResult {
	host := dkim.SelectorHost(selector, domain)
	for _, txt := range c.lookupTXT(ctx, host) {
		if strings.Contains(txt, "v=DKIM1") || strings.Contains(txt, "k=rsa") {
			return CheckResult{IsConfigured: true, CurrentValue: txt}
		}
	}
	return CheckResult{}
}

// CheckDMARC 检查 _dmarc 子域的 DMARC 策略。
func (c *Checker) CheckDMARC(ctx context.Context, domain string) CheckResult {
	for _, txt := range c.lookupTXT(ctx, "_dmarc."+domain) {
		if strings.HasPrefix(txt, "v=DMARC1") {
			return CheckResult{IsConfigured: true, CurrentValue: txt}
		}
	}
	return CheckResult{}
}

// CheckPTR 检查服务器 IP 的反向解析是否指向域名或其子域。
func (c *Checker) CheckPTR(ctx context.Context, serverIP, domain string) CheckResult {
	if serverIP == "" {
		return CheckResult{}
	}
	names, err := c.resolver.LookupAddr(ctx, serverIP)
	if err != nil || len(names) == 0 {
		return CheckResult{}
	}

	current := strings.TrimSuffix(names[0], ".")
	for _, name := range names {
		host := strings.ToLower(strings.TrimSuffix(name, "."))
		if host == strings.ToLower(domain) || strings.HasSuffix(host, "."+strings.ToLower(domain)) {
			return CheckResult{IsConfigured: true, CurrentValue: host}
		}
	}
	return CheckResult{CurrentValue: current}
}

// CheckDomain 运行全部五项检查并汇总。
func (c *Checker) CheckDomain(ctx context.Context, domain, selector, serverIP string) DomainResult {
	if serverIP == "" {
		serverIP = c.DetectServerIP(ctx)
	}
	return DomainResult{
		MXOK:    c.CheckMX(ctx, domain).IsConfigured,
		SPFOK:   c.CheckSPF(ctx, domain, serverIP).IsConfigured,
		DKIMOK:  c.CheckDKIM(ctx, domain, selector).IsConfigured,
		DMARCOK: c.CheckDMARC(ctx, domain).IsConfigured,
		PTROK:   c.CheckPTR(ctx, serverIP, domain).IsConfigured,
	}
}

// RequiredRecords 汇总操作者需要发布的全部记录及其当前状态。
//
// serverIP 为空时自动探测公网 IP。
func (c *Checker) RequiredRecords(ctx context.Context, domain, selector, publicKey, serverIP string) []Record {
	if serverIP == "" {
		serverIP = c.DetectServerIP(ctx)
	}

	mx := c.CheckMX(ctx, domain)
	spf := c.CheckSPF(ctx, domain, serverIP)
	dkimRes := c.CheckDKIM(ctx, domain, selector)
	dmarc := c.CheckDMARC(ctx, domain)
	ptr := c.CheckPTR(ctx, serverIP, domain)

	return []Record{
		{
			Type:          "MX",
			Host:          domain,
			ExpectedValue: fmt.Sprintf("10 %s", domain),
			Purpose:       "routes inbound mail to this server",
			IsConfigured:  mx.IsConfigured,
			CurrentValue:  mx.CurrentValue,
		},
		{
			Type:          "TXT",
			Host:          domain,
			ExpectedValue: fmt.Sprintf("v=spf1 ip4:%s ~all", serverIP),
			Purpose:       "authorizes this server to send mail for the domain",
			IsConfigured:  spf.IsConfigured,
			CurrentValue:  spf.CurrentValue,
		},
		{
			Type:          "TXT",
			Host:          dkim.SelectorHost(selector, domain),
			ExpectedValue: dkim.TXTRecordValue(publicKey),
			Purpose:       "publishes the DKIM signing public key",
			IsConfigured:  dkimRes.IsConfigured,
			CurrentValue:  dkimRes.CurrentValue,
		},
		{
			Type:          "TXT",
			Host:          "_dmarc." + domain,
			ExpectedValue: fmt.Sprintf("v=DMARC1; p=none; rua=mailto:postmaster@%s", domain),
			Purpose:       "tells receivers how to handle authentication failures",
			IsConfigured:  dmarc.IsConfigured,
			CurrentValue:  dmarc.CurrentValue,
		},
		{
			Type:          "PTR",
			Host:          serverIP,
			ExpectedValue: domain,
			Purpose:       "reverse DNS for the sending IP",
			IsConfigured:  ptr.IsConfigured,
			CurrentValue:  ptr.CurrentValue,
		},
	}
}

// lookupTXT 查询 TXT 记录，标准解析失败时尝试直连解析器。
func (c *Checker) lookupTXT(ctx context.Context, name string) []string {
	records, err := c.resolver.LookupTXT(ctx, name)
	if err == nil && len(records) > 0 {
		return records
	}

	if c.directResolver == "" {
		return nil
	}
	direct, derr := c.lookupTXTDirect(ctx, name)
	if derr != nil {
		if c.logger != nil {
			c.logger.Debug("direct TXT lookup failed",
				zap.String("name", name),
				zap.Error(derr),
			)
		}
		return nil
	}
	return direct
}

// lookupTXTDirect 绕过系统解析器，直接向配置的解析器发起查询。
func (c *Checker) lookupTXTDirect(ctx context.Context, name string) ([]string, error) {
	client := mdns.Client{Timeout: 5 * time.Second}
	msg := mdns.Msg{}
	msg.SetQuestion(mdns.Fqdn(name), mdns.TypeTXT)

	resp, _, err := client.ExchangeContext(ctx, &msg, c.directResolver)
	if err != nil {
		return nil, err
	}

	var records []string
	for _, ans := range resp.Answer {
		if txt, ok := ans.(*mdns.TXT); ok {
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}
	return records, nil
}

// ipLookupServices 公网 IP 查询服务，依次尝试
var ipLookupServices = []string{
	"https://api.ipify.org",
	"https://ipinfo.io/ip",
	"https://icanhazip.com",
}

// DetectServerIP 探测服务器的公网 IP。
//
// 依次尝试外部查询服务，全部失败时退回本地出口地址。
// 结果在 Checker 生命周期内缓存。
func (c *Checker) DetectServerIP(ctx context.Context) string {
	c.mu.Lock()
	if c.serverIP != "" {
		ip := c.serverIP
		c.mu.Unlock()
		return ip
	}
	c.mu.Unlock()

	ip := c.detectServerIP(ctx)
	if ip != "" {
		c.mu.Lock()
		c.serverIP = ip
		c.mu.Unlock()
	}
	return ip
}

func (c *Checker) detectServerIP(ctx context.Context) string {
	for _, service := range ipLookupServices {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, service, nil)
		if err != nil {
			continue
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			continue
		}

		ip := strings.TrimSpace(string(body))
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	// 本地出口地址兜底
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}
