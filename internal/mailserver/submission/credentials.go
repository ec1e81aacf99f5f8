package submission

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// credentialReloadInterval 凭据缓存的后台刷新间隔
const credentialReloadInterval = time.Minute

// CredentialCache 提交中继凭据的进程内缓存。
//
// 认证发生在每条连接上，不能每次都查库。缓存整表加载，
// 后台定期刷新；面板增删凭据后可调用 Refresh 立即生效。
type CredentialCache struct {
	store  storage.CredentialRepository
	logger *zap.Logger

	mu         sync.RWMutex
	byUsername map[string]*domain.SMTPCredential
	lastLoaded time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCredentialCache 创建凭据缓存并做首次加载。
func NewCredentialCache(store storage.CredentialRepository, logger *zap.Logger) *CredentialCache {
	c := &CredentialCache{
		store:      store,
		logger:     logger,
		byUsername: make(map[string]*domain.SMTPCredential),
	}
	if err := c.Refresh(context.Background()); err != nil {
		logger.Warn("initial credential load failed", zap.Error(err))
	}
	return c
}

// Start 启动后台定期刷新。
func (c *CredentialCache) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(credentialReloadInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					c.logger.Warn("credential cache refresh failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop 停止后台刷新。
func (c *CredentialCache) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// Refresh 立即重新加载全部凭据。
func (c *CredentialCache) Refresh(ctx context.Context) error {
	creds, err := c.store.ListSMTPCredentials(ctx)
	if err != nil {
		return err
	}

	byUsername := make(map[string]*domain.SMTPCredential, len(creds))
	for _, cred := range creds {
		byUsername[strings.ToLower(cred.Username)] = cred
	}

	c.mu.Lock()
	c.byUsername = byUsername
	c.lastLoaded = time.Now()
	c.mu.Unlock()
	return nil
}

// Lookup 按用户名查找凭据（大小写不敏感）。
func (c *CredentialCache) Lookup(username string) (*domain.SMTPCredential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cred, ok := c.byUsername[strings.ToLower(username)]
	return cred, ok
}
