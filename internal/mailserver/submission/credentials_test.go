package submission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Case211/remnawave-admin-sub001/internal/domain"
	"github.com/Case211/remnawave-admin-sub001/internal/storage/memory"
)

func TestCredentialCacheInitialLoad(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.SaveSMTPCredential(context.Background(), &domain.SMTPCredential{
		ID:       "cred-1",
		Username: "panel",
		IsActive: true,
	}))

	cache := NewCredentialCache(store, zap.NewNop())

	cred, ok := cache.Lookup("panel")
	require.True(t, ok)
	assert.Equal(t, "cred-1", cred.ID)

	// 用户名大小写不敏感
	_, ok = cache.Lookup("PANEL")
	assert.True(t, ok)

	_, ok = cache.Lookup("unknown")
	assert.False(t, ok)
}

func TestCredentialCacheRefresh(t *testing.T) {
	store := memory.NewStore()
	cache := NewCredentialCache(store, zap.NewNop())

	_, ok := cache.Lookup("panel")
	assert.False(t, ok)

	ctx := context.Background()
	require.NoError(t, store.SaveSMTPCredential(ctx, &domain.SMTPCredential{
		ID:       "cred-1",
		Username: "panel",
		IsActive: true,
	}))

	// 落库后缓存尚未感知，显式刷新后可见
	_, ok = cache.Lookup("panel")
	assert.False(t, ok)

	require.NoError(t, cache.Refresh(ctx))
	_, ok = cache.Lookup("panel")
	assert.True(t, ok)

	// 删除同样在刷新后生效
	require.NoError(t, store.DeleteSMTPCredential(ctx, "cred-1"))
	require.NoError(t, cache.Refresh(ctx))
	_, ok = cache.Lookup("panel")
	assert.False(t, ok)
}
