package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanatamon/covid19-home-isolation/internal/platform/auth"
	"github.com/kanatamon/covid19-home-isolation/internal/platform/config"
)

type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]*auth.Account
}

func (m *memAccounts) GetByID(_ context.Context, id string) (*auth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) Create(_ context.Context, a *auth.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *memAccounts) Delete(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return 0, nil
	}
	delete(m.accounts, id)
	return 1, nil
}

func newAuthService() *auth.Service {
	store := &memAccounts{accounts: map[string]*auth.Account{}}
	return auth.NewService(store, nil, []byte("test-secret"), time.Hour)
}

func TestCreateAdmin(t *testing.T) {
	ctx := context.Background()

	t.Run("creates an account that can log in", func(t *testing.T) {
		svc := newAuthService()
		var out bytes.Buffer
		require.NoError(t, createAdmin(ctx, svc, "root", strings.NewReader("rootpass1\n"), &out))
		assert.Contains(t, out.String(), `"root" created`)

		_, err := svc.LoginAdmin(ctx, "root", "rootpass1")
		assert.NoError(t, err)
	})

	t.Run("password without trailing newline", func(t *testing.T) {
		svc := newAuthService()
		require.NoError(t, createAdmin(ctx, svc, "root", strings.NewReader("rootpass1"), &bytes.Buffer{}))
		_, err := svc.LoginAdmin(ctx, "root", "rootpass1")
		assert.NoError(t, err)
	})

	t.Run("short password is rejected", func(t *testing.T) {
		svc := newAuthService()
		err := createAdmin(ctx, svc, "root", strings.NewReader("short\r\n"), &bytes.Buffer{})
		assert.ErrorContains(t, err, "at least 8")
	})

	t.Run("existing id is rejected", func(t *testing.T) {
		svc := newAuthService()
		require.NoError(t, svc.Register(ctx, "root", "rootpass1"))
		err := createAdmin(ctx, svc, "root", strings.NewReader("otherpass1\n"), &bytes.Buffer{})
		assert.ErrorContains(t, err, "already exists")

		_, err = svc.LoginAdmin(ctx, "root", "rootpass1")
		assert.NoError(t, err)
	})
}

func TestBootstrapAdmin(t *testing.T) {
	ctx := context.Background()
	svc := newAuthService()

	require.NoError(t, bootstrapAdmin(ctx, svc, config.BootstrapAdmin{}))
	_, err := svc.LoginAdmin(ctx, "root", "rootpass1")
	assert.ErrorIs(t, err, auth.ErrAuthentication)

	b := config.BootstrapAdmin{ID: "root", Password: "rootpass1"}
	require.NoError(t, bootstrapAdmin(ctx, svc, b))
	require.NoError(t, bootstrapAdmin(ctx, svc, b))
	_, err = svc.LoginAdmin(ctx, "root", "rootpass1")
	assert.NoError(t, err)

	assert.Error(t, bootstrapAdmin(ctx, newAuthService(), config.BootstrapAdmin{ID: "root", Password: "short"}))
}
