package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/eauth/internal/config"
	"github.com/layer-3/eauth/internal/keys"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Secret:         "test-secret",
		Banner:         "Eauth",
		SessionTimeout: 3600,
		Issuer:         "https://example.com",
		ChainID:        1,
		ChallengeTTL:   time.Minute,
		Components:     config.Components{UI: true},
		DatabasePath:   filepath.Join(dir, "eauth.db"),
		SessionStore:   config.StoreSQLite,
		KeyDir:         dir,
		RetryInterval:  10 * time.Millisecond,
		AuthorizePath:  "/oauth/authorize",
	}
}

func TestInitialize(t *testing.T) {
	cfg := testConfig(t)

	a, err := Initialize(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.FileExists(t, filepath.Join(cfg.KeyDir, keys.PrivateKeyFile))
	assert.FileExists(t, filepath.Join(cfg.KeyDir, keys.PublicKeyFile))
	assert.FileExists(t, cfg.DatabasePath)

	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/0x0000000000000000000000000000000000000001", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInitialize_ReusesKeys(t *testing.T) {
	cfg := testConfig(t)

	first, err := Initialize(context.Background(), cfg, nil)
	require.NoError(t, err)
	pub1, err := first.Keys.PublicKey()
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Initialize(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })
	pub2, err := second.Keys.PublicKey()
	require.NoError(t, err)

	assert.True(t, pub1.Equal(pub2))
}

func TestInitialize_RetriesUntilStorageIsAvailable(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.DatabasePath = filepath.Join(blocker, "eauth.db")

	go func() {
		time.Sleep(50 * time.Millisecond)
		os.Remove(blocker)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := Initialize(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	assert.FileExists(t, cfg.DatabasePath)
}

func TestInitialize_StopsWhenContextDone(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.DatabasePath = filepath.Join(blocker, "eauth.db")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	a, err := Initialize(ctx, cfg, nil)
	assert.Nil(t, a)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInitialize_BadRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisURL = "not-a-url"

	_, err := Initialize(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "redis url")
}

func TestRunPruner(t *testing.T) {
	t.Run("memory store returns at once", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SessionStore = config.StoreMemory
		a, err := Initialize(context.Background(), cfg, nil)
		require.NoError(t, err)
		t.Cleanup(func() { a.Close() })

		done := make(chan struct{})
		go func() {
			a.RunPruner(context.Background(), time.Millisecond)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("pruner kept running for the memory store")
		}
	})

	t.Run("sqlite store runs until cancelled", func(t *testing.T) {
		a, err := Initialize(context.Background(), testConfig(t), nil)
		require.NoError(t, err)
		t.Cleanup(func() { a.Close() })

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			a.RunPruner(ctx, time.Millisecond)
			close(done)
		}()

		time.Sleep(20 * time.Millisecond)
		select {
		case <-done:
			t.Fatal("pruner stopped early")
		default:
		}
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("pruner ignored cancellation")
		}
	})
}
