package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommandMasksSecrets(t *testing.T) {
	t.Setenv("DONATIONS_SECURITY__ACTIVE__MATERIAL", "super-secret-key")

	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"config"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "****")
	assert.NotContains(t, out.String(), "super-secret-key")
}

func TestPurgeCommandRunsThroughCommandBus(t *testing.T) {
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{
		"purge",
		"--openpayments.client_wallet_address", "https://wallet.example/platform",
		"--log.level", "error",
	})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), `"Purged": 0`)
}

func TestPendingCommandReportsMissingGrant(t *testing.T) {
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{
		"pending",
		"--key", "https://wallet.example/alice",
		"--openpayments.client_wallet_address", "https://wallet.example/platform",
		"--log.level", "error",
	})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
}

func TestRuntimeRejectsInvalidConfig(t *testing.T) {
	logger, err := newLogger(LogConfig{Level: "info"})
	require.NoError(t, err)

	_, err = buildRuntime(context.Background(), DefaultAppConfig(), logger)
	assert.ErrorContains(t, err, "client_wallet_address")
}

func TestBuildSecretsSealsWithActiveKey(t *testing.T) {
	secrets, err := buildSecrets(SecurityConfig{
		Active:  KeyConfig{ID: "k2", Material: "new-material", Version: 2},
		Retired: []KeyConfig{{ID: "k1", Material: "old-material", Version: 1, NotAfter: "2020-01-01T00:00:00Z"}},
	})
	require.NoError(t, err)
	require.NotNil(t, secrets)

	sealed, err := secrets.Encrypt(context.Background(), []byte("continuation-token"))
	require.NoError(t, err)
	opened, err := secrets.Decrypt(context.Background(), sealed)
	require.NoError(t, err)
	assert.Equal(t, "continuation-token", string(opened))

	none, err := buildSecrets(SecurityConfig{})
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = buildSecrets(SecurityConfig{Active: KeyConfig{Material: "x", NotBefore: "yesterday"}})
	assert.Error(t, err)
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	_, err := newLogger(LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
	_, err = newLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestPurgeLoopsFollowPurgeMode(t *testing.T) {
	ctx := context.Background()
	logger, err := newLogger(LogConfig{Level: "error"})
	require.NoError(t, err)

	cfg := DefaultAppConfig()
	cfg.OpenPayments.ClientWalletAddress = "https://wallet.example/platform"
	rt, err := buildRuntime(ctx, cfg, logger)
	require.NoError(t, err)
	loops, err := rt.purgeLoops(ctx)
	require.NoError(t, err)
	assert.Len(t, loops, 1, "janitor mode runs a single in-process loop")
	assert.Nil(t, rt.redis)
	require.NoError(t, rt.Close())

	server := miniredis.RunT(t)
	cfg.Purge.Mode = PurgeModeJob
	cfg.Purge.PollInterval = "10ms"
	cfg.Store.RedisAddr = server.Addr()
	jobRT, err := buildRuntime(ctx, cfg, logger)
	require.NoError(t, err)
	defer jobRT.Close()
	loops, err = jobRT.purgeLoops(ctx)
	require.NoError(t, err)
	require.Len(t, loops, 2, "job mode runs a scheduler and a worker")

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, len(loops))
	for _, run := range loops {
		go func() { done <- run(runCtx) }()
	}
	require.Eventually(t, func() bool {
		scheduled := false
		for _, key := range server.Keys() {
			if strings.HasPrefix(key, "donations:jobs:dedup:") {
				scheduled = true
			}
		}
		return scheduled && !server.Exists("donations:jobs:ready") && !server.Exists("donations:jobs:processing")
	}, 5*time.Second, 10*time.Millisecond, "scheduled purge job should be consumed and acked")

	cancel()
	for range loops {
		assert.NoError(t, <-done)
	}
}
