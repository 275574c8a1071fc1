package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echolabs/echo-agent/internal/agent"
	"github.com/echolabs/echo-agent/internal/config"
	"github.com/echolabs/echo-agent/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:   "0",
		DBPath: filepath.Join(dir, "agent.db"),
		Agent: config.AgentConfig{
			HistoryCap:       10,
			ConnectorTimeout: time.Second,
			ChatSendTimeout:  time.Second,
		},
		AI: config.AIConfig{Provider: "none", Timeout: time.Second},
		ConversationLog: config.ConversationLogConfig{
			Enabled:   true,
			Dir:       filepath.Join(dir, "conversations"),
			QueueSize: 10,
		},
	}
}

func TestNewWiresSimulatedRuntime(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	assert.False(t, a.Reasoner.Enabled())
	assert.Nil(t, a.RegistryPinger())

	ctx := context.Background()
	result, err := a.Manager.ProcessCommandForUser(ctx, "u1", agent.UserData{UserID: "u1"}, domain.Command{
		Text:    "pay $10 to merchant@example.com",
		Context: domain.CommandContext{Channel: domain.ChannelCLI},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, result.Status)
	assert.Equal(t, "Mock Payment Service", result.ServiceName())

	history, err := a.Store.ListHistory(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "pay $10 to merchant@example.com", history[0].Command.Text)
}

func TestStoredServicesTakePrecedence(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.Store.UpsertUserService(ctx, &domain.ServiceConfig{
		ID: "s1", UserID: "u1", Name: "Stripe", Type: domain.ServiceTypePayment,
	}))

	ag, err := a.Manager.GetUserAgent(ctx, "u1", agent.UserData{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Stripe"}, ag.Status().Services)

	other, err := a.Manager.GetUserAgent(ctx, "u2", agent.UserData{UserID: "u2"})
	require.NoError(t, err)
	assert.Len(t, other.Status().Services, 2)
}

type countingCleaner struct {
	calls chan time.Duration
}

func (c *countingCleaner) CleanupHistory(_ context.Context, olderThan time.Duration) (int64, error) {
	c.calls <- olderThan
	return 3, nil
}

func TestRetentionWorkerPrunesOnStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cleaner := &countingCleaner{calls: make(chan time.Duration, 1)}

	StartRetentionWorker(ctx, cleaner, 48*time.Hour, nil)

	select {
	case got := <-cleaner.calls:
		assert.Equal(t, 48*time.Hour, got)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an initial prune")
	}
}

func TestRetentionWorkerDisabled(t *testing.T) {
	cleaner := &countingCleaner{calls: make(chan time.Duration, 1)}
	StartRetentionWorker(context.Background(), cleaner, 0, nil)

	select {
	case <-cleaner.calls:
		t.Fatal("expected no prune when retention is disabled")
	case <-time.After(50 * time.Millisecond):
	}
}
