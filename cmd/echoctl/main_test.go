package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_PATH", filepath.Join(dir, "agent.db"))
	t.Setenv("AI_PROVIDER", "none")
	t.Setenv("REGISTRY_URL", "")
	t.Setenv("SERVICES_FILE", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FILE", "")
	t.Setenv("CONVERSATION_LOG_ENABLED", "false")
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootHasSubcommands(t *testing.T) {
	root := buildRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"exec", "status", "services", "chat"})
}

func TestExecRequiresUser(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "", "exec", "pay $10 to merchant@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user")
}

func TestExecRunsCommand(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "", "exec", "--user", "alice", "pay", "$10", "to", "merchant@example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "🤖 "))
	assert.Contains(t, out, "status=success")
	assert.Contains(t, out, "service=Mock Payment Service")
}

func TestExecJSON(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "", "exec", "-u", "alice", "--json", "what is the weather tomorrow")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "no_match", result["status"])
}

func TestExecRejectsInvalidUser(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "", "exec", "--user", "bad user!", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid user id")
}

func TestStatusPrintsSnapshot(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "", "status", "--user", "alice")
	require.NoError(t, err)

	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "alice", status["user_id"])
	assert.Equal(t, true, status["agent_initialized"])
}

func TestChatSession(t *testing.T) {
	setupEnv(t)
	input := "services\n\npay $10 to merchant@example.com\nexit\n"
	out, err := execute(t, input, "chat", "--user", "alice")
	require.NoError(t, err)

	assert.Contains(t, out, "Connected to")
	assert.Contains(t, out, "Available services (2):")
	assert.Contains(t, out, "status=success")
}

func TestChatEndsOnEOF(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "help\n", "chat", "-u", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "leave the session")
}
