package agent

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []ConversationLogEvent {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []ConversationLogEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev ConversationLogEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestConversationLogFilesPerUserSession(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(dir, "all", "events.ndjson")
	cl, err := NewConversationLogger(ConversationLogConfig{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    global,
		QueueSize:     8,
	}, nil)
	require.NoError(t, err)

	cl.Log(ConversationLogEvent{UserID: "u1", SessionID: "rest", Channel: "rest", Direction: "inbound", EventType: "command", ContentRaw: "pay $10 to a@b.com"})
	cl.Log(ConversationLogEvent{UserID: "u1", SessionID: "rest", Channel: "rest", Direction: "outbound", EventType: "response", ContentRaw: "🤖 Payment\tsent\n"})
	cl.Log(ConversationLogEvent{UserID: "u2", SessionID: "ws-1", Channel: "chat", Direction: "inbound", EventType: "command", ContentRaw: "status"})
	require.NoError(t, cl.Close())

	u1 := readEvents(t, filepath.Join(dir, "u1", "rest.ndjson"))
	require.Len(t, u1, 2)
	assert.Equal(t, "command", u1[0].EventType)
	assert.NotEmpty(t, u1[0].Timestamp)
	assert.Equal(t, "🤖 Payment sent", u1[1].Content)

	u2 := readEvents(t, filepath.Join(dir, "u2", "ws-1.ndjson"))
	require.Len(t, u2, 1)
	assert.Equal(t, "u2", u2[0].UserID)

	assert.Len(t, readEvents(t, global), 3)
}

func TestConversationLogDisabledIsNoop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never")
	cl, err := NewConversationLogger(ConversationLogConfig{Dir: dir}, nil)
	require.NoError(t, err)

	cl.Log(ConversationLogEvent{UserID: "u1", ContentRaw: "hello"})
	require.NoError(t, cl.Close())

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestConversationLogIgnoresEventsAfterClose(t *testing.T) {
	dir := t.TempDir()
	cl, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir, QueueSize: 4}, nil)
	require.NoError(t, err)
	require.NoError(t, cl.Close())

	assert.NotPanics(t, func() {
		cl.Log(ConversationLogEvent{UserID: "u1", SessionID: "s", ContentRaw: "late"})
	})
	assert.NoError(t, cl.Close())
	_, err = os.Stat(filepath.Join(dir, "u1"))
	assert.True(t, os.IsNotExist(err))
}

func TestSafePathPart(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"alice", "alice"},
		{"bob@example.com", "bob@example.com"},
		{"../../etc", "_.._etc"},
		{"a/b c", "a_b_c"},
		{"..", "anonymous"},
		{"", "anonymous"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, safePathPart(tt.in, "anonymous"), "input %q", tt.in)
	}
}

func TestCleanForReadability(t *testing.T) {
	assert.Equal(t, "error plain", cleanForReadability("\x1b[31merror\x1b[0m  plain"))
	assert.Equal(t, "line one line two", cleanForReadability("line one\r\nline two\x07"))
}
