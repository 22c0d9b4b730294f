package wsengine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilycares/moxy-go/internal/catalogpkg"
)

type recordingConn struct {
	mu     sync.Mutex
	writes []scheduled
}

func (r *recordingConn) WriteMessage(mt int, p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, scheduled{frameType: mt, payload: append([]byte(nil), p...)})
	return nil
}

func (r *recordingConn) ReadMessage() (int, []byte, error) { return 0, nil, io.EOF }
func (r *recordingConn) Close() error                      { return nil }

func (r *recordingConn) snapshot() []scheduled {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scheduled(nil), r.writes...)
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestReplayStartupMessagesArriveImmediately(t *testing.T) {
	dir := t.TempDir()
	s1 := writeFile(t, dir, "s1", []byte("hello"))

	messages := []catalogpkg.WsMessage{
		{Kind: catalogpkg.Startup, MessageType: catalogpkg.Text, Location: s1},
	}

	client := &recordingConn{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	e := New()
	_ = e.Replay(ctx, client, messages)

	writes := client.snapshot()
	require.Len(t, writes, 1)
	assert.Equal(t, websocket.TextMessage, writes[0].frameType)
	assert.Equal(t, "hello", string(writes[0].payload))
}

func TestReplayOrdersAfterMessagesByElapsedTime(t *testing.T) {
	dir := t.TempDir()
	s1 := writeFile(t, dir, "s1", []byte("start"))
	a1 := writeFile(t, dir, "a1", []byte("late"))
	a2 := writeFile(t, dir, "a2", []byte("early"))

	longer := "0.08s"
	shorter := "0.03s"
	messages := []catalogpkg.WsMessage{
		{Kind: catalogpkg.Startup, MessageType: catalogpkg.Text, Location: s1},
		{Kind: catalogpkg.After, Time: &longer, MessageType: catalogpkg.Text, Location: a1},
		{Kind: catalogpkg.After, Time: &shorter, MessageType: catalogpkg.Text, Location: a2},
	}

	client := &recordingConn{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	e := New()
	_ = e.Replay(ctx, client, messages)

	writes := client.snapshot()
	require.Len(t, writes, 3)
	assert.Equal(t, "start", string(writes[0].payload), "startup messages arrive before any After message")
	assert.Equal(t, "early", string(writes[1].payload), "the shorter After delay arrives first")
	assert.Equal(t, "late", string(writes[2].payload))
}

func TestReplaySubstitutesNullMarkerInTextFrames(t *testing.T) {
	dir := t.TempDir()
	s1 := writeFile(t, dir, "s1", []byte("a^@b"))

	messages := []catalogpkg.WsMessage{
		{Kind: catalogpkg.Startup, MessageType: catalogpkg.Text, Location: s1},
	}

	client := &recordingConn{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	e := New()
	_ = e.Replay(ctx, client, messages)

	writes := client.snapshot()
	require.Len(t, writes, 1)
	assert.Equal(t, "a\x00b", string(writes[0].payload))
}

func TestParseDurationHonorsSecondsMinutesHours(t *testing.T) {
	d, ok := ParseDuration("5s")
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, d)

	d, ok = ParseDuration("2m")
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, d)

	d, ok = ParseDuration("1h")
	require.True(t, ok)
	assert.Equal(t, time.Hour, d)
}

func TestParseDurationRejectsSentReceived(t *testing.T) {
	_, ok := ParseDuration("3sent")
	assert.False(t, ok)
	_, ok = ParseDuration("3received")
	assert.False(t, ok)
}
