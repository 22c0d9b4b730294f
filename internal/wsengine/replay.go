// Package wsengine implements moxy's WebSocket record/replay engine
// (spec.md §4.7): scheduled replay of a recorded message script on a hit,
// and bidirectional tunnel recording on a miss under build_mode == Write.
package wsengine

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/emilycares/moxy-go/internal/catalogpkg"
	"github.com/emilycares/moxy-go/internal/logging"
)

// nullSubstitute is the literal marker stored files use in place of a NUL
// byte, so payloads can round-trip through text-based tooling (spec.md
// §4.7: "replacing literal ^@ with NUL").
const nullSubstitute = "^@"

// Conn is the minimal duplex a replay or record side needs; *websocket.Conn
// and upstream.WsConn both satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Engine replays and records WebSocket sessions.
type Engine struct {
	log *zerolog.Logger
}

// New builds an Engine.
func New() *Engine {
	return &Engine{log: logging.New("wsengine")}
}

func frameType(t catalogpkg.WsFrameType) (int, bool) {
	switch t {
	case catalogpkg.Text:
		return websocket.TextMessage, true
	case catalogpkg.Binary:
		return websocket.BinaryMessage, true
	case catalogpkg.Ping:
		return websocket.PingMessage, true
	case catalogpkg.Pong:
		return websocket.PongMessage, true
	default:
		// Close/Frame are reserved for future use and are not emitted during
		// replay (spec.md §4.7).
		return 0, false
	}
}

// scheduled is one message ready to enqueue, resolved to wire frame type
// and payload.
type scheduled struct {
	frameType int
	payload   []byte
}

// Replay drives a hit on a WS route: it loads every message's payload,
// schedules Startup messages immediately, After messages on a one-shot
// timer, and Every messages on a periodic ticker, and writes them to
// client in schedule order (spec.md §4.7 "Replay").
//
// Replay blocks until the client connection closes or ctx is canceled.
func (e *Engine) Replay(ctx context.Context, client Conn, messages []catalogpkg.WsMessage) error {
	payloads, err := loadAll(messages)
	if err != nil {
		return err
	}

	queue := make(chan scheduled, 32)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i, m := range messages {
		ft, ok := frameType(m.MessageType)
		if !ok {
			continue
		}
		payload := payloads[i]
		if m.MessageType == catalogpkg.Text {
			payload = []byte(strings.ReplaceAll(string(payload), nullSubstitute, "\x00"))
		}

		switch m.Kind {
		case catalogpkg.Startup:
			enqueue(ctx, queue, scheduled{frameType: ft, payload: payload})
		case catalogpkg.After:
			d, ok := ParseDuration(derefTime(m.Time))
			if !ok {
				e.log.Trace().Str("time", derefTime(m.Time)).Msg("unschedulable After message, skipping")
				continue
			}
			wg.Add(1)
			go func(d time.Duration, s scheduled) {
				defer wg.Done()
				timer := time.NewTimer(d)
				defer timer.Stop()
				select {
				case <-timer.C:
					enqueue(ctx, queue, s)
				case <-ctx.Done():
				}
			}(d, scheduled{frameType: ft, payload: payload})
		case catalogpkg.Every:
			d, ok := ParseDuration(derefTime(m.Time))
			if !ok {
				e.log.Trace().Str("time", derefTime(m.Time)).Msg("unschedulable Every message, skipping")
				continue
			}
			wg.Add(1)
			go func(d time.Duration, s scheduled) {
				defer wg.Done()
				ticker := time.NewTicker(d)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						enqueue(ctx, queue, s)
					case <-ctx.Done():
						return
					}
				}
			}(d, scheduled{frameType: ft, payload: payload})
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	drainErr := e.drain(ctx, client, queue)
	cancel()
	<-done
	return drainErr
}

// drain pulls from queue and writes to client until the client socket
// errors/closes or ctx is canceled (spec.md §4.7 step 6).
func (e *Engine) drain(ctx context.Context, client Conn, queue <-chan scheduled) error {
	for {
		select {
		case s := <-queue:
			if err := client.WriteMessage(s.frameType, s.payload); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func enqueue(ctx context.Context, queue chan<- scheduled, s scheduled) {
	select {
	case queue <- s:
	case <-ctx.Done():
	}
}

func derefTime(t *string) string {
	if t == nil {
		return ""
	}
	return *t
}

// loadAll reads every message's backing file, in parallel (spec.md §4.7
// step 1: "parallel file reads are allowed").
func loadAll(messages []catalogpkg.WsMessage) ([][]byte, error) {
	out := make([][]byte, len(messages))
	var g errgroup.Group
	for i, m := range messages {
		i, m := i, m
		g.Go(func() error {
			data, err := os.ReadFile(m.Location)
			if err != nil {
				return err
			}
			out[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
